package character

// Character is a role card the prompt builder renders into the system prompt.
type Character struct {
	ID           string           `json:"id" yaml:"id"`
	Name         string           `json:"name" yaml:"name"`
	Title        string           `json:"title,omitempty" yaml:"title,omitempty"`
	Description  string           `json:"description,omitempty" yaml:"description,omitempty"`
	Personality  string           `json:"personality,omitempty" yaml:"personality,omitempty"`
	Scenario     string           `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	SystemPrompt string           `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	FirstMessage string           `json:"firstMessage,omitempty" yaml:"firstMessage,omitempty"`
	ExampleLines []string         `json:"exampleLines,omitempty" yaml:"exampleLines,omitempty"`
	Voice        string           `json:"voice,omitempty" yaml:"voice,omitempty"`
	WorldBook    []WorldBookEntry `json:"worldBook,omitempty" yaml:"worldBook,omitempty"`
}

// WorldBookEntry is a lore snippet injected when its keywords match or while it is sticky.
// Sticky keeps the entry active for this many further cycles once triggered.
type WorldBookEntry struct {
	Key      string   `json:"key" yaml:"key"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Content  string   `json:"content" yaml:"content"`
	Sticky   int      `json:"sticky,omitempty" yaml:"sticky,omitempty"`
	Constant bool     `json:"constant,omitempty" yaml:"constant,omitempty"`
	Order    int      `json:"order,omitempty" yaml:"order,omitempty"`
}

// Seed provides the built-in card used when no character directory is configured.
func Seed() []Character {
	return []Character{
		{
			ID:           "tavern-keeper",
			Name:         "酒馆老板娘",
			Title:        "群聊酒馆的主人",
			Description:  "经营着一家热闹酒馆的老板娘，记得每一位常客说过的话。",
			Personality:  "热情、细心、爱开玩笑，偶尔有点毒舌",
			Scenario:     "酒馆里同时坐着很多客人，他们在私聊和群聊里与你交谈，你记得所有人的对话。",
			FirstMessage: "欢迎光临！今天想喝点什么？",
			WorldBook: []WorldBookEntry{
				{
					Key:      "house-ale",
					Keywords: []string{"麦酒", "招牌"},
					Content:  "酒馆的招牌麦酒用山泉水酿造，每桶只卖三天。",
					Sticky:   2,
				},
			},
		},
	}
}
