package emotion

import "strings"

// Label 语音合成可用的情绪标签
type Label string

const (
	Neutral  Label = "neutral"
	Happy    Label = "happy"
	Sad      Label = "sad"
	Angry    Label = "angry"
	Excited  Label = "excited"
	Tender   Label = "tender"
	Comfort  Label = "comfort"
	Magnetic Label = "magnetic"
)

// Decision is the detected mood plus the suggested synthesis intensity (1-5).
type Decision struct {
	Emotion Label
	Scale   float32
	Score   int
}

// IsNeutral reports whether no mood was detected.
func (d Decision) IsNeutral() bool {
	return d.Emotion == Neutral || d.Score <= 0
}

type bucket struct {
	label    Label
	keywords []string
}

// buckets are scanned in order so ties resolve to the earlier label.
var buckets = []bucket{
	{Comfort, []string{"别担心", "没事的", "我懂", "陪着", "抱抱", "不要怕", "安心", "放心", "慢慢来", "别害怕", "i'm here", "take it easy"}},
	{Sad, []string{"难过", "伤心", "失落", "沮丧", "悲伤", "哭", "痛苦", "寂寞", "孤单", "失望", "心碎", "委屈", "sad", "upset", "cry"}},
	{Angry, []string{"生气", "愤怒", "火大", "气死", "烦死", "受够了", "抓狂", "气炸", "angry", "furious", "annoyed"}},
	{Excited, []string{"期待", "激动", "太酷了", "惊喜", "哇塞", "热血", "给力", "炸裂", "wow", "can't wait", "hype"}},
	{Happy, []string{"开心", "高兴", "快乐", "太好了", "太棒了", "哈哈", "喜欢", "好耶", "谢谢", "thanks", "great", "awesome"}},
	{Tender, []string{"温柔", "轻声", "轻轻", "柔和", "平静", "放松", "静静", "晚安", "gentle", "softly"}},
	{Magnetic, []string{"认真", "严肃", "重要", "务必", "郑重", "记住", "注意", "serious", "critical"}},
}

// Analyze infers the voice mood for a reply. When the reply itself carries
// no mood the user's mood is mapped to a fitting response.
func Analyze(userText, replyText string) Decision {
	best := score(replyText)
	if best.Score == 0 {
		best = respondTo(score(userText))
	}
	if best.Score == 0 {
		return Decision{Emotion: Neutral, Scale: 3}
	}

	scale := 2 + float32(best.Score)/4
	switch best.Emotion {
	case Excited:
		scale++
	case Magnetic:
		scale = min(scale, 4)
	case Comfort, Tender:
		scale = min(scale, 3.5)
	}
	best.Scale = max(1, min(scale, 5))
	return best
}

// Detect returns the mood expressed by text itself, without mapping it to a response.
func Detect(text string) Decision {
	return score(text)
}

func score(text string) Decision {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return Decision{Emotion: Neutral}
	}

	points := make(map[Label]int, len(buckets))
	for _, b := range buckets {
		for _, kw := range b.keywords {
			if strings.Contains(lowered, kw) {
				points[b.label] += 3
			}
		}
	}

	bangs := strings.Count(text, "!") + strings.Count(text, "！")
	if bangs > 0 {
		points[Excited] += 3 * bangs
		if bangs == 1 {
			points[Happy] += 2
		}
	}

	out := Decision{Emotion: Neutral}
	for _, b := range buckets {
		if p := points[b.label]; p > out.Score {
			out = Decision{Emotion: b.label, Score: p}
		}
	}
	return out
}

func respondTo(user Decision) Decision {
	switch user.Emotion {
	case Sad:
		user.Emotion = Comfort
	case Angry:
		user.Emotion = Magnetic
	case Comfort:
		user.Emotion = Tender
	}
	return user
}
