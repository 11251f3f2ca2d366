package chat

// Conversation summarizes the turns stored under one conversation tag.
type Conversation struct {
	ID             string `json:"id"`
	MessageCount   int    `json:"messageCount"`
	CreatedAtMs    int64  `json:"createdAt"`
	LastActiveAtMs int64  `json:"lastActive"`
}
