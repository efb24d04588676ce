package model

// Message: сообщение чата. Для личных чатов заполнен ReceiverID, для групп только ChatID.
// Timestamp назначает сервер (Unix ms).
type Message struct {
	ID         string `json:"id"`
	ChatID     string `json:"chatId,omitempty"`
	Content    string `json:"content"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}
