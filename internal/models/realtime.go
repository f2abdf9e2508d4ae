package models

import "encoding/json"

// Envelope - конверт сообщения WebSocket-канала: тег варианта + полезная нагрузка.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChatMessage - полезная нагрузка варианта chat.message.
type ChatMessage struct {
	ChatID   string `json:"chatId"`
	SenderID string `json:"senderId,omitempty"`
	Text     string `json:"text"`
	SentAt   int64  `json:"sentAt,omitempty"`
}
