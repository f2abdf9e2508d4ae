package realtime

import (
	"encoding/json"

	"github.com/pribylovaa/go-marketplace-client/internal/models"
)

// MessageType - тег варианта сообщения в конверте {type, payload}.
type MessageType string

const (
	// AnyMessage - подписка на все сообщения независимо от типа.
	AnyMessage MessageType = "*"

	ChatMessage  MessageType = "chat.message"
	ChatTyping   MessageType = "chat.typing"
	ChatRead     MessageType = "chat.read"
	Notification MessageType = "notification"
	OrderStatus  MessageType = "order.status"
)

// Message - входящее сообщение канала.
type Message struct {
	Type    MessageType
	Payload json.RawMessage
}

// Decode разбирает полезную нагрузку в v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

func messageFromEnvelope(env models.Envelope) Message {
	return Message{Type: MessageType(env.Type), Payload: env.Payload}
}

// Handler обрабатывает сообщение. Вызывается из горутины чтения, поэтому
// долгую работу стоит уносить в отдельную горутину.
type Handler func(Message)

// HandlerID идентифицирует подписку для Off.
type HandlerID uint64

type subscription struct {
	id HandlerID
	h  Handler
}
