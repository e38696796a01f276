package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "orderflow.order.events"
	TopicDeadLetterQueue = "orderflow.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие жизненного цикла заказа для внешних
// потребителей. Аудит-лог в хранилище остаётся источником истины,
// Kafka — лишь уведомление.
type OrderEvent struct {
	EventType domain.EventType       `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	State     string                 `json:"state"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType domain.EventType, orderID, state string, payload map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		State:     state,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
