package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType — закрытое множество типов аудит-событий заказа.
type EventType string

const (
	EventOrderReceived     EventType = "ORDER_RECEIVED"
	EventOrderValidated    EventType = "ORDER_VALIDATED"
	EventPaymentCharged    EventType = "PAYMENT_CHARGED"
	EventPackagePrepared   EventType = "PACKAGE_PREPARED"
	EventCarrierDispatched EventType = "CARRIER_DISPATCHED"
	EventOrderShipped      EventType = "ORDER_SHIPPED"
	EventAddressUpdated    EventType = "ADDRESS_UPDATED"
	EventOrderCancelled    EventType = "ORDER_CANCELLED"
	EventApprovalTimeout   EventType = "APPROVAL_TIMEOUT"
	EventOrderFailed       EventType = "ORDER_FAILED"
)

// Event — неизменяемая запись аудит-лога заказа. Записи только добавляются;
// порядок внутри одного заказа повторяет порядок переходов его инстанса.
type Event struct {
	ID       string
	OrderID  string
	Type     EventType
	Payload  []byte
	Occurred time.Time
}

// NewEvent собирает аудит-событие с сериализованным payload.
// Ошибку сериализации прячем: payload всегда map из примитивов,
// а терять событие из-за него нельзя.
func NewEvent(orderID string, eventType EventType, payload map[string]any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	return Event{
		ID:       uuid.NewString(),
		OrderID:  orderID,
		Type:     eventType,
		Payload:  data,
		Occurred: time.Now().UTC(),
	}
}
