package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Имена активностей. Используются в retry-логах, метриках и аудите отказов.
const (
	opOrderReceived     = "order_received"
	opOrderValidated    = "order_validated"
	opPaymentCharged    = "payment_charged"
	opAddressUpdated    = "address_updated"
	opPackagePrepared   = "package_prepared"
	opCarrierDispatched = "carrier_dispatched"
	opOrderShipped      = "order_shipped"
)

// receiveOrder идемпотентно записывает заказ и позиции. Повторная вставка
// с тем же order_id наблюдает существующую строку и не сбрасывает прогресс.
func (m *Machine) receiveOrder(ctx context.Context) error {
	proposed := m.order
	proposed.State = domain.OrderStateReceived

	stored, created, err := m.deps.Orders.CreateIfAbsent(ctx, proposed)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	m.order = stored
	if !created {
		// Заказ уже был записан предыдущей попыткой или предыдущим запуском.
		return nil
	}

	return m.appendEvent(ctx, domain.EventOrderReceived, map[string]any{
		"state":       string(domain.OrderStateReceived),
		"items_count": len(stored.Items),
		"amount":      stored.AmountMinor(),
	})
}

// validateOrder проверяет состав заказа. Ошибка валидации неповторяема:
// машина сразу переводит заказ в FAILED.
func (m *Machine) validateOrder(ctx context.Context) error {
	if errs := m.order.ValidateInvariants(); len(errs) > 0 {
		return errs[0]
	}

	if err := m.transitionTo(ctx, domain.OrderStateValidated); err != nil {
		return err
	}
	return m.appendEvent(ctx, domain.EventOrderValidated, map[string]any{
		"state":          string(domain.OrderStateValidated),
		"previous_state": string(domain.OrderStateReceived),
	})
}

// chargePayment списывает оплату идемпотентно по payment_id: строка платежа
// и есть запись идемпотентности, отдельного маркера завершения нет. Если
// строка уже существует, внешний провайдер повторно не вызывается.
func (m *Machine) chargePayment(ctx context.Context) error {
	existing, err := m.deps.Payments.Get(ctx, m.order.PaymentID)
	switch {
	case err == nil:
		m.logger.WithField("payment_id", existing.ID).Info("payment already charged, skipping gateway call")
		return nil
	case errors.Is(err, domain.ErrPaymentNotFound):
		// Первое списание.
	default:
		return fmt.Errorf("lookup payment: %w", err)
	}

	amount := m.order.AmountMinor()
	if err := m.deps.PaymentGW.Charge(ctx, m.order.ID, m.order.PaymentID, amount); err != nil {
		return err
	}

	payment := domain.Payment{
		ID:          m.order.PaymentID,
		OrderID:     m.order.ID,
		Status:      domain.PaymentStatusCompleted,
		AmountMinor: amount,
		CreatedAt:   time.Now().UTC(),
	}
	stored, created, err := m.deps.Payments.CreateIfAbsent(ctx, payment)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	if !created {
		// Гонка двух попыток: эффект уже зафиксирован, событие уже записано.
		m.logger.WithField("payment_id", stored.ID).Info("payment row already present")
		return nil
	}

	return m.appendEvent(ctx, domain.EventPaymentCharged, map[string]any{
		"payment_id": payment.ID,
		"amount":     payment.AmountMinor,
		"status":     string(payment.Status),
	})
}

// updateAddress идемпотентно заменяет адрес доставки, не меняя состояние заказа.
func (m *Machine) updateAddress(ctx context.Context, addr domain.Address) error {
	old, err := m.deps.Orders.UpdateAddress(ctx, m.order.ID, addr)
	if err != nil {
		return err
	}
	m.order.Address = addr

	return m.appendEvent(ctx, domain.EventAddressUpdated, map[string]any{
		"old_address": addressPayload(old),
		"new_address": addressPayload(addr),
	})
}

// markShipped фиксирует приём посылки перевозчиком: SHIPPING → SHIPPED.
func (m *Machine) markShipped(ctx context.Context) error {
	if m.order.State == domain.OrderStateShipped {
		return nil
	}
	if err := m.transitionTo(ctx, domain.OrderStateShipped); err != nil {
		return err
	}
	return m.appendEvent(ctx, domain.EventOrderShipped, map[string]any{
		"state":          string(domain.OrderStateShipped),
		"previous_state": string(domain.OrderStateShipping),
	})
}

// hasEvent проверяет по аудит-логу, выполнялся ли уже шаг дочернего процесса.
// Журнал — источник истины «X уже случилось».
func hasEvent(ctx context.Context, events domain.EventRepository, orderID string, eventType domain.EventType) (bool, error) {
	list, err := events.List(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("list events: %w", err)
	}
	for _, event := range list {
		if event.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

func addressPayload(addr domain.Address) map[string]any {
	return map[string]any{
		"street":  addr.Street,
		"city":    addr.City,
		"zip":     addr.Zip,
		"country": addr.Country,
	}
}
