package domain

import "time"

// PaymentStatus описывает состояние платежа в системе.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж инициирован, но не подтверждён.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusCompleted — деньги списаны; терминальный статус.
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	// PaymentStatusFailed — провайдер отклонил платёж; терминальный статус.
	PaymentStatusFailed PaymentStatus = "FAILED"
)

// Terminal сообщает, достиг ли платёж конечного статуса.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// Payment описывает платёж, связанный с заказом. ID платежа задаёт клиент
// и он же служит ключом идемпотентности: сама строка платежа является
// записью «эффект уже применён», отдельного маркера завершения нет.
type Payment struct {
	ID          string
	OrderID     string
	Status      PaymentStatus
	AmountMinor int64
	CreatedAt   time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, ErrPaymentIDRequired)
	}
	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.AmountMinor <= 0 {
		errs = append(errs, ErrItemPriceInvalid)
	}

	return errs
}
