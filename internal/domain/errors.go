package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего идентификатора платежа.
	ErrPaymentIDRequired = errors.New("payment_id is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка пустого названия позиции.
	ErrItemNameRequired = errors.New("item name is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции не положительная.
	ErrItemPriceInvalid = errors.New("item price must be greater than zero")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderStateConflict — условное обновление статуса не прошло:
	// текущее состояние в хранилище не совпало с ожидаемым.
	ErrOrderStateConflict = errors.New("order state conflict")
	// ErrTransitionNotAllowed — запрошенный переход не входит в таблицу переходов.
	ErrTransitionNotAllowed = errors.New("state transition not allowed")

	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrSignalRejected — сигнал пришёл в состоянии, которое его не принимает.
	ErrSignalRejected = errors.New("signal rejected in current state")
	// ErrAddressLocked — адрес уже нельзя менять (заказ в отгрузке или терминален).
	ErrAddressLocked = errors.New("address can no longer be updated")
	// ErrOrderTerminal — операция над заказом в терминальном состоянии.
	ErrOrderTerminal = errors.New("order is in terminal state")

	// ErrGatewayUnavailable — временная ошибка внешнего сервиса, попытку можно повторить.
	ErrGatewayUnavailable = errors.New("gateway temporarily unavailable")
)

// IsSignalRejected проверяет, является ли ошибка отказом в приёме сигнала.
func IsSignalRejected(err error) bool {
	return errors.Is(err, ErrSignalRejected) || errors.Is(err, ErrAddressLocked) || errors.Is(err, ErrOrderTerminal)
}

// IsStateConflict проверяет, является ли ошибка конфликтом условного обновления.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrOrderStateConflict) || errors.Is(err, ErrTransitionNotAllowed)
}
