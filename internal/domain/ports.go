package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
// Все операции — на уровне одной строки; межзаказных блокировок нет.
type OrderRepository interface {
	// CreateIfAbsent сохраняет новый заказ вместе с позициями атомарно.
	// Если заказ с таким ID уже есть, возвращает существующий и created=false.
	CreateIfAbsent(ctx context.Context, order Order) (Order, bool, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// UpdateState переводит заказ из expected в next атомарно
	// («update state if current state equals expected»). Несовпадение
	// текущего состояния — ErrOrderStateConflict, недопустимое ребро —
	// ErrTransitionNotAllowed.
	UpdateState(ctx context.Context, id string, expected, next OrderState) error
	// UpdateAddress заменяет адрес доставки и возвращает прежний адрес.
	UpdateAddress(ctx context.Context, id string, addr Address) (Address, error)
	// ListActive возвращает заказы в нетерминальных состояниях (для resume).
	ListActive(ctx context.Context) ([]Order, error)
}

// PaymentRepository хранит платежи. Вставка идемпотентна по ID платежа.
type PaymentRepository interface {
	// CreateIfAbsent записывает платёж, если его ещё нет.
	// Возвращает актуальную запись и created=false, если строка уже существовала.
	CreateIfAbsent(ctx context.Context, payment Payment) (Payment, bool, error)
	// Get возвращает платёж или ErrPaymentNotFound.
	Get(ctx context.Context, id string) (Payment, error)
}

// EventRepository хранит append-only аудит-лог заказов.
type EventRepository interface {
	Append(ctx context.Context, event Event) error
	List(ctx context.Context, orderID string) ([]Event, error)
}

// PaymentGateway описывает взаимодействие с платёжным провайдером.
// Провайдер ненадёжен: вызов может завершиться ошибкой или зависнуть,
// ограничение по времени попытки — ответственность вызывающей стороны (ctx).
type PaymentGateway interface {
	// Charge инициирует списание средств по заказу.
	Charge(ctx context.Context, orderID, paymentID string, amountMinor int64) error
}

// FulfillmentGateway описывает взаимодействие со складом и перевозчиком.
type FulfillmentGateway interface {
	// PreparePackage собирает посылку под заказ.
	PreparePackage(ctx context.Context, orderID string) error
	// DispatchCarrier передаёт посылку перевозчику по указанному адресу.
	DispatchCarrier(ctx context.Context, orderID string, addr Address) error
}
