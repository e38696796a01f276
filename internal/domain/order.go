package domain

import "time"

// OrderState описывает жизненный цикл заказа в workflow-движке.
type OrderState string

const (
	// OrderStateReceived — заказ принят и записан в хранилище.
	OrderStateReceived OrderState = "RECEIVED"
	// OrderStateValidated — состав заказа прошёл проверку.
	OrderStateValidated OrderState = "VALIDATED"
	// OrderStateAwaitingApproval — заказ ждёт ручного подтверждения, таймер взведён.
	OrderStateAwaitingApproval OrderState = "AWAITING_APPROVAL"
	// OrderStatePaid — оплата списана, заказ готов к отгрузке.
	OrderStatePaid OrderState = "PAID"
	// OrderStateShipping — запущен дочерний процесс отгрузки.
	OrderStateShipping OrderState = "SHIPPING"
	// OrderStateShipped — перевозчик принял посылку.
	OrderStateShipped OrderState = "SHIPPED"
	// OrderStateCompleted — заказ финализирован, терминальное состояние.
	OrderStateCompleted OrderState = "COMPLETED"
	// OrderStateFailed — шаг исчерпал retry или провалил валидацию, терминальное состояние.
	OrderStateFailed OrderState = "FAILED"
	// OrderStateCancelled — заказ отменён сигналом, терминальное состояние.
	OrderStateCancelled OrderState = "CANCELLED"
	// OrderStateApprovalTimeout — дедлайн подтверждения истёк, терминальное состояние.
	OrderStateApprovalTimeout OrderState = "APPROVAL_TIMEOUT"
)

// transitions перечисляет разрешённые «счастливые» рёбра машины состояний.
// Терминальные ошибки достижимы из любого нетерминального состояния
// и обрабатываются в CanTransition отдельно.
var transitions = map[OrderState][]OrderState{
	OrderStateReceived:         {OrderStateValidated},
	OrderStateValidated:        {OrderStateAwaitingApproval},
	OrderStateAwaitingApproval: {OrderStatePaid},
	OrderStatePaid:             {OrderStateShipping},
	OrderStateShipping:         {OrderStateShipped},
	OrderStateShipped:          {OrderStateCompleted},
}

// Terminal сообщает, является ли состояние конечным.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateCompleted, OrderStateFailed, OrderStateCancelled, OrderStateApprovalTimeout:
		return true
	default:
		return false
	}
}

// Valid проверяет, что состояние относится к известным значениям.
func (s OrderState) Valid() bool {
	switch s {
	case OrderStateReceived, OrderStateValidated, OrderStateAwaitingApproval,
		OrderStatePaid, OrderStateShipping, OrderStateShipped,
		OrderStateCompleted, OrderStateFailed, OrderStateCancelled, OrderStateApprovalTimeout:
		return true
	default:
		return false
	}
}

// AddressMutable сообщает, можно ли ещё менять адрес доставки.
// Адрес фиксируется с момента входа в SHIPPING.
func (s OrderState) AddressMutable() bool {
	switch s {
	case OrderStateReceived, OrderStateValidated, OrderStateAwaitingApproval, OrderStatePaid:
		return true
	default:
		return false
	}
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to OrderState) bool {
	if from == to || from.Terminal() {
		return false
	}
	switch to {
	case OrderStateFailed, OrderStateCancelled:
		return true
	case OrderStateApprovalTimeout:
		return from == OrderStateAwaitingApproval
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Address — структурированный адрес доставки.
type Address struct {
	Street  string
	City    string
	Zip     string
	Country string
}

// OrderItem представляет одну позицию заказа. Позиции неизменяемы после создания.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// Name — название товара.
	Name string
	// Qty — количество единиц товара.
	Qty int32
	// PriceMinor — цена за единицу в минимальных денежных единицах (например, центы).
	PriceMinor int64
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// Order агрегирует состояние заказа, его позиции и адрес доставки.
// Единственный писатель заказа — его workflow-инстанс.
type Order struct {
	ID        string
	State     OrderState
	PaymentID string
	Items     []OrderItem
	Address   Address
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AmountMinor возвращает сумму заказа: Σ qty × цена позиции.
func (o *Order) AmountMinor() int64 {
	var total int64
	for _, item := range o.Items {
		total += int64(item.Qty) * item.PriceMinor
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if o.PaymentID == "" {
		errs = append(errs, ErrPaymentIDRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range o.Items {
		if item.Name == "" {
			errs = append(errs, ErrItemNameRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor <= 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	return errs
}
