package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// CreateIfAbsent сохраняет новый заказ, если ID ещё не занят.
// При повторе возвращает уже существующую запись без изменений.
func (r *orderRepositoryInMemory) CreateIfAbsent(_ context.Context, order domain.Order) (domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.items[order.ID]; exists {
		return cloneOrder(existing), false, nil
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = cloneOrder(order)
	return order, true, nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// UpdateState выполняет условный переход expected → next.
func (r *orderRepositoryInMemory) UpdateState(_ context.Context, id string, expected, next domain.OrderState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if !domain.CanTransition(expected, next) {
		return domain.ErrTransitionNotAllowed
	}
	if current.State != expected {
		return domain.ErrOrderStateConflict
	}
	current.State = next
	current.UpdatedAt = time.Now().UTC()
	r.items[id] = current
	return nil
}

// UpdateAddress заменяет адрес, пока заказ не ушёл в отгрузку.
func (r *orderRepositoryInMemory) UpdateAddress(_ context.Context, id string, addr domain.Address) (domain.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[id]
	if !ok {
		return domain.Address{}, domain.ErrOrderNotFound
	}
	if !current.State.AddressMutable() {
		return domain.Address{}, domain.ErrAddressLocked
	}
	old := current.Address
	current.Address = addr
	current.UpdatedAt = time.Now().UTC()
	r.items[id] = current
	return old, nil
}

// ListActive возвращает заказы в нетерминальных состояниях.
func (r *orderRepositoryInMemory) ListActive(_ context.Context) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.State.Terminal() {
			continue
		}
		result = append(result, cloneOrder(order))
	}
	return result, nil
}

func cloneOrder(order domain.Order) domain.Order {
	clone := order
	clone.Items = make([]domain.OrderItem, len(order.Items))
	copy(clone.Items, order.Items)
	return clone
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
