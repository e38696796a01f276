package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// eventRepositoryInMemory — append-only аудит-лог в памяти.
// Порядок внутри заказа соответствует порядку вызовов Append.
type eventRepositoryInMemory struct {
	mu     sync.RWMutex
	events map[string][]domain.Event
}

// NewEventRepository возвращает in-memory аудит-лог.
func NewEventRepository() domain.EventRepository {
	return &eventRepositoryInMemory{
		events: make(map[string][]domain.Event),
	}
}

// Append добавляет событие в конец лога заказа. Записи не изменяются и не удаляются.
func (r *eventRepositoryInMemory) Append(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}
	r.events[event.OrderID] = append(r.events[event.OrderID], event)
	return nil
}

// List возвращает события заказа в порядке записи.
func (r *eventRepositoryInMemory) List(_ context.Context, orderID string) ([]domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.events[orderID]
	result := make([]domain.Event, len(stored))
	copy(result, stored)
	return result, nil
}

var _ domain.EventRepository = (*eventRepositoryInMemory)(nil)
