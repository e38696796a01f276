package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// paymentRepositoryInMemory — in-memory реализация PaymentRepository.
type paymentRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Payment
}

// NewPaymentRepository возвращает in-memory репозиторий платежей.
func NewPaymentRepository() domain.PaymentRepository {
	return &paymentRepositoryInMemory{
		items: make(map[string]domain.Payment),
	}
}

// CreateIfAbsent записывает платёж один раз; повтор возвращает существующую строку.
func (r *paymentRepositoryInMemory) CreateIfAbsent(_ context.Context, payment domain.Payment) (domain.Payment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.items[payment.ID]; exists {
		return existing, false, nil
	}
	r.items[payment.ID] = payment
	return payment, true, nil
}

// Get возвращает платёж или ErrPaymentNotFound.
func (r *paymentRepositoryInMemory) Get(_ context.Context, id string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.items[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
