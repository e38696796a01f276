package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// PaymentRepository хранит платежи. Строка платежа и есть запись
// идемпотентности списания: вставка с ON CONFLICT DO NOTHING делает
// повторное списание по тому же payment_id безопасным.
type PaymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository создаёт репозиторий платежей поверх подключения Store.
func NewPaymentRepository(store *Store) *PaymentRepository {
	return &PaymentRepository{db: store.DB()}
}

// CreateIfAbsent идемпотентно записывает платёж. При дубле возвращается
// существующая строка и created=false.
func (r *PaymentRepository) CreateIfAbsent(ctx context.Context, payment domain.Payment) (domain.Payment, bool, error) {
	if errs := payment.Validate(); len(errs) > 0 {
		return domain.Payment{}, false, errs[0]
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, status, amount_minor, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, payment.ID, payment.OrderID, payment.Status, payment.AmountMinor, payment.CreatedAt)
	if err != nil {
		return domain.Payment{}, false, fmt.Errorf("insert payment: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return domain.Payment{}, false, fmt.Errorf("rows affected: %w", err)
	}
	if inserted == 0 {
		existing, err := r.Get(ctx, payment.ID)
		if err != nil {
			return domain.Payment{}, false, err
		}
		return existing, false, nil
	}
	return payment, true, nil
}

// Get возвращает платёж по идентификатору.
func (r *PaymentRepository) Get(ctx context.Context, paymentID string) (domain.Payment, error) {
	var payment domain.Payment
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, status, amount_minor, created_at
		FROM payments
		WHERE id = $1
	`, paymentID).Scan(&payment.ID, &payment.OrderID, &payment.Status, &payment.AmountMinor, &payment.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	if err != nil {
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	return payment, nil
}
