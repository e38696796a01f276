package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// OrderRepository хранит заказы и позиции в PostgreSQL. Условный UPDATE по
// ожидаемому состоянию даёт compare-and-swap на строке заказа: проигравшая
// гонку запись получает ErrOrderStateConflict, а не молча затирает прогресс.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт репозиторий заказов поверх подключения Store.
func NewOrderRepository(store *Store) *OrderRepository {
	return &OrderRepository{db: store.DB()}
}

// CreateIfAbsent идемпотентно записывает заказ с позициями. Если строка уже
// существует, возвращается она и created=false; прогресс не сбрасывается.
func (r *OrderRepository) CreateIfAbsent(ctx context.Context, order domain.Order) (domain.Order, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, state, payment_id, street, city, zip, country, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, order.ID, order.State, order.PaymentID,
		order.Address.Street, order.Address.City, order.Address.Zip, order.Address.Country,
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("insert order: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("rows affected: %w", err)
	}
	if inserted == 0 {
		_ = tx.Rollback()
		existing, err := r.Get(ctx, order.ID)
		if err != nil {
			return domain.Order{}, false, err
		}
		return existing, false, nil
	}

	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, name, qty, price_minor, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, order.ID, item.Name, item.Qty, item.PriceMinor, item.CreatedAt); err != nil {
			return domain.Order{}, false, fmt.Errorf("insert order item %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, false, fmt.Errorf("commit order insert: %w", err)
	}
	return order, true, nil
}

// Get возвращает заказ с позициями.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := r.db.QueryRowContext(ctx, `
		SELECT id, state, payment_id, street, city, zip, country, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, orderID).Scan(&order.ID, &order.State, &order.PaymentID,
		&order.Address.Street, &order.Address.City, &order.Address.Zip, &order.Address.Country,
		&order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

// UpdateState выполняет условный переход expected → next.
func (r *OrderRepository) UpdateState(ctx context.Context, orderID string, expected, next domain.OrderState) error {
	if !domain.CanTransition(expected, next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrTransitionNotAllowed, expected, next)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET state = $1, updated_at = NOW()
		WHERE id = $2 AND state = $3
	`, next, orderID, expected)
	if err != nil {
		return fmt.Errorf("update order state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Обновление не прошло: либо заказа нет, либо состояние уже другое.
	var current domain.OrderState
	err = r.db.QueryRowContext(ctx, `SELECT state FROM orders WHERE id = $1`, orderID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("select order state: %w", err)
	}
	return fmt.Errorf("%w: expected %s, found %s", domain.ErrOrderStateConflict, expected, current)
}

// UpdateAddress заменяет адрес доставки, пока заказ не ушёл в отгрузку.
// Возвращает прежний адрес для аудит-записи.
func (r *OrderRepository) UpdateAddress(ctx context.Context, orderID string, addr domain.Address) (domain.Address, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Address{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		state domain.OrderState
		old   domain.Address
	)
	err = tx.QueryRowContext(ctx, `
		SELECT state, street, city, zip, country
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&state, &old.Street, &old.City, &old.Zip, &old.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Address{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Address{}, fmt.Errorf("select order for address update: %w", err)
	}

	if !state.AddressMutable() {
		return domain.Address{}, fmt.Errorf("%w: order is %s", domain.ErrAddressLocked, state)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET street = $1, city = $2, zip = $3, country = $4, updated_at = NOW()
		WHERE id = $5
	`, addr.Street, addr.City, addr.Zip, addr.Country, orderID); err != nil {
		return domain.Address{}, fmt.Errorf("update order address: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Address{}, fmt.Errorf("commit address update: %w", err)
	}
	return old, nil
}

// ListActive возвращает все нетерминальные заказы для возобновления.
func (r *OrderRepository) ListActive(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, state, payment_id, street, city, zip, country, created_at, updated_at
		FROM orders
		WHERE state NOT IN ($1, $2, $3, $4)
		ORDER BY created_at
	`, domain.OrderStateCompleted, domain.OrderStateFailed,
		domain.OrderStateCancelled, domain.OrderStateApprovalTimeout)
	if err != nil {
		return nil, fmt.Errorf("select active orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.State, &order.PaymentID,
			&order.Address.Street, &order.Address.City, &order.Address.Zip, &order.Address.Country,
			&order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan active order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active orders: %w", err)
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, qty, price_minor, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Qty, &item.PriceMinor, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}
