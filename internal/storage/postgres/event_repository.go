package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// EventRepository — append-only журнал событий заказа. Порядок записи
// фиксируется серийной колонкой seq, выборка её и воспроизводит.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository создаёт журнал событий поверх подключения Store.
func NewEventRepository(store *Store) *EventRepository {
	return &EventRepository{db: store.DB()}
}

// Append добавляет событие в журнал. Записи никогда не изменяются и не удаляются.
func (r *EventRepository) Append(ctx context.Context, event domain.Event) error {
	payload := event.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO order_events (id, order_id, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.ID, event.OrderID, event.Type, payload, event.Occurred); err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

// List возвращает события заказа в порядке записи.
func (r *EventRepository) List(ctx context.Context, orderID string) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, event_type, payload, occurred_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY seq
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		if err := rows.Scan(&event.ID, &event.OrderID, &event.Type, &event.Payload, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order events: %w", err)
	}
	return events, nil
}
