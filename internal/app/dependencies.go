package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
	"github.com/vladislavdragonenkov/orderflow/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/orderflow/internal/service/payment"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/postgres"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Orders      domain.OrderRepository
	Payments    domain.PaymentRepository
	Events      domain.EventRepository
	PaymentGW   domain.PaymentGateway
	Fulfillment domain.FulfillmentGateway
	Metrics     *metrics.WorkflowMetrics
	Logger      *log.Entry

	store *postgres.Store
}

// NewDependencies создаёт зависимости приложения. Непустой DSN включает
// PostgreSQL (с накаткой миграций), иначе всё живёт в памяти процесса.
// NOTE: шлюзы оплаты и фулфилмента — имитации ненадёжных внешних систем;
// в production их заменяют реальные клиенты.
func NewDependencies(ctx context.Context, dsn string, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		PaymentGW:   payment.NewFlakyGateway(),
		Fulfillment: fulfillment.NewFlakyGateway(),
		Metrics:     metrics.NewWorkflowMetrics(),
		Logger:      logger,
	}

	if dsn == "" {
		deps.Orders = memory.NewOrderRepository()
		deps.Payments = memory.NewPaymentRepository()
		deps.Events = memory.NewEventRepository()
		logger.Info("using in-memory storage")
		return deps, nil
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := store.MigrateUp(ctx, 0); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	deps.store = store
	deps.Orders = postgres.NewOrderRepository(store)
	deps.Payments = postgres.NewPaymentRepository(store)
	deps.Events = postgres.NewEventRepository(store)
	logger.Info("using postgres storage")
	return deps, nil
}

// Close освобождает ресурсы зависимостей.
func (d *Dependencies) Close() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}

// StorageCheck возвращает функцию проверки хранилища для health-эндпоинта.
func (d *Dependencies) StorageCheck() func() error {
	return func() error {
		if d.store == nil {
			return nil
		}
		return d.store.Ping(context.Background())
	}
}
