package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Размеры пулов по умолчанию и дедлайн ручного подтверждения.
const (
	DefaultOrderPoolSize    = 64
	DefaultShippingPoolSize = 32
	DefaultApprovalTimeout  = 5 * time.Minute
)

// Coordinator владеет реестром живых workflow-инстансов: на один order_id не
// больше одного. Внешние запросы проходят через него: старт идемпотентен,
// сигналы валидируются по зафиксированному состоянию, статус читается из
// хранилища, а после рестарта активные заказы возобновляются из снапшотов.
type Coordinator struct {
	deps         Deps
	orderPool    *Pool
	shippingPool *Pool
	logger       *log.Entry

	mu        sync.Mutex
	instances map[string]*Machine

	runCtx    context.Context
	runCancel context.CancelFunc
}

// CoordinatorConfig настраивает пулы и таймер подтверждения.
type CoordinatorConfig struct {
	OrderPoolSize    int
	ShippingPoolSize int
	ApprovalTimeout  time.Duration
}

// NewCoordinator собирает координатор. Нулевые поля конфигурации заменяются
// значениями по умолчанию.
func NewCoordinator(deps Deps, cfg CoordinatorConfig) *Coordinator {
	if cfg.OrderPoolSize <= 0 {
		cfg.OrderPoolSize = DefaultOrderPoolSize
	}
	if cfg.ShippingPoolSize <= 0 {
		cfg.ShippingPoolSize = DefaultShippingPoolSize
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = DefaultApprovalTimeout
	}
	if deps.ApprovalTimeout <= 0 {
		deps.ApprovalTimeout = cfg.ApprovalTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "coordinator")
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	c := &Coordinator{
		deps:         deps,
		orderPool:    NewPool("orders", cfg.OrderPoolSize, logger),
		shippingPool: NewPool("shipping", cfg.ShippingPoolSize, logger),
		logger:       logger,
		instances:    make(map[string]*Machine),
		runCtx:       runCtx,
		runCancel:    runCancel,
	}
	c.deps.ShippingPool = c.shippingPool
	return c
}

// Start идемпотентно запускает workflow заказа. Повторный запуск с тем же
// order_id не создаёт второй инстанс и не сбрасывает прогресс: возвращается
// текущее состояние уже идущего либо завершённого заказа и created=false.
func (c *Coordinator) Start(ctx context.Context, order domain.Order) (domain.Order, bool, error) {
	if order.ID == "" {
		return domain.Order{}, false, domain.ErrOrderIDRequired
	}

	c.mu.Lock()
	if _, live := c.instances[order.ID]; live {
		c.mu.Unlock()
		current, err := c.Status(ctx, order.ID)
		return current, false, err
	}

	stored, err := c.deps.Orders.Get(ctx, order.ID)
	switch {
	case err == nil:
		// Заказ уже известен. Терминальный остаётся как есть, активный без
		// живого инстанса (после рестарта) возобновляется.
		if stored.State.Terminal() {
			c.mu.Unlock()
			return stored, false, nil
		}
		c.spawnLocked(stored, false)
		c.mu.Unlock()
		return stored, false, nil
	case errors.Is(err, domain.ErrOrderNotFound):
		// Новый заказ.
	default:
		c.mu.Unlock()
		return domain.Order{}, false, fmt.Errorf("lookup order: %w", err)
	}

	now := time.Now().UTC()
	order.State = domain.OrderStateReceived
	order.CreatedAt = now
	order.UpdatedAt = now
	c.spawnLocked(order, true)
	c.mu.Unlock()

	return order, true, nil
}

// spawnLocked создаёт инстанс и отдаёт его пулу заказов. Вызывается под c.mu.
func (c *Coordinator) spawnLocked(order domain.Order, fresh bool) {
	m := NewMachine(c.deps, order, fresh)
	c.instances[order.ID] = m

	go func() {
		if err := c.orderPool.Submit(c.runCtx, "order:"+order.ID, func() {
			m.Run(c.runCtx)
		}); err != nil {
			c.logger.WithError(err).WithField("order_id", order.ID).Warn("order not scheduled, coordinator stopping")
			c.forget(order.ID)
			return
		}
		<-m.Done()
		c.forget(order.ID)
	}()
}

func (c *Coordinator) forget(orderID string) {
	c.mu.Lock()
	delete(c.instances, orderID)
	c.mu.Unlock()
}

// Approve подтверждает заказ. Сигнал принимается только в AWAITING_APPROVAL:
// опоздавшее подтверждение после таймаута или отмены отклоняется.
func (c *Coordinator) Approve(ctx context.Context, orderID string) error {
	stored, err := c.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := validateSignal(stored.State, signalApprove); err != nil {
		return err
	}
	return c.send(ctx, orderID, signal{kind: signalApprove})
}

// Cancel отменяет заказ. Принимается в любом нетерминальном состоянии;
// уже совершённые эффекты не откатываются.
func (c *Coordinator) Cancel(ctx context.Context, orderID string) error {
	stored, err := c.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := validateSignal(stored.State, signalCancel); err != nil {
		return err
	}
	return c.send(ctx, orderID, signal{kind: signalCancel})
}

// UpdateAddress заменяет адрес доставки. После начала отгрузки адрес
// зафиксирован и сигнал отклоняется.
func (c *Coordinator) UpdateAddress(ctx context.Context, orderID string, addr domain.Address) error {
	stored, err := c.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := validateSignal(stored.State, signalUpdateAddress); err != nil {
		return err
	}
	return c.send(ctx, orderID, signal{kind: signalUpdateAddress, address: addr})
}

// validateSignal проверяет, принимает ли зафиксированное состояние сигнал.
func validateSignal(state domain.OrderState, kind signalKind) error {
	if state.Terminal() {
		return fmt.Errorf("%w: order is %s", domain.ErrOrderTerminal, state)
	}
	switch kind {
	case signalApprove:
		if state != domain.OrderStateAwaitingApproval {
			return fmt.Errorf("%w: approve is not valid in state %s", domain.ErrSignalRejected, state)
		}
	case signalUpdateAddress:
		if !state.AddressMutable() {
			return fmt.Errorf("%w: order is %s", domain.ErrAddressLocked, state)
		}
	}
	return nil
}

// send доставляет сигнал живому инстансу, при необходимости возобновляя его:
// после рестарта сигнал активному заказу сам поднимает инстанс из снапшота.
// Снапшот, который видела вызывающая сторона, мог устареть, пока прежний
// инстанс завершался, поэтому перед возобновлением состояние перечитывается
// под блокировкой и проверяется заново.
func (c *Coordinator) send(ctx context.Context, orderID string, sig signal) error {
	c.mu.Lock()
	m, live := c.instances[orderID]
	if !live {
		stored, err := c.deps.Orders.Get(ctx, orderID)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		if err := validateSignal(stored.State, sig.kind); err != nil {
			c.mu.Unlock()
			return err
		}
		c.spawnLocked(stored, false)
		m = c.instances[orderID]
	}
	c.mu.Unlock()

	if err := m.deliver(ctx, sig); err != nil {
		return fmt.Errorf("deliver %s to order %s: %w", sig.kind, orderID, err)
	}
	return nil
}

// Status возвращает зафиксированный снапшот заказа.
func (c *Coordinator) Status(ctx context.Context, orderID string) (domain.Order, error) {
	return c.deps.Orders.Get(ctx, orderID)
}

// Events возвращает аудит-лог заказа в порядке записи.
func (c *Coordinator) Events(ctx context.Context, orderID string) ([]domain.Event, error) {
	if _, err := c.deps.Orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return c.deps.Events.List(ctx, orderID)
}

// Restore возобновляет все нетерминальные заказы из хранилища. Вызывается
// один раз при старте процесса.
func (c *Coordinator) Restore(ctx context.Context) (int, error) {
	active, err := c.deps.Orders.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active orders: %w", err)
	}

	resumed := 0
	c.mu.Lock()
	for _, order := range active {
		if _, live := c.instances[order.ID]; live {
			continue
		}
		c.spawnLocked(order, false)
		resumed++
	}
	c.mu.Unlock()

	if resumed > 0 {
		c.logger.WithField("count", resumed).Info("resumed active orders")
	}
	return resumed, nil
}

// Shutdown останавливает все инстансы и ждёт, пока пулы опустеют.
// Прогресс заказов сохранён в хранилище, после рестарта их возобновит Restore.
func (c *Coordinator) Shutdown() {
	c.runCancel()
	c.shippingPool.Wait()
	c.orderPool.Wait()
	c.logger.Info("coordinator stopped")
}
