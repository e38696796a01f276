package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
)

// mailboxCapacity ограничивает очередь сигналов одного заказа. Потребитель
// один и разбирает очередь между шагами, так что глубокий буфер не нужен.
const mailboxCapacity = 32

// signalKind перечисляет события, доставляемые в почтовый ящик инстанса.
// Внешние сигналы и исходы дочернего процесса идут одним путём.
type signalKind int

const (
	signalApprove signalKind = iota
	signalCancel
	signalUpdateAddress
	signalShippingSucceeded
	signalShippingFailed
)

func (k signalKind) String() string {
	switch k {
	case signalApprove:
		return "approve"
	case signalCancel:
		return "cancel"
	case signalUpdateAddress:
		return "update_address"
	case signalShippingSucceeded:
		return "shipping_succeeded"
	case signalShippingFailed:
		return "shipping_failed"
	default:
		return "unknown"
	}
}

// signal — одно событие в почтовом ящике заказа.
type signal struct {
	kind      signalKind
	address   domain.Address
	operation string // имя шага, провалившего дочерний процесс
	cause     error
}

// Deps объединяет зависимости workflow-инстансов.
type Deps struct {
	Orders      domain.OrderRepository
	Payments    domain.PaymentRepository
	Events      domain.EventRepository
	PaymentGW   domain.PaymentGateway
	Fulfillment domain.FulfillmentGateway
	Executor    *Executor
	Producer    *kafka.Producer // опциональный Kafka producer
	Metrics     *metrics.WorkflowMetrics
	Logger      *log.Entry

	// ApprovalTimeout — дедлайн ручного подтверждения.
	ApprovalTimeout time.Duration
	// ShippingPool ограничивает параллелизм дочерних процессов отгрузки.
	ShippingPool *Pool
}

// Machine — workflow-инстанс одного заказа: единственный писатель его строк,
// единственный потребитель его почтового ящика. Сигналы, таймер подтверждения
// и исход дочернего процесса сериализуются через mailbox, поэтому исполнение
// заказа эффективно однопоточное.
type Machine struct {
	order   domain.Order
	fresh   bool
	deps    Deps
	mailbox chan signal
	logger  *log.Entry
	done    chan struct{}

	// pendingApprove — подтверждение, которое drainSignals снял из ящика до
	// входа в awaitApproval. Сигнал после рестарта кладётся в ящик раньше,
	// чем горутина инстанса доходит до ожидания, и не должен теряться.
	pendingApprove bool
}

// NewMachine создаёт инстанс для нового заказа (fresh=true, строка ещё не
// записана) или возобновляет существующий из снапшота хранилища.
func NewMachine(deps Deps, order domain.Order, fresh bool) *Machine {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "order-machine")
	}
	return &Machine{
		order:   order,
		fresh:   fresh,
		deps:    deps,
		mailbox: make(chan signal, mailboxCapacity),
		logger:  logger.WithField("order_id", order.ID),
		done:    make(chan struct{}),
	}
}

// Done закрывается после завершения Run (терминальное состояние или ctx).
func (m *Machine) Done() <-chan struct{} { return m.done }

// deliver кладёт событие в почтовый ящик инстанса.
func (m *Machine) deliver(ctx context.Context, sig signal) error {
	select {
	case m.mailbox <- sig:
		return nil
	case <-m.done:
		// Инстанс уже завершился; сигнал пришёл слишком поздно.
		return domain.ErrSignalRejected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run ведёт заказ по шагам до терминального состояния либо до отмены ctx
// (остановка процесса: инстанс возобновится после рестарта без потери
// прогресса — каждый завершённый шаг уже зафиксирован в хранилище).
func (m *Machine) Run(ctx context.Context) {
	defer close(m.done)

	started := time.Now()
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordOrderStarted()
	}

	final, suspended := m.run(ctx)
	if m.deps.Metrics != nil {
		if suspended {
			m.deps.Metrics.RecordOrderSuspended()
		} else {
			m.deps.Metrics.RecordOrderFinished(string(final), time.Since(started))
		}
	}

	if suspended {
		m.logger.WithField("state", m.order.State).Info("order instance suspended")
		return
	}
	m.logger.WithField("state", final).Info("order instance finished")
}

// run возвращает финальное состояние и признак «инстанс выгружен, не завершён».
func (m *Machine) run(ctx context.Context) (domain.OrderState, bool) {
	// Новый заказ сначала проходит идемпотентную запись.
	if m.fresh {
		if err := m.deps.Executor.Execute(ctx, opOrderReceived, m.receiveOrder); err != nil {
			return m.stepFailure(ctx, opOrderReceived, err)
		}
	}

	for {
		if ctx.Err() != nil {
			return m.order.State, true
		}
		if m.order.State.Terminal() {
			return m.order.State, false
		}

		// Кооперативная отмена: очередь сигналов разбирается перед каждым шагом.
		if terminal := m.drainSignals(ctx); terminal {
			return m.order.State, false
		}

		switch m.order.State {
		case domain.OrderStateReceived:
			if err := m.deps.Executor.Execute(ctx, opOrderValidated, m.validateOrder); err != nil {
				return m.stepFailure(ctx, opOrderValidated, err)
			}

		case domain.OrderStateValidated:
			if err := m.transitionTo(ctx, domain.OrderStateAwaitingApproval); err != nil {
				return m.stepFailure(ctx, "arm_approval_timer", err)
			}

		case domain.OrderStateAwaitingApproval:
			outcome, suspended := m.awaitApproval(ctx)
			if suspended {
				return m.order.State, true
			}
			if outcome != signalApprove {
				return m.order.State, false
			}
			if err := m.deps.Executor.Execute(ctx, opPaymentCharged, m.chargePayment); err != nil {
				return m.stepFailure(ctx, opPaymentCharged, err)
			}
			if err := m.transitionTo(ctx, domain.OrderStatePaid); err != nil {
				return m.stepFailure(ctx, opPaymentCharged, err)
			}

		case domain.OrderStatePaid:
			if err := m.transitionTo(ctx, domain.OrderStateShipping); err != nil {
				return m.stepFailure(ctx, "start_shipping", err)
			}

		case domain.OrderStateShipping:
			if suspended := m.runShipping(ctx); suspended {
				return m.order.State, true
			}

		case domain.OrderStateShipped:
			if err := m.transitionTo(ctx, domain.OrderStateCompleted); err != nil {
				return m.stepFailure(ctx, "finalize", err)
			}

		default:
			m.logger.WithField("state", m.order.State).Error("order in unexpected state, failing")
			m.failOrder(ctx, "state_machine", fmt.Errorf("unexpected state %s", m.order.State))
			return m.order.State, false
		}
	}
}

// awaitApproval ждёт, что наступит раньше: сигнал approve, сигнал cancel или
// дедлайн подтверждения. Дедлайн привязан к моменту входа в AWAITING_APPROVAL,
// поэтому переживает рестарт процесса. Опоздавший таймер после одобрения
// невозможен: таймер и сигналы обслуживает один и тот же select.
func (m *Machine) awaitApproval(ctx context.Context) (signalKind, bool) {
	// Подтверждение, доставленное до входа в ожидание.
	if m.pendingApprove {
		m.pendingApprove = false
		return signalApprove, false
	}

	// Возобновление после сбоя между списанием и переходом в PAID:
	// зафиксированный платёж означает, что подтверждение уже состоялось,
	// таймер повторно не взводится.
	if !m.fresh {
		if _, err := m.deps.Payments.Get(ctx, m.order.PaymentID); err == nil {
			m.logger.WithField("payment_id", m.order.PaymentID).Info("payment already committed, resuming past approval")
			return signalApprove, false
		}
	}

	deadline := m.order.UpdatedAt.Add(m.deps.ApprovalTimeout)
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, true

		case <-timer.C:
			m.logger.WithField("deadline", deadline).Warn("approval deadline expired")
			m.finishTerminal(ctx, domain.OrderStateApprovalTimeout, domain.EventApprovalTimeout, map[string]any{
				"deadline": deadline.Format(time.RFC3339Nano),
			})
			return 0, false

		case sig := <-m.mailbox:
			switch sig.kind {
			case signalApprove:
				return signalApprove, false
			case signalCancel:
				m.finishTerminal(ctx, domain.OrderStateCancelled, domain.EventOrderCancelled, map[string]any{
					"previous_state": string(m.order.State),
				})
				return signalCancel, false
			case signalUpdateAddress:
				m.applyAddressUpdate(ctx, sig.address)
			default:
				m.logger.WithField("signal", sig.kind.String()).Debug("signal ignored while awaiting approval")
			}
		}
	}
}

// runShipping запускает дочерний процесс отгрузки и ждёт его исхода через
// почтовый ящик — тем же путём, каким приходят внешние сигналы.
func (m *Machine) runShipping(ctx context.Context) bool {
	child := newShippingProcess(m.deps, m.order, m.mailbox)
	submit := func() { child.Run(ctx) }
	if m.deps.ShippingPool != nil {
		if err := m.deps.ShippingPool.Submit(ctx, "shipping:"+m.order.ID, submit); err != nil {
			return true
		}
	} else {
		go submit()
	}

	for {
		select {
		case <-ctx.Done():
			return true

		case sig := <-m.mailbox:
			switch sig.kind {
			case signalShippingSucceeded:
				if err := m.deps.Executor.Execute(ctx, opOrderShipped, m.markShipped); err != nil {
					m.stepFailure(ctx, opOrderShipped, err)
				}
				return false

			case signalShippingFailed:
				m.logger.WithError(sig.cause).WithField("operation", sig.operation).Warn("shipping sub-process failed")
				m.failOrder(ctx, sig.operation, sig.cause)
				return false

			case signalCancel:
				// Отмена не откатывает уже совершённые эффекты, а лишь
				// останавливает дальнейший прогресс родителя.
				m.finishTerminal(ctx, domain.OrderStateCancelled, domain.EventOrderCancelled, map[string]any{
					"previous_state": string(m.order.State),
				})
				return false

			case signalUpdateAddress:
				// Состояние уже SHIPPING: репозиторий откажет, адрес не изменится.
				m.applyAddressUpdate(ctx, sig.address)

			default:
				m.logger.WithField("signal", sig.kind.String()).Debug("signal ignored while shipping")
			}
		}
	}
}

// drainSignals разбирает накопившиеся сигналы, не блокируясь.
// Возвращает true, если заказ перешёл в терминальное состояние.
func (m *Machine) drainSignals(ctx context.Context) bool {
	for {
		select {
		case sig := <-m.mailbox:
			switch sig.kind {
			case signalCancel:
				m.finishTerminal(ctx, domain.OrderStateCancelled, domain.EventOrderCancelled, map[string]any{
					"previous_state": string(m.order.State),
				})
				return true
			case signalUpdateAddress:
				m.applyAddressUpdate(ctx, sig.address)
			case signalApprove:
				if m.order.State == domain.OrderStateAwaitingApproval {
					// Approve опередил вход в awaitApproval. Откладываем его и
					// прекращаем разбор: сигналы позади останутся в очереди,
					// порядок доставки сохраняется.
					m.pendingApprove = true
					return false
				}
				m.logger.Debug("approve ignored outside approval wait")
			default:
				m.logger.WithField("signal", sig.kind.String()).Debug("signal ignored between steps")
			}
		default:
			return false
		}
	}
}

func (m *Machine) applyAddressUpdate(ctx context.Context, addr domain.Address) {
	if err := m.deps.Executor.Execute(ctx, opAddressUpdated, func(ctx context.Context) error {
		return m.updateAddress(ctx, addr)
	}); err != nil {
		m.logger.WithError(err).Warn("address update not applied")
	}
}

// stepFailure обрабатывает ошибку шага: отмена ctx — это выгрузка инстанса,
// всё остальное — терминальный FAILED с аудитом причины.
func (m *Machine) stepFailure(ctx context.Context, operation string, err error) (domain.OrderState, bool) {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return m.order.State, true
	}
	m.failOrder(ctx, operation, err)
	return m.order.State, false
}

// failOrder переводит заказ в FAILED и записывает причину в аудит.
func (m *Machine) failOrder(ctx context.Context, operation string, cause error) {
	summary := "unknown"
	if cause != nil {
		summary = cause.Error()
	}
	m.finishTerminal(ctx, domain.OrderStateFailed, domain.EventOrderFailed, map[string]any{
		"operation":      operation,
		"error":          summary,
		"previous_state": string(m.order.State),
	})
}

// finishTerminal — общий путь в терминальное состояние с аудит-событием.
func (m *Machine) finishTerminal(ctx context.Context, state domain.OrderState, eventType domain.EventType, payload map[string]any) {
	if err := m.transitionTo(ctx, state); err != nil {
		m.logger.WithError(err).WithField("target", state).Error("failed to persist terminal state")
		return
	}
	if err := m.appendEvent(ctx, eventType, payload); err != nil {
		m.logger.WithError(err).WithField("event", eventType).Warn("failed to append terminal audit event")
	}
}

// transitionTo выполняет условный переход текущее → next и обновляет снапшот.
func (m *Machine) transitionTo(ctx context.Context, next domain.OrderState) error {
	if err := m.deps.Orders.UpdateState(ctx, m.order.ID, m.order.State, next); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", m.order.State, next, err)
	}
	m.order.State = next
	m.order.UpdatedAt = time.Now().UTC()
	return nil
}

// appendEvent пишет аудит-событие и, если настроен producer, публикует его в Kafka.
func (m *Machine) appendEvent(ctx context.Context, eventType domain.EventType, payload map[string]any) error {
	event := domain.NewEvent(m.order.ID, eventType, payload)
	if err := m.deps.Events.Append(ctx, event); err != nil {
		return fmt.Errorf("append audit event %s: %w", eventType, err)
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordAuditEvent()
	}

	if m.deps.Producer != nil {
		msg := kafka.NewOrderEvent(eventType, m.order.ID, string(m.order.State), payload)
		if err := m.deps.Producer.PublishEvent(kafka.TopicOrderEvents, m.order.ID, msg); err != nil {
			// Kafka опциональна: аудит уже записан, заказ не останавливаем.
			m.logger.WithError(err).WithField("event", eventType).Warn("failed to publish order event to kafka")
		}
	}
	return nil
}
