package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/orderflow/internal/service/payment"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
)

type testEnv struct {
	orders      domain.OrderRepository
	payments    domain.PaymentRepository
	events      domain.EventRepository
	payGW       *payment.FlakyGateway
	fulfillGW   *fulfillment.FlakyGateway
	coordinator *Coordinator
}

func newTestEnv(t *testing.T, approvalTimeout time.Duration) *testEnv {
	t.Helper()

	env := &testEnv{
		orders:    memory.NewOrderRepository(),
		payments:  memory.NewPaymentRepository(),
		events:    memory.NewEventRepository(),
		payGW:     payment.NewStableGateway(),
		fulfillGW: fulfillment.NewStableGateway(),
	}
	env.coordinator = NewCoordinator(Deps{
		Orders:      env.orders,
		Payments:    env.payments,
		Events:      env.events,
		PaymentGW:   env.payGW,
		Fulfillment: env.fulfillGW,
		Executor:    NewExecutor(fastPolicy(5), nil, newTestLogger()),
		Logger:      newTestLogger(),
	}, CoordinatorConfig{
		OrderPoolSize:    4,
		ShippingPoolSize: 4,
		ApprovalTimeout:  approvalTimeout,
	})
	t.Cleanup(env.coordinator.Shutdown)
	return env
}

func testOrder(id string) domain.Order {
	return domain.Order{
		ID:        id,
		PaymentID: "pay-" + id,
		Items: []domain.OrderItem{
			{ID: "item-1", Name: "notebook", Qty: 2, PriceMinor: 2999, CreatedAt: time.Now().UTC()},
		},
		Address: domain.Address{Street: "Tverskaya 1", City: "Moscow", Zip: "125009", Country: "RU"},
	}
}

func waitForState(t *testing.T, env *testEnv, orderID string, want domain.OrderState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		order, err := env.orders.Get(context.Background(), orderID)
		if err == nil && order.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	order, err := env.orders.Get(context.Background(), orderID)
	t.Fatalf("order %s never reached %s (last: %v, err=%v)", orderID, want, order.State, err)
}

func eventTypes(t *testing.T, env *testEnv, orderID string) []domain.EventType {
	t.Helper()
	events, err := env.events.List(context.Background(), orderID)
	require.NoError(t, err)
	types := make([]domain.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func countEvents(types []domain.EventType, want domain.EventType) int {
	n := 0
	for _, tp := range types {
		if tp == want {
			n++
		}
	}
	return n
}

func TestOrderHappyPath(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	ctx := context.Background()

	_, _, err := env.coordinator.Start(ctx, testOrder("ord-1"))
	require.NoError(t, err)

	waitForState(t, env, "ord-1", domain.OrderStateAwaitingApproval)
	require.NoError(t, env.coordinator.Approve(ctx, "ord-1"))
	waitForState(t, env, "ord-1", domain.OrderStateCompleted)

	types := eventTypes(t, env, "ord-1")
	wantOrder := []domain.EventType{
		domain.EventOrderReceived,
		domain.EventOrderValidated,
		domain.EventPaymentCharged,
		domain.EventPackagePrepared,
		domain.EventCarrierDispatched,
		domain.EventOrderShipped,
	}
	idx := 0
	for _, tp := range types {
		if idx < len(wantOrder) && tp == wantOrder[idx] {
			idx++
		}
	}
	require.Equal(t, len(wantOrder), idx, "audit log must contain lifecycle events in order, got %v", types)

	require.Equal(t, 1, env.payGW.ChargeCalls())
	require.Equal(t, 1, env.fulfillGW.PrepareCalls())
	require.Equal(t, 1, env.fulfillGW.DispatchCalls())

	pay, err := env.payments.Get(ctx, "pay-ord-1")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusCompleted, pay.Status)
	require.Equal(t, int64(2*2999), pay.AmountMinor)
}

func TestStartIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	ctx := context.Background()

	_, _, err := env.coordinator.Start(ctx, testOrder("ord-2"))
	require.NoError(t, err)
	waitForState(t, env, "ord-2", domain.OrderStateAwaitingApproval)

	// Повторный старт не создаёт второй инстанс и не сбрасывает прогресс.
	again, created, err := env.coordinator.Start(ctx, testOrder("ord-2"))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, domain.OrderStateAwaitingApproval, again.State)

	require.NoError(t, env.coordinator.Approve(ctx, "ord-2"))
	waitForState(t, env, "ord-2", domain.OrderStateCompleted)

	types := eventTypes(t, env, "ord-2")
	require.Equal(t, 1, countEvents(types, domain.EventOrderReceived))
	require.Equal(t, 1, countEvents(types, domain.EventPaymentCharged))
	require.Equal(t, 1, env.payGW.ChargeCalls())
}

func TestCancelWhileAwaitingApproval(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	ctx := context.Background()

	_, _, err := env.coordinator.Start(ctx, testOrder("ord-3"))
	require.NoError(t, err)
	waitForState(t, env, "ord-3", domain.OrderStateAwaitingApproval)

	require.NoError(t, env.coordinator.Cancel(ctx, "ord-3"))
	waitForState(t, env, "ord-3", domain.OrderStateCancelled)

	// Опоздавшее подтверждение отклоняется.
	err = env.coordinator.Approve(ctx, "ord-3")
	require.ErrorIs(t, err, domain.ErrOrderTerminal)

	types := eventTypes(t, env, "ord-3")
	require.Equal(t, 1, countEvents(types, domain.EventOrderCancelled))
	require.Equal(t, 0, env.payGW.ChargeCalls(), "cancelled order must not be charged")
}

func TestApprovalTimeout(t *testing.T) {
	env := newTestEnv(t, 60*time.Millisecond)
	ctx := context.Background()

	_, _, err := env.coordinator.Start(ctx, testOrder("ord-4"))
	require.NoError(t, err)
	waitForState(t, env, "ord-4", domain.OrderStateApprovalTimeout)

	err = env.coordinator.Approve(ctx, "ord-4")
	require.ErrorIs(t, err, domain.ErrOrderTerminal)

	types := eventTypes(t, env, "ord-4")
	require.Equal(t, 1, countEvents(types, domain.EventApprovalTimeout))
	require.Equal(t, 0, env.payGW.ChargeCalls())
}

func TestUpdateAddressWhileAwaitingApproval(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	ctx := context.Background()

	_, _, err := env.coordinator.Start(ctx, testOrder("ord-5"))
	require.NoError(t, err)
	waitForState(t, env, "ord-5", domain.OrderStateAwaitingApproval)

	newAddr := domain.Address{Street: "Nevsky 10", City: "Saint Petersburg", Zip: "191025", Country: "RU"}
	require.NoError(t, env.coordinator.UpdateAddress(ctx, "ord-5", newAddr))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		order, err := env.orders.Get(ctx, "ord-5")
		require.NoError(t, err)
		if order.Address == newAddr {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	order, err := env.orders.Get(ctx, "ord-5")
	require.NoError(t, err)
	require.Equal(t, newAddr, order.Address)

	require.NoError(t, env.coordinator.Approve(ctx, "ord-5"))
	waitForState(t, env, "ord-5", domain.OrderStateCompleted)

	types := eventTypes(t, env, "ord-5")
	require.Equal(t, 1, countEvents(types, domain.EventAddressUpdated))

	// После завершения адрес зафиксирован.
	err = env.coordinator.UpdateAddress(ctx, "ord-5", testOrder("ord-5").Address)
	require.ErrorIs(t, err, domain.ErrOrderTerminal)
}

func TestDispatchExhaustionFailsOrder(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	env.fulfillGW.DispatchErr = errors.New("carrier is down")
	ctx := context.Background()

	_, _, err := env.coordinator.Start(ctx, testOrder("ord-6"))
	require.NoError(t, err)
	waitForState(t, env, "ord-6", domain.OrderStateAwaitingApproval)
	require.NoError(t, env.coordinator.Approve(ctx, "ord-6"))

	waitForState(t, env, "ord-6", domain.OrderStateFailed)

	types := eventTypes(t, env, "ord-6")
	require.Equal(t, 1, countEvents(types, domain.EventPackagePrepared))
	require.Equal(t, 1, countEvents(types, domain.EventOrderFailed))
	require.Equal(t, 0, countEvents(types, domain.EventOrderShipped))

	events, err := env.events.List(ctx, "ord-6")
	require.NoError(t, err)
	last := events[len(events)-1]
	require.Equal(t, domain.EventOrderFailed, last.Type)
	require.Contains(t, string(last.Payload), "carrier_dispatched")
}

func TestPaymentChargeIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	ctx := context.Background()

	order := testOrder("ord-7")
	// Платёж уже зафиксирован предыдущей попыткой: провайдер не должен
	// вызываться повторно.
	_, _, err := env.payments.CreateIfAbsent(ctx, domain.Payment{
		ID:          order.PaymentID,
		OrderID:     order.ID,
		Status:      domain.PaymentStatusCompleted,
		AmountMinor: order.AmountMinor(),
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)

	_, _, err = env.coordinator.Start(ctx, order)
	require.NoError(t, err)
	waitForState(t, env, "ord-7", domain.OrderStateAwaitingApproval)
	require.NoError(t, env.coordinator.Approve(ctx, "ord-7"))
	waitForState(t, env, "ord-7", domain.OrderStateCompleted)

	require.Equal(t, 0, env.payGW.ChargeCalls())
}

func TestRetryAbsorbsFlakyCharge(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	// С seed=1 первый бросок rng (0.6046) меньше порога и даёт сбой,
	// второй (0.9405) проходит: ровно один retry.
	env.payGW.FailRate = 0.65
	ctx := context.Background()

	_, _, err := env.coordinator.Start(ctx, testOrder("ord-8"))
	require.NoError(t, err)
	waitForState(t, env, "ord-8", domain.OrderStateAwaitingApproval)
	require.NoError(t, env.coordinator.Approve(ctx, "ord-8"))
	waitForState(t, env, "ord-8", domain.OrderStateCompleted)

	require.Equal(t, 1, env.payGW.ChargeCalls())
	types := eventTypes(t, env, "ord-8")
	require.Equal(t, 1, countEvents(types, domain.EventPaymentCharged))
}

func TestRestoreResumesActiveOrders(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	ctx := context.Background()

	// Снапшот заказа, остановленного в AWAITING_APPROVAL прошлым запуском.
	order := testOrder("ord-9")
	order.State = domain.OrderStateReceived
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	_, _, err := env.orders.CreateIfAbsent(ctx, order)
	require.NoError(t, err)
	require.NoError(t, env.orders.UpdateState(ctx, order.ID, domain.OrderStateReceived, domain.OrderStateValidated))
	require.NoError(t, env.orders.UpdateState(ctx, order.ID, domain.OrderStateValidated, domain.OrderStateAwaitingApproval))

	resumed, err := env.coordinator.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, resumed)

	require.NoError(t, env.coordinator.Approve(ctx, "ord-9"))
	waitForState(t, env, "ord-9", domain.OrderStateCompleted)

	// Пройденные шаги не повторяются: ORDER_RECEIVED уже был записан раньше.
	types := eventTypes(t, env, "ord-9")
	require.Equal(t, 0, countEvents(types, domain.EventOrderReceived))
	require.Equal(t, 1, countEvents(types, domain.EventPaymentCharged))
	require.Equal(t, 1, env.payGW.ChargeCalls())
}

func TestRestoreResumesShippingWithoutRepeatingSteps(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	ctx := context.Background()

	// Снапшот заказа, остановленного посреди отгрузки: посылка уже собрана,
	// перевозчик ещё не вызван.
	order := testOrder("ord-11")
	order.State = domain.OrderStateReceived
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	_, _, err := env.orders.CreateIfAbsent(ctx, order)
	require.NoError(t, err)
	for _, next := range []domain.OrderState{
		domain.OrderStateValidated,
		domain.OrderStateAwaitingApproval,
		domain.OrderStatePaid,
		domain.OrderStateShipping,
	} {
		prev := order.State
		require.NoError(t, env.orders.UpdateState(ctx, order.ID, prev, next))
		order.State = next
	}
	require.NoError(t, env.events.Append(ctx, domain.NewEvent(order.ID, domain.EventPackagePrepared, nil)))

	resumed, err := env.coordinator.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, resumed)

	waitForState(t, env, "ord-11", domain.OrderStateCompleted)

	require.Equal(t, 0, env.fulfillGW.PrepareCalls(), "prepared package must not be rebuilt on resume")
	require.Equal(t, 1, env.fulfillGW.DispatchCalls())

	types := eventTypes(t, env, "ord-11")
	require.Equal(t, 1, countEvents(types, domain.EventPackagePrepared))
	require.Equal(t, 1, countEvents(types, domain.EventCarrierDispatched))
	require.Equal(t, 1, countEvents(types, domain.EventOrderShipped))
}

func TestSignalUnknownOrder(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	ctx := context.Background()

	require.ErrorIs(t, env.coordinator.Approve(ctx, "missing"), domain.ErrOrderNotFound)
	require.ErrorIs(t, env.coordinator.Cancel(ctx, "missing"), domain.ErrOrderNotFound)
	require.ErrorIs(t, env.coordinator.UpdateAddress(ctx, "missing", domain.Address{}), domain.ErrOrderNotFound)
	_, err := env.coordinator.Status(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestInvalidOrderFailsValidation(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	ctx := context.Background()

	order := testOrder("ord-10")
	order.Items = nil
	_, _, err := env.coordinator.Start(ctx, order)
	require.NoError(t, err)

	waitForState(t, env, "ord-10", domain.OrderStateFailed)

	types := eventTypes(t, env, "ord-10")
	require.Equal(t, 1, countEvents(types, domain.EventOrderFailed))
	require.Equal(t, 0, env.payGW.ChargeCalls())
}

func TestUpdateAddressRejectedWhileShipping(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	// Склад «зависает» на каждой попытке: заказ надолго остаётся в SHIPPING.
	env.fulfillGW.HangRate = 1
	ctx := context.Background()

	_, _, err := env.coordinator.Start(ctx, testOrder("ord-11"))
	require.NoError(t, err)
	waitForState(t, env, "ord-11", domain.OrderStateAwaitingApproval)

	require.NoError(t, env.coordinator.Approve(ctx, "ord-11"))
	waitForState(t, env, "ord-11", domain.OrderStateShipping)

	err = env.coordinator.UpdateAddress(ctx, "ord-11", domain.Address{
		Street: "Nevsky 10", City: "Saint Petersburg", Zip: "191025", Country: "RU",
	})
	require.ErrorIs(t, err, domain.ErrAddressLocked)

	order, err := env.orders.Get(ctx, "ord-11")
	require.NoError(t, err)
	require.Equal(t, "Moscow", order.Address.City)

	require.NoError(t, env.coordinator.Cancel(ctx, "ord-11"))
	waitForState(t, env, "ord-11", domain.OrderStateCancelled)
}

func TestApproveDeliveredBeforeResumeIsNotLost(t *testing.T) {
	env := newTestEnv(t, 200*time.Millisecond)
	ctx := context.Background()

	order := testOrder("ord-12")
	order.State = domain.OrderStateReceived
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	_, _, err := env.orders.CreateIfAbsent(ctx, order)
	require.NoError(t, err)
	require.NoError(t, env.orders.UpdateState(ctx, order.ID, domain.OrderStateReceived, domain.OrderStateValidated))
	require.NoError(t, env.orders.UpdateState(ctx, order.ID, domain.OrderStateValidated, domain.OrderStateAwaitingApproval))
	order.State = domain.OrderStateAwaitingApproval

	// Сигнал лежит в ящике до старта горутины инстанса — так выглядит
	// Approve, принятый сразу после возобновления заказа.
	m := NewMachine(env.coordinator.deps, order, false)
	require.NoError(t, m.deliver(ctx, signal{kind: signalApprove}))
	go m.Run(ctx)

	waitForState(t, env, "ord-12", domain.OrderStateCompleted)
	require.Equal(t, 1, env.payGW.ChargeCalls())

	types := eventTypes(t, env, "ord-12")
	require.Equal(t, 0, countEvents(types, domain.EventApprovalTimeout))
}

func TestSignalAfterTerminalSnapshotIsRejected(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)
	ctx := context.Background()

	// Инстанс успел завершиться отменой между валидацией сигнала и его
	// доставкой: в хранилище уже CANCELLED, живого инстанса нет. Доставка
	// не должна возрождать заказ из устаревшего снапшота.
	order := testOrder("ord-13")
	order.State = domain.OrderStateReceived
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	_, _, err := env.orders.CreateIfAbsent(ctx, order)
	require.NoError(t, err)
	require.NoError(t, env.orders.UpdateState(ctx, order.ID, domain.OrderStateReceived, domain.OrderStateValidated))
	require.NoError(t, env.orders.UpdateState(ctx, order.ID, domain.OrderStateValidated, domain.OrderStateAwaitingApproval))
	require.NoError(t, env.orders.UpdateState(ctx, order.ID, domain.OrderStateAwaitingApproval, domain.OrderStateCancelled))

	err = env.coordinator.send(ctx, "ord-13", signal{kind: signalApprove})
	require.ErrorIs(t, err, domain.ErrOrderTerminal)
	require.Equal(t, 0, env.payGW.ChargeCalls())

	env.coordinator.mu.Lock()
	_, live := env.coordinator.instances["ord-13"]
	env.coordinator.mu.Unlock()
	require.False(t, live, "terminal order must not be resurrected")
}

func TestRestoreResumesChargedOrderPastApproval(t *testing.T) {
	env := newTestEnv(t, 50*time.Millisecond)
	ctx := context.Background()

	// Сбой случился после списания, но до перехода в PAID: снапшот застрял
	// в AWAITING_APPROVAL, платёж и его событие уже зафиксированы.
	order := testOrder("ord-14")
	order.State = domain.OrderStateReceived
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	_, _, err := env.orders.CreateIfAbsent(ctx, order)
	require.NoError(t, err)
	require.NoError(t, env.orders.UpdateState(ctx, order.ID, domain.OrderStateReceived, domain.OrderStateValidated))
	require.NoError(t, env.orders.UpdateState(ctx, order.ID, domain.OrderStateValidated, domain.OrderStateAwaitingApproval))

	_, _, err = env.payments.CreateIfAbsent(ctx, domain.Payment{
		ID:          order.PaymentID,
		OrderID:     order.ID,
		Status:      domain.PaymentStatusCompleted,
		AmountMinor: order.AmountMinor(),
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, env.events.Append(ctx, domain.NewEvent(order.ID, domain.EventPaymentCharged, nil)))

	resumed, err := env.coordinator.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, resumed)

	waitForState(t, env, "ord-14", domain.OrderStateCompleted)

	require.Equal(t, 0, env.payGW.ChargeCalls())
	types := eventTypes(t, env, "ord-14")
	require.Equal(t, 1, countEvents(types, domain.EventPaymentCharged))
	require.Equal(t, 0, countEvents(types, domain.EventApprovalTimeout))
}
