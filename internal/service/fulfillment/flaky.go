package fulfillment

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

const hangDuration = 300 * time.Second

// FlakyGateway — конфигурируемая заглушка склада и перевозчика.
// Профиль сбоев тот же, что у платёжного провайдера: ошибка, зависание
// до таймаута попытки или успех.
type FlakyGateway struct {
	// FailRate — доля попыток, завершающихся ошибкой [0..1).
	FailRate float64
	// HangRate — доля попыток, «зависающих» до отмены ctx [0..1).
	HangRate float64
	// DispatchErr позволяет форсировать постоянный отказ перевозчика (для тестов).
	DispatchErr error

	mu            sync.Mutex
	rng           *rand.Rand
	prepareCalls  int
	dispatchCalls int
}

// NewFlakyGateway возвращает gateway с профилем «треть ошибок, треть зависаний».
func NewFlakyGateway() *FlakyGateway {
	return &FlakyGateway{
		FailRate: 0.33,
		HangRate: 0.34,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewStableGateway возвращает всегда успешный gateway (для тестов).
func NewStableGateway() *FlakyGateway {
	return &FlakyGateway{rng: rand.New(rand.NewSource(1))}
}

// PreparePackage собирает посылку под заказ.
func (g *FlakyGateway) PreparePackage(ctx context.Context, orderID string) error {
	if err := g.flake(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	g.prepareCalls++
	g.mu.Unlock()
	return nil
}

// DispatchCarrier передаёт посылку перевозчику.
func (g *FlakyGateway) DispatchCarrier(ctx context.Context, orderID string, addr domain.Address) error {
	g.mu.Lock()
	forced := g.DispatchErr
	g.mu.Unlock()
	if forced != nil {
		return forced
	}

	if err := g.flake(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	g.dispatchCalls++
	g.mu.Unlock()
	return nil
}

// PrepareCalls возвращает число успешных сборок посылок.
func (g *FlakyGateway) PrepareCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prepareCalls
}

// DispatchCalls возвращает число успешных передач перевозчику.
func (g *FlakyGateway) DispatchCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dispatchCalls
}

func (g *FlakyGateway) flake(ctx context.Context) error {
	g.mu.Lock()
	roll := g.rng.Float64()
	g.mu.Unlock()

	switch {
	case roll < g.FailRate:
		return domain.ErrGatewayUnavailable
	case roll < g.FailRate+g.HangRate:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(hangDuration):
			return domain.ErrGatewayUnavailable
		}
	default:
		return nil
	}
}

var _ domain.FulfillmentGateway = (*FlakyGateway)(nil)
