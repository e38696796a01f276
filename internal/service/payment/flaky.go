package payment

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// укладывается в «зависание» дольше любого разумного таймаута попытки.
const hangDuration = 300 * time.Second

// FlakyGateway — конфигурируемая заглушка платёжного провайдера.
// Воспроизводит поведение ненадёжного провайдера: часть вызовов падает,
// часть зависает до истечения таймаута попытки, остальные проходят.
type FlakyGateway struct {
	// FailRate — доля попыток, завершающихся ошибкой [0..1).
	FailRate float64
	// HangRate — доля попыток, «зависающих» до отмены ctx [0..1).
	HangRate float64

	mu          sync.Mutex
	rng         *rand.Rand
	chargeCalls int
}

// NewFlakyGateway возвращает провайдера с классическим профилем сбоев:
// ~треть ошибок, ~треть зависаний.
func NewFlakyGateway() *FlakyGateway {
	return &FlakyGateway{
		FailRate: 0.33,
		HangRate: 0.34,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewStableGateway возвращает всегда успешного провайдера (для тестов).
func NewStableGateway() *FlakyGateway {
	return &FlakyGateway{rng: rand.New(rand.NewSource(1))}
}

// Charge инициирует списание. Подсчитывает только результативные вызовы:
// упавшая или отменённая попытка эффекта не имеет.
func (g *FlakyGateway) Charge(ctx context.Context, orderID, paymentID string, amountMinor int64) error {
	if err := g.flake(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	g.chargeCalls++
	g.mu.Unlock()
	return nil
}

// ChargeCalls возвращает число успешных списаний у провайдера.
func (g *FlakyGateway) ChargeCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chargeCalls
}

// flake воспроизводит поведение ненадёжной зависимости.
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

var _ domain.PaymentGateway = (*FlakyGateway)(nil)
