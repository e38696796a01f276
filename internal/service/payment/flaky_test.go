package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func TestStableGatewayAlwaysCharges(t *testing.T) {
	g := NewStableGateway()

	for i := 0; i < 5; i++ {
		if err := g.Charge(context.Background(), "ord-1", "pay-1", 100); err != nil {
			t.Fatalf("Charge() = %v, want nil", err)
		}
	}
	if got := g.ChargeCalls(); got != 5 {
		t.Fatalf("ChargeCalls() = %d, want 5", got)
	}
}

func TestGatewayFailure(t *testing.T) {
	g := NewStableGateway()
	g.FailRate = 1

	err := g.Charge(context.Background(), "ord-1", "pay-1", 100)
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("Charge() = %v, want %v", err, domain.ErrGatewayUnavailable)
	}
	if got := g.ChargeCalls(); got != 0 {
		t.Fatalf("ChargeCalls() = %d, want 0: failed attempt has no effect", got)
	}
}

func TestGatewayHangRespectsContext(t *testing.T) {
	g := NewStableGateway()
	g.HangRate = 1

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := g.Charge(ctx, "ord-1", "pay-1", 100)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Charge() = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("hang lasted %v, must end with the context", elapsed)
	}
	if got := g.ChargeCalls(); got != 0 {
		t.Fatalf("ChargeCalls() = %d, want 0", got)
	}
}
