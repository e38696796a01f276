package fulfillment

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func TestStableGatewayShipping(t *testing.T) {
	g := NewStableGateway()
	ctx := context.Background()
	addr := domain.Address{Street: "Tverskaya 1", City: "Moscow", Zip: "125009", Country: "RU"}

	if err := g.PreparePackage(ctx, "ord-1"); err != nil {
		t.Fatalf("PreparePackage() = %v, want nil", err)
	}
	if err := g.DispatchCarrier(ctx, "ord-1", addr); err != nil {
		t.Fatalf("DispatchCarrier() = %v, want nil", err)
	}
	if g.PrepareCalls() != 1 || g.DispatchCalls() != 1 {
		t.Fatalf("calls = (%d, %d), want (1, 1)", g.PrepareCalls(), g.DispatchCalls())
	}
}

func TestForcedDispatchFailure(t *testing.T) {
	g := NewStableGateway()
	forced := errors.New("carrier is down")
	g.DispatchErr = forced

	err := g.DispatchCarrier(context.Background(), "ord-1", domain.Address{})
	if !errors.Is(err, forced) {
		t.Fatalf("DispatchCarrier() = %v, want forced error", err)
	}
	if g.DispatchCalls() != 0 {
		t.Fatalf("DispatchCalls() = %d, want 0", g.DispatchCalls())
	}
}

func TestGatewayFailureHasNoEffect(t *testing.T) {
	g := NewStableGateway()
	g.FailRate = 1

	if err := g.PreparePackage(context.Background(), "ord-1"); !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("PreparePackage() = %v, want %v", err, domain.ErrGatewayUnavailable)
	}
	if g.PrepareCalls() != 0 {
		t.Fatalf("PrepareCalls() = %d, want 0", g.PrepareCalls())
	}
}
