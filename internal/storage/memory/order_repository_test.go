package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

func seedOrder(t *testing.T, repo domain.OrderRepository, state domain.OrderState) domain.Order {
	t.Helper()

	now := time.Now().UTC()
	order := domain.Order{
		ID:        "order-1",
		State:     state,
		PaymentID: "payment-1",
		Items: []domain.OrderItem{{
			ID:         "item-1",
			Name:       "Widget",
			Qty:        1,
			PriceMinor: 100,
			CreatedAt:  now,
		}},
		Address:   domain.Address{Street: "1 Main st", City: "Springfield"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, created, err := repo.CreateIfAbsent(context.Background(), order); err != nil || !created {
		t.Fatalf("seed order: created=%v err=%v", created, err)
	}
	return order
}

func TestOrderRepositoryCreateIfAbsentIsIdempotent(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	order := seedOrder(t, repo, domain.OrderStateReceived)

	// Повторная вставка не должна ни упасть, ни затереть прогресс.
	if err := repo.UpdateState(ctx, order.ID, domain.OrderStateReceived, domain.OrderStateValidated); err != nil {
		t.Fatalf("update state: %v", err)
	}

	got, created, err := repo.CreateIfAbsent(ctx, order)
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if created {
		t.Fatal("duplicate create reported created=true")
	}
	if got.State != domain.OrderStateValidated {
		t.Fatalf("duplicate create reset progress: state=%s", got.State)
	}
}

func TestOrderRepositoryUpdateStateConflict(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	order := seedOrder(t, repo, domain.OrderStateReceived)

	if err := repo.UpdateState(ctx, order.ID, domain.OrderStateValidated, domain.OrderStateAwaitingApproval); !errors.Is(err, domain.ErrOrderStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if err := repo.UpdateState(ctx, order.ID, domain.OrderStateReceived, domain.OrderStateShipped); !errors.Is(err, domain.ErrTransitionNotAllowed) {
		t.Fatalf("expected transition not allowed, got %v", err)
	}
	if err := repo.UpdateState(ctx, "missing", domain.OrderStateReceived, domain.OrderStateValidated); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderRepositoryUpdateAddress(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	order := seedOrder(t, repo, domain.OrderStateReceived)

	newAddr := domain.Address{Street: "2 Oak st", City: "Shelbyville", Zip: "22222", Country: "US"}
	old, err := repo.UpdateAddress(ctx, order.ID, newAddr)
	if err != nil {
		t.Fatalf("update address: %v", err)
	}
	if old.Street != "1 Main st" {
		t.Fatalf("old address = %+v", old)
	}

	got, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Address != newAddr {
		t.Fatalf("address not updated: %+v", got.Address)
	}
}

func TestOrderRepositoryUpdateAddressLockedAfterShipping(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	order := seedOrder(t, repo, domain.OrderStateShipping)

	if _, err := repo.UpdateAddress(ctx, order.ID, domain.Address{Street: "late"}); !errors.Is(err, domain.ErrAddressLocked) {
		t.Fatalf("expected ErrAddressLocked, got %v", err)
	}

	got, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Address.Street != "1 Main st" {
		t.Fatalf("address must be unchanged, got %+v", got.Address)
	}
}

func TestOrderRepositoryListActive(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	seedOrder(t, repo, domain.OrderStateAwaitingApproval)

	done := domain.Order{ID: "order-2", State: domain.OrderStateCompleted, PaymentID: "payment-2"}
	if _, _, err := repo.CreateIfAbsent(ctx, done); err != nil {
		t.Fatalf("create terminal order: %v", err)
	}

	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != "order-1" {
		t.Fatalf("ListActive = %+v", active)
	}
}
