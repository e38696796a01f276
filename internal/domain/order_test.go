package domain_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:        "order-1",
		State:     domain.OrderStateReceived,
		PaymentID: "payment-1",
		Items: []domain.OrderItem{{
			ID:         "item-1",
			Name:       "Widget",
			Qty:        2,
			PriceMinor: 2999,
			CreatedAt:  now,
		}},
		Address:   domain.Address{Street: "1 Main st", City: "Springfield", Zip: "11111", Country: "US"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidateInvariants(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *domain.Order)
		wantErr error
	}{
		{name: "valid order", mutate: func(o *domain.Order) {}, wantErr: nil},
		{
			name:    "missing payment id",
			mutate:  func(o *domain.Order) { o.PaymentID = "" },
			wantErr: domain.ErrPaymentIDRequired,
		},
		{
			name:    "empty items",
			mutate:  func(o *domain.Order) { o.Items = nil },
			wantErr: domain.ErrItemsRequired,
		},
		{
			name:    "zero qty",
			mutate:  func(o *domain.Order) { o.Items[0].Qty = 0 },
			wantErr: domain.ErrItemQtyInvalid,
		},
		{
			name:    "non-positive price",
			mutate:  func(o *domain.Order) { o.Items[0].PriceMinor = 0 },
			wantErr: domain.ErrItemPriceInvalid,
		},
		{
			name:    "unnamed item",
			mutate:  func(o *domain.Order) { o.Items[0].Name = "" },
			wantErr: domain.ErrItemNameRequired,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mutate(&order)
			errs := order.ValidateInvariants()

			if tc.wantErr == nil {
				if len(errs) != 0 {
					t.Fatalf("expected no errors, got %v", errs)
				}
				return
			}

			found := false
			for _, err := range errs {
				if err == tc.wantErr {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %v among %v", tc.wantErr, errs)
			}
		})
	}
}

func TestOrderAmountMinor(t *testing.T) {
	order := makeOrder()
	if got := order.AmountMinor(); got != 5998 {
		t.Fatalf("AmountMinor() = %d, want 5998", got)
	}
}

func TestCanTransitionHappyPath(t *testing.T) {
	path := []domain.OrderState{
		domain.OrderStateReceived,
		domain.OrderStateValidated,
		domain.OrderStateAwaitingApproval,
		domain.OrderStatePaid,
		domain.OrderStateShipping,
		domain.OrderStateShipped,
		domain.OrderStateCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		if !domain.CanTransition(path[i], path[i+1]) {
			t.Errorf("transition %s -> %s must be allowed", path[i], path[i+1])
		}
	}
}

func TestCanTransitionGuards(t *testing.T) {
	tests := []struct {
		name string
		from domain.OrderState
		to   domain.OrderState
		want bool
	}{
		{name: "skip validation", from: domain.OrderStateReceived, to: domain.OrderStateAwaitingApproval, want: false},
		{name: "cancel while waiting", from: domain.OrderStateAwaitingApproval, to: domain.OrderStateCancelled, want: true},
		{name: "cancel while shipping", from: domain.OrderStateShipping, to: domain.OrderStateCancelled, want: true},
		{name: "fail while paid", from: domain.OrderStatePaid, to: domain.OrderStateFailed, want: true},
		{name: "timeout only from waiting", from: domain.OrderStatePaid, to: domain.OrderStateApprovalTimeout, want: false},
		{name: "timeout from waiting", from: domain.OrderStateAwaitingApproval, to: domain.OrderStateApprovalTimeout, want: true},
		{name: "no exit from cancelled", from: domain.OrderStateCancelled, to: domain.OrderStatePaid, want: false},
		{name: "no exit from completed", from: domain.OrderStateCompleted, to: domain.OrderStateFailed, want: false},
		{name: "self transition", from: domain.OrderStatePaid, to: domain.OrderStatePaid, want: false},
		{name: "backwards", from: domain.OrderStateShipped, to: domain.OrderStatePaid, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := domain.CanTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestOrderStateFlags(t *testing.T) {
	if !domain.OrderStateCompleted.Terminal() || domain.OrderStateShipping.Terminal() {
		t.Fatal("Terminal() misclassifies states")
	}
	if !domain.OrderStatePaid.AddressMutable() {
		t.Fatal("address must be mutable while PAID")
	}
	if domain.OrderStateShipping.AddressMutable() {
		t.Fatal("address must be locked once SHIPPING")
	}
	if domain.OrderState("broken").Valid() {
		t.Fatal("unknown state reported as valid")
	}
}
