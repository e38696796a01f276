package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/orderflow/internal/service/payment"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderflow/internal/workflow"
)

func newTestServer(t *testing.T) (*Server, domain.OrderRepository) {
	t.Helper()

	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := logger.WithField("component", "test")

	orders := memory.NewOrderRepository()
	coordinator := workflow.NewCoordinator(workflow.Deps{
		Orders:      orders,
		Payments:    memory.NewPaymentRepository(),
		Events:      memory.NewEventRepository(),
		PaymentGW:   payment.NewStableGateway(),
		Fulfillment: fulfillment.NewStableGateway(),
		Executor: workflow.NewExecutor(workflow.RetryPolicy{
			MaxAttempts:    3,
			InitialDelay:   time.Millisecond,
			MaxDelay:       2 * time.Millisecond,
			BackoffFactor:  2.0,
			AttemptTimeout: time.Second,
		}, nil, entry),
		Logger: entry,
	}, workflow.CoordinatorConfig{
		OrderPoolSize:    4,
		ShippingPoolSize: 4,
		ApprovalTimeout:  5 * time.Second,
	})
	t.Cleanup(coordinator.Shutdown)

	return NewServer(coordinator, entry), orders
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("{}")
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func waitState(t *testing.T, orders domain.OrderRepository, orderID string, want domain.OrderState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		order, err := orders.Get(context.Background(), orderID)
		if err == nil && order.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("order %s never reached %s", orderID, want)
}

const startBody = `{
	"payment_id": "pay-1",
	"items": [{"name": "notebook", "qty": 2, "price_minor": 2999}],
	"address": {"street": "Tverskaya 1", "city": "Moscow", "zip": "125009", "country": "RU"}
}`

func TestStartAndStatus(t *testing.T) {
	srv, orders := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/orders/ord-1/start", startBody)
	require.Equal(t, http.StatusAccepted, rec.Code)

	waitState(t, orders, "ord-1", domain.OrderStateAwaitingApproval)

	// Повторный старт идемпотентен: 200 и текущее состояние вместо 202.
	rec = doJSON(t, srv, http.MethodPost, "/orders/ord-1/start", startBody)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/orders/ord-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		OrderID     string `json:"order_id"`
		State       string `json:"state"`
		AmountMinor int64  `json:"amount_minor"`
		Items       []struct {
			Name string `json:"name"`
			Qty  int32  `json:"qty"`
		} `json:"items"`
		Address struct {
			City string `json:"city"`
		} `json:"address"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "ord-1", status.OrderID)
	require.Equal(t, string(domain.OrderStateAwaitingApproval), status.State)
	require.Equal(t, int64(5998), status.AmountMinor)
	require.Len(t, status.Items, 1)
	require.Equal(t, "notebook", status.Items[0].Name)
	require.Equal(t, "Moscow", status.Address.City)
}

func TestApproveDrivesOrderToCompletion(t *testing.T) {
	srv, orders := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/orders/ord-2/start", startBody)
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitState(t, orders, "ord-2", domain.OrderStateAwaitingApproval)

	rec = doJSON(t, srv, http.MethodPost, "/orders/ord-2/signals/approve", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitState(t, orders, "ord-2", domain.OrderStateCompleted)

	rec = doJSON(t, srv, http.MethodGet, "/orders/ord-2/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), string(domain.EventOrderShipped))
}

func TestSignalConflicts(t *testing.T) {
	srv, orders := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/orders/ord-3/start", startBody)
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitState(t, orders, "ord-3", domain.OrderStateAwaitingApproval)

	rec = doJSON(t, srv, http.MethodPost, "/orders/ord-3/signals/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitState(t, orders, "ord-3", domain.OrderStateCancelled)

	rec = doJSON(t, srv, http.MethodPost, "/orders/ord-3/signals/approve", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/orders/ord-3/signals/update-address",
		`{"street": "Nevsky 10", "city": "Saint Petersburg", "zip": "191025", "country": "RU"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnknownOrderAndBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/orders/missing/status", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/orders/missing/signals/approve", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord-4/start", strings.NewReader("{not json"))
	res := httptest.NewRecorder()
	srv.ServeHTTP(res, req)
	require.Equal(t, http.StatusBadRequest, res.Code)

	rec = doJSON(t, srv, http.MethodPost, "/orders/ord-5/unknown-action", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/orders/ord-5/signals/reject", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/orders/ord-5/status", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
