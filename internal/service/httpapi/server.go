package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/workflow"
)

// Server — HTTP-фасад координатора: старт заказа, сигналы и статус.
type Server struct {
	coordinator *workflow.Coordinator
	logger      *log.Entry
	mux         *http.ServeMux
}

// NewServer собирает маршруты поверх координатора.
func NewServer(coordinator *workflow.Coordinator, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.New().WithField("component", "http-api")
	}
	s := &Server{
		coordinator: coordinator,
		logger:      logger,
		mux:         http.NewServeMux(),
	}
	s.mux.HandleFunc("/orders/", s.routeOrder)
	return s
}

// ServeHTTP реализует http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routeOrder разбирает пути вида /orders/{id}/start, /orders/{id}/status,
// /orders/{id}/events и /orders/{id}/signals/{approve|cancel|update-address}.
func (s *Server) routeOrder(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/orders/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	orderID := parts[0]

	if len(parts) == 2 {
		switch parts[1] {
		case "start":
			if r.Method != http.MethodPost {
				s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			s.handleStart(w, r, orderID)
		case "status":
			if r.Method != http.MethodGet {
				s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			s.handleStatus(w, r, orderID)
		case "events":
			if r.Method != http.MethodGet {
				s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			s.handleEvents(w, r, orderID)
		default:
			s.writeError(w, http.StatusNotFound, "unknown action")
		}
		return
	}

	if len(parts) != 3 || parts[1] != "signals" {
		s.writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch parts[2] {
	case "approve":
		s.handleApprove(w, r, orderID)
	case "cancel":
		s.handleCancel(w, r, orderID)
	case "update-address":
		s.handleUpdateAddress(w, r, orderID)
	default:
		s.writeError(w, http.StatusNotFound, "unknown signal")
	}
}

type startRequest struct {
	PaymentID string         `json:"payment_id"`
	Items     []startItem    `json:"items"`
	Address   addressPayload `json:"address"`
}

type startItem struct {
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

type addressPayload struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

type orderResponse struct {
	OrderID     string         `json:"order_id"`
	State       string         `json:"state"`
	PaymentID   string         `json:"payment_id"`
	AmountMinor int64          `json:"amount_minor"`
	Items       []startItem    `json:"items"`
	Address     addressPayload `json:"address"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// handleStart запускает workflow заказа. Повторный POST с тем же id
// идемпотентен: возвращается текущее состояние, прогресс не сбрасывается.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, orderID string) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	paymentID := req.PaymentID
	if paymentID == "" {
		paymentID = uuid.NewString()
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:        orderID,
		PaymentID: paymentID,
		Address: domain.Address{
			Street:  req.Address.Street,
			City:    req.Address.City,
			Zip:     req.Address.Zip,
			Country: req.Address.Country,
		},
	}
	for _, item := range req.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:         uuid.NewString(),
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
			CreatedAt:  now,
		})
	}

	stored, created, err := s.coordinator.Start(r.Context(), order)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	// Повторный старт возвращает 200 с текущим состоянием, новый — 202.
	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	s.logger.WithFields(log.Fields{"order_id": orderID, "state": stored.State, "created": created}).Info("order start accepted")
	s.writeJSON(w, status, toOrderResponse(stored))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, orderID string) {
	order, err := s.coordinator.Status(r.Context(), orderID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, orderID string) {
	events, err := s.coordinator.Events(r.Context(), orderID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	type eventView struct {
		ID       string          `json:"id"`
		Type     string          `json:"type"`
		Payload  json.RawMessage `json:"payload"`
		Occurred time.Time       `json:"occurred_at"`
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{
			ID:       e.ID,
			Type:     string(e.Type),
			Payload:  json.RawMessage(e.Payload),
			Occurred: e.Occurred,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "events": views})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, orderID string) {
	s.handleSignal(w, orderID, "approve", func(ctx context.Context) error {
		return s.coordinator.Approve(ctx, orderID)
	}, r)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, orderID string) {
	s.handleSignal(w, orderID, "cancel", func(ctx context.Context) error {
		return s.coordinator.Cancel(ctx, orderID)
	}, r)
}

func (s *Server) handleUpdateAddress(w http.ResponseWriter, r *http.Request, orderID string) {
	var addr addressPayload
	if err := json.NewDecoder(r.Body).Decode(&addr); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.handleSignal(w, orderID, "update_address", func(ctx context.Context) error {
		return s.coordinator.UpdateAddress(ctx, orderID, domain.Address{
			Street:  addr.Street,
			City:    addr.City,
			Zip:     addr.Zip,
			Country: addr.Country,
		})
	}, r)
}

func (s *Server) handleSignal(w http.ResponseWriter, orderID, name string, fn func(ctx context.Context) error, r *http.Request) {
	if err := fn(r.Context()); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"order_id": orderID, "signal": name}).Warn("signal rejected")
		s.writeDomainError(w, err)
		return
	}
	s.logger.WithFields(log.Fields{"order_id": orderID, "signal": name}).Info("signal accepted")
	s.writeJSON(w, http.StatusAccepted, map[string]string{"order_id": orderID, "signal": name, "result": "accepted"})
}

// writeDomainError переводит доменную ошибку в HTTP-статус.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case domain.IsSignalRejected(err), domain.IsStateConflict(err):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrOrderIDRequired),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemNameRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrItemPriceInvalid):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.WithError(err).Error("internal error")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func toOrderResponse(order domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:     order.ID,
		State:       string(order.State),
		PaymentID:   order.PaymentID,
		AmountMinor: order.AmountMinor(),
		Address: addressPayload{
			Street:  order.Address.Street,
			City:    order.Address.City,
			Zip:     order.Address.Zip,
			Country: order.Address.Country,
		},
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, startItem{
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}
	return resp
}
