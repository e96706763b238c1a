package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/asquebay/zuvees-sync/internal/model"
	"github.com/asquebay/zuvees-sync/internal/service/statussync"
	"github.com/asquebay/zuvees-sync/internal/session"
	"github.com/asquebay/zuvees-sync/internal/transport/api"
)

type StatusChanger interface {
	ChangeStatus(ctx context.Context, orderID string, status model.Status) (statussync.Outcome, error)
	Refresh(ctx context.Context, orders []model.Order) error
}

// PendingQueue — очередь отложенных изменений, которую курьер может просмотреть и почистить
type PendingQueue interface {
	Drain(ctx context.Context) ([]model.PendingUpdate, error)
	Remove(ctx context.Context, id int64) error
}

// OrderSource отдаёт свежий список заказов курьера
type OrderSource interface {
	RiderOrders(ctx context.Context) ([]model.Order, error)
}

type OrderLister interface {
	List() []model.Order
}

// SessionManager управляет сессией агента
type SessionManager interface {
	SignIn(ctx context.Context, raw string) error
	SignOut(ctx context.Context) error
	State() session.State
	Claims() (session.Claims, bool)
}

// SyncNotifier — явный сигнал «связь восстановлена»
type SyncNotifier interface {
	Notify()
}

// RiderDeps собирает зависимости локальных эндпоинтов агента
type RiderDeps struct {
	Orchestrator StatusChanger
	Queue        PendingQueue
	Source       OrderSource
	Orders       OrderLister
	Session      SessionManager
	Sync         SyncNotifier
	// Fallback обслуживает всё, что не начинается с /agent/, обычно это шлюз кэша
	Fallback http.Handler
}

// RiderHandler обслуживает локальные эндпоинты агента курьера
type RiderHandler struct {
	deps RiderDeps
	log  *slog.Logger
	mux  *http.ServeMux
}

type statusResponse struct {
	OrderID string             `json:"orderId"`
	Status  model.Status       `json:"status"`
	Outcome statussync.Outcome `json:"outcome"`
}

type sessionResponse struct {
	State session.State `json:"state"`
	User  string        `json:"user,omitempty"`
	Email string        `json:"email,omitempty"`
	Role  model.Role    `json:"role,omitempty"`
}

// NewRiderHandler создаёт обработчик и регистрирует маршруты
func NewRiderHandler(deps RiderDeps, log *slog.Logger) *RiderHandler {
	h := &RiderHandler{
		deps: deps,
		log:  log,
		mux:  http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP делает RiderHandler совместимым с http.Handler
func (h *RiderHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *RiderHandler) registerRoutes() {
	h.mux.HandleFunc("GET /agent/healthz", h.healthz)
	h.mux.HandleFunc("GET /agent/orders", h.listOrders)
	h.mux.HandleFunc("POST /agent/orders/{order_id}/status", h.changeStatus)
	h.mux.HandleFunc("GET /agent/pending", h.listPending)
	h.mux.HandleFunc("DELETE /agent/pending/{id}", h.discardPending)
	h.mux.HandleFunc("POST /agent/sync", h.sync)
	h.mux.HandleFunc("GET /agent/session", h.getSession)
	h.mux.HandleFunc("POST /agent/session", h.signIn)
	h.mux.HandleFunc("DELETE /agent/session", h.signOut)

	if h.deps.Fallback != nil {
		h.mux.Handle("/", h.deps.Fallback)
	}
}

func (h *RiderHandler) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.log, http.StatusOK, map[string]string{"status": "ok"})
}

// listOrders обновляет список с сервера, если получается; иначе отдаёт то, что есть локально
func (h *RiderHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("handler", "listOrders"))

	if h.deps.Source != nil {
		orders, err := h.deps.Source.RiderOrders(r.Context())
		if err != nil {
			log.Warn("failed to refresh orders, serving local state", slog.String("error", err.Error()))
		} else if err := h.deps.Orchestrator.Refresh(r.Context(), orders); err != nil {
			log.Warn("orders refreshed without pending overlay", slog.String("error", err.Error()))
		}
	}

	respondJSON(w, h.log, http.StatusOK, h.deps.Orders.List())
}

func (h *RiderHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("order_id")

	var body model.StatusChange
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, h.log, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := h.deps.Orchestrator.ChangeStatus(r.Context(), orderID, body.Status)
	resp := statusResponse{OrderID: orderID, Status: body.Status, Outcome: outcome}

	switch {
	case err == nil && outcome == statussync.OutcomeConfirmed:
		respondJSON(w, h.log, http.StatusOK, resp)
	case err == nil:
		// сохранено локально, сервер узнает при следующей синхронизации
		respondJSON(w, h.log, http.StatusAccepted, resp)
	case errors.Is(err, api.ErrInvalidUpdate):
		respondError(w, h.log, http.StatusBadRequest, "invalid status update")
	default:
		status, message := http.StatusBadGateway, "status update failed"
		if rej, ok := statussync.IsRejected(err); ok {
			if rej.HTTPStatus >= 400 && rej.HTTPStatus < 500 {
				status = rej.HTTPStatus
			}
			if rej.Message != "" {
				message = rej.Message
			}
		}
		respondError(w, h.log, status, message)
	}
}

func (h *RiderHandler) listPending(w http.ResponseWriter, r *http.Request) {
	updates, err := h.deps.Queue.Drain(r.Context())
	if err != nil {
		h.log.Error("failed to read pending updates", slog.String("error", err.Error()))
		respondError(w, h.log, http.StatusServiceUnavailable, "local storage unavailable")
		return
	}
	respondJSON(w, h.log, http.StatusOK, updates)
}

func (h *RiderHandler) discardPending(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, h.log, http.StatusBadRequest, "id must be a positive integer")
		return
	}

	if err := h.deps.Queue.Remove(r.Context(), id); err != nil {
		h.log.Error("failed to discard pending update", slog.Int64("pending_id", id), slog.String("error", err.Error()))
		respondError(w, h.log, http.StatusServiceUnavailable, "local storage unavailable")
		return
	}

	h.log.Info("pending update discarded", slog.Int64("pending_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *RiderHandler) sync(w http.ResponseWriter, r *http.Request) {
	h.deps.Sync.Notify()
	respondJSON(w, h.log, http.StatusAccepted, map[string]string{"status": "sync requested"})
}

func (h *RiderHandler) getSession(w http.ResponseWriter, r *http.Request) {
	resp := sessionResponse{State: h.deps.Session.State()}
	if c, ok := h.deps.Session.Claims(); ok {
		resp.User, resp.Email, resp.Role = c.Subject, c.Email, c.Role
	}
	respondJSON(w, h.log, http.StatusOK, resp)
}

func (h *RiderHandler) signIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		respondError(w, h.log, http.StatusBadRequest, "token is required")
		return
	}

	if err := h.deps.Session.SignIn(r.Context(), body.Token); err != nil {
		respondError(w, h.log, http.StatusBadRequest, "invalid token")
		return
	}

	h.getSession(w, r)
}

func (h *RiderHandler) signOut(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Session.SignOut(r.Context()); err != nil {
		h.log.Error("failed to sign out", slog.String("error", err.Error()))
		respondError(w, h.log, http.StatusInternalServerError, "failed to sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
