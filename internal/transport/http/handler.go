package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/asquebay/zuvees-sync/internal/model"
	"github.com/asquebay/zuvees-sync/internal/repository/postgres"
	"github.com/asquebay/zuvees-sync/internal/service"
)

// OrderService определяет интерфейс для сервиса заказов
// Это позволяет хэндлеру не зависеть от конкретной реализации сервиса
type OrderService interface {
	ListAll(ctx context.Context, p model.Principal) ([]model.Order, error)
	ListForCustomer(ctx context.Context, p model.Principal) ([]model.Order, error)
	ListForRider(ctx context.Context, p model.Principal) ([]model.Order, error)
	ListRiders(ctx context.Context, p model.Principal) ([]model.User, error)
	GetOrder(ctx context.Context, p model.Principal, id string) (model.Order, error)
	RiderUpdateStatus(ctx context.Context, p model.Principal, id string, status model.Status) (model.Order, error)
	AdminUpdateStatus(ctx context.Context, p model.Principal, id string, change model.StatusChange) (model.Order, error)
}

// Handler обрабатывает HTTP-запросы API заказов
type Handler struct {
	service OrderService
	auth    *Authenticator
	log     *slog.Logger
	mux     *http.ServeMux
}

// NewHandler создает новый экземпляр Handler
// staticDir — каталог со статикой, пустая строка отключает раздачу
func NewHandler(service OrderService, auth *Authenticator, staticDir string, log *slog.Logger) *Handler {
	h := &Handler{
		service: service,
		auth:    auth,
		log:     log,
		mux:     http.NewServeMux(),
	}
	h.registerRoutes(staticDir)
	return h
}

// ServeHTTP делает Handler совместимым с http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes регистрирует все эндпоинты
func (h *Handler) registerRoutes(staticDir string) {
	h.mux.HandleFunc("GET /healthz", h.healthz)

	h.mux.Handle("GET /orders", h.authenticated(h.listAll))
	h.mux.Handle("GET /orders/my-orders", h.authenticated(h.listMine))
	h.mux.Handle("GET /orders/rider-orders", h.authenticated(h.listRider))
	h.mux.Handle("GET /orders/{order_id}", h.authenticated(h.getOrder))
	h.mux.Handle("PATCH /orders/{order_id}", h.authenticated(h.riderUpdateStatus))
	h.mux.Handle("PATCH /orders/{order_id}/status", h.authenticated(h.adminUpdateStatus))
	h.mux.Handle("GET /riders", h.authenticated(h.listRiders))

	// роутинг для статики (HTML/JS/CSS)
	if staticDir != "" {
		fileServer := http.FileServer(http.Dir(staticDir))
		h.mux.Handle("/", http.StripPrefix("/", fileServer))
	}
}

// authenticated пропускает запрос дальше только с валидным bearer-токеном
func (h *Handler) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.auth.Authenticate(r)
		if err != nil {
			h.log.Debug("request rejected", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
			respondError(w, h.log, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.log, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listAll(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	orders, err := h.service.ListAll(r.Context(), p)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	respondJSON(w, h.log, http.StatusOK, orders)
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	orders, err := h.service.ListForCustomer(r.Context(), p)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	respondJSON(w, h.log, http.StatusOK, orders)
}

func (h *Handler) listRider(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	orders, err := h.service.ListForRider(r.Context(), p)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	respondJSON(w, h.log, http.StatusOK, orders)
}

func (h *Handler) listRiders(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	riders, err := h.service.ListRiders(r.Context(), p)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	respondJSON(w, h.log, http.StatusOK, riders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	// извлекаем order_id из URL
	id := r.PathValue("order_id")
	if id == "" {
		respondError(w, h.log, http.StatusBadRequest, "order_id is required")
		return
	}

	p, _ := PrincipalFrom(r.Context())
	order, err := h.service.GetOrder(r.Context(), p, id)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, h.log, http.StatusOK, order)
}

func (h *Handler) riderUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var change model.StatusChange
	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		respondError(w, h.log, http.StatusBadRequest, "invalid request body")
		return
	}

	p, _ := PrincipalFrom(r.Context())
	order, err := h.service.RiderUpdateStatus(r.Context(), p, r.PathValue("order_id"), change.Status)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, h.log, http.StatusOK, order)
}

func (h *Handler) adminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var change model.StatusChange
	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		respondError(w, h.log, http.StatusBadRequest, "invalid request body")
		return
	}

	p, _ := PrincipalFrom(r.Context())
	order, err := h.service.AdminUpdateStatus(r.Context(), p, r.PathValue("order_id"), change)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	respondJSON(w, h.log, http.StatusOK, order)
}

// serviceError переводит ошибки сервиса в коды ответа
func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, postgres.ErrOrderNotFound):
		respondError(w, h.log, http.StatusNotFound, "order not found")
	case errors.Is(err, service.ErrForbidden):
		respondError(w, h.log, http.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrInvalidStatus):
		respondError(w, h.log, http.StatusBadRequest, "invalid status")
	case errors.Is(err, service.ErrRiderRequired):
		respondError(w, h.log, http.StatusBadRequest, service.ErrRiderRequired.Error())
	case errors.Is(err, postgres.ErrRiderNotFound):
		respondError(w, h.log, http.StatusBadRequest, "rider not found")
	default:
		h.log.Error("internal server error", slog.String("error", err.Error()))
		respondError(w, h.log, http.StatusInternalServerError, "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, log *slog.Logger, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error("failed to marshal JSON response", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(response)
}

func respondError(w http.ResponseWriter, log *slog.Logger, status int, message string) {
	respondJSON(w, log, status, map[string]string{"error": message})
}
