package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/asquebay/zuvees-sync/internal/model"
	"github.com/asquebay/zuvees-sync/internal/repository/postgres"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrRiderRequired = errors.New("a rider must be assigned before the order is shipped")
	ErrInvalidStatus = errors.New("invalid status")
)

// OrderService инкапсулирует бизнес-логику работы с заказами
type OrderService struct {
	repo      OrderRepository
	cache     OrderCache
	publisher StatusPublisher
	log       *slog.Logger
	now       func() time.Time
}

// NewOrderService создаёт новый экземпляр сервиса заказов
// publisher может быть nil, тогда события о смене статуса не публикуются
func NewOrderService(repo OrderRepository, cache OrderCache, publisher StatusPublisher, log *slog.Logger) *OrderService {
	return &OrderService{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// CreateOrder обрабатывает создание нового заказа
// сначала он сохраняет заказ в постоянное хранилище (БД),
// и только в случае успеха добавляет его в кэш
func (s *OrderService) CreateOrder(ctx context.Context, order model.Order) error {
	const op = "service.OrderService.CreateOrder"
	log := s.log.With(slog.String("op", op), slog.String("order_id", order.ID))

	log.Info("attempting to create order")

	// 1. Сохраняем в БД. Это основной источник правды
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		log.Error("failed to save order to repository", slog.String("error", err.Error()))
		return fmt.Errorf("%s: %w", op, err)
	}

	// 2. Перечитываем, чтобы в кэш попали значения, проставленные БД
	saved, err := s.repo.GetOrder(ctx, order.ID)
	if err != nil {
		log.Warn("order saved but could not be re-read, caching as received", slog.String("error", err.Error()))
		saved = order
	}
	s.cache.Set(saved)
	log.Info("order created and cached successfully")

	return nil
}

// ListAll возвращает все заказы, только для администратора
func (s *OrderService) ListAll(ctx context.Context, p model.Principal) ([]model.Order, error) {
	const op = "service.OrderService.ListAll"

	if p.Role != model.RoleAdmin {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}
	return s.list(ctx, op, model.OrderFilter{})
}

// ListForCustomer возвращает заказы, оформленные вызывающим
func (s *OrderService) ListForCustomer(ctx context.Context, p model.Principal) ([]model.Order, error) {
	const op = "service.OrderService.ListForCustomer"
	return s.list(ctx, op, model.OrderFilter{UserID: p.UserID})
}

// ListForRider возвращает заказы, назначенные вызывающему курьеру
func (s *OrderService) ListForRider(ctx context.Context, p model.Principal) ([]model.Order, error) {
	const op = "service.OrderService.ListForRider"

	if p.Role != model.RoleRider {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}
	return s.list(ctx, op, model.OrderFilter{RiderID: p.UserID})
}

// ListRiders возвращает курьеров, которых администратор может назначить на заказ
func (s *OrderService) ListRiders(ctx context.Context, p model.Principal) ([]model.User, error) {
	const op = "service.OrderService.ListRiders"

	if p.Role != model.RoleAdmin {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	riders, err := s.repo.ListRiders(ctx)
	if err != nil {
		s.log.Error("failed to list riders", slog.String("op", op), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return riders, nil
}

// GetOrder возвращает заказ владельцу, назначенному курьеру или администратору
func (s *OrderService) GetOrder(ctx context.Context, p model.Principal, id string) (model.Order, error) {
	const op = "service.OrderService.GetOrder"

	order, err := s.getOrder(ctx, id)
	if err != nil {
		return model.Order{}, fmt.Errorf("%s: %w", op, err)
	}
	if !canView(p, order) {
		return model.Order{}, fmt.Errorf("%s: %w", op, ErrForbidden)
	}
	return order, nil
}

// RiderUpdateStatus меняет статус по запросу назначенного курьера или администратора
func (s *OrderService) RiderUpdateStatus(ctx context.Context, p model.Principal, id string, status model.Status) (model.Order, error) {
	const op = "service.OrderService.RiderUpdateStatus"
	log := s.log.With(slog.String("op", op), slog.String("order_id", id), slog.String("user_id", p.UserID))

	if !status.Valid() {
		return model.Order{}, fmt.Errorf("%s: %q: %w", op, status, ErrInvalidStatus)
	}

	current, err := s.getOrder(ctx, id)
	if err != nil {
		return model.Order{}, fmt.Errorf("%s: %w", op, err)
	}

	if p.Role != model.RoleAdmin && !assignedTo(current, p) {
		log.Warn("status change by a user who is not the assigned rider")
		return model.Order{}, fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	return s.applyStatus(ctx, log, p, current, status, "")
}

// AdminUpdateStatus меняет статус от имени администратора и при необходимости назначает курьера
// перевести заказ в shipped можно только с курьером
func (s *OrderService) AdminUpdateStatus(ctx context.Context, p model.Principal, id string, change model.StatusChange) (model.Order, error) {
	const op = "service.OrderService.AdminUpdateStatus"
	log := s.log.With(slog.String("op", op), slog.String("order_id", id), slog.String("user_id", p.UserID))

	if p.Role != model.RoleAdmin {
		return model.Order{}, fmt.Errorf("%s: %w", op, ErrForbidden)
	}
	if err := change.Validate(); err != nil {
		return model.Order{}, fmt.Errorf("%s: %w: %v", op, ErrInvalidStatus, err)
	}

	current, err := s.getOrder(ctx, id)
	if err != nil {
		return model.Order{}, fmt.Errorf("%s: %w", op, err)
	}

	if change.Status == model.StatusShipped && change.RiderID == "" && current.Rider == nil {
		return model.Order{}, fmt.Errorf("%s: %w", op, ErrRiderRequired)
	}

	return s.applyStatus(ctx, log, p, current, change.Status, change.RiderID)
}

// RestoreCache восстанавливает состояние кэша из базы данных при старте
func (s *OrderService) RestoreCache(ctx context.Context) error {
	const op = "service.OrderService.RestoreCache"
	log := s.log.With(slog.String("op", op))

	log.Info("starting cache restoration from database")

	orders, err := s.repo.ListOrders(ctx, model.OrderFilter{})
	if err != nil {
		log.Error("failed to get all orders from repository", slog.String("error", err.Error()))
		return fmt.Errorf("%s: %w", op, err)
	}

	s.cache.LoadAll(orders)

	log.Info("cache restored successfully", slog.Int("orders_count", len(orders)))
	return nil
}

func (s *OrderService) applyStatus(ctx context.Context, log *slog.Logger, p model.Principal, current model.Order, status model.Status, riderID string) (model.Order, error) {
	const op = "service.OrderService.applyStatus"

	updated, err := s.repo.UpdateStatus(ctx, current.ID, status, riderID)
	if err != nil {
		if !errors.Is(err, postgres.ErrOrderNotFound) && !errors.Is(err, postgres.ErrRiderNotFound) {
			log.Error("failed to update order status", slog.String("error", err.Error()))
		}
		return model.Order{}, fmt.Errorf("%s: %w", op, err)
	}

	s.cache.Set(updated)
	log.Info("order status updated",
		slog.String("previous_status", string(current.Status)),
		slog.String("status", string(updated.Status)),
	)

	s.publish(ctx, log, p, current, updated)
	return updated, nil
}

// ошибка публикации не отменяет смену статуса
func (s *OrderService) publish(ctx context.Context, log *slog.Logger, p model.Principal, before, after model.Order) {
	if s.publisher == nil {
		return
	}

	event := model.StatusEvent{
		EventID:        uuid.NewString(),
		OrderID:        after.ID,
		PreviousStatus: before.Status,
		Status:         after.Status,
		ActorID:        p.UserID,
		OccurredAt:     s.now().UTC(),
	}
	if after.Rider != nil {
		event.RiderID = after.Rider.ID
	}

	if err := s.publisher.PublishStatus(ctx, event); err != nil {
		log.Error("failed to publish status event", slog.String("event_id", event.EventID), slog.String("error", err.Error()))
	}
}

// getOrder сначала ищет в кэше, и только если там нет — обращается к БД
func (s *OrderService) getOrder(ctx context.Context, id string) (model.Order, error) {
	log := s.log.With(slog.String("order_id", id))

	// 1. Пытаемся получить из кэша для максимальной скорости
	if order, found := s.cache.Get(id); found {
		log.Debug("order found in cache")
		return order, nil
	}

	// 2. Если в кэше нет, идем в БД
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		// не логируем как ошибку, если просто не найдено
		if !errors.Is(err, postgres.ErrOrderNotFound) {
			log.Error("failed to get order from repository", slog.String("error", err.Error()))
		}
		return model.Order{}, err
	}

	// 3. Раз уж мы достали заказ из БД, стоит положить его в кэш
	s.cache.Set(order)
	return order, nil
}

func (s *OrderService) list(ctx context.Context, op string, filter model.OrderFilter) ([]model.Order, error) {
	orders, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		s.log.Error("failed to list orders", slog.String("op", op), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return orders, nil
}

func assignedTo(order model.Order, p model.Principal) bool {
	return p.Role == model.RoleRider && order.Rider != nil && order.Rider.ID == p.UserID
}

func canView(p model.Principal, order model.Order) bool {
	return p.Role == model.RoleAdmin || order.User.ID == p.UserID || assignedTo(order, p)
}
