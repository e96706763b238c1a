package service

import (
	"context"

	"github.com/asquebay/zuvees-sync/internal/model"
)

// OrderRepository определяет контракт для хранилища заказов в БД
type OrderRepository interface {
	CreateOrder(ctx context.Context, order model.Order) error
	ListOrders(ctx context.Context, filter model.OrderFilter) ([]model.Order, error)
	GetOrder(ctx context.Context, id string) (model.Order, error)
	UpdateStatus(ctx context.Context, id string, status model.Status, riderID string) (model.Order, error)
	ListRiders(ctx context.Context) ([]model.User, error)
}

// OrderCache определяет контракт для in-memory кэша заказов
type OrderCache interface {
	Set(order model.Order)
	Get(orderID string) (model.Order, bool)
	LoadAll(orders []model.Order)
}

// StatusPublisher отправляет событие о смене статуса во внешний мир
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event model.StatusEvent) error
}
