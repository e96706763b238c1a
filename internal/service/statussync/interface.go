package statussync

import (
	"context"

	"github.com/asquebay/zuvees-sync/internal/model"
	"github.com/asquebay/zuvees-sync/internal/transport/api"
)

// PendingStore определяет контракт для долговременной очереди смен статуса
type PendingStore interface {
	Enqueue(ctx context.Context, update model.PendingUpdate) (int64, error)
	Drain(ctx context.Context) ([]model.PendingUpdate, error)
	Get(ctx context.Context, id int64) (model.PendingUpdate, error)
	Remove(ctx context.Context, id int64) error
}

// StatusApplier определяет контракт для сетевого клиента смены статуса
type StatusApplier interface {
	Apply(ctx context.Context, orderID string, status model.Status) api.Result
}

// SyncRegistrar регистрирует тег у фоновой синхронизации хоста
type SyncRegistrar interface {
	Register(ctx context.Context, tag string) error
}

// OrderState — локально видимое состояние заказов
type OrderState interface {
	SetStatus(orderID string, status model.Status)
	LoadAll(orders []model.Order)
}

// SessionCloser позволяет завершить сессию, когда сервер отвечает 401
type SessionCloser interface {
	SignOut(ctx context.Context) error
}
