package model

import (
	"time"
)

// PendingUpdate — смена статуса, сохранённая на устройстве и ещё не подтверждённая сервером
// ID назначает хранилище при вставке, до этого он равен нулю
type PendingUpdate struct {
	ID        int64  `json:"id"`
	OrderID   string `json:"orderId" validate:"required"`
	Status    Status `json:"status" validate:"required,oneof=pending paid shipped delivered undelivered cancelled"`
	Timestamp string `json:"timestamp" validate:"required"`
}

// NewPendingUpdate создаёт намерение смены статуса с текущим временем в формате ISO-8601
func NewPendingUpdate(orderID string, status Status, now time.Time) PendingUpdate {
	return PendingUpdate{
		OrderID:   orderID,
		Status:    status,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

// Validate проверяет корректность структуры PendingUpdate
func (u *PendingUpdate) Validate() error {
	return validate.Struct(u)
}
