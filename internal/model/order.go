package model

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Status — статус заказа, допустимо только значение из закрытого набора
type Status string

const (
	StatusPending     Status = "pending"
	StatusPaid        Status = "paid"
	StatusShipped     Status = "shipped"
	StatusDelivered   Status = "delivered"
	StatusUndelivered Status = "undelivered"
	StatusCancelled   Status = "cancelled"
)

// Statuses перечисляет все допустимые статусы в порядке жизненного цикла заказа
var Statuses = []Status{
	StatusPending, StatusPaid, StatusShipped, StatusDelivered, StatusUndelivered, StatusCancelled,
}

// Valid сообщает, входит ли статус в закрытый набор
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Order представляет заказ так, как его отдаёт удалённое API заказов
// теги validate используются для проверки заказов, пришедших из оформления (checkout)
type Order struct {
	ID              string      `json:"_id" validate:"required"`
	User            User        `json:"user" validate:"required"`
	Items           []OrderItem `json:"items" validate:"required,gt=0,dive"`
	TotalAmount     float64     `json:"totalAmount" validate:"gte=0"`
	Status          Status      `json:"status" validate:"required,oneof=pending paid shipped delivered undelivered cancelled"`
	ShippingAddress Address     `json:"shippingAddress" validate:"required"`
	Rider           *User       `json:"rider,omitempty"`
	PaymentStatus   string      `json:"paymentStatus" validate:"required,oneof=pending completed failed"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// OrderItem представляет одну позицию заказа
type OrderItem struct {
	Product  ProductRef `json:"product" validate:"required"`
	Variant  Variant    `json:"variant" validate:"required"`
	Quantity int        `json:"quantity" validate:"required,gt=0"`
	Price    float64    `json:"price" validate:"gte=0"`
}

// ProductRef — минимальная информация о товаре, встроенная в заказ
type ProductRef struct {
	ID   string `json:"_id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

// Variant — выбранный вариант товара
type Variant struct {
	Color string  `json:"color"`
	Size  string  `json:"size"`
	Price float64 `json:"price" validate:"gte=0"`
}

// Address содержит адрес доставки
type Address struct {
	Street  string `json:"street" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state"`
	Country string `json:"country" validate:"required"`
	ZipCode string `json:"zipCode"`
}

// StatusChange — тело запросов PATCH /orders/{id} и PATCH /orders/{id}/status
type StatusChange struct {
	Status  Status `json:"status" validate:"required,oneof=pending paid shipped delivered undelivered cancelled"`
	RiderID string `json:"riderId,omitempty"`
}

// StatusEvent публикуется в кафку после каждой смены статуса
type StatusEvent struct {
	EventID        string    `json:"event_id"`
	OrderID        string    `json:"order_id"`
	PreviousStatus Status    `json:"previous_status"`
	Status         Status    `json:"status"`
	RiderID        string    `json:"rider_id,omitempty"`
	ActorID        string    `json:"actor_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// OrderFilter ограничивает выборку заказов; пустое поле не фильтрует
type OrderFilter struct {
	UserID  string
	RiderID string
}

var validate = validator.New()

// Validate проверяет корректность структуры Order на основе тегов validate
func (o *Order) Validate() error {
	return validate.Struct(o)
}

// Validate проверяет тело запроса смены статуса
func (c *StatusChange) Validate() error {
	return validate.Struct(c)
}
