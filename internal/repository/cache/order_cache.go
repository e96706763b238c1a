package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/asquebay/zuvees-sync/internal/model"
)

// OrderCache — потокобезопасное локальное состояние заказов курьера
// сюда попадают и подтверждённые сервером статусы, и оптимистичные
type OrderCache struct {
	// Ключ — string (ID заказа), значение — model.Order
	storage sync.Map
	now     func() time.Time
}

// NewOrderCache создаёт новый экземпляр кэша
func NewOrderCache() *OrderCache {
	return &OrderCache{now: time.Now}
}

// Set добавляет или обновляет заказ в кэше
func (c *OrderCache) Set(order model.Order) {
	c.storage.Store(order.ID, order)
}

// Get извлекает заказ из кэша по его ID
// возвращает заказ и true, если он найден, иначе — пустую структуру и false
func (c *OrderCache) Get(orderID string) (model.Order, bool) {
	value, ok := c.storage.Load(orderID)
	if !ok {
		return model.Order{}, false
	}

	order, ok := value.(model.Order)
	return order, ok
}

// SetStatus меняет локально видимый статус заказа
// если заказа в кэше ещё нет (например, список не загрузился офлайн),
// заводим заготовку, чтобы статус всё равно был виден
func (c *OrderCache) SetStatus(orderID string, status model.Status) {
	order, ok := c.Get(orderID)
	if !ok {
		order = model.Order{ID: orderID}
	}
	order.Status = status
	order.UpdatedAt = c.now()
	c.Set(order)
}

// LoadAll заменяет содержимое кэша переданным срезом заказов
// заказы, которых нет в срезе (переназначены или сняты с курьера), удаляются
func (c *OrderCache) LoadAll(orders []model.Order) {
	fresh := make(map[string]struct{}, len(orders))
	for _, order := range orders {
		fresh[order.ID] = struct{}{}
		c.Set(order)
	}

	c.storage.Range(func(key, _ any) bool {
		if _, ok := fresh[key.(string)]; !ok {
			c.storage.Delete(key)
		}
		return true
	})
}

// List возвращает все заказы, отсортированные по ID для стабильного вывода
func (c *OrderCache) List() []model.Order {
	orders := []model.Order{}
	c.storage.Range(func(_, value any) bool {
		if order, ok := value.(model.Order); ok {
			orders = append(orders, order)
		}
		return true
	})

	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders
}
