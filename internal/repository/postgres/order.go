package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/asquebay/zuvees-sync/internal/model"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrRiderNotFound = errors.New("rider not found")
)

// orderColumns — порядок колонок совпадает с порядком Scan в scanOrder
var orderColumns = []string{
	"o.id", "o.total_amount", "o.status", "o.payment_status",
	"o.street", "o.city", "o.state", "o.country", "o.zip_code",
	"o.created_at", "o.updated_at",
	"u.id", "u.email", "u.name", "u.role",
	"r.id", "r.email", "r.name",
}

// OrderRepository инкапсулирует логику работы с заказами в БД
type OrderRepository struct {
	db *pgxpool.Pool
	sq squirrel.StatementBuilderType
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{
		db: db,
		// использую плейсхолдеры в стиле PostgreSQL ($1, $2, $3,...)
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// CreateOrder сохраняет полный заказ в базу данных в рамках одной транзакции
// покупатель (и курьер, если он указан) заводится или обновляется там же
// уже сохранённый заказ с тем же id не трогается и ошибкой не считается
func (r *OrderRepository) CreateOrder(ctx context.Context, order model.Order) error {
	const op = "repository.postgres.order.CreateOrder"

	// начинаем транзакцию
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	// гарантируем откат транзакции в случае любой ошибки
	defer tx.Rollback(ctx)

	// 1. Пользователи
	customer := order.User
	if customer.Role == "" {
		customer.Role = model.RoleCustomer
	}
	if err := r.upsertUser(ctx, tx, customer); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var riderID *string
	if order.Rider != nil {
		rider := *order.Rider
		rider.Role = model.RoleRider
		if err := r.upsertUser(ctx, tx, rider); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		riderID = &rider.ID
	}

	// 2. Вставка в таблицу orders
	columns := []string{
		"id", "user_id", "rider_id", "total_amount", "status", "payment_status",
		"street", "city", "state", "country", "zip_code",
	}
	values := []any{
		order.ID, customer.ID, riderID, order.TotalAmount, string(order.Status), order.PaymentStatus,
		order.ShippingAddress.Street, order.ShippingAddress.City, order.ShippingAddress.State,
		order.ShippingAddress.Country, order.ShippingAddress.ZipCode,
	}
	// время оформления берём из события checkout, если оно есть
	if !order.CreatedAt.IsZero() {
		columns = append(columns, "created_at", "updated_at")
		values = append(values, order.CreatedAt, order.CreatedAt)
	}
	insert := r.sq.Insert("orders").Columns(columns...).Values(values...).
		Suffix("ON CONFLICT (id) DO NOTHING")
	sql, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build orders insert query: %w", op, err)
	}
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: failed to insert into orders: %w", op, err)
	}
	// повторная доставка того же заказа из кафки: позиции уже записаны
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	// 3. Вставка в таблицу order_items (в цикле)
	for i, item := range order.Items {
		sql, args, err = r.sq.Insert("order_items").
			Columns("order_id", "product_id", "product_name", "color", "size", "variant_price", "quantity", "price").
			Values(
				order.ID, item.Product.ID, item.Product.Name, item.Variant.Color, item.Variant.Size,
				item.Variant.Price, item.Quantity, item.Price,
			).
			ToSql()
		if err != nil {
			return fmt.Errorf("%s: failed to build items insert query for item %d: %w", op, i, err)
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("%s: failed to insert item %d: %w", op, i, err)
		}
	}

	// если все прошло успешно, подтверждаем транзакцию
	return tx.Commit(ctx)
}

// ListOrders извлекает заказы по фильтру, новые первыми
// без фильтра возвращаются все заказы, это используется и для восстановления кэша при старте
func (r *OrderRepository) ListOrders(ctx context.Context, filter model.OrderFilter) ([]model.Order, error) {
	const op = "repository.postgres.order.ListOrders"

	query := r.selectOrders().OrderBy("o.created_at DESC", "o.id")
	if filter.UserID != "" {
		query = query.Where(squirrel.Eq{"o.user_id": filter.UserID})
	}
	if filter.RiderID != "" {
		query = query.Where(squirrel.Eq{"o.rider_id": filter.RiderID})
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	// 1. Получаем основные данные заказов
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query orders: %w", op, err)
	}
	defer rows.Close()

	orders := []model.Order{}
	index := make(map[string]int)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to scan order row: %w", op, err)
		}
		index[order.ID] = len(orders)
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: failed to read orders: %w", op, err)
	}

	if len(orders) == 0 {
		return orders, nil // нет заказов — возвращаем пустой слайс
	}

	// 2. Получаем все товары для найденных заказов
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for orderID, list := range items {
		orders[index[orderID]].Items = list
	}

	return orders, nil
}

// GetOrder извлекает один заказ из базы данных по его ID
func (r *OrderRepository) GetOrder(ctx context.Context, id string) (model.Order, error) {
	const op = "repository.postgres.order.GetOrder"

	sql, args, err := r.selectOrders().Where(squirrel.Eq{"o.id": id}).ToSql()
	if err != nil {
		return model.Order{}, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	order, err := scanOrder(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, fmt.Errorf("%s: %w", op, ErrOrderNotFound)
		}
		return model.Order{}, fmt.Errorf("%s: failed to query order: %w", op, err)
	}

	items, err := r.loadItems(ctx, []string{id})
	if err != nil {
		return model.Order{}, fmt.Errorf("%s: %w", op, err)
	}
	order.Items = items[id]

	return order, nil
}

// UpdateStatus меняет статус заказа и, если riderID не пуст, назначает курьера
// возвращает заказ в новом состоянии
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status model.Status, riderID string) (model.Order, error) {
	const op = "repository.postgres.order.UpdateStatus"

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return model.Order{}, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer tx.Rollback(ctx)

	update := r.sq.Update("orders").
		Set("status", string(status)).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id})

	if riderID != "" {
		// 1. Назначать можно только существующего курьера
		sql, args, err := r.sq.Select("role").From("users").Where(squirrel.Eq{"id": riderID}).ToSql()
		if err != nil {
			return model.Order{}, fmt.Errorf("%s: failed to build rider query: %w", op, err)
		}
		var role string
		if err := tx.QueryRow(ctx, sql, args...).Scan(&role); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.Order{}, fmt.Errorf("%s: %w", op, ErrRiderNotFound)
			}
			return model.Order{}, fmt.Errorf("%s: failed to query rider: %w", op, err)
		}
		if model.Role(role) != model.RoleRider {
			return model.Order{}, fmt.Errorf("%s: user %s is not a rider: %w", op, riderID, ErrRiderNotFound)
		}
		update = update.Set("rider_id", riderID)
	}

	// 2. Сама смена статуса
	sql, args, err := update.ToSql()
	if err != nil {
		return model.Order{}, fmt.Errorf("%s: failed to build update query: %w", op, err)
	}
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return model.Order{}, fmt.Errorf("%s: failed to update order: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return model.Order{}, fmt.Errorf("%s: %w", op, ErrOrderNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Order{}, fmt.Errorf("%s: failed to commit: %w", op, err)
	}

	return r.GetOrder(ctx, id)
}

// ListRiders возвращает всех курьеров, доступных для назначения
func (r *OrderRepository) ListRiders(ctx context.Context) ([]model.User, error) {
	const op = "repository.postgres.order.ListRiders"

	sql, args, err := r.sq.Select("id", "email", "name", "role").
		From("users").
		Where(squirrel.Eq{"role": string(model.RoleRider)}).
		OrderBy("name", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query riders: %w", op, err)
	}
	defer rows.Close()

	riders := []model.User{}
	for rows.Next() {
		var u model.User
		var role string
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &role); err != nil {
			return nil, fmt.Errorf("%s: failed to scan rider row: %w", op, err)
		}
		u.Role = model.Role(role)
		riders = append(riders, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: failed to read riders: %w", op, err)
	}

	return riders, nil
}

func (r *OrderRepository) selectOrders() squirrel.SelectBuilder {
	return r.sq.Select(orderColumns...).
		From("orders o").
		Join("users u ON u.id = o.user_id").
		LeftJoin("users r ON r.id = o.rider_id")
}

func (r *OrderRepository) upsertUser(ctx context.Context, tx pgx.Tx, u model.User) error {
	sql, args, err := r.sq.Insert("users").
		Columns("id", "email", "name", "role").
		Values(u.ID, u.Email, u.Name, string(u.Role)).
		Suffix("ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build users upsert query: %w", err)
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.ID, err)
	}
	return nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]model.OrderItem, error) {
	sql, args, err := r.sq.Select("order_id", "product_id", "product_name", "color", "size", "variant_price", "quantity", "price").
		From("order_items").
		Where(squirrel.Expr("order_id = ANY(?)", orderIDs)).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build items query: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]model.OrderItem)
	for rows.Next() {
		var orderID string
		var item model.OrderItem
		err := rows.Scan(
			&orderID, &item.Product.ID, &item.Product.Name, &item.Variant.Color, &item.Variant.Size,
			&item.Variant.Price, &item.Quantity, &item.Price,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items[orderID] = append(items[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}

	return items, nil
}

func scanOrder(row pgx.Row) (model.Order, error) {
	var (
		o                          model.Order
		status, role               string
		riderID, riderEmail, rName *string
	)
	err := row.Scan(
		&o.ID, &o.TotalAmount, &status, &o.PaymentStatus,
		&o.ShippingAddress.Street, &o.ShippingAddress.City, &o.ShippingAddress.State,
		&o.ShippingAddress.Country, &o.ShippingAddress.ZipCode,
		&o.CreatedAt, &o.UpdatedAt,
		&o.User.ID, &o.User.Email, &o.User.Name, &role,
		&riderID, &riderEmail, &rName,
	)
	if err != nil {
		return model.Order{}, err
	}

	o.Status = model.Status(status)
	o.User.Role = model.Role(role)
	if riderID != nil {
		o.Rider = &model.User{ID: *riderID, Role: model.RoleRider}
		if riderEmail != nil {
			o.Rider.Email = *riderEmail
		}
		if rName != nil {
			o.Rider.Name = *rName
		}
	}

	return o, nil
}
