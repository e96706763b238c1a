package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/asquebay/zuvees-sync/internal/model"
)

var ErrPendingUpdateNotFound = errors.New("pending update not found")

// PendingUpdateRepository — долговременная очередь смен статуса, ещё не подтверждённых сервером
type PendingUpdateRepository struct {
	db *DB
}

// NewPendingUpdateRepository создаёт новый экземпляр репозитория
func NewPendingUpdateRepository(db *DB) *PendingUpdateRepository {
	return &PendingUpdateRepository{db: db}
}

// Enqueue сохраняет намерение смены статуса и возвращает назначенный id
// на заказ держим не больше одной неразрешённой записи: прежние записи для
// того же заказа удаляются в той же транзакции (побеждает последнее намерение)
func (r *PendingUpdateRepository) Enqueue(ctx context.Context, update model.PendingUpdate) (int64, error) {
	const op = "repository.sqlite.pending.Enqueue"

	if err := update.Validate(); err != nil {
		return 0, fmt.Errorf("%s: invalid pending update: %w", op, err)
	}

	var id int64
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		// 1. Убираем устаревшие намерения для этого заказа
		query, args, err := r.db.sq.Delete("pending_updates").
			Where(squirrel.Eq{"order_id": update.OrderID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build delete query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete superseded updates: %w", err)
		}

		// 2. Вставляем новое намерение
		query, args, err = r.db.sq.Insert("pending_updates").
			Columns("order_id", "status", "timestamp").
			Values(update.OrderID, string(update.Status), update.Timestamp).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build insert query: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to insert pending update: %w", err)
		}

		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read inserted id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

// Drain возвращает все неразрешённые записи, от самой старой к самой новой
// записи при этом не удаляются, для этого есть Remove
func (r *PendingUpdateRepository) Drain(ctx context.Context) ([]model.PendingUpdate, error) {
	const op = "repository.sqlite.pending.Drain"

	db, err := r.db.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query, args, err := r.db.sq.Select("id", "order_id", "status", "timestamp").
		From("pending_updates").
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build select query: %w", op, err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query pending updates: %w", op, err)
	}
	defer rows.Close()

	updates := []model.PendingUpdate{}
	for rows.Next() {
		var u model.PendingUpdate
		var status string
		if err := rows.Scan(&u.ID, &u.OrderID, &status, &u.Timestamp); err != nil {
			return nil, fmt.Errorf("%s: failed to scan pending update: %w", op, err)
		}
		u.Status = model.Status(status)
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: failed to iterate pending updates: %w", op, err)
	}

	return updates, nil
}

// Get возвращает одну запись по id
func (r *PendingUpdateRepository) Get(ctx context.Context, id int64) (model.PendingUpdate, error) {
	const op = "repository.sqlite.pending.Get"

	db, err := r.db.conn(ctx)
	if err != nil {
		return model.PendingUpdate{}, fmt.Errorf("%s: %w", op, err)
	}

	query, args, err := r.db.sq.Select("id", "order_id", "status", "timestamp").
		From("pending_updates").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return model.PendingUpdate{}, fmt.Errorf("%s: failed to build select query: %w", op, err)
	}

	var u model.PendingUpdate
	var status string
	err = db.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.OrderID, &status, &u.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PendingUpdate{}, fmt.Errorf("%s: %w", op, ErrPendingUpdateNotFound)
		}
		return model.PendingUpdate{}, fmt.Errorf("%s: failed to query pending update: %w", op, err)
	}
	u.Status = model.Status(status)

	return u, nil
}

// Remove удаляет запись по id, удаление отсутствующей записи ошибкой не считается
func (r *PendingUpdateRepository) Remove(ctx context.Context, id int64) error {
	const op = "repository.sqlite.pending.Remove"

	db, err := r.db.conn(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query, args, err := r.db.sq.Delete("pending_updates").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build delete query: %w", op, err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: failed to delete pending update %d: %w", op, id, err)
	}

	return nil
}

// Count возвращает число неразрешённых записей
func (r *PendingUpdateRepository) Count(ctx context.Context) (int, error) {
	const op = "repository.sqlite.pending.Count"

	db, err := r.db.conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_updates").Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: failed to count pending updates: %w", op, err)
	}

	return n, nil
}
