package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/asquebay/zuvees-sync/internal/model"
)

var ErrResourceNotFound = errors.New("cached resource not found")

// ResourceRepository — постоянный кэш ответов, разбитый на версии (cache_name)
type ResourceRepository struct {
	db *DB
}

// NewResourceRepository создаёт новый экземпляр репозитория
func NewResourceRepository(db *DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

// Put сохраняет или перезаписывает один ответ
func (r *ResourceRepository) Put(ctx context.Context, cacheName string, res model.CachedResource) error {
	const op = "repository.sqlite.resource.Put"

	if err := r.PutAll(ctx, cacheName, []model.CachedResource{res}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PutAll сохраняет пачку ответов одной транзакцией: либо все, либо ни одного
func (r *ResourceRepository) PutAll(ctx context.Context, cacheName string, resources []model.CachedResource) error {
	const op = "repository.sqlite.resource.PutAll"

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		for _, res := range resources {
			header, err := json.Marshal(res.Header)
			if err != nil {
				return fmt.Errorf("failed to marshal headers for %s: %w", res.URL, err)
			}

			storedAt := res.StoredAt
			if storedAt.IsZero() {
				storedAt = time.Now()
			}

			body := res.Body
			if body == nil {
				body = []byte{}
			}

			query, args, err := r.db.sq.Replace("cached_resources").
				Columns("cache_name", "method", "url", "status", "header", "body", "stored_at").
				Values(cacheName, res.Method, res.URL, res.Status, string(header), body, storedAt.UTC().Format(time.RFC3339Nano)).
				ToSql()
			if err != nil {
				return fmt.Errorf("failed to build replace query for %s: %w", res.URL, err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to store %s: %w", res.URL, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Match ищет сохранённый ответ по методу и URL
func (r *ResourceRepository) Match(ctx context.Context, cacheName, method, url string) (model.CachedResource, error) {
	const op = "repository.sqlite.resource.Match"

	db, err := r.db.conn(ctx)
	if err != nil {
		return model.CachedResource{}, fmt.Errorf("%s: %w", op, err)
	}

	query, args, err := r.db.sq.Select("method", "url", "status", "header", "body", "stored_at").
		From("cached_resources").
		Where(squirrel.Eq{"cache_name": cacheName, "method": method, "url": url}).
		ToSql()
	if err != nil {
		return model.CachedResource{}, fmt.Errorf("%s: failed to build select query: %w", op, err)
	}

	var res model.CachedResource
	var header, storedAt string
	err = db.QueryRowContext(ctx, query, args...).Scan(&res.Method, &res.URL, &res.Status, &header, &res.Body, &storedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CachedResource{}, fmt.Errorf("%s: %w", op, ErrResourceNotFound)
		}
		return model.CachedResource{}, fmt.Errorf("%s: failed to query resource: %w", op, err)
	}

	res.Header = http.Header{}
	if err := json.Unmarshal([]byte(header), &res.Header); err != nil {
		return model.CachedResource{}, fmt.Errorf("%s: failed to unmarshal headers: %w", op, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, storedAt); err == nil {
		res.StoredAt = t
	}

	return res, nil
}

// DeleteOtherCaches удаляет все версии кэша, кроме keep, и возвращает число удалённых записей
func (r *ResourceRepository) DeleteOtherCaches(ctx context.Context, keep string) (int64, error) {
	const op = "repository.sqlite.resource.DeleteOtherCaches"

	db, err := r.db.conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	query, args, err := r.db.sq.Delete("cached_resources").
		Where(squirrel.NotEq{"cache_name": keep}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to build delete query: %w", op, err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to delete stale caches: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to read affected rows: %w", op, err)
	}

	return n, nil
}
