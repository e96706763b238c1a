package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
)

var ErrTokenNotFound = errors.New("token not found")

// StoredToken — сохранённый bearer-токен провайдера идентификации
type StoredToken struct {
	Token     string
	ExpiresAt time.Time // нулевое значение — срок не известен
}

// TokenRepository хранит токены сессии в таблице auth_tokens
type TokenRepository struct {
	db *DB
}

// NewTokenRepository создаёт новый экземпляр репозитория
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Save сохраняет или перезаписывает токен под ключом key
func (r *TokenRepository) Save(ctx context.Context, key string, token StoredToken) error {
	const op = "repository.sqlite.token.Save"

	db, err := r.db.conn(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var expiresAt int64
	if !token.ExpiresAt.IsZero() {
		expiresAt = token.ExpiresAt.Unix()
	}

	query, args, err := r.db.sq.Replace("auth_tokens").
		Columns("session_key", "token", "expires_at", "updated_at").
		Values(key, token.Token, expiresAt, time.Now().UTC().Format(time.RFC3339)).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build replace query: %w", op, err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: failed to save token: %w", op, err)
	}

	return nil
}

// Load возвращает токен под ключом key
func (r *TokenRepository) Load(ctx context.Context, key string) (StoredToken, error) {
	const op = "repository.sqlite.token.Load"

	db, err := r.db.conn(ctx)
	if err != nil {
		return StoredToken{}, fmt.Errorf("%s: %w", op, err)
	}

	query, args, err := r.db.sq.Select("token", "expires_at").
		From("auth_tokens").
		Where(squirrel.Eq{"session_key": key}).
		ToSql()
	if err != nil {
		return StoredToken{}, fmt.Errorf("%s: failed to build select query: %w", op, err)
	}

	var token StoredToken
	var expiresAt int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&token.Token, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredToken{}, fmt.Errorf("%s: %w", op, ErrTokenNotFound)
		}
		return StoredToken{}, fmt.Errorf("%s: failed to query token: %w", op, err)
	}
	if expiresAt > 0 {
		token.ExpiresAt = time.Unix(expiresAt, 0)
	}

	return token, nil
}

// Delete удаляет токен под ключом key
func (r *TokenRepository) Delete(ctx context.Context, key string) error {
	const op = "repository.sqlite.token.Delete"

	db, err := r.db.conn(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query, args, err := r.db.sq.Delete("auth_tokens").Where(squirrel.Eq{"session_key": key}).ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build delete query: %w", op, err)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: failed to delete token: %w", op, err)
	}

	return nil
}
