package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	"github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// DB — локальная база SQLite на устройстве курьера
// соединение открывается лениво при первом обращении, а не в конструкторе,
// поэтому репозитории можно создавать до того, как хранилище стало доступно
type DB struct {
	path string
	sq   squirrel.StatementBuilderType

	mu sync.Mutex
	db *sql.DB
}

// New создаёт ленивую обёртку над файлом базы, файл при этом не открывается
func New(path string) *DB {
	return &DB{
		path: path,
		// у SQLite плейсхолдеры в стиле "?"
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
}

// conn возвращает открытое соединение, открывая базу и создавая схему при первом вызове
// неудачное открытие не запоминается: следующий вызов попробует снова
func (d *DB) conn(ctx context.Context) (*sql.DB, error) {
	const op = "repository.sqlite.DB.conn"

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		return d.db, nil
	}

	db, err := sql.Open("sqlite3", d.path)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open database: %w", op, err)
	}

	// SQLite допускает одного писателя, поэтому держим одно соединение
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: failed to connect to database: %w", op, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: failed to execute %q: %w", op, pragma, err)
		}
	}

	// схема идемпотентна: CREATE ... IF NOT EXISTS
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: failed to apply schema: %w", op, err)
	}

	d.db = db
	return d.db, nil
}

// Close закрывает соединение, если оно было открыто
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// withTx выполняет fn в транзакции: commit при успехе, rollback при любой ошибке
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, err := d.conn(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}
