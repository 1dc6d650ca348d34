// Package postgres реализует store.Store поверх pgx.
// Обновления выполняются как compare-and-set по колонке version.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/cardtrade-api/internal/store"
)

const uniqueViolation = "23505"

// Store хранилище PostgreSQL
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New создает хранилище поверх пула соединений
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx выполняет fn в транзакции READ COMMITTED; конкурентные изменения ловит проверка версий
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ptx pgx.Tx) error {
		return fn(ctx, &tx{tx: ptx})
	})
}

type tx struct {
	tx pgx.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

// mapErr приводит ошибки драйвера к ошибкам store
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, store.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// casResult проверяет, что обновление по версии затронуло строку
func casResult(op string, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return mapErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
