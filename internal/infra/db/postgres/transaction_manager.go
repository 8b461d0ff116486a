package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/ports/repository"
	"sms-agent/internal/infra/metrics"
)

// Ensure compile-time conformance
var _ repository.TransactionManager = (*TxManager)(nil)

// TxManager implements repository.TransactionManager for Postgres (pgx).
// Every transaction is counted by access mode and outcome.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

func txMode(opt pgx.TxOptions) string {
	if opt.AccessMode == pgx.ReadOnly {
		return "read_only"
	}
	return "read_write"
}

// WithTx opens a DB transaction and passes the tx handle to fn.
// If fn returns an error, the transaction is rolled back; otherwise it is committed.
// A read-only txOpt makes Postgres reject any write inside fn.
func (m *TxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	mode := txMode(txOpt)
	tx, err := m.pool.BeginTx(ctx, txOpt)
	if err != nil {
		metrics.IncTx(mode, "begin_error")
		return fmt.Errorf("begin %s tx: %w", mode, err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, tx); err != nil {
		metrics.IncTx(mode, "rollback")
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		metrics.IncTx(mode, "commit_error")
		return fmt.Errorf("commit %s tx: %w", mode, err)
	}
	metrics.IncTx(mode, "commit")
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func getExecutor(pool *pgxpool.Pool, tx repository.Tx) (querier, error) {
	switch v := tx.(type) {
	case pgx.Tx:
		return v, nil
	case *pgxpool.Pool:
		return v, nil
	case nil:
		// no tx: autocommit on the pool
		if pool != nil {
			return pool, nil
		}
		return nil, domain.ErrInvalidArgument
	default:
		return nil, domain.ErrInvalidExecContext
	}
}
