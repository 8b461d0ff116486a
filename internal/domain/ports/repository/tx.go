package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque storage handle. Postgres repositories receive a pgx.Tx;
// nil means "no transaction, use the pool".
type Tx interface{}

// TransactionManager runs fn inside a database transaction. fn returning an
// error rolls back; nil commits.
//
// The inference processor opens two per batch: a read-only one to load the
// inbound message, conversation and transcript, and a read-write one to
// persist reply segments and mark jobs. No transaction spans the model call.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
