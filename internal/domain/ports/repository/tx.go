package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an infra-defined transaction handle (pgx.Tx for Postgres).
// Repositories must accept nil and fall back to their pool.
type Tx interface{}

var NoTX Tx

// TransactionManager runs fn inside one database transaction and commits
// only when fn returns nil. Entitlement mutations go through it so that a
// returned call means the write is durable.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
