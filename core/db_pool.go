package core

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/sirupsen/logrus"
)

// ConnectionPool bridges the blocking database driver to callers running
// on the cooperative scheduler. Synchronous single-statement reads go
// through Get; everything multi-statement goes through WithConn, which
// bounds concurrent offloaded work and surfaces cancellation. A connection
// is only ever acquired inside the offloaded closure and released when it
// returns, so no caller holds one across a suspension point.
type ConnectionPool struct {
	db   *sqlx.DB
	slot chan struct{}
}

// NewConnectionPool opens a pool against the given Postgres URL. maxConns
// bounds both the driver's connection count and the number of concurrently
// offloaded closures.
func NewConnectionPool(postgresURL string, maxConns int) (*ConnectionPool, error) {
	if maxConns <= 0 {
		return nil, errors.New("connpool: maxConns must be positive")
	}
	db, err := sqlx.Open("postgres", postgresURL)
	if err != nil {
		return nil, ioError("open database", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	return &ConnectionPool{db: db, slot: make(chan struct{}, maxConns)}, nil
}

// Get returns the underlying handle for blocking single-statement use.
func (p *ConnectionPool) Get() *sqlx.DB { return p.db }

// WithConn runs work with an exclusive connection. The cancellation probe
// is checked before the work is dispatched; in-flight SQL is not
// interrupted, abandonment only affects queued or unstarted work.
func (p *ConnectionPool) WithConn(ctx context.Context, work func(ctx context.Context, conn *sqlx.Conn) error) error {
	select {
	case <-ctx.Done():
		return cancelledError(ctx.Err())
	case p.slot <- struct{}{}:
	}
	defer func() { <-p.slot }()

	if err := ctx.Err(); err != nil {
		return cancelledError(err)
	}
	conn, err := p.db.Connx(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return cancelledError(err)
		}
		return ioError("acquire connection", err)
	}
	defer conn.Close()
	return work(ctx, conn)
}

// Close releases the pool.
func (p *ConnectionPool) Close() error {
	if err := p.db.Close(); err != nil {
		logrus.WithError(err).Warn("connpool: close")
		return err
	}
	return nil
}

// withTx wraps fn in a transaction on conn: rollback on error, commit on
// nil. Partial writes are never visible.
func withTx(ctx context.Context, conn *sqlx.Conn, fn func(tx *sqlx.Tx) error) error {
	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return ioError("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logrus.WithError(rbErr).Warn("connpool: rollback")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return queryError("commit transaction", err)
	}
	return nil
}
