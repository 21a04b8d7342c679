package core

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
)

func TestNewConnectionPoolRejectsBadSize(t *testing.T) {
	if _, err := NewConnectionPool("postgres://localhost/none", 0); err == nil {
		t.Fatalf("zero maxConns must be rejected")
	}
	if _, err := NewConnectionPool("postgres://localhost/none", -1); err == nil {
		t.Fatalf("negative maxConns must be rejected")
	}
}

// Cancellation is probed before dispatch: an already-abandoned call never
// reaches the database and surfaces the dedicated cancelled error.
func TestWithConnCancelledBeforeDispatch(t *testing.T) {
	pool, err := NewConnectionPool("postgres://localhost:1/unreachable?sslmode=disable", 2)
	if err != nil {
		t.Fatalf("NewConnectionPool failed: %v", err)
	}
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err = pool.WithConn(ctx, func(ctx context.Context, conn *sqlx.Conn) error {
		called = true
		return nil
	})
	if !IsCancelled(err) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	if called {
		t.Fatalf("work must not run after cancellation")
	}
}
