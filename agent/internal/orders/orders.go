// Package orders counts the orders created since local midnight.
package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opspulse/opspulse/agent/internal/config"
)

// Counter returns the number of orders created at or after since.
type Counter interface {
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// Midnight returns the start of t's day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RemoteCounter delegates to the remote count_orders_since function.
type RemoteCounter struct {
	Client interface {
		CountOrdersSince(ctx context.Context, since time.Time) (int, error)
	}
}

func (r RemoteCounter) CountSince(ctx context.Context, since time.Time) (int, error) {
	return r.Client.CountOrdersSince(ctx, since)
}

// PGCounter counts rows straight from the orders table.
type PGCounter struct {
	pool  *pgxpool.Pool
	query string
}

// NewPGCounter connects to cfg.URL() and verifies the connection.
func NewPGCounter(ctx context.Context, cfg config.DatabaseConfig) (*PGCounter, error) {
	pool, err := pgxpool.New(ctx, cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("orders: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("orders: ping: %w", err)
	}
	return &PGCounter{pool: pool, query: countQuery(cfg.OrdersTable, cfg.CreatedColumn)}, nil
}

// countQuery builds the count statement with quoted identifiers. table may be
// schema-qualified.
func countQuery(table, column string) string {
	tbl := pgx.Identifier(strings.Split(table, ".")).Sanitize()
	col := pgx.Identifier{column}.Sanitize()
	return fmt.Sprintf("SELECT count(*) FROM %s WHERE %s >= $1", tbl, col)
}

func (c *PGCounter) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int64
	if err := c.pool.QueryRow(ctx, c.query, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("orders: count: %w", err)
	}
	return int(n), nil
}

// Close releases the pool.
func (c *PGCounter) Close() { c.pool.Close() }
