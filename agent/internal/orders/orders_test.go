package orders

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opspulse/opspulse/agent/internal/config"
)

func TestMidnight(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"afternoon", time.Date(2026, 3, 1, 15, 4, 5, 6, time.UTC), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"exactly midnight", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"keeps location", time.Date(2026, 3, 1, 1, 0, 0, 0, loc), time.Date(2026, 3, 1, 0, 0, 0, 0, loc)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Midnight(tc.in)
			if !got.Equal(tc.want) || got.Location() != tc.want.Location() {
				t.Errorf("Midnight(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestCountQuery(t *testing.T) {
	tests := []struct {
		table, column, want string
	}{
		{"orders", "created_at", `SELECT count(*) FROM "orders" WHERE "created_at" >= $1`},
		{"sales.orders", "inserted", `SELECT count(*) FROM "sales"."orders" WHERE "inserted" >= $1`},
		{`bad"name`, "c", `SELECT count(*) FROM "bad""name" WHERE "c" >= $1`},
	}
	for _, tc := range tests {
		if got := countQuery(tc.table, tc.column); got != tc.want {
			t.Errorf("countQuery(%q, %q) = %s, want %s", tc.table, tc.column, got, tc.want)
		}
	}
}

type fakeRemote struct{ since time.Time }

func (f *fakeRemote) CountOrdersSince(_ context.Context, since time.Time) (int, error) {
	f.since = since
	return 9, nil
}

func TestRemoteCounter(t *testing.T) {
	f := &fakeRemote{}
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	n, err := RemoteCounter{Client: f}.CountSince(context.Background(), since)
	if err != nil || n != 9 {
		t.Fatalf("CountSince = %d, %v; want 9", n, err)
	}
	if !f.since.Equal(since) {
		t.Errorf("since = %v, want %v", f.since, since)
	}
}

// TestPGCounter runs against a real database when OPSPULSE_TEST_PG_URL is set.
// The orders table must exist.
func TestPGCounter(t *testing.T) {
	if os.Getenv("OPSPULSE_TEST_PG_URL") == "" {
		t.Skip("OPSPULSE_TEST_PG_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := NewPGCounter(ctx, config.DatabaseConfig{
		URLEnv:        "OPSPULSE_TEST_PG_URL",
		OrdersTable:   config.DefaultOrdersTable,
		CreatedColumn: config.DefaultCreatedColumn,
	})
	if err != nil {
		t.Fatalf("NewPGCounter: %v", err)
	}
	defer c.Close()

	if _, err := c.CountSince(ctx, Midnight(time.Now())); err != nil {
		t.Fatalf("CountSince: %v", err)
	}
}
