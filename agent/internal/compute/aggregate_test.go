package compute

import (
	"testing"
	"time"

	"github.com/opspulse/opspulse/pkg/types"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// ago returns a pointer to baseTime minus n minutes.
func ago(n int) *time.Time {
	ts := baseTime.Add(-time.Duration(n) * time.Minute)
	return &ts
}

func opRow(op string, calls, errs int64, p95 float64, last *time.Time) types.RawMetricRow {
	return types.RawMetricRow{Kind: types.KindOp, Op: op, Calls: calls, Errors: errs, P95Ms: p95, LastTS: last}
}

func TestAggregate_GroupsByAction(t *testing.T) {
	rows := []types.RawMetricRow{
		opRow("orders_insert", 10, 1, 300, ago(5)),
		opRow("orders_create_bulk", 4, 0, 900, ago(2)),
		opRow("orders_list", 7, 0, 100, ago(1)),
	}
	groups := Aggregate(rows, SlowMs)

	if len(groups) != 2 {
		t.Fatalf("groups: got %d, want 2", len(groups))
	}
	create := groups[0]
	if create.Action != types.ActionCreate {
		t.Fatalf("groups[0].Action = %q, want create", create.Action)
	}
	if create.Calls != 14 || create.Errors != 1 {
		t.Errorf("create calls/errors = %d/%d, want 14/1", create.Calls, create.Errors)
	}
	if create.MaxP95 != 900 {
		t.Errorf("create MaxP95 = %v, want 900", create.MaxP95)
	}
	if !create.LastSeen.Equal(*ago(2)) {
		t.Errorf("create LastSeen = %v, want %v", create.LastSeen, ago(2))
	}
	if groups[1].Action != types.ActionLoad {
		t.Errorf("groups[1].Action = %q, want load", groups[1].Action)
	}
}

func TestAggregate_SlowCount(t *testing.T) {
	rows := []types.RawMetricRow{
		opRow("orders_list", 8, 0, 1500, ago(1)),
		opRow("orders_get", 0, 0, 2500, ago(1)),    // zero calls still counts once
		opRow("orders_fetch", 20, 0, 1200, ago(1)), // not strictly above slowMs
	}
	groups := Aggregate(rows, SlowMs)
	if len(groups) != 1 {
		t.Fatalf("groups: got %d, want 1", len(groups))
	}
	if groups[0].SlowCount != 9 {
		t.Errorf("SlowCount = %d, want 9", groups[0].SlowCount)
	}
	if groups[0].MaxP95 != 2500 {
		t.Errorf("MaxP95 = %v, want 2500", groups[0].MaxP95)
	}
}

func TestAggregate_SkipsScreenRows(t *testing.T) {
	rows := []types.RawMetricRow{
		{Kind: types.KindScreen, Op: "view", Path: "/orders", Calls: 50},
		{Kind: types.KindScreen, Op: "view", Path: "/orders", Calls: 5},
		{Kind: types.KindScreen, Op: "dashboard", Calls: 3},
		{Kind: "bogus", Op: "orders_insert", Calls: 99},
	}
	if groups := Aggregate(rows, SlowMs); len(groups) != 0 {
		t.Errorf("groups: got %d, want 0", len(groups))
	}

	views := ScreenViews(rows)
	if views["/orders"] != 55 {
		t.Errorf("views[/orders] = %d, want 55", views["/orders"])
	}
	if views["dashboard"] != 3 {
		t.Errorf("views[dashboard] = %d, want 3", views["dashboard"])
	}
}

func TestAggregate_UnknownKindSkipped(t *testing.T) {
	rows := []types.RawMetricRow{
		opRow("orders_list", 4, 1, 100, ago(1)),
		{Kind: "banner", Op: "orders_list", Calls: 99, Errors: 99, P95Ms: 5000},
	}
	groups := Aggregate(rows, SlowMs)
	if len(groups) != 1 {
		t.Fatalf("groups: got %d, want 1", len(groups))
	}
	g := groups[0]
	if g.Calls != 4 || g.Errors != 1 || g.SlowCount != 0 || g.MaxP95 != 100 {
		t.Errorf("group = %+v, want only the op row counted", g)
	}
	if views := ScreenViews(rows); len(views) != 0 {
		t.Errorf("views = %v, want none", views)
	}
}

func TestAggregate_NilLastSeen(t *testing.T) {
	groups := Aggregate([]types.RawMetricRow{opRow("orders_list", 1, 0, 10, nil)}, SlowMs)
	if groups[0].LastSeen != nil {
		t.Errorf("LastSeen = %v, want nil", groups[0].LastSeen)
	}
}

func TestAggregate_FullRecompute(t *testing.T) {
	rows := []types.RawMetricRow{opRow("orders_list", 3, 0, 10, ago(1))}
	Aggregate(rows, SlowMs)
	groups := Aggregate(rows, SlowMs)
	if groups[0].Calls != 3 {
		t.Errorf("Calls after second pass = %d, want 3", groups[0].Calls)
	}
}
