package compute

import (
	"testing"

	"github.com/opspulse/opspulse/pkg/types"
)

func TestDerive_HealthyInsert(t *testing.T) {
	rows := []types.RawMetricRow{opRow("orders_insert", 10, 0, 300, ago(1))}
	got := Derive(rows, baseTime)

	if len(got.Groups) != 1 || got.Groups[0].Action != types.ActionCreate {
		t.Fatalf("Groups = %+v, want one create group", got.Groups)
	}
	if got.State != types.StateGreen {
		t.Errorf("State = %q, want green", got.State)
	}
	if len(got.Problems) != 1 || got.Problems[0].Message != NoProblemsMessage {
		t.Errorf("Problems = %+v", got.Problems)
	}
}

func TestDerive_FailingList(t *testing.T) {
	rows := []types.RawMetricRow{{
		Kind: types.KindOp, Op: "orders_list", ActionType: "orders_list",
		Calls: 5, Errors: 2, P95Ms: 900, LastTS: ago(5),
	}}
	got := Derive(rows, baseTime)

	if got.Groups[0].Action != types.ActionLoad {
		t.Errorf("action = %q, want load", got.Groups[0].Action)
	}
	if got.Errors != 2 {
		t.Errorf("Errors = %d, want 2", got.Errors)
	}
	if got.State != types.StateRed {
		t.Errorf("State = %q, want red", got.State)
	}
	if len(got.Problems) != 1 || got.Problems[0].Message != "Errores al cargar pedidos." {
		t.Errorf("Problems = %+v", got.Problems)
	}
}
