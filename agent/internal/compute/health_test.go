package compute

import (
	"testing"

	"github.com/opspulse/opspulse/pkg/types"
)

func group(a types.Action, calls, errs int64, maxP95 float64, slow int64, lastMin int) types.ActionGroup {
	return types.ActionGroup{Action: a, Calls: calls, Errors: errs, MaxP95: maxP95, SlowCount: slow, LastSeen: ago(lastMin)}
}

func TestEvaluate_Green(t *testing.T) {
	st := Evaluate([]types.ActionGroup{group(types.ActionLoad, 10, 0, 300, 0, 1)}, baseTime)
	if st.State != types.StateGreen {
		t.Errorf("State = %q, want green", st.State)
	}
	if st.Actions != 10 {
		t.Errorf("Actions = %d, want 10", st.Actions)
	}
	if st.SlowRate != 0 {
		t.Errorf("SlowRate = %v, want 0", st.SlowRate)
	}
}

func TestEvaluate_Empty(t *testing.T) {
	st := Evaluate(nil, baseTime)
	if st.State != types.StateGreen {
		t.Errorf("State = %q, want green", st.State)
	}
	if st.SlowGroups == nil {
		t.Error("SlowGroups should be an empty slice, not nil")
	}
}

func TestEvaluate_ErrorCounts(t *testing.T) {
	// Errors are spread over separate groups so no single group is grave.
	tests := []struct {
		name   string
		groups []types.ActionGroup
		want   types.State
	}{
		{"no errors", []types.ActionGroup{
			group(types.ActionCreate, 0, 0, 0, 0, 40),
		}, types.StateGreen},
		{"one error", []types.ActionGroup{
			group(types.ActionCreate, 0, 1, 0, 0, 40),
		}, types.StateAmber},
		{"two groups one error each", []types.ActionGroup{
			group(types.ActionCreate, 0, 1, 0, 0, 40),
			group(types.ActionUpdate, 0, 1, 0, 0, 45),
		}, types.StateRed},
		{"errors outside error window", []types.ActionGroup{
			group(types.ActionCreate, 0, 5, 0, 0, 61),
		}, types.StateGreen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.groups, baseTime).State; got != tc.want {
				t.Errorf("State = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEvaluate_ErrorWindowBoundary(t *testing.T) {
	onEdge := group(types.ActionCreate, 0, 1, 0, 0, 60)
	if st := Evaluate([]types.ActionGroup{onEdge}, baseTime); st.Errors != 1 {
		t.Errorf("errors at exactly 60m: got %d, want 1", st.Errors)
	}

	justOut := onEdge
	ts := baseTime.Add(-ErrorWindow).Add(-1)
	justOut.LastSeen = &ts
	if st := Evaluate([]types.ActionGroup{justOut}, baseTime); st.Errors != 0 {
		t.Errorf("errors before now-60m: got %d, want 0", st.Errors)
	}
}

func TestEvaluate_GraveGroup(t *testing.T) {
	tests := []struct {
		name string
		g    types.ActionGroup
		want types.State
	}{
		{"two errors in one group", group(types.ActionLoad, 5, 2, 900, 0, 5), types.StateRed},
		{"grave latency", group(types.ActionLoad, 100, 0, 2100, 1, 5), types.StateRed},
		{"grave latency outside problem window", group(types.ActionLoad, 100, 0, 2100, 1, 31), types.StateGreen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate([]types.ActionGroup{tc.g}, baseTime).State; got != tc.want {
				t.Errorf("State = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEvaluate_SlowGroups(t *testing.T) {
	one := Evaluate([]types.ActionGroup{
		group(types.ActionLoad, 100, 0, 1500, 10, 5),
	}, baseTime)
	if one.State != types.StateAmber {
		t.Errorf("one slow group: State = %q, want amber", one.State)
	}
	if len(one.SlowGroups) != 1 {
		t.Errorf("SlowGroups = %d, want 1", len(one.SlowGroups))
	}
	if !almostEqual(one.SlowRate, 0.10, 1e-9) {
		t.Errorf("SlowRate = %v, want 0.10", one.SlowRate)
	}

	two := Evaluate([]types.ActionGroup{
		group(types.ActionLoad, 100, 0, 1500, 1, 5),
		group(types.ActionUpdate, 100, 0, 1300, 1, 5),
	}, baseTime)
	if two.State != types.StateRed {
		t.Errorf("two slow groups: State = %q, want red", two.State)
	}
}

func TestEvaluate_SlowRateAboveThreshold(t *testing.T) {
	st := Evaluate([]types.ActionGroup{
		group(types.ActionLoad, 10, 0, 1500, 2, 5),
	}, baseTime)
	if !almostEqual(st.SlowRate, 0.2, 1e-9) {
		t.Fatalf("SlowRate = %v, want 0.2", st.SlowRate)
	}
	if st.State != types.StateRed {
		t.Errorf("State = %q, want red", st.State)
	}
}

func TestEvaluate_SlowRateClamped(t *testing.T) {
	st := Evaluate([]types.ActionGroup{
		group(types.ActionLoad, 1, 0, 1500, 50, 5),
	}, baseTime)
	if st.SlowRate != 1 {
		t.Errorf("SlowRate = %v, want 1", st.SlowRate)
	}
}

func TestEvaluate_UsageWindow(t *testing.T) {
	// Seen 20 minutes ago: slow, but its calls are not recent usage.
	st := Evaluate([]types.ActionGroup{
		group(types.ActionLoad, 100, 0, 1500, 100, 20),
	}, baseTime)
	if st.Actions != 0 {
		t.Errorf("Actions = %d, want 0", st.Actions)
	}
	if st.SlowRate != 0 {
		t.Errorf("SlowRate with no actions = %v, want 0", st.SlowRate)
	}
	if st.State != types.StateAmber {
		t.Errorf("State = %q, want amber", st.State)
	}
}

func TestEvaluate_NoHysteresis(t *testing.T) {
	bad := []types.ActionGroup{group(types.ActionLoad, 5, 3, 900, 0, 5)}
	if Evaluate(bad, baseTime).State != types.StateRed {
		t.Fatal("expected red")
	}
	good := []types.ActionGroup{group(types.ActionLoad, 5, 0, 900, 0, 5)}
	if got := Evaluate(good, baseTime).State; got != types.StateGreen {
		t.Errorf("State after recovery = %q, want green", got)
	}
}

func TestSpeedLabel(t *testing.T) {
	tests := []struct {
		state types.State
		want  string
	}{
		{types.StateRed, "Lenta"},
		{types.StateAmber, "Normal"},
		{types.StateGreen, "Rápida"},
	}
	for _, tc := range tests {
		label, desc := SpeedLabel(tc.state)
		if label != tc.want {
			t.Errorf("SpeedLabel(%q) = %q, want %q", tc.state, label, tc.want)
		}
		if desc == "" {
			t.Errorf("SpeedLabel(%q) description is empty", tc.state)
		}
	}
}

// almostEqual returns true if a and b differ by less than epsilon.
func almostEqual(a, b, epsilon float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < epsilon
}
