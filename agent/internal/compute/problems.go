package compute

import (
	"time"

	"github.com/opspulse/opspulse/pkg/types"
)

// MaxProblems caps the number of entries Problems returns.
const MaxProblems = 3

// NoProblemsMessage is the single entry reported when nothing is degraded.
const NoProblemsMessage = "No se detectaron problemas recientes."

var actionLabels = map[types.Action]string{
	types.ActionCreate:  "guardar pedidos",
	types.ActionUpdate:  "actualizar pedidos",
	types.ActionLoad:    "cargar pedidos",
	types.ActionConfirm: "confirmar acciones",
	types.ActionOther:   "acciones generales",
}

// ActionLabel returns the business-facing label for a.
func ActionLabel(a types.Action) string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return actionLabels[types.ActionOther]
}

// Problems lists findings for groups seen within the problem window, in group
// order, capped at MaxProblems. Errors and slowness are not prioritised across
// groups: the first entries encountered win.
func Problems(groups []types.ActionGroup, now time.Time) []types.Problem {
	out := make([]types.Problem, 0, MaxProblems)
	for _, g := range groups {
		if len(out) == MaxProblems {
			break
		}
		if !within(g, now, ProblemWindow) {
			continue
		}
		label := ActionLabel(g.Action)
		switch {
		case g.Errors > 0:
			out = append(out, types.Problem{
				Level:   types.LevelRed,
				Action:  g.Action,
				Message: "Errores al " + label + ".",
			})
		case g.MaxP95 > SlowMs:
			out = append(out, types.Problem{
				Level:   types.LevelAmber,
				Action:  g.Action,
				Message: capitalize(label) + " está más lento de lo esperado.",
			})
		}
	}
	if len(out) == 0 {
		out = append(out, types.Problem{Level: types.LevelOK, Message: NoProblemsMessage})
	}
	return out
}

// capitalize upper-cases the first ASCII letter of s.
func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
