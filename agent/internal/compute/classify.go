package compute

import (
	"strings"

	"github.com/opspulse/opspulse/pkg/types"
)

// rule maps any of its needles to an action. Rules are checked in order and
// the first hit wins.
type rule struct {
	action  types.Action
	needles []string
}

// tagRules match the operator-supplied action_type tag.
var tagRules = []rule{
	{types.ActionCreate, []string{"order_create"}},
	{types.ActionUpdate, []string{"order_update", "order_status"}},
	{types.ActionLoad, []string{"orders_list", "load"}},
	{types.ActionConfirm, []string{"payment_confirm"}},
}

// nameRules match the "op path" heuristic name. create and update come
// before load so "update_status_and_load" stays an update.
var nameRules = []rule{
	{types.ActionCreate, []string{"insert", "create", "new", "add"}},
	{types.ActionUpdate, []string{"update", "status", "patch"}},
	{types.ActionLoad, []string{"list", "get", "fetch", "select", "load"}},
	{types.ActionConfirm, []string{"confirm", "approve"}},
}

// Classify maps an operation to its business action. An explicit actionType
// tag is trusted over the name heuristics; a tag that matches nothing falls
// through to the heuristics.
func Classify(op, actionType, path string) types.Action {
	if tag := strings.ToLower(strings.TrimSpace(actionType)); tag != "" {
		if a, ok := match(tag, tagRules); ok {
			return a
		}
	}
	name := strings.ToLower(op + " " + path)
	if a, ok := match(name, nameRules); ok {
		return a
	}
	return types.ActionOther
}

func match(s string, rules []rule) (types.Action, bool) {
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(s, n) {
				return r.action, true
			}
		}
	}
	return "", false
}
