// Package recon decides how the Odoo ledger must change to mirror Clockify.
package recon

// Action is one outcome of the reconciliation policy.
type Action int

const (
	ActionNone Action = iota
	ActionCreate
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "none"
	}
}

// Decide applies the reconciliation policy for one mapping key. The ledger is
// an eventually-consistent mirror of the time tracker: zero tracked hours
// mean the time was removed at the source, so an existing row is deleted
// rather than left as a stale zero.
//
//	existing  hours            action
//	absent    0                none
//	absent    > 0              create
//	present   0                delete
//	present   == existing      none
//	present   != existing      update
func Decide(exists bool, existingHours, hours float64) Action {
	switch {
	case !exists && hours == 0:
		return ActionNone
	case !exists:
		return ActionCreate
	case hours == 0:
		return ActionDelete
	case hours == existingHours:
		return ActionNone
	default:
		return ActionUpdate
	}
}
