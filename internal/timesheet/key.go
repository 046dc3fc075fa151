package timesheet

// Key identifies at most one ledger row within a single day window: the Odoo
// project, the Odoo task and the entry description. Lookups and aggregation
// on both sides of the sync go through this key.
type Key struct {
	ProjectID   int
	TaskID      int
	Description string
}
