package recon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kabisa/timesync/internal/odoo"
	"github.com/kabisa/timesync/internal/timesheet"
)

// SweepLedger extends the ledger view with a windowed bulk read. The second
// return value lists keys matched by more than one remote row.
type SweepLedger interface {
	Ledger
	EntriesBetween(ctx context.Context, start, end time.Time) (map[timesheet.Key]odoo.Entry, []timesheet.Key, error)
}

// Sweep repairs drift between the two systems for one day: webhook deliveries
// that were lost, and rows left behind by earlier bugs. It applies the same
// policy table as the webhook path, one key at a time, isolating failures so
// one bad key does not block the rest.
type Sweep struct {
	source EventSource
	ledger SweepLedger
	logger *slog.Logger
}

// NewSweep constructs a sweep.
func NewSweep(source EventSource, ledger SweepLedger, logger *slog.Logger) *Sweep {
	return &Sweep{source: source, ledger: ledger, logger: logger}
}

// Run reconciles the calendar day containing the given instant.
func (s *Sweep) Run(ctx context.Context, at time.Time) error {
	start := timesheet.Day(at)
	end := start.AddDate(0, 0, 1)

	tracked, err := s.source.GroupedEntries(ctx, start, end, nil)
	if err != nil {
		return fmt.Errorf("recon: sweep fetch tracked time: %w", err)
	}
	ledgered, duplicated, err := s.ledger.EntriesBetween(ctx, start, end)
	if err != nil {
		return fmt.Errorf("recon: sweep fetch ledger: %w", err)
	}
	// Duplicates are never repaired automatically; the sweep reconciles
	// against the lowest-id row and leaves the cleanup to an operator.
	for _, key := range duplicated {
		s.logger.Warn("duplicate ledger rows for key, reconciling against lowest id", keyAttrs(key)...)
	}

	var failed int
	for key, total := range tracked {
		existing, exists := ledgered[key]
		if err := s.apply(ctx, key, exists, existing, timesheet.CeilQuarterHours(total), start); err != nil {
			failed++
			s.logger.Error("sweep key failed", keyAttrs(key, slog.Any("error", err))...)
		}
		delete(ledgered, key)
	}
	// Remaining ledger rows have no tracked time left: zero hours, so the
	// policy table deletes them.
	for key, entry := range ledgered {
		if err := s.apply(ctx, key, true, entry, 0, start); err != nil {
			failed++
			s.logger.Error("sweep key failed", keyAttrs(key, slog.Any("error", err))...)
		}
	}

	if failed > 0 {
		return fmt.Errorf("recon: sweep finished with %d failed keys", failed)
	}
	return nil
}

func (s *Sweep) apply(ctx context.Context, key timesheet.Key, exists bool, existing odoo.Entry, hours float64, day time.Time) error {
	switch Decide(exists, existing.UnitAmount, hours) {
	case ActionCreate:
		odooID, err := s.ledger.CreateEntry(ctx, key.ProjectID, key.TaskID, key.Description, hours, day)
		if err != nil {
			return err
		}
		s.logger.Info("sweep created ledger row", keyAttrs(key, slog.Float64("hours", hours), slog.Int("odoo_id", odooID))...)
	case ActionUpdate:
		if err := s.ledger.UpdateEntry(ctx, existing.ID, hours); err != nil {
			return err
		}
		s.logger.Info("sweep updated ledger row", keyAttrs(key, slog.Float64("hours", hours), slog.Int("odoo_id", existing.ID))...)
	case ActionDelete:
		if err := s.ledger.DeleteEntry(ctx, existing.ID); err != nil {
			return err
		}
		s.logger.Info("sweep deleted stale ledger row", keyAttrs(key, slog.Int("odoo_id", existing.ID))...)
	default:
		s.logger.Debug("sweep found key in sync", keyAttrs(key)...)
	}
	return nil
}

func keyAttrs(key timesheet.Key, extra ...any) []any {
	attrs := []any{
		slog.Int("project_id", key.ProjectID),
		slog.Int("task_id", key.TaskID),
		slog.String("description", key.Description),
	}
	return append(attrs, extra...)
}
