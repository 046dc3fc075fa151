package recon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kabisa/timesync/internal/clockify"
	"github.com/kabisa/timesync/internal/identity"
	"github.com/kabisa/timesync/internal/observability"
	"github.com/kabisa/timesync/internal/odoo"
	"github.com/kabisa/timesync/internal/timesheet"
)

// EventSource aggregates tracked time per mapping key within a window.
type EventSource interface {
	GroupedEntries(ctx context.Context, start, end time.Time, filter url.Values) (map[timesheet.Key]time.Duration, error)
}

// Ledger is the narrow view of the Odoo gateway the processor needs.
type Ledger interface {
	FindEntry(ctx context.Context, projectID, taskID int, description string, day time.Time) (odoo.Entry, error)
	CreateEntry(ctx context.Context, projectID, taskID int, description string, hours float64, day time.Time) (int, error)
	UpdateEntry(ctx context.Context, entryID int, hours float64) error
	DeleteEntry(ctx context.Context, entryID int) error
}

// Links is the deduplication record store keyed by Clockify entry id.
type Links interface {
	Get(ctx context.Context, clockifyID string) (int, error)
	Put(ctx context.Context, clockifyID string, odooID int) error
	Delete(ctx context.Context, clockifyID string) error
}

// Processor reconciles one webhook event against the ledger.
type Processor struct {
	source   EventSource
	ledger   Ledger
	links    Links
	clientID string
	logger   *slog.Logger
	metrics  *observability.Metrics
	validate *validator.Validate
}

// NewProcessor constructs a processor. metrics may be nil.
func NewProcessor(source EventSource, ledger Ledger, links Links, clientID string, logger *slog.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{
		source:   source,
		ledger:   ledger,
		links:    links,
		clientID: clientID,
		logger:   logger,
		metrics:  metrics,
		validate: validator.New(),
	}
}

// Process handles one queued webhook delivery. A nil return acknowledges the
// event (processed or deliberately ignored); a non-nil return asks the queue
// to redeliver. Malformed and inert events are acknowledged, never retried:
// the source would redeliver something that can never parse.
func (p *Processor) Process(ctx context.Context, event string, body []byte) error {
	var entry clockify.TimeEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		p.logger.Warn("ignoring malformed event payload", slog.String("event", event), slog.Any("error", err))
		return nil
	}
	if err := p.validate.Struct(entry); err != nil {
		p.logger.Warn("ignoring incomplete event payload",
			slog.String("event", event), slog.String("entry_id", entry.ID), slog.Any("error", err))
		return nil
	}

	if event == "deleted" {
		return p.processDeleted(ctx, entry)
	}
	return p.processUpserted(ctx, event, entry)
}

// processDeleted removes the linked ledger row, if any. The link is the guard
// against delete/create ordering races: without a link there is nothing of
// ours to delete, which also covers redelivered or out-of-order deletes.
func (p *Processor) processDeleted(ctx context.Context, entry clockify.TimeEntry) error {
	odooID, err := p.links.Get(ctx, entry.ID)
	if errors.Is(err, ErrLinkNotFound) {
		p.logger.Info("deleted entry has no ledger row", slog.String("entry_id", entry.ID))
		return nil
	}
	if err != nil {
		return err
	}

	if err := p.ledger.DeleteEntry(ctx, odooID); err != nil {
		var remoteErr *odoo.Error
		if !errors.As(err, &remoteErr) {
			return err
		}
		// The row is already gone or rejected remotely; a retry cannot help.
		p.logger.Warn("ledger row could not be deleted",
			slog.String("entry_id", entry.ID), slog.Int("odoo_id", odooID), slog.Any("error", err))
	} else {
		p.logger.Info("deleted ledger row", slog.String("entry_id", entry.ID), slog.Int("odoo_id", odooID))
		p.observe(ActionDelete)
	}
	if err := p.links.Delete(ctx, entry.ID); err != nil {
		p.logger.Warn("stale link left behind", slog.String("entry_id", entry.ID), slog.Any("error", err))
	}
	return nil
}

func (p *Processor) processUpserted(ctx context.Context, event string, entry clockify.TimeEntry) error {
	if entry.Project.ClientID != p.clientID {
		p.logger.Info("ignoring event for foreign client",
			slog.String("event", event), slog.String("client_id", entry.Project.ClientID))
		return nil
	}
	projectID, ok := identity.OdooIDFromNote(entry.Project.Note)
	if !ok {
		p.logger.Info("ignoring event, project note carries no odoo id",
			slog.String("event", event), slog.String("project", entry.Project.Name))
		return nil
	}
	taskID, ok := identity.OdooIDFromTask(entry.Task.Name)
	if !ok {
		p.logger.Info("ignoring event, task name carries no odoo id",
			slog.String("event", event), slog.String("task", entry.Task.Name))
		return nil
	}

	day := timesheet.Day(entry.TimeInterval.Start)
	key := timesheet.Key{ProjectID: projectID, TaskID: taskID, Description: entry.Description}

	// Re-aggregate the whole day from the source instead of trusting the
	// single event: several starts and stops of the same task and
	// description collapse into one ledger row.
	filter := url.Values{}
	filter.Set("description", entry.Description)
	filter.Set("task", entry.Task.ID)
	grouped, err := p.source.GroupedEntries(ctx, day, day.AddDate(0, 0, 1), filter)
	if err != nil {
		return err
	}
	hours := timesheet.CeilQuarterHours(grouped[key])

	existing, err := p.ledger.FindEntry(ctx, projectID, taskID, entry.Description, day)
	exists := true
	switch {
	case errors.Is(err, odoo.ErrNotFound):
		exists = false
	case errors.Is(err, odoo.ErrDuplicateRows):
		p.logger.Warn("duplicate ledger rows for key, proceeding with lowest id",
			slog.Int("project_id", projectID), slog.Int("task_id", taskID),
			slog.String("description", entry.Description), slog.Any("error", err))
	case err != nil:
		return err
	}

	logAttrs := []any{
		slog.String("event", event),
		slog.String("entry_id", entry.ID),
		slog.Int("project_id", projectID),
		slog.Int("task_id", taskID),
		slog.String("description", entry.Description),
		slog.Float64("hours", hours),
	}

	action := Decide(exists, existing.UnitAmount, hours)
	switch action {
	case ActionCreate:
		odooID, err := p.ledger.CreateEntry(ctx, projectID, taskID, entry.Description, hours, day)
		if err != nil {
			return err
		}
		p.logger.Info("created ledger row", append(logAttrs, slog.Int("odoo_id", odooID))...)
		// The create already happened; a link failure must not requeue it.
		if err := p.links.Put(ctx, entry.ID, odooID); err != nil {
			p.logger.Warn("ledger row created but link not stored",
				slog.String("entry_id", entry.ID), slog.Any("error", err))
		}
	case ActionUpdate:
		if err := p.ledger.UpdateEntry(ctx, existing.ID, hours); err != nil {
			return err
		}
		p.logger.Info("updated ledger row", append(logAttrs, slog.Int("odoo_id", existing.ID))...)
		if err := p.links.Put(ctx, entry.ID, existing.ID); err != nil {
			p.logger.Warn("link not refreshed", slog.String("entry_id", entry.ID), slog.Any("error", err))
		}
	case ActionDelete:
		if err := p.ledger.DeleteEntry(ctx, existing.ID); err != nil {
			return err
		}
		p.logger.Info("deleted zeroed ledger row", append(logAttrs, slog.Int("odoo_id", existing.ID))...)
		if err := p.links.Delete(ctx, entry.ID); err != nil {
			p.logger.Warn("stale link left behind", slog.String("entry_id", entry.ID), slog.Any("error", err))
		}
	default:
		p.logger.Info("ledger row unchanged", logAttrs...)
	}
	p.observe(action)
	return nil
}

func (p *Processor) observe(action Action) {
	if p.metrics != nil {
		p.metrics.ObserveReconcile(action.String())
	}
}
