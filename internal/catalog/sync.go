// Package catalog mirrors the Odoo project and task catalog into Clockify.
// Projects carry their Odoo id in the note field, tasks as a name suffix, so
// the webhook path can map tracked time back to Odoo records.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/kabisa/timesync/internal/clockify"
	"github.com/kabisa/timesync/internal/identity"
	"github.com/kabisa/timesync/internal/odoo"
)

// Source lists the catalog of record.
type Source interface {
	ProjectsWithTasks(ctx context.Context) ([]odoo.CatalogProject, error)
}

// Target is the mirrored catalog.
type Target interface {
	Projects(ctx context.Context) (map[string]clockify.Project, error)
	Tasks(ctx context.Context, projectID string) ([]clockify.Task, error)
	CreateProject(ctx context.Context, name string, odooID int) (clockify.Project, error)
	CreateTask(ctx context.Context, projectID, name string, odooID int) error
	ArchiveProject(ctx context.Context, projectID string) error
}

// Syncer performs one catalog reconciliation pass.
type Syncer struct {
	source Source
	target Target
	logger *slog.Logger
}

// NewSyncer constructs a syncer.
func NewSyncer(source Source, target Target, logger *slog.Logger) *Syncer {
	return &Syncer{source: source, target: target, logger: logger}
}

// Sync creates missing projects and tasks in the target and archives target
// projects that disappeared from the source. Per-project failures are logged
// and counted but do not stop the pass.
func (s *Syncer) Sync(ctx context.Context) error {
	catalog, err := s.source.ProjectsWithTasks(ctx)
	if err != nil {
		return fmt.Errorf("catalog: fetch source catalog: %w", err)
	}
	mirrored, err := s.target.Projects(ctx)
	if err != nil {
		return fmt.Errorf("catalog: fetch target catalog: %w", err)
	}

	byName := make(map[string]clockify.Project, len(mirrored))
	for _, p := range mirrored {
		byName[normalizeName(p.Name)] = p
	}

	var failed int
	seen := make(map[string]bool, len(catalog))
	for _, project := range catalog {
		name := normalizeName(project.Name)
		seen[name] = true
		if err := s.syncProject(ctx, project, byName[name]); err != nil {
			failed++
			if !isRemoteError(err) {
				return err
			}
			s.logger.Error("project sync failed",
				slog.String("project", project.Name), slog.Any("error", err))
		}
	}

	// Whatever the source no longer lists gets archived, but only projects
	// this sync manages: ones carrying an Odoo id in their note.
	for name, project := range byName {
		if seen[name] {
			continue
		}
		if _, ok := identity.OdooIDFromNote(project.Note); !ok {
			continue
		}
		if err := s.target.ArchiveProject(ctx, project.ID); err != nil {
			failed++
			if !isRemoteError(err) {
				return err
			}
			s.logger.Error("project archive failed",
				slog.String("project", project.Name), slog.Any("error", err))
			continue
		}
		s.logger.Info("archived project", slog.String("project", project.Name))
	}

	if failed > 0 {
		return fmt.Errorf("catalog: sync finished with %d failed projects", failed)
	}
	return nil
}

func (s *Syncer) syncProject(ctx context.Context, project odoo.CatalogProject, mirror clockify.Project) error {
	if mirror.ID == "" {
		created, err := s.target.CreateProject(ctx, project.Name, project.ID)
		if err != nil {
			return err
		}
		mirror = created
		s.logger.Info("created project",
			slog.String("project", project.Name), slog.Int("odoo_id", project.ID))
	}

	tasks, err := s.target.Tasks(ctx, mirror.ID)
	if err != nil {
		return err
	}
	present := make(map[int]bool, len(tasks))
	for _, task := range tasks {
		if id, ok := identity.OdooIDFromTask(task.Name); ok {
			present[id] = true
		}
	}

	for _, task := range project.Tasks {
		if present[task.ID] {
			continue
		}
		if err := s.target.CreateTask(ctx, mirror.ID, task.Name, task.ID); err != nil {
			return err
		}
		s.logger.Info("created task",
			slog.String("project", project.Name),
			slog.String("task", task.Name), slog.Int("odoo_id", task.ID))
	}
	return nil
}

// normalizeName makes catalog names comparable across the two systems:
// Unicode NFC plus collapsed whitespace.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}

func isRemoteError(err error) bool {
	var remoteErr *clockify.Error
	return errors.As(err, &remoteErr)
}
