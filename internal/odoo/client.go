package odoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kabisa/timesync/internal/timesheet"
)

const (
	timesheetModel = "account.analytic.line"
	projectModel   = "project.project"
	taskModel      = "project.task"

	dateLayout = "2006-01-02"

	// catalog fetch fan-out width
	catalogFetchers = 4
)

var (
	// ErrNotFound marks a key lookup that matched no timesheet row.
	ErrNotFound = errors.New("odoo: timesheet entry not found")
	// ErrDuplicateRows marks a key lookup that matched more than one row, a
	// data-integrity problem earlier runs left behind. FindEntry still
	// returns the lowest-id row alongside this error.
	ErrDuplicateRows = errors.New("odoo: multiple timesheet entries for key")
)

// Entry is one timesheet row in Odoo.
type Entry struct {
	ID         int
	ProjectID  int
	TaskID     int
	Date       string
	UnitAmount float64
	Name       string
}

// relation decodes Odoo's many2one representation: either false or an
// [id, "display name"] tuple.
type relation struct {
	ID   int
	Name string
}

func (r *relation) UnmarshalJSON(data []byte) error {
	if string(data) == "false" || string(data) == "null" {
		*r = relation{}
		return nil
	}
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) > 0 {
		if err := json.Unmarshal(tuple[0], &r.ID); err != nil {
			return err
		}
	}
	if len(tuple) > 1 {
		if err := json.Unmarshal(tuple[1], &r.Name); err != nil {
			return err
		}
	}
	return nil
}

type entryRecord struct {
	ID         int      `json:"id"`
	ProjectID  relation `json:"project_id"`
	TaskID     relation `json:"task_id"`
	Date       string   `json:"date"`
	UnitAmount float64  `json:"unit_amount"`
	Name       string   `json:"name"`
}

func (r entryRecord) entry() Entry {
	return Entry{
		ID:         r.ID,
		ProjectID:  r.ProjectID.ID,
		TaskID:     r.TaskID.ID,
		Date:       r.Date,
		UnitAmount: r.UnitAmount,
		Name:       r.Name,
	}
}

var entryFields = []string{"id", "project_id", "task_id", "date", "unit_amount", "name"}

// Client provides timesheet and catalog operations on an authenticated session.
type Client struct {
	session *Session
}

// NewClient constructs a client on top of a session.
func NewClient(session *Session) *Client {
	return &Client{session: session}
}

// FindEntry looks up the timesheet row for the uniqueness key (project, task,
// description, day), restricted to rows of the authenticated user. It returns
// ErrNotFound when no row matches. When earlier runs left duplicates it
// returns the lowest-id row together with ErrDuplicateRows so the caller can
// log the integrity problem and still proceed deterministically.
func (c *Client) FindEntry(ctx context.Context, projectID, taskID int, description string, day time.Time) (Entry, error) {
	var records []entryRecord
	err := c.session.searchRead(ctx, searchReadParams{
		Model:  timesheetModel,
		Fields: entryFields,
		Domain: []any{
			condition("date", ">=", day.Format(dateLayout)),
			condition("date", "<", day.AddDate(0, 0, 1).Format(dateLayout)),
			condition("project_id", "=", projectID),
			condition("task_id", "=", taskID),
			condition("name", "=", description),
			condition("user_id", "=", c.session.UserID()),
		},
		Limit: 10,
		Sort:  "id asc",
	}, &records)
	if err != nil {
		return Entry{}, err
	}
	switch len(records) {
	case 0:
		return Entry{}, ErrNotFound
	case 1:
		return records[0].entry(), nil
	default:
		return records[0].entry(), fmt.Errorf("%w: %d rows for project %d task %d %q on %s",
			ErrDuplicateRows, len(records), projectID, taskID, description, day.Format(dateLayout))
	}
}

// EntriesBetween fetches the user's timesheet rows with a date in
// [start, end) and keys them for reconciliation. Rows without a project or
// task relation are skipped. Keys matched by more than one row keep the
// lowest-id row in the map and are reported in the second return value so
// the caller can raise a data-integrity warning.
func (c *Client) EntriesBetween(ctx context.Context, start, end time.Time) (map[timesheet.Key]Entry, []timesheet.Key, error) {
	var records []entryRecord
	err := c.session.searchRead(ctx, searchReadParams{
		Model:  timesheetModel,
		Fields: entryFields,
		Domain: []any{
			condition("date", ">=", start.Format(dateLayout)),
			condition("date", "<", end.Format(dateLayout)),
			condition("project_id", "!=", false),
			condition("user_id", "=", c.session.UserID()),
		},
		Limit: 200,
		Sort:  "id asc",
	}, &records)
	if err != nil {
		return nil, nil, err
	}

	entries := make(map[timesheet.Key]Entry, len(records))
	var duplicated []timesheet.Key
	seenTwice := make(map[timesheet.Key]bool)
	for _, rec := range records {
		if rec.ProjectID.ID == 0 || rec.TaskID.ID == 0 {
			continue
		}
		key := timesheet.Key{ProjectID: rec.ProjectID.ID, TaskID: rec.TaskID.ID, Description: rec.Name}
		if existing, ok := entries[key]; ok {
			if !seenTwice[key] {
				seenTwice[key] = true
				duplicated = append(duplicated, key)
			}
			if existing.ID <= rec.ID {
				continue
			}
		}
		entries[key] = rec.entry()
	}
	return entries, duplicated, nil
}

// CreateEntry creates a timesheet row and returns its id. User and employee
// identity come from the authenticated session.
func (c *Client) CreateEntry(ctx context.Context, projectID, taskID int, description string, hours float64, day time.Time) (int, error) {
	values := map[string]any{
		"validated":   false,
		"project_id":  projectID,
		"task_id":     taskID,
		"user_id":     c.session.UserID(),
		"employee_id": c.session.EmployeeID(),
		"date":        day.Format(dateLayout),
		"unit_amount": hours,
		"name":        description,
	}
	var id int
	if err := c.callKW(ctx, "create", timesheetModel, []any{values}, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateEntry overwrites the duration of an existing row.
func (c *Client) UpdateEntry(ctx context.Context, entryID int, hours float64) error {
	args := []any{[]int{entryID}, map[string]any{"unit_amount": hours}}
	return c.callKW(ctx, "write", timesheetModel, args, nil)
}

// DeleteEntry removes a row.
func (c *Client) DeleteEntry(ctx context.Context, entryID int) error {
	return c.callKW(ctx, "unlink", timesheetModel, []any{[]int{entryID}}, nil)
}

// CatalogTask is one Odoo project task, as used by the catalog sync.
type CatalogTask struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// CatalogProject is one Odoo project with its tasks.
type CatalogProject struct {
	ID    int
	Name  string
	Tasks []CatalogTask
}

// ProjectsWithTasks lists all Odoo projects and their tasks. Task fetches for
// different projects run concurrently.
func (c *Client) ProjectsWithTasks(ctx context.Context) ([]CatalogProject, error) {
	var projects []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	err := c.session.searchRead(ctx, searchReadParams{
		Model:  projectModel,
		Fields: []string{"id", "name"},
		Domain: []any{},
		Limit:  200,
	}, &projects)
	if err != nil {
		return nil, err
	}

	out := make([]CatalogProject, len(projects))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(catalogFetchers)
	for i, p := range projects {
		out[i] = CatalogProject{ID: p.ID, Name: p.Name}
		g.Go(func() error {
			var tasks []CatalogTask
			err := c.session.searchRead(ctx, searchReadParams{
				Model:  taskModel,
				Fields: []string{"id", "name"},
				Domain: []any{condition("project_id", "=", p.ID)},
				Limit:  200,
			}, &tasks)
			if err != nil {
				return err
			}
			out[i].Tasks = tasks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) callKW(ctx context.Context, method, model string, args, result any) error {
	params := map[string]any{
		"model":  model,
		"method": method,
		"args":   args,
		"kwargs": map[string]any{},
	}
	return c.session.call(ctx, "/web/dataset/call_kw/"+method, params, result)
}
