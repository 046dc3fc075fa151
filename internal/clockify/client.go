// Package clockify is the gateway to the Clockify REST API.
package clockify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kabisa/timesync/internal/identity"
	"github.com/kabisa/timesync/internal/timesheet"
)

// Error reports a failed Clockify call as a value so batch callers can
// log-and-continue instead of aborting.
type Error struct {
	Op     string
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("clockify: %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Config collects the settings the client needs.
type Config struct {
	BaseURL     string
	APIKey      string
	WorkspaceID string
	ClientID    string
	UserID      string
	Timeout     time.Duration
}

// Client wraps interactions with one Clockify workspace on behalf of one user.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GroupedEntries fetches the user's time entries within [start, end) and sums
// their durations per (project, task, description) key. Entries whose project
// or task does not resolve to an Odoo id are excluded: they represent time
// that is not meant for the ledger. Extra query parameters narrow the fetch
// (description, task).
func (c *Client) GroupedEntries(ctx context.Context, start, end time.Time, filter url.Values) (map[timesheet.Key]time.Duration, error) {
	query := url.Values{}
	for k, vs := range filter {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	query.Set("start", start.UTC().Format(time.RFC3339))
	query.Set("end", end.UTC().Format(time.RFC3339))
	query.Set("hydrated", "true")

	var entries []TimeEntry
	path := fmt.Sprintf("/workspaces/%s/user/%s/time-entries", c.cfg.WorkspaceID, c.cfg.UserID)
	if err := c.do(ctx, http.MethodGet, path, query, nil, &entries); err != nil {
		return nil, err
	}

	grouped := make(map[timesheet.Key]time.Duration)
	for _, entry := range entries {
		if entry.Project == nil || entry.Task == nil {
			continue
		}
		pid, ok := identity.OdooIDFromNote(entry.Project.Note)
		if !ok {
			continue
		}
		tid, ok := identity.OdooIDFromTask(entry.Task.Name)
		if !ok {
			continue
		}
		if entry.TimeInterval.Start.IsZero() || entry.TimeInterval.End.IsZero() {
			continue
		}
		key := timesheet.Key{ProjectID: pid, TaskID: tid, Description: entry.Description}
		grouped[key] += entry.TimeInterval.End.Sub(entry.TimeInterval.Start)
	}
	return grouped, nil
}

// Projects lists the active, non-archived projects for the configured client,
// keyed by project name.
func (c *Client) Projects(ctx context.Context) (map[string]Project, error) {
	query := url.Values{}
	query.Set("archived", "false")
	query.Set("page-size", "100")
	query.Set("clients", c.cfg.ClientID)

	var projects []Project
	path := fmt.Sprintf("/workspaces/%s/projects", c.cfg.WorkspaceID)
	if err := c.do(ctx, http.MethodGet, path, query, nil, &projects); err != nil {
		return nil, err
	}

	byName := make(map[string]Project, len(projects))
	for _, p := range projects {
		byName[p.Name] = p
	}
	return byName, nil
}

// Tasks lists the active tasks of a project.
func (c *Client) Tasks(ctx context.Context, projectID string) ([]Task, error) {
	query := url.Values{}
	query.Set("page-size", "200")

	var tasks []Task
	path := fmt.Sprintf("/workspaces/%s/projects/%s/tasks", c.cfg.WorkspaceID, projectID)
	if err := c.do(ctx, http.MethodGet, path, query, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateProject creates a project for the configured client with the Odoo
// project id embedded in its note field.
func (c *Client) CreateProject(ctx context.Context, name string, odooID int) (Project, error) {
	payload := map[string]any{
		"name":     name,
		"clientId": c.cfg.ClientID,
		"isPublic": "false",
		"note":     fmt.Sprintf("odoo_id=%d", odooID),
	}
	var created Project
	path := fmt.Sprintf("/workspaces/%s/projects", c.cfg.WorkspaceID)
	if err := c.do(ctx, http.MethodPost, path, nil, payload, &created); err != nil {
		return Project{}, err
	}
	return created, nil
}

// CreateTask creates a task under a project with the Odoo task id embedded as
// a name suffix.
func (c *Client) CreateTask(ctx context.Context, projectID, name string, odooID int) error {
	payload := map[string]any{
		"name":   fmt.Sprintf("%s #%d", name, odooID),
		"status": "ACTIVE",
	}
	path := fmt.Sprintf("/workspaces/%s/projects/%s/tasks", c.cfg.WorkspaceID, projectID)
	return c.do(ctx, http.MethodPost, path, nil, payload, nil)
}

// ArchiveProject marks a project archived.
func (c *Client) ArchiveProject(ctx context.Context, projectID string) error {
	payload := map[string]any{"archived": true}
	path := fmt.Sprintf("/workspaces/%s/projects/%s", c.cfg.WorkspaceID, projectID)
	return c.do(ctx, http.MethodPut, path, nil, payload, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("clockify: marshal %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("clockify: build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("clockify: %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Error{Op: method + " " + path, Status: resp.StatusCode, Body: string(snippet)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("clockify: decode %s: %w", path, err)
	}
	return nil
}
