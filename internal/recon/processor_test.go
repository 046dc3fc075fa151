package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kabisa/timesync/internal/odoo"
	"github.com/kabisa/timesync/internal/timesheet"
)

type fakeSource struct {
	grouped map[timesheet.Key]time.Duration
	err     error
	calls   int
}

func (f *fakeSource) GroupedEntries(ctx context.Context, start, end time.Time, filter url.Values) (map[timesheet.Key]time.Duration, error) {
	f.calls++
	return f.grouped, f.err
}

type fakeLedger struct {
	entries map[timesheet.Key]odoo.Entry
	dupKeys []timesheet.Key
	nextID  int

	findErr    error
	findDupErr error
	createErr  error
	updateErr  error

	creates, updates, deletes, finds int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[timesheet.Key]odoo.Entry), nextID: 9100}
}

func (f *fakeLedger) FindEntry(ctx context.Context, projectID, taskID int, description string, day time.Time) (odoo.Entry, error) {
	f.finds++
	if f.findErr != nil {
		return odoo.Entry{}, f.findErr
	}
	key := timesheet.Key{ProjectID: projectID, TaskID: taskID, Description: description}
	entry, ok := f.entries[key]
	if !ok {
		return odoo.Entry{}, odoo.ErrNotFound
	}
	return entry, f.findDupErr
}

func (f *fakeLedger) CreateEntry(ctx context.Context, projectID, taskID int, description string, hours float64, day time.Time) (int, error) {
	f.creates++
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	key := timesheet.Key{ProjectID: projectID, TaskID: taskID, Description: description}
	f.entries[key] = odoo.Entry{
		ID: f.nextID, ProjectID: projectID, TaskID: taskID,
		Date: day.Format("2006-01-02"), UnitAmount: hours, Name: description,
	}
	return f.nextID, nil
}

func (f *fakeLedger) UpdateEntry(ctx context.Context, entryID int, hours float64) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates++
	for key, entry := range f.entries {
		if entry.ID == entryID {
			entry.UnitAmount = hours
			f.entries[key] = entry
		}
	}
	return nil
}

func (f *fakeLedger) DeleteEntry(ctx context.Context, entryID int) error {
	f.deletes++
	for key, entry := range f.entries {
		if entry.ID == entryID {
			delete(f.entries, key)
			return nil
		}
	}
	return &odoo.Error{Op: "unlink", Message: "record does not exist"}
}

func (f *fakeLedger) EntriesBetween(ctx context.Context, start, end time.Time) (map[timesheet.Key]odoo.Entry, []timesheet.Key, error) {
	out := make(map[timesheet.Key]odoo.Entry, len(f.entries))
	for k, v := range f.entries {
		out[k] = v
	}
	return out, f.dupKeys, nil
}

type fakeLinks struct {
	links map[string]int
}

func newFakeLinks() *fakeLinks { return &fakeLinks{links: make(map[string]int)} }

func (f *fakeLinks) Get(ctx context.Context, clockifyID string) (int, error) {
	id, ok := f.links[clockifyID]
	if !ok {
		return 0, ErrLinkNotFound
	}
	return id, nil
}

func (f *fakeLinks) Put(ctx context.Context, clockifyID string, odooID int) error {
	f.links[clockifyID] = odooID
	return nil
}

func (f *fakeLinks) Delete(ctx context.Context, clockifyID string) error {
	delete(f.links, clockifyID)
	return nil
}

const testClientID = "625cf508a59c3f5bb60a2b25"

func eventBody(t *testing.T, id, description, note, taskName, start, end string) []byte {
	t.Helper()
	payload := map[string]any{
		"id":          id,
		"description": description,
		"project": map[string]any{
			"id": "p1", "name": "Persoonlijke Ontwikkeling",
			"clientId": testClientID, "note": note,
		},
		"task": map[string]any{"id": "t1", "name": taskName},
		"timeInterval": map[string]any{
			"start": start,
			"end":   end,
		},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func newTestProcessor(source *fakeSource, ledger *fakeLedger, links *fakeLinks) *Processor {
	return NewProcessor(source, ledger, links, testClientID, slog.Default(), nil)
}

var testKey = timesheet.Key{ProjectID: 857, TaskID: 8494, Description: "cloud practitioner"}

func TestProcessCreatesEntry(t *testing.T) {
	// 26 tracked seconds round up to a quarter hour.
	source := &fakeSource{grouped: map[timesheet.Key]time.Duration{testKey: 26 * time.Second}}
	ledger := newFakeLedger()
	links := newFakeLinks()
	p := newTestProcessor(source, ledger, links)

	body := eventBody(t, "entry-1", "cloud practitioner", "odoo_id=857", "Research / Zelfstudie #8494",
		"2022-04-21T06:51:17Z", "2022-04-21T06:51:43Z")
	require.NoError(t, p.Process(context.Background(), "stopped", body))

	require.Equal(t, 1, ledger.creates)
	require.Equal(t, 0.25, ledger.entries[testKey].UnitAmount)
	require.Equal(t, ledger.entries[testKey].ID, links.links["entry-1"])
}

func TestProcessIsIdempotent(t *testing.T) {
	source := &fakeSource{grouped: map[timesheet.Key]time.Duration{testKey: 26 * time.Second}}
	ledger := newFakeLedger()
	p := newTestProcessor(source, ledger, newFakeLinks())

	body := eventBody(t, "entry-1", "cloud practitioner", "odoo_id=857", "Research / Zelfstudie #8494",
		"2022-04-21T06:51:17Z", "2022-04-21T06:51:43Z")
	require.NoError(t, p.Process(context.Background(), "stopped", body))
	require.NoError(t, p.Process(context.Background(), "stopped", body))

	require.Equal(t, 1, ledger.creates, "second delivery must not create a second row")
	require.Equal(t, 0, ledger.updates, "second delivery must be a no-op")
	require.Len(t, ledger.entries, 1)
}

func TestProcessDeletesZeroedEntry(t *testing.T) {
	// The entry exists in the ledger but the source no longer reports time.
	source := &fakeSource{grouped: map[timesheet.Key]time.Duration{}}
	ledger := newFakeLedger()
	ledger.entries[testKey] = odoo.Entry{ID: 9001, ProjectID: 857, TaskID: 8494, UnitAmount: 1.0, Name: "cloud practitioner"}
	p := newTestProcessor(source, ledger, newFakeLinks())

	body := eventBody(t, "entry-1", "cloud practitioner", "odoo_id=857", "Research / Zelfstudie #8494",
		"2022-04-21T06:51:17Z", "2022-04-21T06:51:43Z")
	require.NoError(t, p.Process(context.Background(), "updated", body))

	require.Equal(t, 1, ledger.deletes)
	require.Empty(t, ledger.entries)
}

func TestProcessUpdatesChangedDuration(t *testing.T) {
	source := &fakeSource{grouped: map[timesheet.Key]time.Duration{testKey: 70 * time.Minute}}
	ledger := newFakeLedger()
	ledger.entries[testKey] = odoo.Entry{ID: 9001, ProjectID: 857, TaskID: 8494, UnitAmount: 1.0, Name: "cloud practitioner"}
	p := newTestProcessor(source, ledger, newFakeLinks())

	body := eventBody(t, "entry-1", "cloud practitioner", "odoo_id=857", "Research / Zelfstudie #8494",
		"2022-04-21T06:00:00Z", "2022-04-21T07:10:00Z")
	require.NoError(t, p.Process(context.Background(), "updated", body))

	require.Equal(t, 1, ledger.updates)
	require.Equal(t, 1.25, ledger.entries[testKey].UnitAmount)
}

func TestProcessProceedsOnDuplicateRows(t *testing.T) {
	// Duplicate remote rows are a logged warning, not a dead end: the event
	// still reconciles against the lowest-id row the gateway returned.
	source := &fakeSource{grouped: map[timesheet.Key]time.Duration{testKey: 70 * time.Minute}}
	ledger := newFakeLedger()
	ledger.entries[testKey] = odoo.Entry{ID: 9001, ProjectID: 857, TaskID: 8494, UnitAmount: 1.0, Name: "cloud practitioner"}
	ledger.findDupErr = fmt.Errorf("%w: 2 rows", odoo.ErrDuplicateRows)
	p := newTestProcessor(source, ledger, newFakeLinks())

	body := eventBody(t, "entry-1", "cloud practitioner", "odoo_id=857", "Research / Zelfstudie #8494",
		"2022-04-21T06:00:00Z", "2022-04-21T07:10:00Z")
	require.NoError(t, p.Process(context.Background(), "updated", body))

	require.Equal(t, 1, ledger.updates)
	require.Equal(t, 1.25, ledger.entries[testKey].UnitAmount)
}

func TestProcessIgnoresForeignClient(t *testing.T) {
	source := &fakeSource{}
	ledger := newFakeLedger()
	p := newTestProcessor(source, ledger, newFakeLinks())

	payload := map[string]any{
		"id":           "entry-1",
		"description":  "other company work",
		"project":      map[string]any{"id": "p1", "name": "Foreign", "clientId": "someone-else", "note": "odoo_id=1"},
		"task":         map[string]any{"id": "t1", "name": "Work #1"},
		"timeInterval": map[string]any{"start": "2022-04-21T06:00:00Z", "end": "2022-04-21T07:00:00Z"},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	require.NoError(t, p.Process(context.Background(), "stopped", body))
	require.Equal(t, 0, source.calls)
	require.Equal(t, 0, ledger.finds)
}

func TestProcessIgnoresUnparsableIdentity(t *testing.T) {
	source := &fakeSource{}
	ledger := newFakeLedger()
	p := newTestProcessor(source, ledger, newFakeLinks())

	body := eventBody(t, "entry-1", "work", "no id here", "Task #123abc",
		"2022-04-21T06:00:00Z", "2022-04-21T07:00:00Z")
	require.NoError(t, p.Process(context.Background(), "stopped", body))
	require.Equal(t, 0, source.calls)
	require.Equal(t, 0, ledger.finds)
}

func TestProcessMalformedBodyIsAcknowledged(t *testing.T) {
	p := newTestProcessor(&fakeSource{}, newFakeLedger(), newFakeLinks())
	require.NoError(t, p.Process(context.Background(), "stopped", []byte("{not json")))
	require.NoError(t, p.Process(context.Background(), "stopped", []byte(`{"id":"x"}`)))
}

func TestProcessGatewayErrorIsRetryable(t *testing.T) {
	source := &fakeSource{err: fmt.Errorf("clockify: GET time-entries: status 502")}
	p := newTestProcessor(source, newFakeLedger(), newFakeLinks())

	body := eventBody(t, "entry-1", "cloud practitioner", "odoo_id=857", "Research / Zelfstudie #8494",
		"2022-04-21T06:51:17Z", "2022-04-21T06:51:43Z")
	require.Error(t, p.Process(context.Background(), "stopped", body))
}

func TestProcessDeletedUsesLink(t *testing.T) {
	ledger := newFakeLedger()
	ledger.entries[testKey] = odoo.Entry{ID: 9001, ProjectID: 857, TaskID: 8494, UnitAmount: 0.25, Name: "cloud practitioner"}
	links := newFakeLinks()
	links.links["entry-1"] = 9001
	source := &fakeSource{}
	p := newTestProcessor(source, ledger, links)

	// A deleted payload may no longer carry parseable identity; the link
	// alone must be enough.
	body := eventBody(t, "entry-1", "cloud practitioner", "", "Research / Zelfstudie",
		"2022-04-21T06:51:17Z", "2022-04-21T06:51:43Z")
	require.NoError(t, p.Process(context.Background(), "deleted", body))

	require.Equal(t, 1, ledger.deletes)
	require.Empty(t, ledger.entries)
	require.Empty(t, links.links)
	require.Equal(t, 0, source.calls)
}

func TestProcessDeletedWithoutLinkIsNoOp(t *testing.T) {
	ledger := newFakeLedger()
	p := newTestProcessor(&fakeSource{}, ledger, newFakeLinks())

	body := eventBody(t, "entry-unknown", "gone", "odoo_id=857", "Work #1",
		"2022-04-21T06:00:00Z", "2022-04-21T07:00:00Z")
	require.NoError(t, p.Process(context.Background(), "deleted", body))
	require.Equal(t, 0, ledger.deletes)
}

func TestProcessDeletedStaleLinkDoesNotCrash(t *testing.T) {
	ledger := newFakeLedger()
	links := newFakeLinks()
	links.links["entry-1"] = 4242 // row no longer exists in Odoo
	p := newTestProcessor(&fakeSource{}, ledger, links)

	body := eventBody(t, "entry-1", "gone", "odoo_id=857", "Work #1",
		"2022-04-21T06:00:00Z", "2022-04-21T07:00:00Z")
	require.NoError(t, p.Process(context.Background(), "deleted", body))
	require.Empty(t, links.links, "stale link should be cleaned up")
}
