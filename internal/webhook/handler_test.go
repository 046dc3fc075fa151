package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	events []string
	bodies [][]byte
	err    error
}

func (f *fakeQueue) EnqueueReconcile(ctx context.Context, event string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	f.bodies = append(f.bodies, body)
	return nil
}

func newTestRouter(queue *fakeQueue) http.Handler {
	secrets := map[string]string{
		"updated": "secret-updated",
		"stopped": "secret-stopped",
		"deleted": "secret-deleted",
		"manual":  "secret-manual",
	}
	handler := NewHandler(slog.Default(), secrets, queue, nil)
	r := chi.NewRouter()
	r.Route("/webhooks/clockify", handler.MountRoutes)
	return r
}

func deliver(t *testing.T, router http.Handler, event, signature string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/clockify/"+event, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("clockify-signature", signature)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) bool {
	t.Helper()
	var body struct {
		Accepted bool `json:"Accepted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Accepted
}

func TestSignedDeliveryIsEnqueued(t *testing.T) {
	queue := &fakeQueue{}
	router := newTestRouter(queue)

	payload := []byte(`{"id":"entry-1"}`)
	rec := deliver(t, router, "stopped", "secret-stopped", payload)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeAck(t, rec))
	require.Equal(t, []string{"stopped"}, queue.events)
	require.Equal(t, payload, queue.bodies[0])
}

func TestEachEventChecksItsOwnSecret(t *testing.T) {
	queue := &fakeQueue{}
	router := newTestRouter(queue)

	// The stopped secret does not authorize the deleted endpoint.
	rec := deliver(t, router, "deleted", "secret-stopped", []byte(`{}`))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, decodeAck(t, rec))
	require.Empty(t, queue.events)
}

func TestUnsignedDeliveryIsRejected(t *testing.T) {
	queue := &fakeQueue{}
	router := newTestRouter(queue)

	rec := deliver(t, router, "updated", "", []byte(`{}`))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, decodeAck(t, rec))
	require.Empty(t, queue.events)
}

func TestUnknownEventIsNotFound(t *testing.T) {
	queue := &fakeQueue{}
	router := newTestRouter(queue)

	rec := deliver(t, router, "started", "anything", []byte(`{}`))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, queue.events)
}

func TestEnqueueFailureRefusesDelivery(t *testing.T) {
	queue := &fakeQueue{err: fmt.Errorf("asynq: connection refused")}
	router := newTestRouter(queue)

	rec := deliver(t, router, "manual", "secret-manual", []byte(`{}`))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.False(t, decodeAck(t, rec))
}
