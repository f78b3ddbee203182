package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeinfer/orchestrator/internal/action"
)

func TestRegistryRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewLogDispatcher("audit")))
	err := r.Register(NewLogDispatcher("audit"))
	assert.Error(t, err)
}

func TestRegistryDispatchDropsUnknownName(t *testing.T) {
	r := NewRegistry()
	// Must not panic or error; unknown dispatcher names are logged and dropped.
	r.Dispatch(context.Background(), action.Action{Dispatcher: "missing"}, "agent", "pipeline")
}

func TestWebhookDispatcherPostsJSONWithSignature(t *testing.T) {
	type received struct {
		body map[string]any
		sig  string
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got <- received{body: body, sig: r.Header.Get("X-Signature")}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher("wh", WebhookConfig{URL: srv.URL, Secret: "s3cr3t"})
	defer d.Close(context.Background())
	act := action.Action{Payload: map[string]any{"score": 0.9}}

	err := d.Dispatch(context.Background(), act, "threshold", "env")
	require.NoError(t, err)

	select {
	case r := <-got:
		assert.Equal(t, "threshold", r.body["agent"])
		assert.Equal(t, "env", r.body["pipeline"])
		assert.Equal(t, 0.9, r.body["score"])
		assert.NotEmpty(t, r.sig)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never delivered")
	}
}

// TestWebhookDispatcherRetriesOnServerError confirms a failing delivery is
// retried rather than dropped after a single attempt: Dispatch itself never
// surfaces delivery-time errors since those happen on a worker goroutine.
func TestWebhookDispatcherRetriesOnServerError(t *testing.T) {
	hits := make(chan string, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- r.Header.Get("X-Delivery-Attempt")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher("wh", WebhookConfig{URL: srv.URL})
	defer d.Close(context.Background())

	err := d.Dispatch(context.Background(), action.Action{}, "a", "p")
	require.NoError(t, err)

	select {
	case attempt := <-hits:
		assert.Equal(t, "1", attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never attempted")
	}

	// The second attempt follows a 1s backoff.
	select {
	case attempt := <-hits:
		assert.Equal(t, "2", attempt)
	case <-time.After(3 * time.Second):
		t.Fatal("failed webhook was never retried")
	}
}

func TestWebhookDispatcherMissingTargetErrors(t *testing.T) {
	d := NewWebhookDispatcher("wh", WebhookConfig{})
	err := d.Dispatch(context.Background(), action.Action{}, "a", "p")
	assert.Error(t, err)
}
