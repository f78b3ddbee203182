package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/edgeinfer/orchestrator/internal/action"
)

const webhookQueueCapacity = 1000

// WebhookConfig configures an HTTP webhook dispatcher.
type WebhookConfig struct {
	URL     string
	Method  string
	Headers map[string]string
	Secret  string
	Timeout time.Duration
	Workers int
}

type webhookJob struct {
	url        string
	payload    []byte
	agentName  string
	pipelineID string
	attempt    int
}

// WebhookDispatcher POSTs (or otherwise sends) each action as JSON to a fixed
// or per-action URL, signing the body with HMAC-SHA256 when a secret is
// configured. Grounded on internal/webhooks.Dispatcher: a bounded delivery
// queue feeding a background worker pool, with failed deliveries retried up
// to 3 attempts with exponential backoff before being dropped.
type WebhookDispatcher struct {
	name   string
	cfg    WebhookConfig
	client *http.Client
	queue  chan *webhookJob
	wg     sync.WaitGroup
}

// NewWebhookDispatcher builds a webhook dispatcher under the given name and
// starts its background worker pool.
func NewWebhookDispatcher(name string, cfg WebhookConfig) *WebhookDispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	d := &WebhookDispatcher{
		name:   name,
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		queue:  make(chan *webhookJob, webhookQueueCapacity),
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

func (d *WebhookDispatcher) Name() string { return d.name }

// Dispatch builds the request body and queues it for asynchronous delivery.
// It returns an error only when the url is missing, the payload can't be
// marshaled, or the queue is at capacity; delivery failures and retries
// happen on a worker goroutine and never reach the caller.
func (d *WebhookDispatcher) Dispatch(_ context.Context, act action.Action, agentName, pipelineID string) error {
	url := act.Target
	if url == "" {
		url = d.cfg.URL
	}
	if url == "" {
		return fmt.Errorf("webhook dispatcher %q: no target url", d.name)
	}

	body := map[string]any{"agent": agentName, "pipeline": pipelineID}
	for k, v := range act.Payload {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("webhook dispatcher %q: marshal payload: %w", d.name, err)
	}

	job := &webhookJob{url: url, payload: payload, agentName: agentName, pipelineID: pipelineID, attempt: 1}
	select {
	case d.queue <- job:
		return nil
	default:
		return fmt.Errorf("webhook dispatcher %q: delivery queue full, dropping", d.name)
	}
}

func (d *WebhookDispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *WebhookDispatcher) deliver(job *webhookJob) {
	req, err := http.NewRequest(d.cfg.Method, job.url, bytes.NewReader(job.payload))
	if err != nil {
		slog.Error("webhook dispatcher build request failed", "dispatcher", d.name, "url", job.url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent", job.agentName)
	req.Header.Set("X-Pipeline", job.pipelineID)
	req.Header.Set("X-Delivery-Attempt", fmt.Sprintf("%d", job.attempt))
	for k, v := range d.cfg.Headers {
		req.Header.Set(k, v)
	}
	if d.cfg.Secret != "" {
		req.Header.Set("X-Signature", "sha256="+signPayload(job.payload, d.cfg.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		slog.Warn("webhook delivery failed", "dispatcher", d.name, "url", job.url, "attempt", job.attempt, "error", err)
		d.retry(job)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("webhook delivery rejected", "dispatcher", d.name, "url", job.url, "attempt", job.attempt, "status", resp.StatusCode)
		d.retry(job)
		return
	}
}

// retry requeues a failed job up to 3 attempts total, sleeping
// attempt^2 seconds between tries, matching internal/webhooks.Dispatcher's
// backoff. A job still failing after its third attempt is dropped.
func (d *WebhookDispatcher) retry(job *webhookJob) {
	if job.attempt >= 3 {
		slog.Error("webhook delivery abandoned after retries", "dispatcher", d.name, "url", job.url, "attempt", job.attempt)
		return
	}
	time.Sleep(time.Duration(job.attempt*job.attempt) * time.Second)
	job.attempt++
	// Close may have closed the queue during the sleep; sending on it then
	// panics, and the retry is dropped instead.
	defer func() {
		if recover() != nil {
			slog.Warn("webhook dispatcher closed, dropping retry", "dispatcher", d.name, "url", job.url)
		}
	}()
	select {
	case d.queue <- job:
	default:
		slog.Warn("webhook dispatcher queue full, dropping retry", "dispatcher", d.name, "url", job.url)
	}
}

// Close stops accepting new deliveries and waits for in-flight and queued
// jobs to drain, or for ctx to expire. A retry that comes due after Close is
// dropped.
func (d *WebhookDispatcher) Close(ctx context.Context) error {
	close(d.queue)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
