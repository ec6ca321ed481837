package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gyaneshwarpardhi/hawatch/internal/metrics"
)

// WebhookType is the registry key of the webhook handler.
const WebhookType = "webhook"

// WebhookConf sizes the delivery pool.
type WebhookConf struct {
	Workers int
	Queue   int
	Timeout time.Duration
}

type delivery struct {
	url  string
	body []byte
}

// Webhook POSTs each match as JSON to params.url. Deliveries run on a
// bounded worker pool; Handle never blocks on the network and returns
// ErrQueueFull when the pool is saturated.
type Webhook struct {
	client *http.Client
	pool   *workerPool[delivery]
	logger *slog.Logger
}

// NewWebhook starts the delivery pool. Call Close to drain it.
func NewWebhook(ctx context.Context, conf WebhookConf, logger *slog.Logger) *Webhook {
	if conf.Workers <= 0 {
		conf.Workers = 4
	}
	if conf.Queue <= 0 {
		conf.Queue = conf.Workers * 64
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Webhook{
		client: &http.Client{Timeout: conf.Timeout},
		logger: logger,
	}
	w.pool = newWorkerPool(ctx, conf.Workers, conf.Queue, w.deliver)
	return w
}

func (w *Webhook) Type() string { return WebhookType }

func (w *Webhook) Validate(params map[string]interface{}) error {
	raw := stringParam(params, "url", "")
	if raw == "" {
		return fmt.Errorf("webhook: url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook: url %q must be an absolute http(s) URL", raw)
	}
	return nil
}

func (w *Webhook) Handle(_ context.Context, inv Invocation) error {
	if err := w.Validate(inv.Params); err != nil {
		return err
	}
	if inv.At.IsZero() {
		inv.At = time.Now()
	}
	body, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}
	if !w.pool.Submit(delivery{url: stringParam(inv.Params, "url", ""), body: body}) {
		return fmt.Errorf("webhook: %w (capacity %d)", ErrQueueFull, w.pool.QueueCap())
	}
	return nil
}

// Close stops accepting deliveries and waits for queued ones to finish.
func (w *Webhook) Close() {
	w.pool.Drain()
}

func (w *Webhook) deliver(ctx context.Context, d delivery) {
	if err := w.post(ctx, d); err != nil {
		metrics.HandlerRuns.WithLabelValues(WebhookType, "delivery_failed").Inc()
		w.logger.Warn("webhook delivery failed", "url", d.url, "err", err)
		return
	}
	metrics.HandlerRuns.WithLabelValues(WebhookType, "delivered").Inc()
}

func (w *Webhook) post(ctx context.Context, d delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(d.body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(excerpt))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
