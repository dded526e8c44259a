// Package forwarder relays accepted signals to registered webhook subscribers.
package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"
	concpool "github.com/sourcegraph/conc/pool"

	"github.com/coachpo/tradeflow/internal/journal"
	"github.com/coachpo/tradeflow/internal/observability"
	"github.com/coachpo/tradeflow/internal/schema"
)

// SubscriptionSource lists the currently registered webhook subscriptions.
type SubscriptionSource interface {
	ActiveWebhooks(ctx context.Context) ([]journal.Webhook, error)
}

const (
	defaultRefreshInterval  = 15 * time.Minute
	defaultTimeout          = 5 * time.Second
	deliveryAttempts        = 3
	maxConcurrentDeliveries = 8
)

// Forwarder fans accepted signals out to webhook subscribers. Delivery runs in
// the background so signal processing never waits on a slow subscriber, and
// one subscriber's failure never affects the others.
type Forwarder struct {
	source   SubscriptionSource
	interval time.Duration
	client   *http.Client
	now      func() time.Time

	mu    sync.RWMutex
	hooks []journal.Webhook

	background conc.WaitGroup
}

// Options tunes the forwarder. Zero values take defaults.
type Options struct {
	RefreshInterval time.Duration
	Timeout         time.Duration
	HTTPClient      *http.Client
}

// New constructs a forwarder over the subscription source.
func New(source SubscriptionSource, opts Options) *Forwarder {
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Forwarder{
		source:   source,
		interval: interval,
		client:   client,
		now:      time.Now,
	}
}

// Run refreshes the subscriber list immediately and then on every interval
// tick until ctx is done.
func (f *Forwarder) Run(ctx context.Context) {
	if err := f.Refresh(ctx); err != nil {
		observability.Log().Error("webhook refresh failed", observability.F("error", err))
	}
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Refresh(ctx); err != nil {
				observability.Log().Error("webhook refresh failed", observability.F("error", err))
			}
		}
	}
}

// Refresh reloads the subscriber list from the source.
func (f *Forwarder) Refresh(ctx context.Context) error {
	hooks, err := f.source.ActiveWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("load webhooks: %w", err)
	}
	f.mu.Lock()
	f.hooks = hooks
	f.mu.Unlock()
	observability.Log().Debug("webhook subscriptions refreshed",
		observability.F("count", len(hooks)))
	return nil
}

// Forward schedules delivery of the signal to every valid, unexpired
// subscriber and returns immediately.
func (f *Forwarder) Forward(ctx context.Context, signal *schema.Signal) {
	targets := f.eligibleTargets()
	if len(targets) == 0 {
		return
	}
	payload, err := json.Marshal(signal)
	if err != nil {
		observability.Log().Error("encode signal for forwarding", observability.F("error", err))
		return
	}
	f.background.Go(func() {
		tasks := concpool.New().WithMaxGoroutines(maxConcurrentDeliveries)
		for _, hook := range targets {
			tasks.Go(func() {
				if err := f.deliver(ctx, hook, payload); err != nil {
					observability.Log().Error("webhook delivery failed",
						observability.F("url", hook.URL), observability.F("error", err))
				}
			})
		}
		tasks.Wait()
	})
}

// Wait blocks until all in-flight deliveries settle.
func (f *Forwarder) Wait() {
	f.background.Wait()
}

// eligibleTargets snapshots the subscribers with a well-formed URL that have
// not expired.
func (f *Forwarder) eligibleTargets() []journal.Webhook {
	f.mu.RLock()
	defer f.mu.RUnlock()
	now := f.now()
	var targets []journal.Webhook
	for _, hook := range f.hooks {
		if hook.Expired(now) {
			continue
		}
		if !validWebhookURL(hook.URL) {
			observability.Log().Warn("skipping malformed webhook url",
				observability.F("url", hook.URL))
			continue
		}
		targets = append(targets, hook)
	}
	return targets
}

func (f *Forwarder) deliver(ctx context.Context, hook journal.Webhook, payload []byte) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < deliveryAttempts; attempt++ {
		if attempt > 0 {
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				break
			}
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if lastErr = f.deliverOnce(ctx, hook, payload); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (f *Forwarder) deliverOnce(ctx context.Context, hook journal.Webhook, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", hook.URL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("post %s: unexpected status %d", hook.URL, resp.StatusCode)
	}
	return nil
}

func validWebhookURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
