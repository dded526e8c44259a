package forwarder

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/tradeflow/internal/journal"
	"github.com/coachpo/tradeflow/internal/schema"
)

type staticSource struct {
	hooks []journal.Webhook
	err   error
}

func (s *staticSource) ActiveWebhooks(context.Context) ([]journal.Webhook, error) {
	return s.hooks, s.err
}

func newForwarder(t *testing.T, hooks ...journal.Webhook) *Forwarder {
	t.Helper()
	f := New(&staticSource{hooks: hooks}, Options{Timeout: 2 * time.Second})
	if err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return f
}

func TestForwardDeliversSignalPayload(t *testing.T) {
	var body atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body.Store(string(raw))
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newForwarder(t, journal.Webhook{
		ID: "1", URL: server.URL, ExpiresAt: time.Now().Add(time.Hour),
	})
	f.Forward(context.Background(), &schema.Signal{Asset: "ETH", Side: schema.SideBuy, Reason: "breakout"})
	f.Wait()

	raw, _ := body.Load().(string)
	var got schema.Signal
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("decode delivered payload %q: %v", raw, err)
	}
	if got.Asset != "ETH" || got.Side != schema.SideBuy || got.Reason != "breakout" {
		t.Fatalf("delivered signal = %+v", got)
	}
}

func TestForwardSkipsExpiredAndMalformedTargets(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newForwarder(t,
		journal.Webhook{ID: "1", URL: server.URL, ExpiresAt: time.Now().Add(time.Hour)},
		journal.Webhook{ID: "2", URL: server.URL, ExpiresAt: time.Now().Add(-time.Hour)},
		journal.Webhook{ID: "3", URL: "not a url", ExpiresAt: time.Now().Add(time.Hour)},
		journal.Webhook{ID: "4", URL: "ftp://example.com/hook", ExpiresAt: time.Now().Add(time.Hour)},
	)
	f.Forward(context.Background(), &schema.Signal{Asset: "ETH", Side: schema.SideBuy})
	f.Wait()

	if calls.Load() != 1 {
		t.Fatalf("deliveries = %d, want only the live well-formed target", calls.Load())
	}
}

func TestForwardRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newForwarder(t, journal.Webhook{
		ID: "1", URL: server.URL, ExpiresAt: time.Now().Add(time.Hour),
	})
	f.Forward(context.Background(), &schema.Signal{Asset: "ETH", Side: schema.SideBuy})
	f.Wait()

	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want one retry after the 502", calls.Load())
	}
}

func TestForwardIsolatesSubscriberFailures(t *testing.T) {
	var healthy atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		healthy.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	f := newForwarder(t,
		journal.Webhook{ID: "1", URL: broken.URL, ExpiresAt: time.Now().Add(time.Hour)},
		journal.Webhook{ID: "2", URL: server.URL, ExpiresAt: time.Now().Add(time.Hour)},
	)
	f.Forward(context.Background(), &schema.Signal{Asset: "ETH", Side: schema.SideBuy})
	f.Wait()

	if healthy.Load() != 1 {
		t.Fatalf("healthy deliveries = %d, want 1 despite the broken sibling", healthy.Load())
	}
}

func TestForwardWithoutTargetsIsNoOp(t *testing.T) {
	f := newForwarder(t)
	f.Forward(context.Background(), &schema.Signal{Asset: "ETH", Side: schema.SideBuy})
	f.Wait()
}
