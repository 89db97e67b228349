package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/osvaldoandrade/captionq/internal/events"
	"github.com/osvaldoandrade/captionq/pkg/domain"
)

type delivery struct {
	header http.Header
	body   []byte
}

func newWebhookServer(t *testing.T, failFirst int32) (*httptest.Server, chan delivery, *atomic.Int32) {
	t.Helper()
	got := make(chan delivery, 8)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= failFirst {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		b, _ := io.ReadAll(r.Body)
		got <- delivery{header: r.Header.Clone(), body: b}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, got, &calls
}

func waitDelivery(t *testing.T, ch chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
		return delivery{}
	}
}

func TestResultCallbackDeliversSignedPayload(t *testing.T) {
	srv, got, _ := newWebhookServer(t, 0)
	svc := NewResultCallbackService(slog.Default(), srv.Client(), "hmac-secret", 3, time.Millisecond, time.Millisecond, nil, ratelimitOff)

	res := &domain.EnrichedResult{
		PredictionJob: domain.PredictionJob{ID: "p1", Status: domain.PredictionSucceeded, Output: "Caption: a cat"},
		ImageID:       "img-1",
		FileName:      "cat.png",
	}
	ev := events.CaptionEvent{Type: events.TypeCaptionCompleted, SessionID: "s1", RunID: "r1", Caption: "a cat"}
	svc.Send(context.Background(), domain.Session{ID: "s1", Webhook: srv.URL}, ev, res)

	d := waitDelivery(t, got)
	ts, err := strconv.ParseInt(d.header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		t.Fatalf("timestamp header: %v", err)
	}
	if want := Sign("hmac-secret", ts, d.body); d.header.Get(HeaderSignature) != want {
		t.Errorf("signature = %q, want %q", d.header.Get(HeaderSignature), want)
	}

	var payload struct {
		Type    string                 `json:"type"`
		RunID   string                 `json:"runId"`
		Caption string                 `json:"caption"`
		Result  *domain.EnrichedResult `json:"result"`
	}
	if err := json.Unmarshal(d.body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Type != events.TypeCaptionCompleted || payload.RunID != "r1" || payload.Caption != "a cat" {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Result == nil || payload.Result.ImageID != "img-1" {
		t.Errorf("result = %+v", payload.Result)
	}
}

func TestResultCallbackRetriesUntilSuccess(t *testing.T) {
	srv, got, calls := newWebhookServer(t, 2)
	svc := NewResultCallbackService(slog.Default(), srv.Client(), "", 5, time.Millisecond, 2*time.Millisecond, nil, ratelimitOff)

	svc.Send(context.Background(), domain.Session{ID: "s1", Webhook: srv.URL}, events.CaptionEvent{Type: events.TypeCaptionFailed}, &domain.EnrichedResult{})

	d := waitDelivery(t, got)
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if d.header.Get(HeaderSignature) != "" {
		t.Error("no secret means no signature")
	}
}

func TestResultCallbackWithoutWebhook(t *testing.T) {
	svc := NewResultCallbackService(slog.Default(), nil, "secret", 0, 0, 0, nil, ratelimitOff)
	// nothing to deliver; must return without panicking
	svc.Send(context.Background(), domain.Session{ID: "s1"}, events.CaptionEvent{}, nil)
}

func TestSignIsDeterministic(t *testing.T) {
	a := Sign("k", 100, []byte(`{"a":1}`))
	if a != Sign("k", 100, []byte(`{"a":1}`)) {
		t.Error("same input must give same signature")
	}
	if a == Sign("k", 101, []byte(`{"a":1}`)) || a == Sign("other", 100, []byte(`{"a":1}`)) {
		t.Error("timestamp and secret must change the signature")
	}
}

func TestResultCallbackStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	t.Cleanup(srv.Close)

	svc := NewResultCallbackService(slog.Default(), srv.Client(), "", 4, time.Millisecond, time.Millisecond, nil, ratelimitOff).(*resultCallbackService)
	svc.sendWithRetry(context.Background(), events.CaptionEvent{Type: events.TypeCaptionFailed, RunID: "r1"}, srv.URL, []byte(`{}`))
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want a single attempt for 410", calls.Load())
	}
}

func TestResultCallbackHeadersStableAcrossRetries(t *testing.T) {
	var (
		mu    sync.Mutex
		ids   []string
		calls atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get(HeaderDelivery)+"|"+r.Header.Get(HeaderEvent))
		mu.Unlock()
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	svc := NewResultCallbackService(slog.Default(), srv.Client(), "", 3, time.Millisecond, time.Millisecond, nil, ratelimitOff).(*resultCallbackService)
	svc.sendWithRetry(context.Background(), events.CaptionEvent{Type: events.TypeCaptionCompleted, RunID: "r9"}, srv.URL, []byte(`{}`))

	want := "r9:" + events.TypeCaptionCompleted + "|" + events.TypeCaptionCompleted
	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 2 || ids[0] != want || ids[1] != want {
		t.Errorf("delivery headers = %v, want two of %q", ids, want)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := map[string]time.Duration{
		"3":                             3 * time.Second,
		" 10 ":                          10 * time.Second,
		"":                              0,
		"-1":                            0,
		"Wed, 21 Oct 2015 07:28:00 GMT": 0,
	}
	for in, want := range tests {
		if got := parseRetryAfter(in); got != want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", in, got, want)
		}
	}
}
