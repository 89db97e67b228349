package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/osvaldoandrade/captionq/internal/backoff"
	"github.com/osvaldoandrade/captionq/internal/events"
	"github.com/osvaldoandrade/captionq/internal/metrics"
	"github.com/osvaldoandrade/captionq/internal/providers"
	"github.com/osvaldoandrade/captionq/internal/ratelimit"
	"github.com/osvaldoandrade/captionq/internal/tracing"
	"github.com/osvaldoandrade/captionq/pkg/domain"
)

// Webhook request headers. The delivery id is stable across retries so
// receivers can dedupe.
const (
	HeaderTimestamp = "X-CaptionQ-Timestamp"
	HeaderSignature = "X-CaptionQ-Signature"
	HeaderEvent     = "X-CaptionQ-Event"
	HeaderDelivery  = "X-CaptionQ-Delivery"
)

// ResultCallbackService delivers finished pipeline runs to the session
// webhook, if the session has one.
type ResultCallbackService interface {
	Send(ctx context.Context, sess domain.Session, ev events.CaptionEvent, res *domain.EnrichedResult)
}

type callbackPayload struct {
	events.CaptionEvent
	Result *domain.EnrichedResult `json:"result,omitempty"`
}

type resultCallbackService struct {
	logger      *slog.Logger
	client      providers.HTTPDoer
	secret      string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	limiter ratelimit.Limiter
	bucket  ratelimit.Bucket
	now     func() time.Time
}

func NewResultCallbackService(logger *slog.Logger, client providers.HTTPDoer, secret string, maxAttempts int, baseDelay, maxDelay time.Duration, limiter ratelimit.Limiter, bucket ratelimit.Bucket) ResultCallbackService {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &resultCallbackService{
		logger:      logger,
		client:      client,
		secret:      secret,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		limiter:     limiter,
		bucket:      bucket,
		now:         time.Now,
	}
}

func (s *resultCallbackService) Send(ctx context.Context, sess domain.Session, ev events.CaptionEvent, res *domain.EnrichedResult) {
	if strings.TrimSpace(sess.Webhook) == "" {
		return
	}
	payload := callbackPayload{CaptionEvent: ev}
	if ev.Type == events.TypeCaptionCompleted {
		payload.Result = res
	}
	b, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal callback payload", "err", err)
		return
	}
	// Deliveries outlive the request that finished the pipeline.
	go s.sendWithRetry(context.WithoutCancel(ctx), ev, sess.Webhook, b)
}

func (s *resultCallbackService) sendWithRetry(ctx context.Context, ev events.CaptionEvent, url string, body []byte) {
	deliveryID := ev.RunID + ":" + ev.Type
	logger := s.logger.With("url", url, "kind", ev.Type, "run_id", ev.RunID)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := ratelimit.Wait(ctx, s.limiter, "webhook", url, s.bucket, func(ratelimit.Decision) {
			metrics.RateLimitHitsTotal.WithLabelValues("webhook", "caption_result").Inc()
		})
		if err != nil {
			return
		}

		out := s.deliver(ctx, url, ev.Type, deliveryID, body)
		if out.ok {
			metrics.WebhookDeliveriesTotal.WithLabelValues(ev.Type, "success").Inc()
			return
		}
		logger.Debug("result callback attempt failed", "attempt", attempt, "status", out.status, "err", out.err)
		if out.permanent || attempt == s.maxAttempts {
			break
		}
		delay := backoff.Compute(backoff.Exponential, s.baseDelay, s.maxDelay, attempt-1, nil)
		delay = max(delay, min(out.retryAfter, s.maxDelay))
		if sleepOrDone(ctx, delay) != nil {
			break
		}
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues(ev.Type, "failure").Inc()
	logger.Warn("result callback failed")
}

type deliveryOutcome struct {
	ok         bool
	permanent  bool
	status     int
	retryAfter time.Duration
	err        error
}

// deliver posts one attempt. Client errors other than 408 and 429 are not
// retried; the receiver rejected the payload itself.
func (s *resultCallbackService) deliver(ctx context.Context, url, kind, deliveryID string, body []byte) deliveryOutcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return deliveryOutcome{permanent: true, err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, kind)
	req.Header.Set(HeaderDelivery, deliveryID)
	tracing.InjectHeaders(ctx, req.Header)
	s.addSignature(req, body)

	resp, err := s.client.Do(req)
	if err != nil {
		return deliveryOutcome{err: err}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()

	out := deliveryOutcome{status: resp.StatusCode}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		out.ok = true
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
		out.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusRequestTimeout:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		out.permanent = true
	}
	return out
}

// parseRetryAfter reads the delay-seconds form; HTTP dates are ignored.
func parseRetryAfter(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sign computes the hex HMAC-SHA256 of "<ts>.<body>".
func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *resultCallbackService) addSignature(req *http.Request, body []byte) {
	if strings.TrimSpace(s.secret) == "" {
		return
	}
	ts := s.now().UTC().Unix()
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, Sign(s.secret, ts, body))
}
