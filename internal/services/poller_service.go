package services

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/osvaldoandrade/captionq/internal/backoff"
	"github.com/osvaldoandrade/captionq/internal/metrics"
	"github.com/osvaldoandrade/captionq/pkg/domain"
)

const (
	DefaultPollMaxRetries = 5
	DefaultPollRetryDelay = time.Second
)

// PredictionFetcher is the read side of the prediction client.
type PredictionFetcher interface {
	FetchPrediction(ctx context.Context, id string) (*domain.PredictionJob, error)
}

// PollerService waits for a submitted prediction to reach a terminal status.
type PollerService interface {
	Await(ctx context.Context, job domain.PredictionJob) (*domain.PredictionJob, error)
}

type PollerConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	// Policy is a backoff policy name; empty means fixed.
	Policy   string
	MaxDelay time.Duration
}

type pollerService struct {
	fetcher PredictionFetcher
	cfg     PollerConfig
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	rng     *rand.Rand
}

func NewPollerService(fetcher PredictionFetcher, cfg PollerConfig, logger *slog.Logger) PollerService {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultPollMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultPollRetryDelay
	}
	if cfg.Policy == "" {
		cfg.Policy = backoff.Fixed
	}
	if cfg.MaxDelay < cfg.RetryDelay {
		cfg.MaxDelay = cfg.RetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &pollerService{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepOrDone,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Await returns the job once it succeeded. The first fetch is immediate and
// every later one waits for the configured delay, so success on fetch N
// costs N fetches and N-1 delays. A job that is already terminal is not
// fetched at all. Anything but succeeded ends in a *domain.PollError.
func (s *pollerService) Await(ctx context.Context, job domain.PredictionJob) (*domain.PredictionJob, error) {
	current := job
	attempts := 0
	for attempts < s.cfg.MaxRetries && !current.Status.IsTerminal() {
		if attempts > 0 {
			delay := backoff.Compute(s.cfg.Policy, s.cfg.RetryDelay, s.cfg.MaxDelay, attempts-1, s.rng)
			if err := s.sleep(ctx, delay); err != nil {
				metrics.PollAttempts.Observe(float64(attempts))
				return nil, err
			}
		}
		next, err := s.fetcher.FetchPrediction(ctx, job.ID)
		attempts++
		if err != nil {
			metrics.PollAttempts.Observe(float64(attempts))
			return nil, err
		}
		current = *next
		s.logger.Debug("prediction polled", "prediction_id", job.ID, "attempt", attempts, "status", current.Status)
	}
	metrics.PollAttempts.Observe(float64(attempts))

	if current.Status == domain.PredictionSucceeded {
		return &current, nil
	}
	return nil, &domain.PollError{
		JobID:    job.ID,
		Status:   current.Status,
		Attempts: attempts,
		Reason:   current.Error,
	}
}
