package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/osvaldoandrade/captionq/internal/events"
	"github.com/osvaldoandrade/captionq/internal/metrics"
	"github.com/osvaldoandrade/captionq/internal/providers"
	"github.com/osvaldoandrade/captionq/internal/ratelimit"
	"github.com/osvaldoandrade/captionq/internal/repository"
	"github.com/osvaldoandrade/captionq/pkg/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const DefaultMaxConcurrentPipelines = 16

// PipelineService drives one image from upload to an appended result.
type PipelineService interface {
	// Process runs a pipeline to completion and returns its result.
	Process(ctx context.Context, sessionID string, up domain.ImageUpload) (*domain.EnrichedResult, error)
	// Start validates the upload, then runs the pipeline in the background.
	// created is false when idempotencyKey was already used in the session;
	// the returned run is then the earlier one.
	Start(ctx context.Context, sessionID string, up domain.ImageUpload, idempotencyKey string) (run *domain.PipelineRun, created bool, err error)
	GetPrediction(ctx context.Context, id string) (*domain.PredictionJob, error)
	// Close waits for background pipelines. When ctx ends first the remaining
	// runs are cancelled.
	Close(ctx context.Context) error
}

type PipelineDeps struct {
	Repo      repository.ResultRepository
	Store     providers.ObjectStore
	Converter providers.ConversionClient
	Predictor providers.PredictionClient
	Poller    PollerService
	Callback  ResultCallbackService
	Publisher events.Publisher

	Limiter          ratelimit.Limiter
	PredictionBucket ratelimit.Bucket

	MaxFileSizeBytes int64
	MaxConcurrent    int

	Logger *slog.Logger
	Now    func() time.Time
}

type pipelineService struct {
	PipelineDeps

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	base   context.Context
	cancel context.CancelFunc
}

func NewPipelineService(d PipelineDeps) PipelineService {
	if d.MaxConcurrent <= 0 {
		d.MaxConcurrent = DefaultMaxConcurrentPipelines
	}
	if d.MaxFileSizeBytes == 0 {
		d.MaxFileSizeBytes = providers.DefaultMaxFileSizeBytes
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Publisher == nil {
		d.Publisher = events.NewNopPublisher()
	}
	if d.Poller == nil {
		d.Poller = NewPollerService(d.Predictor, PollerConfig{}, d.Logger)
	}
	base, cancel := context.WithCancel(context.Background())
	return &pipelineService{
		PipelineDeps: d,
		sem:          semaphore.NewWeighted(int64(d.MaxConcurrent)),
		base:         base,
		cancel:       cancel,
	}
}

func (s *pipelineService) Process(ctx context.Context, sessionID string, up domain.ImageUpload) (*domain.EnrichedResult, error) {
	sess, err := s.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, uuid.NewString(), *sess, up)
}

func (s *pipelineService) Start(ctx context.Context, sessionID string, up domain.ImageUpload, idempotencyKey string) (*domain.PipelineRun, bool, error) {
	sess, err := s.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if err := s.checkSize(up); err != nil {
		return nil, false, err
	}

	runID := uuid.NewString()
	if idempotencyKey != "" {
		existing, claimed, err := s.Repo.ClaimIdempotencyKey(ctx, sessionID, idempotencyKey, runID)
		if err != nil {
			return nil, false, err
		}
		if !claimed {
			return &domain.PipelineRun{RunID: existing, SessionID: sessionID, FileName: up.FileName}, false, nil
		}
	}

	// Detach from the request but keep its trace as parent.
	runCtx := trace.ContextWithSpanContext(s.base, trace.SpanContextFromContext(ctx))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(runCtx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)
		_, _ = s.run(runCtx, runID, *sess, up)
	}()

	return &domain.PipelineRun{RunID: runID, SessionID: sessionID, FileName: up.FileName}, true, nil
}

func (s *pipelineService) GetPrediction(ctx context.Context, id string) (*domain.PredictionJob, error) {
	job, err := s.Predictor.FetchPrediction(ctx, id)
	observeCall("replicate", "fetch_prediction", err)
	return job, err
}

func (s *pipelineService) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *pipelineService) run(ctx context.Context, runID string, sess domain.Session, up domain.ImageUpload) (*domain.EnrichedResult, error) {
	kind := "raster"
	if up.IsSVG() {
		kind = "svg"
	}
	start := s.Now()
	metrics.PipelinesStartedTotal.WithLabelValues(kind).Inc()

	ctx, span := otel.Tracer("captionq/pipeline").Start(ctx, "captionq.pipeline.run",
		trace.WithAttributes(
			attribute.String("captionq.session_id", sess.ID),
			attribute.String("captionq.run_id", runID),
			attribute.String("captionq.image_kind", kind),
		),
	)
	defer span.End()

	logger := s.Logger.With("session_id", sess.ID, "run_id", runID, "file_name", up.FileName)
	res, err := s.steps(ctx, logger, sess.ID, up)

	outcome := metrics.Outcome(err)
	metrics.PipelinesCompletedTotal.WithLabelValues(outcome).Inc()
	metrics.PipelineDurationSeconds.WithLabelValues(outcome).Observe(s.Now().Sub(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.fail(ctx, logger, runID, sess, up, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("captionq.prediction_id", res.ID))
	logger.Info("pipeline completed", "image_id", res.ImageID, "prediction_id", res.ID)
	s.notify(ctx, logger, runID, sess, res, nil)
	return res, nil
}

func (s *pipelineService) steps(ctx context.Context, logger *slog.Logger, sessionID string, up domain.ImageUpload) (*domain.EnrichedResult, error) {
	var (
		img      domain.UploadedImage
		imageURL string
		job      *domain.PredictionJob
		res      domain.EnrichedResult
	)

	err := s.step(ctx, logger, domain.StepUploading, func(ctx context.Context) error {
		var err error
		img, err = s.upload(ctx, up)
		if err != nil {
			return err
		}
		imageURL = img.URL
		return s.Repo.AppendImage(ctx, sessionID, img)
	})
	if err != nil {
		return nil, err
	}
	logger = logger.With("image_id", img.ID)

	if up.IsSVG() {
		err = s.step(ctx, logger, domain.StepConverting, func(ctx context.Context) error {
			taskID, err := s.Converter.SubmitConversion(ctx, imageURL)
			observeCall("cloudconvert", "submit", err)
			if err != nil {
				return err
			}
			pngURL, err := s.Converter.FetchConversionResult(ctx, taskID)
			observeCall("cloudconvert", "fetch", err)
			if err != nil {
				return err
			}
			imageURL = pngURL
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	err = s.step(ctx, logger, domain.StepPredicting, func(ctx context.Context) error {
		err := ratelimit.Wait(ctx, s.Limiter, "predictions", sessionID, s.PredictionBucket, func(ratelimit.Decision) {
			metrics.RateLimitHitsTotal.WithLabelValues("predictions", "submit").Inc()
		})
		if err != nil {
			return err
		}
		job, err = s.Predictor.SubmitPrediction(ctx, imageURL)
		observeCall("replicate", "submit", err)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = s.step(ctx, logger, domain.StepPolling, func(ctx context.Context) error {
		var err error
		job, err = s.Poller.Await(ctx, *job)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = s.step(ctx, logger, domain.StepEnriching, func(context.Context) error {
		res = domain.Enrich(*job, img, s.Now().UTC())
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.step(ctx, logger, domain.StepAppended, func(ctx context.Context) error {
		return s.Repo.AppendResult(ctx, sessionID, res)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// step runs fn in a child span and tags its error with the step.
func (s *pipelineService) step(ctx context.Context, logger *slog.Logger, step domain.PipelineStep, fn func(context.Context) error) error {
	ctx, span := otel.Tracer("captionq/pipeline").Start(ctx, "captionq.pipeline."+string(step))
	defer span.End()
	logger.Debug("pipeline step", "step", step)
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &domain.StepError{Step: step, Err: err}
	}
	return nil
}

func (s *pipelineService) checkSize(up domain.ImageUpload) error {
	if len(up.Data) > 0 {
		return providers.CheckFileSize(int64(len(up.Data)), s.MaxFileSizeBytes)
	}
	return providers.CheckPayloadSize(up.Payload, s.MaxFileSizeBytes)
}

func (s *pipelineService) upload(ctx context.Context, up domain.ImageUpload) (domain.UploadedImage, error) {
	if err := s.checkSize(up); err != nil {
		return domain.UploadedImage{}, err
	}
	data := up.Data
	contentType := up.ContentType
	if len(data) == 0 {
		raw, mediaType, err := providers.DecodePayload(up.Payload)
		if err != nil {
			return domain.UploadedImage{}, fmt.Errorf("%w: %v", domain.ErrUpload, err)
		}
		data = raw
		if contentType == "" {
			contentType = mediaType
		}
	}
	switch {
	case contentType != "":
	case up.IsSVG():
		contentType = domain.SVGContentType
	default:
		contentType = http.DetectContentType(data)
	}
	if err := providers.CheckFileSize(int64(len(data)), s.MaxFileSizeBytes); err != nil {
		return domain.UploadedImage{}, err
	}
	obj, err := s.Store.Upload(ctx, providers.EncodeDataURI(contentType, data))
	observeCall("object_store", "upload", err)
	if err != nil {
		return domain.UploadedImage{}, err
	}
	size := obj.Bytes
	if size <= 0 {
		size = int64(len(data))
	}
	img := domain.UploadedImage{
		ID:          uuid.NewString(),
		URL:         obj.URL,
		SizeBytes:   size,
		FileName:    up.FileName,
		ContentType: contentType,
		CreatedAt:   s.Now().UTC(),
	}
	if !up.IsSVG() {
		if w, h, err := providers.ProbeDimensions(data); err == nil {
			img.Width, img.Height = w, h
		}
	}
	return img, nil
}

func (s *pipelineService) fail(ctx context.Context, logger *slog.Logger, runID string, sess domain.Session, up domain.ImageUpload, err error) {
	step, _ := domain.FailedStep(err)
	metrics.PipelineFailuresTotal.WithLabelValues(string(step)).Inc()
	logger.Warn("pipeline failed", "step", step, "err", err)
	// The session may be gone already; nothing else to record then.
	if serr := s.Repo.SetLastError(ctx, sess.ID, err.Error()); serr != nil && !errors.Is(serr, domain.ErrSessionNotFound) {
		logger.Error("record last error failed", "err", serr)
	}
	s.notify(ctx, logger, runID, sess, &domain.EnrichedResult{FileName: up.FileName}, err)
}

func (s *pipelineService) notify(ctx context.Context, logger *slog.Logger, runID string, sess domain.Session, res *domain.EnrichedResult, runErr error) {
	ev := events.CaptionEvent{
		Type:       events.TypeCaptionCompleted,
		SessionID:  sess.ID,
		RunID:      runID,
		ImageID:    res.ImageID,
		FileName:   res.FileName,
		OccurredAt: s.Now().UTC(),
	}
	if runErr != nil {
		step, _ := domain.FailedStep(runErr)
		ev.Type = events.TypeCaptionFailed
		ev.Step = string(step)
		ev.Error = runErr.Error()
	} else {
		ev.PredictionID = res.ID
		ev.Caption = res.Caption()
	}
	if err := s.Publisher.Publish(ctx, ev); err != nil {
		logger.Warn("publish caption event failed", "err", err)
	}
	if s.Callback != nil {
		s.Callback.Send(ctx, sess, ev, res)
	}
}

func observeCall(service, operation string, err error) {
	metrics.ExternalCallsTotal.WithLabelValues(service, operation, metrics.Outcome(err)).Inc()
}
