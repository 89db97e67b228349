package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/osvaldoandrade/captionq/internal/repository"
	"github.com/osvaldoandrade/captionq/pkg/auth"
	"github.com/osvaldoandrade/captionq/pkg/domain"

	"github.com/google/uuid"
)

var ErrInvalidWebhook = errors.New("webhook must be an absolute http(s) URL")

type SessionService interface {
	// Create stores a new session and returns it with its bearer token.
	Create(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, string, error)
	Snapshot(ctx context.Context, id string) (*domain.SessionSnapshot, error)
	Reset(ctx context.Context, id string) error
}

type sessionService struct {
	repo   repository.ResultRepository
	issuer auth.Issuer
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewSessionService(repo repository.ResultRepository, issuer auth.Issuer, ttl time.Duration, logger *slog.Logger, now func() time.Time) SessionService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &sessionService{repo: repo, issuer: issuer, ttl: ttl, logger: logger, now: now}
}

func (s *sessionService) Create(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, string, error) {
	webhook := strings.TrimSpace(req.Webhook)
	if webhook != "" {
		u, err := url.Parse(webhook)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, "", ErrInvalidWebhook
		}
	}
	now := s.now().UTC()
	sess := domain.Session{
		ID:        uuid.NewString(),
		Webhook:   webhook,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, "", err
	}
	token, err := s.issuer.Issue(sess.ID, s.ttl)
	if err != nil {
		return nil, "", fmt.Errorf("issue session token: %w", err)
	}
	s.logger.Info("session created", "session_id", sess.ID, "expires_at", sess.ExpiresAt)
	return &sess, token, nil
}

func (s *sessionService) Snapshot(ctx context.Context, id string) (*domain.SessionSnapshot, error) {
	return s.repo.Snapshot(ctx, id)
}

func (s *sessionService) Reset(ctx context.Context, id string) error {
	if err := s.repo.Reset(ctx, id); err != nil {
		return err
	}
	s.logger.Info("session reset", "session_id", id)
	return nil
}
