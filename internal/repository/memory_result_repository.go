package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/osvaldoandrade/captionq/pkg/domain"
)

type memorySession struct {
	session   domain.Session
	images    []domain.UploadedImage
	imageIDs  map[string]struct{}
	results   []domain.EnrichedResult
	lastError string
	idem      map[string]string
}

// memoryResultRepo keeps sessions in process memory. It backs the CLI batch
// mode and tests; sessions do not survive a restart.
type memoryResultRepo struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	now      func() time.Time
}

func NewMemoryResultRepository(now func() time.Time) ResultRepository {
	if now == nil {
		now = time.Now
	}
	return &memoryResultRepo{sessions: make(map[string]*memorySession), now: now}
}

// get must be called with mu held.
func (r *memoryResultRepo) get(id string) (*memorySession, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if !s.session.ExpiresAt.IsZero() && !r.now().Before(s.session.ExpiresAt) {
		delete(r.sessions, id)
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

func (r *memoryResultRepo) CreateSession(ctx context.Context, s domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = &memorySession{session: s, imageIDs: make(map[string]struct{}), idem: make(map[string]string)}
	return nil
}

func (r *memoryResultRepo) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(id)
	if err != nil {
		return nil, err
	}
	cp := s.session
	return &cp, nil
}

func (r *memoryResultRepo) AppendImage(ctx context.Context, sessionID string, img domain.UploadedImage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(sessionID)
	if err != nil {
		return err
	}
	s.images = append(s.images, img)
	s.imageIDs[img.ID] = struct{}{}
	return nil
}

func (r *memoryResultRepo) AppendResult(ctx context.Context, sessionID string, res domain.EnrichedResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(sessionID)
	if err != nil {
		return err
	}
	if _, ok := s.imageIDs[res.ImageID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrImageNotInSession, res.ImageID)
	}
	s.results = append(s.results, res)
	return nil
}

func (r *memoryResultRepo) ListImages(ctx context.Context, sessionID string) ([]domain.UploadedImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(sessionID)
	if err != nil {
		return nil, err
	}
	return append([]domain.UploadedImage{}, s.images...), nil
}

func (r *memoryResultRepo) ListResults(ctx context.Context, sessionID string) ([]domain.EnrichedResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(sessionID)
	if err != nil {
		return nil, err
	}
	return append([]domain.EnrichedResult{}, s.results...), nil
}

func (r *memoryResultRepo) SetLastError(ctx context.Context, sessionID string, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(sessionID)
	if err != nil {
		return err
	}
	s.lastError = msg
	return nil
}

func (r *memoryResultRepo) Snapshot(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(sessionID)
	if err != nil {
		return nil, err
	}
	return &domain.SessionSnapshot{
		Session:   s.session,
		Images:    append([]domain.UploadedImage{}, s.images...),
		Results:   append([]domain.EnrichedResult{}, s.results...),
		LastError: s.lastError,
	}, nil
}

func (r *memoryResultRepo) Reset(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(sessionID)
	if err != nil {
		return err
	}
	s.images = nil
	s.imageIDs = make(map[string]struct{})
	s.results = nil
	s.lastError = ""
	return nil
}

func (r *memoryResultRepo) ClaimIdempotencyKey(ctx context.Context, sessionID, key, runID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(sessionID)
	if err != nil {
		return "", false, err
	}
	if existing, ok := s.idem[key]; ok {
		return existing, false, nil
	}
	s.idem[key] = runID
	return runID, true, nil
}

func (r *memoryResultRepo) CountActiveSessions(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := r.now()
	for _, s := range r.sessions {
		if s.session.ExpiresAt.IsZero() || now.Before(s.session.ExpiresAt) {
			n++
		}
	}
	return n, nil
}
