package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/osvaldoandrade/captionq/pkg/domain"

	"github.com/go-redis/redis/v8"
)

// ResultRepository is the per-session result aggregator. Appends are atomic
// against the latest stored collection, so concurrent pipelines never lose
// each other's entries. Entries are never removed one by one; Reset clears a
// whole session.
type ResultRepository interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	AppendImage(ctx context.Context, sessionID string, img domain.UploadedImage) error
	AppendResult(ctx context.Context, sessionID string, res domain.EnrichedResult) error
	ListImages(ctx context.Context, sessionID string) ([]domain.UploadedImage, error)
	ListResults(ctx context.Context, sessionID string) ([]domain.EnrichedResult, error)
	SetLastError(ctx context.Context, sessionID string, msg string) error
	Snapshot(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error)
	Reset(ctx context.Context, sessionID string) error
	// ClaimIdempotencyKey stores runID under key unless the key is already
	// taken, in which case the stored run id is returned with claimed=false.
	ClaimIdempotencyKey(ctx context.Context, sessionID, key, runID string) (existing string, claimed bool, err error)
	CountActiveSessions(ctx context.Context) (int64, error)
}

type resultRedisRepo struct {
	rdb *redis.Client
	now func() time.Time
}

func NewResultRepository(rdb *redis.Client, now func() time.Time) ResultRepository {
	if now == nil {
		now = time.Now
	}
	return &resultRedisRepo{rdb: rdb, now: now}
}

// ===== Redis keys =====
func keySession(id string) string   { return fmt.Sprintf("captionq:session:%s", id) }
func keyImages(id string) string    { return fmt.Sprintf("captionq:session:%s:images", id) }
func keyResults(id string) string   { return fmt.Sprintf("captionq:session:%s:results", id) }
func keyImageIDs(id string) string  { return fmt.Sprintf("captionq:session:%s:imageids", id) }
func keyLastError(id string) string { return fmt.Sprintf("captionq:session:%s:error", id) }
func keyIdem(id, key string) string { return fmt.Sprintf("captionq:session:%s:idem:%s", id, key) }
func keyActiveSessions() string     { return "captionq:sessions:active" }
func sessionKeys(id string) []string {
	return []string{keyImages(id), keyImageIDs(id), keyResults(id), keyLastError(id)}
}

const (
	appendImage  = "image"
	appendResult = "result"
)

// appendScript pushes ARGV[1] onto KEYS[2] only while the session in KEYS[1]
// exists. Images also record their id (ARGV[2]) in the set KEYS[3]; results
// are refused with -1 unless their image id is still in that set. Expiry
// follows the session.
var appendScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if ARGV[3] == "result" and redis.call("SISMEMBER", KEYS[3], ARGV[2]) == 0 then
  return -1
end
redis.call("RPUSH", KEYS[2], ARGV[1])
if ARGV[3] == "image" then
  redis.call("SADD", KEYS[3], ARGV[2])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[2], ttl)
  redis.call("PEXPIRE", KEYS[3], ttl)
end
return 1
`)

func (r *resultRedisRepo) CreateSession(ctx context.Context, s domain.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, keySession(s.ID), string(b), 0)
	if !s.ExpiresAt.IsZero() {
		pipe.ExpireAt(ctx, keySession(s.ID), s.ExpiresAt)
	}
	pipe.ZAdd(ctx, keyActiveSessions(), &redis.Z{Score: float64(s.ExpiresAt.UTC().Unix()), Member: s.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis create session: %w", err)
	}
	return nil
}

func (r *resultRedisRepo) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	js, err := r.rdb.Get(ctx, keySession(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET session: %w", err)
	}
	var s domain.Session
	if err := json.Unmarshal([]byte(js), &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *resultRedisRepo) appendJSON(ctx context.Context, sessionID, listKey, kind, imageID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	keys := []string{keySession(sessionID), listKey, keyImageIDs(sessionID)}
	n, err := appendScript.Run(ctx, r.rdb, keys, string(b), imageID, kind).Int()
	if err != nil {
		return fmt.Errorf("redis append %s: %w", kind, err)
	}
	switch n {
	case 0:
		return domain.ErrSessionNotFound
	case -1:
		return fmt.Errorf("%w: %s", domain.ErrImageNotInSession, imageID)
	}
	return nil
}

func (r *resultRedisRepo) AppendImage(ctx context.Context, sessionID string, img domain.UploadedImage) error {
	return r.appendJSON(ctx, sessionID, keyImages(sessionID), appendImage, img.ID, img)
}

// AppendResult refuses a result whose image is not in the session.
func (r *resultRedisRepo) AppendResult(ctx context.Context, sessionID string, res domain.EnrichedResult) error {
	return r.appendJSON(ctx, sessionID, keyResults(sessionID), appendResult, res.ImageID, res)
}

func (r *resultRedisRepo) ListImages(ctx context.Context, sessionID string) ([]domain.UploadedImage, error) {
	raw, err := r.rdb.LRange(ctx, keyImages(sessionID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis LRANGE images: %w", err)
	}
	return decodeList[domain.UploadedImage](raw)
}

func (r *resultRedisRepo) ListResults(ctx context.Context, sessionID string) ([]domain.EnrichedResult, error) {
	raw, err := r.rdb.LRange(ctx, keyResults(sessionID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis LRANGE results: %w", err)
	}
	return decodeList[domain.EnrichedResult](raw)
}

func decodeList[T any](raw []string) ([]T, error) {
	out := make([]T, 0, len(raw))
	for _, js := range raw {
		var v T
		if err := json.Unmarshal([]byte(js), &v); err != nil {
			return nil, fmt.Errorf("unmarshal entry: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *resultRedisRepo) SetLastError(ctx context.Context, sessionID string, msg string) error {
	ttl, err := r.rdb.PTTL(ctx, keySession(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("redis PTTL session: %w", err)
	}
	// -2 means missing, -1 means no expiry
	switch {
	case ttl == -2:
		return domain.ErrSessionNotFound
	case ttl < 0:
		ttl = 0
	}
	if err := r.rdb.Set(ctx, keyLastError(sessionID), msg, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET last error: %w", err)
	}
	return nil
}

func (r *resultRedisRepo) Snapshot(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error) {
	s, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	pipe := r.rdb.Pipeline()
	imgs := pipe.LRange(ctx, keyImages(sessionID), 0, -1)
	res := pipe.LRange(ctx, keyResults(sessionID), 0, -1)
	lastErr := pipe.Get(ctx, keyLastError(sessionID))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis snapshot: %w", err)
	}
	images, err := decodeList[domain.UploadedImage](imgs.Val())
	if err != nil {
		return nil, err
	}
	results, err := decodeList[domain.EnrichedResult](res.Val())
	if err != nil {
		return nil, err
	}
	return &domain.SessionSnapshot{
		Session:   *s,
		Images:    images,
		Results:   results,
		LastError: lastErr.Val(),
	}, nil
}

func (r *resultRedisRepo) Reset(ctx context.Context, sessionID string) error {
	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return err
	}
	if err := r.rdb.Del(ctx, sessionKeys(sessionID)...).Err(); err != nil {
		return fmt.Errorf("redis DEL session data: %w", err)
	}
	return nil
}

func (r *resultRedisRepo) ClaimIdempotencyKey(ctx context.Context, sessionID, key, runID string) (string, bool, error) {
	k := keyIdem(sessionID, key)
	ok, err := r.rdb.SetNX(ctx, k, runID, 24*time.Hour).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis SETNX idempotency: %w", err)
	}
	if ok {
		return runID, true, nil
	}
	existing, err := r.rdb.Get(ctx, k).Result()
	if err != nil && err != redis.Nil {
		return "", false, fmt.Errorf("redis GET idempotency: %w", err)
	}
	return existing, false, nil
}

func (r *resultRedisRepo) CountActiveSessions(ctx context.Context) (int64, error) {
	min := fmt.Sprintf("%d", r.now().UTC().Unix())
	// drop expired members so the index stays bounded
	if err := r.rdb.ZRemRangeByScore(ctx, keyActiveSessions(), "-inf", "("+min).Err(); err != nil {
		return 0, fmt.Errorf("redis ZREMRANGEBYSCORE sessions: %w", err)
	}
	n, err := r.rdb.ZCount(ctx, keyActiveSessions(), min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis ZCOUNT sessions: %w", err)
	}
	return n, nil
}
