package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/osvaldoandrade/captionq/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupRedisRepo(t *testing.T) (*miniredis.Miniredis, ResultRepository) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewResultRepository(rdb, time.Now)
}

// eachRepo runs fn against the redis and the memory implementation.
func eachRepo(t *testing.T, fn func(t *testing.T, repo ResultRepository)) {
	t.Run("redis", func(t *testing.T) {
		_, repo := setupRedisRepo(t)
		fn(t, repo)
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryResultRepository(time.Now))
	})
}

func newSession(id string) domain.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.Session{ID: id, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
}

func TestSessionLifecycle(t *testing.T) {
	eachRepo(t, func(t *testing.T, repo ResultRepository) {
		ctx := context.Background()
		if _, err := repo.GetSession(ctx, "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		if err := repo.CreateSession(ctx, newSession("s1")); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		got, err := repo.GetSession(ctx, "s1")
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if got.ID != "s1" {
			t.Errorf("session id = %s", got.ID)
		}
		n, err := repo.CountActiveSessions(ctx)
		if err != nil || n != 1 {
			t.Errorf("CountActiveSessions() = %d, %v", n, err)
		}
	})
}

func TestAppendAndSnapshot(t *testing.T) {
	eachRepo(t, func(t *testing.T, repo ResultRepository) {
		ctx := context.Background()
		_ = repo.CreateSession(ctx, newSession("s1"))

		img := domain.UploadedImage{ID: "img-1", URL: "https://cdn/a.png", SizeBytes: 10, FileName: "a.png"}
		if err := repo.AppendImage(ctx, "s1", img); err != nil {
			t.Fatalf("AppendImage: %v", err)
		}
		res := domain.Enrich(domain.PredictionJob{ID: "p1", Status: domain.PredictionSucceeded, Output: "Caption: a"}, img, time.Now().UTC())
		if err := repo.AppendResult(ctx, "s1", res); err != nil {
			t.Fatalf("AppendResult: %v", err)
		}
		if err := repo.SetLastError(ctx, "s1", "uploading: upload failed"); err != nil {
			t.Fatalf("SetLastError: %v", err)
		}

		snap, err := repo.Snapshot(ctx, "s1")
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if len(snap.Images) != 1 || snap.Images[0].ID != "img-1" {
			t.Errorf("images = %+v", snap.Images)
		}
		if len(snap.Results) != 1 || snap.Results[0].ImageID != "img-1" || snap.Results[0].Caption() != "a" {
			t.Errorf("results = %+v", snap.Results)
		}
		if snap.LastError != "uploading: upload failed" {
			t.Errorf("lastError = %q", snap.LastError)
		}

		imgs, _ := repo.ListImages(ctx, "s1")
		results, _ := repo.ListResults(ctx, "s1")
		if len(imgs) != 1 || len(results) != 1 {
			t.Errorf("list lengths = %d, %d", len(imgs), len(results))
		}
	})
}

func TestAppendToMissingSession(t *testing.T) {
	eachRepo(t, func(t *testing.T, repo ResultRepository) {
		ctx := context.Background()
		err := repo.AppendImage(ctx, "nope", domain.UploadedImage{ID: "x"})
		if !errors.Is(err, domain.ErrSessionNotFound) {
			t.Fatalf("AppendImage() = %v", err)
		}
		err = repo.AppendResult(ctx, "nope", domain.EnrichedResult{ImageID: "x"})
		if !errors.Is(err, domain.ErrSessionNotFound) {
			t.Fatalf("AppendResult() = %v", err)
		}
		if err := repo.SetLastError(ctx, "nope", "x"); !errors.Is(err, domain.ErrSessionNotFound) {
			t.Fatalf("SetLastError() = %v", err)
		}
	})
}

func TestResetClearsEverything(t *testing.T) {
	eachRepo(t, func(t *testing.T, repo ResultRepository) {
		ctx := context.Background()
		_ = repo.CreateSession(ctx, newSession("s1"))
		_ = repo.AppendImage(ctx, "s1", domain.UploadedImage{ID: "img-1"})
		_ = repo.AppendResult(ctx, "s1", domain.EnrichedResult{ImageID: "img-1"})
		_ = repo.SetLastError(ctx, "s1", "boom")

		if err := repo.Reset(ctx, "s1"); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		snap, err := repo.Snapshot(ctx, "s1")
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if len(snap.Images) != 0 || len(snap.Results) != 0 || snap.LastError != "" {
			t.Errorf("snapshot after reset = %+v", snap)
		}
		if err := repo.Reset(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
			t.Errorf("Reset(missing) = %v", err)
		}
	})
}

func TestResultNeedsItsImageInSession(t *testing.T) {
	eachRepo(t, func(t *testing.T, repo ResultRepository) {
		ctx := context.Background()
		_ = repo.CreateSession(ctx, newSession("s1"))

		err := repo.AppendResult(ctx, "s1", domain.EnrichedResult{ImageID: "never-uploaded"})
		if !errors.Is(err, domain.ErrImageNotInSession) {
			t.Fatalf("AppendResult(unknown image) = %v, want ErrImageNotInSession", err)
		}

		// A run that uploaded before a reset must not land its result after it.
		if err := repo.AppendImage(ctx, "s1", domain.UploadedImage{ID: "img-1"}); err != nil {
			t.Fatalf("AppendImage: %v", err)
		}
		if err := repo.Reset(ctx, "s1"); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		err = repo.AppendResult(ctx, "s1", domain.EnrichedResult{ImageID: "img-1"})
		if !errors.Is(err, domain.ErrImageNotInSession) {
			t.Fatalf("AppendResult after reset = %v, want ErrImageNotInSession", err)
		}

		snap, err := repo.Snapshot(ctx, "s1")
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if len(snap.Images) != 0 || len(snap.Results) != 0 {
			t.Errorf("images=%d results=%d after rejected append", len(snap.Images), len(snap.Results))
		}

		if err := repo.AppendImage(ctx, "s1", domain.UploadedImage{ID: "img-2"}); err != nil {
			t.Fatalf("AppendImage: %v", err)
		}
		if err := repo.AppendResult(ctx, "s1", domain.EnrichedResult{ImageID: "img-2"}); err != nil {
			t.Errorf("AppendResult(img-2) = %v", err)
		}
	})
}

func TestCountActiveSessionsSurfacesRedisErrors(t *testing.T) {
	mr, repo := setupRedisRepo(t)
	ctx := context.Background()
	_ = repo.CreateSession(ctx, newSession("s1"))

	mr.Close()
	if _, err := repo.CountActiveSessions(ctx); err == nil {
		t.Fatal("expected an error with redis down")
	}
}

func TestConcurrentAppendsLoseNothing(t *testing.T) {
	eachRepo(t, func(t *testing.T, repo ResultRepository) {
		ctx := context.Background()
		_ = repo.CreateSession(ctx, newSession("s1"))

		const n = 50
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("img-%d", i)
				if err := repo.AppendImage(ctx, "s1", domain.UploadedImage{ID: id}); err != nil {
					t.Errorf("AppendImage: %v", err)
					return
				}
				if err := repo.AppendResult(ctx, "s1", domain.EnrichedResult{ImageID: id}); err != nil {
					t.Errorf("AppendResult: %v", err)
				}
			}(i)
		}
		wg.Wait()

		results, err := repo.ListResults(ctx, "s1")
		if err != nil {
			t.Fatalf("ListResults: %v", err)
		}
		if len(results) != n {
			t.Fatalf("results = %d, want %d", len(results), n)
		}
		seen := make(map[string]bool, n)
		for _, r := range results {
			seen[r.ImageID] = true
		}
		if len(seen) != n {
			t.Errorf("distinct image ids = %d, want %d", len(seen), n)
		}
	})
}

func TestClaimIdempotencyKey(t *testing.T) {
	eachRepo(t, func(t *testing.T, repo ResultRepository) {
		ctx := context.Background()
		_ = repo.CreateSession(ctx, newSession("s1"))

		got, claimed, err := repo.ClaimIdempotencyKey(ctx, "s1", "k1", "run-1")
		if err != nil || !claimed || got != "run-1" {
			t.Fatalf("first claim = %q, %v, %v", got, claimed, err)
		}
		got, claimed, err = repo.ClaimIdempotencyKey(ctx, "s1", "k1", "run-2")
		if err != nil || claimed || got != "run-1" {
			t.Fatalf("second claim = %q, %v, %v", got, claimed, err)
		}
	})
}

func TestRedisSessionExpiry(t *testing.T) {
	mr, repo := setupRedisRepo(t)
	ctx := context.Background()
	_ = repo.CreateSession(ctx, newSession("s1"))
	_ = repo.AppendImage(ctx, "s1", domain.UploadedImage{ID: "img-1"})

	if ttl := mr.TTL(keyImages("s1")); ttl <= 0 {
		t.Errorf("image list ttl = %v, want positive", ttl)
	}
	mr.FastForward(2 * time.Hour)
	if _, err := repo.GetSession(ctx, "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected expired session, got %v", err)
	}
}

func TestMemorySessionExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	repo := NewMemoryResultRepository(clock)
	ctx := context.Background()
	_ = repo.CreateSession(ctx, domain.Session{ID: "s1", ExpiresAt: now.Add(time.Minute)})

	now = now.Add(2 * time.Minute)
	if _, err := repo.GetSession(ctx, "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected expired session, got %v", err)
	}
}
