package ratelimit

import (
	"context"
	"time"
)

// Wait blocks until lim admits one call for subject, sleeping RetryAfter
// between denials. onDenied runs once per denial. Limiter errors fail open.
func Wait(ctx context.Context, lim Limiter, scope, subject string, bucket Bucket, onDenied func(Decision)) error {
	if lim == nil || !bucket.Enabled() {
		return nil
	}
	for {
		dec, err := lim.Allow(ctx, scope, subject, bucket)
		if err != nil || dec.Allowed {
			return nil
		}
		if onDenied != nil {
			onDenied(dec)
		}
		if err := sleep(ctx, dec.RetryAfter); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
