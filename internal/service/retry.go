package service

import (
	"context"
	"time"
)

const (
	retryAttempts = 3
	retryBaseWait = 50 * time.Millisecond
)

// withRetry runs fn up to retryAttempts times with linear backoff.
// Transient store hiccups are absorbed here; only the last error
// surfaces, once.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(retryBaseWait * time.Duration(attempt+1)):
		}
	}
	return err
}
