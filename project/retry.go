package project

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"visual-projects/core"
)

const (
	retryInitialBackoff = 200 * time.Millisecond
	retryMaxBackoff     = 5 * time.Second
)

// SaveWithRetry wraps Save with a bounded retry loop for version conflicts.
// Every write inside Save re-reads the blob's current token first, so a retry
// is a full reload-and-rewrite of the losing paths. With maxRetries of zero
// the raw conflict surfaces to the caller unchanged, and any error other than
// a conflict is never retried.
func (s *Service) SaveWithRetry(ctx context.Context, name, description, imageData string, annotations []json.RawMessage, maxRetries int) (*SaveResult, error) {
	backoff := retryInitialBackoff
	for attempt := 0; ; attempt++ {
		result, err := s.Save(ctx, name, description, imageData, annotations)
		if err == nil || !errors.Is(err, core.ErrVersionConflict) || attempt >= maxRetries {
			return result, err
		}

		logrus.WithFields(logrus.Fields{
			"project": name,
			"attempt": attempt + 1,
			"backoff": backoff,
		}).Warn("Save hit a version conflict, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > retryMaxBackoff {
			backoff = retryMaxBackoff
		}
	}
}
