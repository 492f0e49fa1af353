package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backoff bounds Reconnect. Delays double from Initial up to Max.
type Backoff struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts int
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Attempts: 5}
}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Initial
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Reconnect calls Connect until it succeeds, the attempts run out or ctx is
// done. A missing token is not retried.
func Reconnect(ctx context.Context, t Transport, b Backoff, logger *zap.Logger) error {
	if b.Attempts <= 0 {
		b.Attempts = 1
	}
	var err error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		if err = t.Connect(ctx); err == nil {
			return nil
		}
		if errors.Is(err, ErrMissingToken) {
			return err
		}
		if attempt == b.Attempts-1 {
			break
		}
		wait := b.delay(attempt)
		logger.Warn("reconnect failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("reconnect gave up after %d attempts: %w", b.Attempts, err)
}
