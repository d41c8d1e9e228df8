// Package retry runs adapter calls under a bounded exponential backoff,
// retrying only failures pipeerr classifies as transient.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/pipeerr"
)

// Policy bounds retries. MaxRetries of zero means a single attempt.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts the
// policy, or ctx ends. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !pipeerr.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialBackoff
	if p.MaxBackoff > 0 {
		eb.MaxInterval = p.MaxBackoff
	}
	eb.MaxElapsedTime = 0

	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(maxRetries)), ctx)

	err := backoff.RetryNotify(operation, b, func(err error, wait time.Duration) {
		log.Warn().
			Err(err).
			Str("call", name).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Transient failure, retrying")
	})
	if err != nil && attempt > 1 {
		log.Debug().Str("call", name).Int("attempts", attempt).Msg("Retries exhausted")
	}
	return err
}
