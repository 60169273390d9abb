// Package retry consolidates every network retry in the system. No other
// component retries provider calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
)

// HTTPStatusError carries the upstream HTTP status so the retry policy can
// classify it without the caller inspecting provider payloads.
type HTTPStatusError struct {
	Status int
	Err    error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %v", e.Status, e.Err)
}

func (e *HTTPStatusError) Unwrap() error { return e.Err }

// Policy controls backoff between attempts. Delay grows as
// base * multiplier^(attempt-1), capped at MaxDelay, plus uniform jitter
// in [0, 0.2*delay].
type Policy struct {
	Base        time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultPolicy is used for all provider calls except bank operations.
func DefaultPolicy() Policy {
	return Policy{Base: time.Second, Multiplier: 2, MaxDelay: 60 * time.Second, MaxAttempts: 5}
}

// BankPolicy backs off more slowly; bank rails are slow to recover.
func BankPolicy() Policy {
	return Policy{Base: 3 * time.Second, Multiplier: 2, MaxDelay: 60 * time.Second, MaxAttempts: 5}
}

// Delay returns the backoff before the given attempt number (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	jitter := rand.Float64() * 0.2 * d
	return time.Duration(d + jitter)
}

// Retryable classifies an error. 4xx responses are permanent except
// 408, 429 and 499; 5xx, connection errors and timeouts are transient.
// Circuit rejections are never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, xerrors.ErrCircuitOpen) {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Status >= 500:
			return true
		case statusErr.Status == 408, statusErr.Status == 429, statusErr.Status == 499:
			return true
		case statusErr.Status >= 400:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, xerrors.ErrProviderTimeout) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Normalized provider failures without a status are upstream 5xx
	// equivalents by adapter contract.
	return errors.Is(err, xerrors.ErrProviderError)
}

// Do runs fn through the breaker with the policy's backoff. It returns
// xerrors.ErrCircuitOpen without calling fn when the circuit rejects
// before the first send; once fn has run, the last send error wins over
// a mid-retry rejection. Do stops as soon as an error is classified
// permanent.
func Do(ctx context.Context, b *Breaker, p Policy, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if allowErr := b.Allow(); allowErr != nil {
			if err != nil {
				// An earlier attempt already reached the provider.
				// Surface that attempt's outcome, not the circuit
				// rejection, so the caller does not treat the call
				// as never sent.
				return err
			}
			return allowErr
		}

		err = fn(ctx)
		b.Record(err == nil)
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempt == p.MaxAttempts {
			return err
		}

		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
