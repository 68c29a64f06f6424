// Package retryx wraps single HTTP requests in bounded exponential-backoff
// retry. Callers supply the statuses that must be returned immediately;
// everything else, including transport errors, is retried until the policy
// is exhausted. The wrapped operation must be idempotent.
package retryx

import (
	"context"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"pkt.systems/jovian/schema"
	"pkt.systems/pslog"
)

// Policy configures the backoff curve.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// DefaultPolicy returns the policy used by the hub and gateway clients.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Delay returns the backoff delay for attempt n (0-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	base := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	capped := math.Min(base, float64(p.MaxDelay))
	if p.Jitter {
		// +/- 50% to avoid thundering herds on a warming backend.
		capped *= 0.5 + rand.Float64()
	}
	return time.Duration(capped)
}

// Operation issues one request attempt.
type Operation func(ctx context.Context) (*http.Response, error)

// Do runs op under the policy. A response whose status is in nonRetryable
// is handed back untouched for the caller to inspect. Retryable responses
// have their bodies drained and closed before the next attempt. When
// attempts exhaust on a transport error, the last error is returned; when
// they exhaust on a retryable status, the last response is returned.
func Do(ctx context.Context, policy Policy, op Operation, nonRetryable map[int]bool) (*http.Response, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	log := pslog.Ctx(ctx)

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt - 1)
			if log != nil {
				log.Debug("retrying request", "attempt", attempt+1, "delay_ms", delay.Milliseconds(), "err", lastErr)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := op(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if nonRetryable[resp.StatusCode] {
			return resp, nil
		}
		if attempt == policy.MaxAttempts-1 {
			return resp, nil
		}
		drain(resp)
		tagged := schema.WrapError(schema.KindTransient, "retryable status", schema.ErrUnavailable)
		tagged.Status = resp.StatusCode
		lastErr = tagged
	}
	if lastErr != nil {
		return nil, schema.WrapError(schema.KindTransient, "retries exhausted", lastErr)
	}
	return nil, schema.WrapError(schema.KindTransient, "retries exhausted", schema.ErrUnavailable)
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
