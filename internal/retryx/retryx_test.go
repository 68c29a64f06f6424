package retryx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"pkt.systems/jovian/schema"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func response(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

func TestDoReturnsNonRetryableImmediately(t *testing.T) {
	calls := 0
	resp, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (*http.Response, error) {
		calls++
		return response(404), nil
	}, map[int]bool{200: true, 404: true})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if calls != 1 {
		t.Fatalf("expected single attempt, got %d", calls)
	}
}

func TestDoRetriesRetryableStatus(t *testing.T) {
	calls := 0
	resp, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (*http.Response, error) {
		calls++
		if calls < 3 {
			return response(503), nil
		}
		return response(200), nil
	}, map[int]bool{200: true})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoExhaustedStatusReturnsLastResponse(t *testing.T) {
	resp, err := Do(context.Background(), fastPolicy(2), func(ctx context.Context) (*http.Response, error) {
		return response(502), nil
	}, map[int]bool{200: true})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.StatusCode != 502 {
		t.Fatalf("expected last response 502, got %d", resp.StatusCode)
	}
}

func TestDoExhaustedTransportErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (*http.Response, error) {
		calls++
		return nil, boom
	}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if schema.KindOf(err) != schema.KindTransient {
		t.Fatalf("expected transient kind, got %v", schema.KindOf(err))
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoCancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}, func(ctx context.Context) (*http.Response, error) {
		calls++
		cancel()
		return nil, errors.New("transient")
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cancellation before second attempt, got %d attempts", calls)
	}
}

func TestPolicyDelayCapped(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 2 * time.Second, Multiplier: 10}
	if d := p.Delay(4); d > 2*time.Second {
		t.Fatalf("delay %v exceeds cap", d)
	}
}
