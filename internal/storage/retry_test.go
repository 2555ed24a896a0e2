package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		Multiplier:      2.0,
		Jitter:          0,
	}
}

// failNTimes returns a function failing the first n calls with the given
// kind, then succeeding.
func failNTimes(n int, kind Kind) func(context.Context) error {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= n {
			return newError(kind, "upload", "aws-s3", "k", "induced failure", nil)
		}
		return nil
	}
}

func TestRetryRecoversWithinBudget(t *testing.T) {
	rc, err := fastPolicy(3).Do(context.Background(), nil, failNTimes(2, KindConnection))
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if rc.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", rc.Attempts)
	}
	if rc.Delay != 3*time.Millisecond {
		t.Errorf("expected 3ms cumulative delay, got %v", rc.Delay)
	}
}

func TestRetryExhaustsBudgetAndSurfacesLastError(t *testing.T) {
	attempts := 0
	rc, err := fastPolicy(3).Do(context.Background(), nil, func(context.Context) error {
		attempts++
		return newError(KindTimeout, "upload", "aws-s3", "k", "attempt", nil)
	})
	if err == nil {
		t.Fatal("expected final error after exhausted budget")
	}
	if attempts != 3 || rc.Attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got fn=%d rc=%d", attempts, rc.Attempts)
	}
	if KindOf(err) != KindTimeout {
		t.Errorf("expected last error kind to surface, got %v", KindOf(err))
	}
	if rc.LastKind != KindTimeout {
		t.Errorf("expected last kind recorded, got %v", rc.LastKind)
	}
}

func TestRetryBudgetByKind(t *testing.T) {
	tests := []struct {
		name         string
		kind         Kind
		wantAttempts int
	}{
		{name: "Connection", kind: KindConnection, wantAttempts: 4},
		{name: "Timeout", kind: KindTimeout, wantAttempts: 4},
		{name: "Upload", kind: KindUpload, wantAttempts: 2},
		{name: "Delete", kind: KindDelete, wantAttempts: 2},
		{name: "Validation", kind: KindValidation, wantAttempts: 1},
		{name: "Authentication", kind: KindAuthentication, wantAttempts: 1},
		{name: "Configuration", kind: KindConfiguration, wantAttempts: 1},
		{name: "NotFound", kind: KindNotFound, wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			_, err := fastPolicy(4).Do(context.Background(), nil, func(context.Context) error {
				attempts++
				return newError(tt.kind, "op", "p", "k", "always fails", nil)
			})
			if err == nil {
				t.Fatal("expected error to surface")
			}
			if attempts != tt.wantAttempts {
				t.Errorf("expected %d attempts, got %d", tt.wantAttempts, attempts)
			}
		})
	}
}

func TestRetryPlainErrorNotRetried(t *testing.T) {
	attempts := 0
	_, err := fastPolicy(5).Do(context.Background(), nil, func(context.Context) error {
		attempts++
		return errors.New("unclassified")
	})
	if err == nil || attempts != 1 {
		t.Errorf("expected single attempt for unclassified error, got %d (err=%v)", attempts, err)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	_, err := fastPolicy(10).Do(ctx, nil, func(context.Context) error {
		attempts++
		cancel()
		return newError(KindConnection, "upload", "minio", "k", "unreachable", nil)
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected cancellation to stop the schedule after 1 attempt, got %d", attempts)
	}
}

func TestRetryNotifiesBeforeEachSleep(t *testing.T) {
	var notified []time.Duration
	notify := func(rc RetryContext, wait time.Duration, err error) {
		if err == nil {
			t.Error("notify must carry the failing error")
		}
		notified = append(notified, wait)
	}
	_, err := fastPolicy(3).Do(context.Background(), notify, failNTimes(2, KindConnection))
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if len(notified) != 2 {
		t.Fatalf("expected 2 retry notifications, got %d", len(notified))
	}
	if notified[0] != time.Millisecond || notified[1] != 2*time.Millisecond {
		t.Errorf("expected exponential waits [1ms 2ms], got %v", notified)
	}
}

func TestRetryZeroPolicyStillRunsOnce(t *testing.T) {
	attempts := 0
	_, err := (RetryPolicy{}).Do(context.Background(), nil, func(context.Context) error {
		attempts++
		return newError(KindConnection, "op", "p", "k", "down", nil)
	})
	if err == nil || attempts != 1 {
		t.Errorf("expected exactly one attempt under zero policy, got %d (err=%v)", attempts, err)
	}
}
