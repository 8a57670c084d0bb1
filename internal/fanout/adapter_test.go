package fanout

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsUnreachable_DetectsWrappedUnreachableError(t *testing.T) {
	base := &UnreachableError{Err: errors.New("chat not found")}
	wrapped := fmt.Errorf("send failed: %w", base)
	if !IsUnreachable(wrapped) {
		t.Error("IsUnreachable() = false, want true for wrapped UnreachableError")
	}
}

func TestIsUnreachable_FalseForOrdinaryError(t *testing.T) {
	if IsUnreachable(errors.New("connection reset")) {
		t.Error("IsUnreachable() = true, want false for an ordinary error")
	}
}

func TestDeliverWithRetry_SucceedsWithoutRetryOnFirstTry(t *testing.T) {
	calls := 0
	permanent := deliverWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if permanent {
		t.Error("permanent = true, want false")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDeliverWithRetry_StopsImmediatelyOnUnreachable(t *testing.T) {
	calls := 0
	permanent := deliverWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return &UnreachableError{Err: errors.New("chat not found")}
	})
	if !permanent {
		t.Error("permanent = false, want true")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on a permanent failure)", calls)
	}
}

func TestDeliverWithRetry_ExhaustsRetriesOnPersistentTransientFailure(t *testing.T) {
	calls := 0
	permanent := deliverWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("timeout")
	})
	if permanent {
		t.Error("permanent = true, want false (transient failure never removes the subscriber)")
	}
	if calls != DeliveryRetries+1 {
		t.Errorf("calls = %d, want %d", calls, DeliveryRetries+1)
	}
}
