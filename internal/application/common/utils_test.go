package common

import (
	"context"
	"testing"
	"time"
)

func TestNextBackoffWithJitterBounds(t *testing.T) {
	for _, attempts := range []int{0, 1, 5, 21, 22, 63, 64, 1000000} {
		d := NextBackoffWithJitter(attempts)
		if d <= 0 {
			t.Fatalf("attempts=%d: backoff must be positive, got %v", attempts, d)
		}
		if d > 30*time.Minute {
			t.Fatalf("attempts=%d: backoff above ceiling: %v", attempts, d)
		}
	}
}

func TestNextBackoffGrows(t *testing.T) {
	// при малых attempts нижняя граница (base/2) растёт экспоненциально
	low3 := time.Second << 3 / 2
	for i := 0; i < 20; i++ {
		if d := NextBackoffWithJitter(3); d < low3 {
			t.Fatalf("attempts=3: backoff %v below base/2 %v", d, low3)
		}
	}
}

func TestNextBackoffNegativeAttempts(t *testing.T) {
	if d := NextBackoffWithJitter(-5); d <= 0 || d > time.Second {
		t.Fatalf("negative attempts must behave as zero, got %v", d)
	}
}

func TestPgInterval(t *testing.T) {
	if got := PgInterval(90 * time.Second); got != "90 seconds" {
		t.Fatalf("PgInterval: %q", got)
	}
}

func TestSleepCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepCtx(ctx, time.Minute); err == nil {
		t.Fatal("expected context error")
	}
}
