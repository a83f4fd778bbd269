package common

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const Version = "1.0.0"

func PgInterval(d time.Duration) string {
	sec := int64(d / time.Second)
	return fmt.Sprintf("%d seconds", sec)
}

// maxBackoff - потолок задержки. Без него base << attempts переполняется
// на больших attempts.
const maxBackoff = 30 * time.Minute

// NextBackoffWithJitter считает экспоненциальную задержку повтора с джиттером.
func NextBackoffWithJitter(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// сдвиг больше 21 гарантированно упирается в потолок (1s << 21 > 30m)
	if attempts > 21 {
		attempts = 21
	}

	base := time.Second << attempts
	if base > maxBackoff {
		base = maxBackoff
	}

	jitter := time.Duration(rand.Int63n(int64(base / 2)))

	return base/2 + jitter
}

func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer func() {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
	}()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
