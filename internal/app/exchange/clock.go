package exchange

import (
	"context"
	"time"

	"github.com/ghalamif/AegisBridge/internal/ports"
)

type wallClock struct{}

// WallClock paces cycles against the monotonic wall clock.
func WallClock() ports.Clock { return wallClock{} }

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) Sleep(ctx context.Context, d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	start := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return time.Since(start)
}
