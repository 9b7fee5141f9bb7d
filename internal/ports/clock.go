package ports

import (
	"context"
	"time"
)

// Clock abstracts time so cycle pacing can be tested deterministically.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done and returns how long it slept.
	Sleep(ctx context.Context, d time.Duration) time.Duration
}
