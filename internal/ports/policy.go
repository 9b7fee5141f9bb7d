package ports

import "time"

type Policy struct {
	OpTimeout       time.Duration
	Workers         int
	Reconnect       bool
	ShutdownTimeout time.Duration

	Connect ConnectPolicy

	ReportQueueLen    int
	ReportBatchSize   int
	ReportIdleSleep   time.Duration
	OnReportQueueFull string // "drop", "block"
}

// ConnectPolicy controls the per-server connect retry loop.
type ConnectPolicy struct {
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	MaxAttempts    int // 0 retries forever
	Jitter         bool
	StartupTimeout time.Duration // 0 waits forever
}
