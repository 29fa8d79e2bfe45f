package reconcile

import "time"

// Config tunes the reconciliation driver.
type Config struct {
	// BatchSize is how many enrollments are processed concurrently
	// before the driver pauses.
	BatchSize int
	// BatchPause is the delay between enrollment batches, easing
	// pressure on the store during large runs.
	BatchPause time.Duration
}

// DefaultConfig returns the driver defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:  50,
		BatchPause: 100 * time.Millisecond,
	}
}
