package reconcile

import "time"

// Config holds configuration for the reconciliation scheduler.
type Config struct {
	// Debounce is the quiet period after the last MarkDirty before a pass starts.
	Debounce time.Duration `mapstructure:"debounce" default:"500ms"`
	// MaxConflictRounds caps the reload-and-resubmit rounds of one pass.
	MaxConflictRounds int `mapstructure:"max_conflict_rounds" default:"3"`
	// FetchBatchSize caps the ids per remote fetch.
	FetchBatchSize int `mapstructure:"fetch_batch_size" default:"300"`
}

func (c Config) withDefaults() Config {
	if c.Debounce < 0 {
		c.Debounce = 0
	}
	if c.MaxConflictRounds <= 0 {
		c.MaxConflictRounds = 3
	}
	if c.FetchBatchSize <= 0 {
		c.FetchBatchSize = 300
	}
	return c
}
