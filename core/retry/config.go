package retry

// Config holds configuration for remote operation retries.
type Config struct {
	// MaxAttempts caps how many times a rate-limited request is resubmitted.
	// Zero or less means no cap.
	MaxAttempts int `mapstructure:"max_attempts" default:"5"`
}
