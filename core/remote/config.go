package remote

// Config selects the remote store implementation.
type Config struct {
	// Driver names the store backend. Only "memory" ships with this module.
	Driver string `mapstructure:"driver" default:"memory"`
}
