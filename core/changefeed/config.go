package changefeed

import "time"

// Config holds configuration for the change-feed puller.
type Config struct {
	// PageSize caps the changes requested per page.
	PageSize int `mapstructure:"page_size" default:"200"`
	// Scope is the database pulled by PullAll.
	Scope string `mapstructure:"scope" default:"private"`
	// Zones lists the partitions pulled by PullAll.
	Zones []string `mapstructure:"zones" default:"default"`
	// Interval between periodic pulls. Zero disables periodic pulling.
	Interval time.Duration `mapstructure:"interval" default:"0s"`
}
