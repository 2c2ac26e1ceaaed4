// Package config provides configuration management for record-sync.
//
// It utilizes Viper for loading configuration from environment variables,
// a .env file and an optional config.yaml.
//
// # Configuration Structure
//
// The Config struct is the central repository for all application settings, divided into subsections:
//   - Server: HTTP port and API credentials
//   - Database: local store driver and connection details
//   - Storage: S3/MinIO settings for asset fields
//   - Log: level, format and optional rotating file
//   - Sync: debounce and conflict limits of the scheduler
//   - Retry: rate-limit resubmission cap
//   - Feed: change-feed scope, zones and polling interval
//   - Remote: remote store driver
//
// Environment variables override file values; nested keys are joined with an
// underscore, so SYNC_DEBOUNCE sets sync.debounce.
//
// # Live Reload
//
// Watch loads the same configuration and reports every rewrite of
// config.yaml through a callback. The start command uses it to change the log
// level without a restart.
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Sync.Debounce)
package config
