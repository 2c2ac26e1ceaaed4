package config

import (
	"errors"
	"reflect"
	"strings"

	"record-sync/core/changefeed"
	"record-sync/core/database"
	"record-sync/core/logger"
	"record-sync/core/reconcile"
	"record-sync/core/remote"
	"record-sync/core/retry"
	"record-sync/core/server"
	"record-sync/core/storage"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// It is divided into partial configurations for better modularity.
type Config struct {
	// Server holds configuration for the HTTP server.
	Server server.Config `mapstructure:"server"`
	// Storage holds configuration for the asset object storage.
	Storage storage.Config `mapstructure:"storage"`
	// Log holds configuration for the logger.
	Log logger.Config `mapstructure:"log"`
	// Database holds configuration for the local store's database.
	Database database.Config `mapstructure:"database"`
	// Sync holds configuration for the reconciliation scheduler.
	Sync reconcile.Config `mapstructure:"sync"`
	// Retry holds configuration for rate-limit resubmission.
	Retry retry.Config `mapstructure:"retry"`
	// Feed holds configuration for the change-feed puller.
	Feed changefeed.Config `mapstructure:"feed"`
	// Remote selects the remote store.
	Remote remote.Config `mapstructure:"remote"`
}

// LoadConfig loads configuration from environment variables, the .env file
// and an optional config.yaml in path.
func LoadConfig(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch loads the configuration in path and calls onChange with a freshly
// decoded Config every time config.yaml changes. It requires the file to
// exist.
func Watch(path string, onChange func(*Config, error)) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return nil, errors.New("no config.yaml to watch in " + path)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		onChange(decode(v))
	})
	v.WatchConfig()
	return cfg, nil
}

func newViper(path string) (*viper.Viper, error) {
	envPath := path + "/.env"
	if path == "." {
		envPath = ".env"
	}

	// Ignore error if file doesn't exist (e.g. production)
	_ = godotenv.Overload(envPath)

	v := viper.New()

	// Recursively parse struct tags to set default values
	bindValues(v, Config{}, "")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	// Map environment variables to nested keys (e.g. SYNC_DEBOUNCE -> sync.debounce)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// bindValues uses reflection to iterate over the struct and set default values in Viper
// based on the 'default' and 'mapstructure' tags.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)

	// If it's a pointer, get the element
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")

		// Skip if no tag
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		// Always set default (even if empty) to register the key for AutomaticEnv.
		// Slices take a comma separated default that viper splits on decode.
		v.SetDefault(key, field.Tag.Get("default"))
	}
}
