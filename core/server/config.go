package server

// Config holds configuration for the HTTP server.
type Config struct {
	// Port is the port where the server will listen.
	Port string `mapstructure:"port" default:"8080"`
	// ApiKey is the secret key required to access the API.
	ApiKey string `mapstructure:"api_key" default:""`
	// JWTSecret verifies HS256 bearer tokens as an alternative to the API key.
	JWTSecret string `mapstructure:"jwt_secret" default:""`
}

// AuthEnabled reports whether any credential is configured.
func (c Config) AuthEnabled() bool {
	return c.ApiKey != "" || c.JWTSecret != ""
}
