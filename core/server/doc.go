// Package server holds the HTTP server configuration.
//
// # Configuration
//
// The Config struct defines the HTTP port and the credentials the auth
// middleware accepts: a static API key, an HS256 secret for bearer tokens,
// or both. With neither set the API is open.
//
// # Usage
//
// This package is embedded by core/config and read by the start command when
// it wires the middleware stack.
package server
