// Package middleware contains HTTP middleware for the Fiber application.
//
// # Components
//
//   - auth: accepts a static API key in X-API-Key or an HS256 bearer token.
//   - rayid: tags every request with a ray id, kept in the context and echoed
//     in the X-Ray-ID response header for tracing.
//
// Register rayid first so every log line of a request carries its id.
package middleware
