package dicomweb

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSConfig mirrors spec.md §6's optional CORS configuration block. A zero
// value (no AllowedOrigins) means CORS is not configured.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// Enabled reports whether a CORS configuration was supplied (spec.md §4.6
// "if a CORS configuration is supplied").
func (c CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// Middleware builds the go-chi/cors handler for this configuration,
// returning nil when CORS is not configured so the caller mounts nothing.
func (c CORSConfig) Middleware() func(http.Handler) http.Handler {
	if !c.Enabled() {
		return nil
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   c.AllowedOrigins,
		AllowedMethods:   c.AllowedMethods,
		AllowedHeaders:   c.AllowedHeaders,
		ExposedHeaders:   c.ExposedHeaders,
		AllowCredentials: c.AllowCredentials,
		MaxAge:           c.MaxAge,
	})
}
