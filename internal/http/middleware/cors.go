package middleware

import (
	"net/http"
	"slices"

	"github.com/rs/cors"
)

// NewCORS builds the CORS policy for the API and the websocket endpoint.
// An empty list or "*" allows every origin.
func NewCORS(origins []string) *cors.Cors {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         86400,
	})
}

// CheckOrigin adapts a CORS policy to a websocket origin check. Requests
// without an Origin header come from non-browser clients and are accepted.
func CheckOrigin(c *cors.Cors) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if r.Header.Get("Origin") == "" {
			return true
		}
		return c.OriginAllowed(r)
	}
}
