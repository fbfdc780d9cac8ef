package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForStreams wraps a compression middleware so that websocket
// upgrades and Prometheus scrapes reach next unwrapped. An upgraded
// connection must be hijacked from the original writer, and the metrics
// handler negotiates its own encoding.
func SkipCompressionForStreams(compression func(http.Handler) http.Handler, metricsPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compression(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isWebsocketUpgrade(r) || r.URL.Path == metricsPath {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
