// Package urlutil normalizes the server addresses users type into the
// websocket endpoint the player dials.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultWebsocketPath is appended when an address has no path.
const DefaultWebsocketPath = "/ws"

// WebsocketURL turns a server address into a ws:// or wss:// URL.
//
// Examples:
//
//	"localhost:8080"            -> "ws://localhost:8080/ws"
//	"https://tv.example.com/"   -> "wss://tv.example.com/ws"
//	"http://host/live/socket"   -> "ws://host/live/socket"
//	"wss://host/ws?debug=1"     -> "wss://host/ws?debug=1"
func WebsocketURL(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("empty server address")
	}
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parsing server address %q: %w", addr, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server address %q has no host", addr)
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "http":
		u.Scheme = "ws"
	case "wss", "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q in server address", u.Scheme)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultWebsocketPath
	}
	return u.String(), nil
}
