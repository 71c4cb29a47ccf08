// Package ratelimit throttles HTTP clients by address.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// Limiter decides whether a request for key may proceed.
type Limiter interface {
	Allow(key string) bool
	Reset(key string)
}

// Stoppable is a Limiter that owns a background goroutine.
type Stoppable interface {
	Limiter
	Stop()
}

// Config bounds each key to Requests per Window.
type Config struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// GetClientIP returns the originating client address, preferring the
// first X-Forwarded-For hop, then X-Real-IP, then RemoteAddr.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
