// Package ratelimit holds the request limiters that guard the auth, REST and
// RPC surfaces. Each Limiter enforces one Policy.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type By string

const (
	ByIP        By = "ip"
	ByPrincipal By = "principal"
)

type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
	By     By
}

func (p Policy) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("ratelimit: policy name is required")
	}
	if p.Limit <= 0 {
		return fmt.Errorf("ratelimit: policy %s: limit must be positive", p.Name)
	}
	if p.Window <= 0 {
		return fmt.Errorf("ratelimit: policy %s: window must be positive", p.Name)
	}
	switch p.By {
	case ByIP, ByPrincipal:
	default:
		return fmt.Errorf("ratelimit: policy %s: unknown key source %q", p.Name, p.By)
	}
	return nil
}

// Key builds the bucket key for one request. Principal policies fall back to
// the client IP for anonymous callers.
func (p Policy) Key(clientIP string, principalID string) string {
	if p.By == ByPrincipal && strings.TrimSpace(principalID) != "" {
		return p.Name + ":p:" + principalID
	}
	return p.Name + ":ip:" + clientIP
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := parseIP(first); ip != "" {
			return ip
		}
	}
	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := parseIP(r.RemoteAddr); ip != "" {
		return ip
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	return r.RemoteAddr
}

func parseIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	ip := net.ParseIP(strings.Trim(raw, "[]"))
	if ip == nil {
		return ""
	}
	return ip.String()
}
