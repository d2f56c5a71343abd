package security

import (
	"fmt"
	"strings"
	"time"
)

// KeyRotationWindow gates when a signing key version is accepted.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

// ParseRotationWindow reads RFC3339 bounds; an empty bound is open.
func ParseRotationWindow(notBefore string, notAfter string) (KeyRotationWindow, error) {
	var window KeyRotationWindow
	if value := strings.TrimSpace(notBefore); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return KeyRotationWindow{}, fmt.Errorf("security: parse not_before: %w", err)
		}
		window.NotBefore = parsed.UTC()
	}
	if value := strings.TrimSpace(notAfter); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return KeyRotationWindow{}, fmt.Errorf("security: parse not_after: %w", err)
		}
		window.NotAfter = parsed.UTC()
	}
	if !window.NotBefore.IsZero() && !window.NotAfter.IsZero() && window.NotAfter.Before(window.NotBefore) {
		return KeyRotationWindow{}, fmt.Errorf("security: not_after precedes not_before")
	}
	return window, nil
}
