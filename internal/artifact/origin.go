package artifact

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrOriginNotAllowed is returned for bundle URLs outside the allow-list.
// The URL is rejected before any fetch is attempted.
var ErrOriginNotAllowed = errors.New("bundle origin not allowed")

// ValidateBundleURL checks raw against the configured origin allow-list.
// Only https URLs from an allowed origin pass.
func ValidateBundleURL(raw string, allowed []string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid bundle url: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrOriginNotAllowed, u.Scheme)
	}
	origin := u.Scheme + "://" + u.Host
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrOriginNotAllowed, origin)
}
