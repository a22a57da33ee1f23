// Package domain maps raw URLs to the normalized hostnames used as
// aggregation keys. Browser-internal URLs and anything that fails to parse
// are reported as not trackable; extraction never fails beyond that.
package domain

import (
	"net/url"
	"strings"
)

// blockedSchemes are browser-internal URL schemes that never count as
// browsing activity.
var blockedSchemes = map[string]struct{}{
	"chrome":           {},
	"chrome-extension": {},
	"about":            {},
	"edge":             {},
	"moz-extension":    {},
	"devtools":         {},
	"view-source":      {},
	"file":             {},
	"data":             {},
	"javascript":       {},
}

// Extract returns the normalized lowercase hostname for rawURL with any
// leading "www." stripped, and whether the URL is trackable at all.
func Extract(rawURL string) (string, bool) {
	if rawURL == "" {
		return "", false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	if _, blocked := blockedSchemes[strings.ToLower(u.Scheme)]; blocked {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}

	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return "", false
	}

	return host, true
}
