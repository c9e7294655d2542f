package coordinator

import (
	"net/url"
	"strings"
)

var restrictedPatterns = []string{
	"chrome://",
	"chrome-extension://",
	"chrome.google.com/webstore",
	"chrome-error://",
	"about:",
	"edge://",
	"view-source:",
	"devtools://",
	"file://",
}

// IsValidURL reports whether an observer may be attached to a page at raw:
// plain http or https and nothing browser-internal.
func IsValidURL(raw string) bool {
	if raw == "" {
		return false
	}
	for _, p := range restrictedPatterns {
		if strings.Contains(raw, p) {
			return false
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
