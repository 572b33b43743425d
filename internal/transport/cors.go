package transport

import (
	"net/http"
	"strings"
)

// checkCORS applies the browser's cross-origin response check.
// It returns an empty string when the response may be read by origin.
func checkCORS(h http.Header, origin string, credentials bool) string {
	allowed := strings.TrimSpace(h.Get("Access-Control-Allow-Origin"))
	if allowed == "" {
		return "response has no Access-Control-Allow-Origin header for origin " + origin
	}

	if credentials {
		if allowed == "*" {
			return "wildcard Access-Control-Allow-Origin is not allowed for credentialed requests"
		}
		if !strings.EqualFold(allowed, origin) {
			return "Access-Control-Allow-Origin " + allowed + " does not match origin " + origin
		}
		if !strings.EqualFold(strings.TrimSpace(h.Get("Access-Control-Allow-Credentials")), "true") {
			return "Access-Control-Allow-Credentials is not true"
		}
		return ""
	}

	if allowed != "*" && !strings.EqualFold(allowed, origin) {
		return "Access-Control-Allow-Origin " + allowed + " does not match origin " + origin
	}
	return ""
}
