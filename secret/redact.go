package secret

import (
	"net/url"
	"strings"
)

// Query parameter names that carry credentials at common providers.
var sensitiveParams = map[string]bool{
	"apikey":       true,
	"api_key":      true,
	"key":          true,
	"token":        true,
	"access_token": true,
	"auth":         true,
	"secret":       true,
}

// RedactURL masks credential material embedded in an endpoint URL so it
// can be logged or exposed through health snapshots. It masks userinfo,
// sensitive query parameters, and the final path segment when it looks
// like a provider project key (a long token, the Infura/Alchemy style).
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		// Unparseable input gets fully masked rather than leaked.
		return "[REDACTED]"
	}

	if u.User != nil {
		u.User = url.User("xxx")
	}

	if u.RawQuery != "" {
		q := u.Query()
		for name := range q {
			if sensitiveParams[strings.ToLower(name)] {
				q.Set(name, "xxx")
			}
		}
		u.RawQuery = q.Encode()
	}

	segments := strings.Split(u.Path, "/")
	if len(segments) > 0 {
		last := segments[len(segments)-1]
		if looksLikeKey(last) {
			segments[len(segments)-1] = "xxx"
			u.Path = strings.Join(segments, "/")
		}
	}

	return u.String()
}

// looksLikeKey reports whether a path segment resembles an API key:
// long, alphanumeric (plus - and _), and not a plain word like "rpc".
func looksLikeKey(s string) bool {
	if len(s) < 20 {
		return false
	}
	hasDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
		default:
			return false
		}
	}
	return hasDigit
}
