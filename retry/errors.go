package retry

import (
	"errors"
	"net"
	"strings"
)

// IsRetryableStatus reports whether an HTTP status is worth another try:
// request timeout, rate limiting and every 5xx.
func IsRetryableStatus(code int) bool {
	return code == 408 || code == 429 || (code >= 500 && code <= 599)
}

var transientPatterns = []string{
	"timeout",
	"timed out",
	"connection",
	"socket",
	"network",
	"rate limit",
	"rate-limit",
	"too many requests",
}

// IsRetryableError classifies transport errors. Typed network errors are
// always transient; otherwise the message is matched against known keywords.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
