package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// RateLimitError marks a too-many-requests response from a provider. Callers
// never retry these locally; the exchange manager escalates them to a ban.
type RateLimitError struct {
	Provider string
	Code     int
	Message  string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited (code %d): %s", e.Provider, e.Code, e.Message)
}

// HTTPError is a non-2xx REST response that is not rate-limit class.
type HTTPError struct {
	Provider string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Provider, e.Status, e.Body)
}

// IsRateLimit classifies an error as rate-limit class: either the typed
// RateLimitError or an HTTP response carrying status 429. No other
// provider-specific shapes are matched.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status == http.StatusTooManyRequests
	}
	return false
}

// statusError turns a REST response into the right error type.
func statusError(providerName string, status int, body string) error {
	if status == http.StatusTooManyRequests {
		return &RateLimitError{Provider: providerName, Code: status, Message: body}
	}
	return &HTTPError{Provider: providerName, Status: status, Body: body}
}
