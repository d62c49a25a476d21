package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// RateLimit is what a provider reports about its remaining budget.
type RateLimit struct {
	RetryAfter        time.Duration
	RequestsRemaining int
	TokensRemaining   int
}

// OpenAIRateLimit reads OpenAI-style headers. Retry-After is in seconds;
// the x-ratelimit-reset-* headers carry durations such as "6m0s" or "20ms"
// and are consulted only when Retry-After is absent.
func OpenAIRateLimit(h http.Header) RateLimit {
	var rl RateLimit
	if secs, err := strconv.Atoi(h.Get("Retry-After")); err == nil && secs > 0 {
		rl.RetryAfter = time.Duration(secs) * time.Second
	}
	for _, name := range [...]string{"x-ratelimit-reset-requests", "x-ratelimit-reset-tokens"} {
		if rl.RetryAfter > 0 {
			break
		}
		if d, err := time.ParseDuration(h.Get(name)); err == nil && d > 0 {
			rl.RetryAfter = d
		}
	}
	rl.RequestsRemaining, _ = strconv.Atoi(h.Get("x-ratelimit-remaining-requests"))
	rl.TokensRemaining, _ = strconv.Atoi(h.Get("x-ratelimit-remaining-tokens"))
	return rl
}
