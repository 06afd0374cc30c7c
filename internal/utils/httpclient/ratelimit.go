package httpclient

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimitedTransport waits on a shared limiter before each request.
type RateLimitedTransport struct {
	Base    http.RoundTripper
	Limiter *rate.Limiter
}

// NewRateLimitedTransport limits base to perMinute requests per minute with
// a burst of one. A non-positive limit disables limiting.
func NewRateLimitedTransport(base http.RoundTripper, perMinute int) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if perMinute <= 0 {
		return base
	}
	return &RateLimitedTransport{
		Base:    base,
		Limiter: rate.NewLimiter(rate.Limit(perMinute)/60, 1), // Convert per-minute to per-second
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.Base.RoundTrip(req)
}
