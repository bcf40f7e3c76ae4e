package providers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Ramsey-B/fern/pkg/httpclient"
)

// DefaultRetryAfter is used when the provider throttles without saying for
// how long
const DefaultRetryAfter = 30 * time.Second

// RateLimitedError reports that the provider throttled a data-plane request.
// RetryAfter is the provider's own hold-off when it sent one, otherwise
// DefaultRetryAfter.
type RateLimitedError struct {
	Provider   Provider
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s rate limited the request, retry after %s", e.Provider, e.RetryAfter)
}

// rateLimited converts a 429 response into a RateLimitedError, honoring a
// delta-seconds Retry-After header when present. Returns nil for any other
// status.
func rateLimited(p Provider, resp *httpclient.Response) error {
	if !httpclient.IsRateLimitStatus(resp.StatusCode) {
		return nil
	}

	retryAfter := DefaultRetryAfter
	if raw := resp.Headers["Retry-After"]; raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	return &RateLimitedError{Provider: p, RetryAfter: retryAfter}
}
