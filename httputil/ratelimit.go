package httputil

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// resets further away than this are not waited for
const maxRateLimitWait = time.Minute

// RetryOn429 runs do and, when Twitch answers 429 Too Many Requests with a
// Ratelimit-Reset header (unix seconds), waits for the reset and runs do once more.
// Any other response, including a 429 without usable header, is returned as is.
func RetryOn429(ctx context.Context, do func() (*http.Response, error)) (*http.Response, error) {
	resp, err := do()
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusTooManyRequests {
		return resp, nil
	}

	wait, ok := rateLimitWait(resp.Header, time.Now())
	if !ok {
		return resp, nil
	}

	resp.Body.Close()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return do()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func rateLimitWait(header http.Header, now time.Time) (time.Duration, bool) {
	reset, err := strconv.ParseInt(header.Get("Ratelimit-Reset"), 10, 64)
	if err != nil {
		return 0, false
	}

	// one extra second, the reset has second precision
	wait := time.Unix(reset, 0).Sub(now) + time.Second
	if wait > maxRateLimitWait {
		return 0, false
	}

	return max(wait, 0), true
}
