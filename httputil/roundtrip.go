package httputil

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type RoundTripperFunc func(req *http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// LoggingRoundTrip sets the User-Agent and logs every request at debug level.
// Only method, host and path are logged, query strings and headers may carry secrets.
type LoggingRoundTrip struct {
	rt      http.RoundTripper
	logger  zerolog.Logger
	version string
}

func NewLoggingRoundTrip(rt http.RoundTripper, logger zerolog.Logger, userAgentVersion string) *LoggingRoundTrip {
	if rt == nil {
		rt = http.DefaultTransport
	}

	return &LoggingRoundTrip{
		rt:      rt,
		logger:  logger.With().Str("component", "http").Logger(),
		version: userAgentVersion,
	}
}

func (t *LoggingRoundTrip) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", fmt.Sprintf("rewardplay/%s", t.version))

	start := time.Now()
	resp, err := t.rt.RoundTrip(req)
	if err != nil {
		t.logger.Debug().Err(err).
			Str("method", req.Method).
			Str("host", req.URL.Host).
			Str("path", req.URL.Path).
			Msg("request failed")
		return nil, err
	}

	t.logger.Debug().
		Str("method", req.Method).
		Str("host", req.URL.Host).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request made")

	return resp, nil
}
