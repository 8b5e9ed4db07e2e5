package obs

import (
	"errors"
	"fmt"
)

// ErrControllerClosed is returned for connects that finish after Close.
var ErrControllerClosed = errors.New("obs controller closed")

// ConnectionError is returned when OBS could not be reached after all attempts.
type ConnectionError struct {
	Address  string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("could not connect to obs at %s after %d attempt(s): %v", e.Address, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PlaybackError wraps a failed command while triggering playback.
type PlaybackError struct {
	Step string
	Path string
	Err  error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("obs %s failed for %s: %v", e.Step, e.Path, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

// RequestError is a request OBS answered with a failed request status.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	if e.Comment != "" {
		return fmt.Sprintf("obs request %s failed with code %d: %s", e.RequestType, e.Code, e.Comment)
	}

	return fmt.Sprintf("obs request %s failed with code %d", e.RequestType, e.Code)
}
