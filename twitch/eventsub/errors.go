package eventsub

import "fmt"

type ProtocolErrorKind int

const (
	MalformedFrame ProtocolErrorKind = iota
	MissingSessionID
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case MalformedFrame:
		return "malformed frame"
	case MissingSessionID:
		return "missing session id"
	default:
		return fmt.Sprintf("protocol error kind %d", int(k))
	}
}

// ProtocolError is a violation of the EventSub message protocol by the server.
type ProtocolError struct {
	Kind ProtocolErrorKind
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("eventsub protocol error: %s: %v", e.Kind, e.Err)
	}

	return fmt.Sprintf("eventsub protocol error: %s", e.Kind)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// SubscriptionError is returned when the subscription for a session could not be created.
// StatusCode is zero when the request never got an HTTP response.
type SubscriptionError struct {
	StatusCode int
	Err        error
}

func (e *SubscriptionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to create eventsub subscription (status %d): %v", e.StatusCode, e.Err)
	}

	return fmt.Sprintf("failed to create eventsub subscription: %v", e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}
