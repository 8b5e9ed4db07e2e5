package eventsub

import (
	"time"

	"github.com/goccy/go-json"
)

const (
	messageTypeWelcome      = "session_welcome"
	messageTypeKeepalive    = "session_keepalive"
	messageTypeReconnect    = "session_reconnect"
	messageTypeNotification = "notification"
	messageTypeRevocation   = "revocation"
)

type Metadata struct {
	MessageID           string    `json:"message_id"`
	MessageType         string    `json:"message_type"`
	MessageTimeStamp    time.Time `json:"message_timestamp"`
	SubscriptionType    string    `json:"subscription_type"`
	SubscriptionVersion string    `json:"subscription_version"`
}

type untypedMessagePayload struct {
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

type (
	sessionPayload struct {
		Session Session `json:"session"`
	}

	Session struct {
		ID                      string    `json:"id"`
		Status                  string    `json:"status"`
		ConnectedAt             time.Time `json:"connected_at"`
		KeepAliveTimeoutSeconds int       `json:"keepalive_timeout_seconds"`
		ReconnectURL            string    `json:"reconnect_url"`
	}
)

type notificationPayload struct {
	Subscription Subscription    `json:"subscription"`
	Event        RedemptionEvent `json:"event"`
}

type revocationPayload struct {
	Subscription Subscription `json:"subscription"`
}

type Transport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id"`
}

type Subscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Cost      int               `json:"cost"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
	CreatedAt time.Time         `json:"created_at"`
}

// https://dev.twitch.tv/docs/eventsub/eventsub-reference/#channel-points-custom-reward-redemption-add-event
type (
	RedemptionEvent struct {
		ID                   string    `json:"id"`
		BroadcasterUserID    string    `json:"broadcaster_user_id"`
		BroadcasterUserLogin string    `json:"broadcaster_user_login"`
		BroadcasterUserName  string    `json:"broadcaster_user_name"`
		UserID               string    `json:"user_id"`
		UserLogin            string    `json:"user_login"`
		UserName             string    `json:"user_name"`
		UserInput            string    `json:"user_input"`
		Status               string    `json:"status"`
		Reward               Reward    `json:"reward"`
		RedeemedAt           time.Time `json:"redeemed_at"`
	}

	Reward struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Cost   int    `json:"cost"`
		Prompt string `json:"prompt"`
	}
)

// Frame is one inbound EventSub message. The concrete type is one of
// WelcomeFrame, KeepaliveFrame, ReconnectFrame, NotificationFrame,
// RevocationFrame or UnknownFrame.
type Frame interface {
	Meta() Metadata
}

type WelcomeFrame struct {
	Metadata Metadata
	Session  Session
}

type KeepaliveFrame struct {
	Metadata Metadata
}

type ReconnectFrame struct {
	Metadata     Metadata
	ReconnectURL string
}

type NotificationFrame struct {
	Metadata     Metadata
	Subscription Subscription
	Event        RedemptionEvent
}

type RevocationFrame struct {
	Metadata     Metadata
	Subscription Subscription
}

type UnknownFrame struct {
	Metadata Metadata
}

func (f WelcomeFrame) Meta() Metadata      { return f.Metadata }
func (f KeepaliveFrame) Meta() Metadata    { return f.Metadata }
func (f ReconnectFrame) Meta() Metadata    { return f.Metadata }
func (f NotificationFrame) Meta() Metadata { return f.Metadata }
func (f RevocationFrame) Meta() Metadata   { return f.Metadata }
func (f UnknownFrame) Meta() Metadata      { return f.Metadata }

// ParseFrame decodes a text frame. Frames that are not valid JSON or whose
// payload does not match the message type fail with a MalformedFrame ProtocolError.
func ParseFrame(data []byte) (Frame, error) {
	var untyped untypedMessagePayload
	if err := json.Unmarshal(data, &untyped); err != nil {
		return nil, &ProtocolError{Kind: MalformedFrame, Err: err}
	}

	switch untyped.Metadata.MessageType {
	case messageTypeWelcome:
		p, err := convertUntyped[sessionPayload](untyped)
		if err != nil {
			return nil, err
		}
		return WelcomeFrame{Metadata: untyped.Metadata, Session: p.Session}, nil
	case messageTypeKeepalive:
		return KeepaliveFrame{Metadata: untyped.Metadata}, nil
	case messageTypeReconnect:
		p, err := convertUntyped[sessionPayload](untyped)
		if err != nil {
			return nil, err
		}
		return ReconnectFrame{Metadata: untyped.Metadata, ReconnectURL: p.Session.ReconnectURL}, nil
	case messageTypeNotification:
		p, err := convertUntyped[notificationPayload](untyped)
		if err != nil {
			return nil, err
		}
		return NotificationFrame{Metadata: untyped.Metadata, Subscription: p.Subscription, Event: p.Event}, nil
	case messageTypeRevocation:
		p, err := convertUntyped[revocationPayload](untyped)
		if err != nil {
			return nil, err
		}
		return RevocationFrame{Metadata: untyped.Metadata, Subscription: p.Subscription}, nil
	default:
		return UnknownFrame{Metadata: untyped.Metadata}, nil
	}
}

func convertUntyped[T any](untyped untypedMessagePayload) (T, error) {
	var payload T

	// keepalive style frames carry an empty object, a missing payload is tolerated
	if len(untyped.Payload) == 0 {
		return payload, nil
	}

	if err := json.Unmarshal(untyped.Payload, &payload); err != nil {
		return payload, &ProtocolError{Kind: MalformedFrame, Err: err}
	}

	return payload, nil
}
