package twitch

import (
	"fmt"
	"time"
)

// error response
type (
	APIError struct {
		ErrorText string `json:"error"`
		Status    int    `json:"status"`
		Message   string `json:"message"`
	}
)

func (a APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", a.ErrorText, a.Status, a.Message)
}

// https://dev.twitch.tv/docs/api/reference/#get-users
type (
	UserResponse struct {
		Data []UserData `json:"data"`
	}

	UserData struct {
		ID              string    `json:"id"`
		Login           string    `json:"login"`
		DisplayName     string    `json:"display_name"`
		Type            string    `json:"type"`
		BroadcasterType string    `json:"broadcaster_type"`
		Description     string    `json:"description"`
		ProfileImageURL string    `json:"profile_image_url"`
		CreatedAt       time.Time `json:"created_at"`
	}
)

// https://dev.twitch.tv/docs/api/reference/#create-eventsub-subscription
type (
	CreateEventSubSubscriptionRequest struct {
		Type      string                   `json:"type"`
		Version   string                   `json:"version"`
		Condition map[string]string        `json:"condition"`
		Transport EventSubTransportRequest `json:"transport"`
	}

	EventSubTransportRequest struct {
		Method    string `json:"method"`
		Callback  string `json:"callback,omitempty"`
		Secret    string `json:"secret,omitempty"`
		SessionID string `json:"session_id,omitempty"`
	}

	CreateEventSubSubscriptionResponse struct {
		Data         []EventSubData `json:"data"`
		Total        int            `json:"total"`
		TotalCost    int            `json:"total_cost"`
		MaxTotalCost int            `json:"max_total_cost"`
	}

	EventSubTransport struct {
		Method    string `json:"method"`
		SessionID string `json:"session_id"`
	}

	EventSubData struct {
		ID        string            `json:"id"`
		Status    string            `json:"status"`
		Type      string            `json:"type"`
		Version   string            `json:"version"`
		Condition map[string]string `json:"condition"`
		CreatedAt time.Time         `json:"created_at"`
		Transport EventSubTransport `json:"transport"`
		Cost      int               `json:"cost"`
	}
)
