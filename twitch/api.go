package twitch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/julez-dev/rewardplay/httputil"
)

var ErrUserNotFound = errors.New("no twitch user found")

const baseURL = "https://api.twitch.tv/helix"

type AccessTokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

type APIOptionFunc func(api *API) error

func WithHTTPClient(client *http.Client) APIOptionFunc {
	return func(api *API) error {
		api.client = client
		return nil
	}
}

func WithBaseURL(u string) APIOptionFunc {
	return func(api *API) error {
		if _, err := url.Parse(u); err != nil {
			return err
		}
		api.baseURL = u
		return nil
	}
}

// API is a minimal Helix client authenticated with the broadcaster's user token.
type API struct {
	client  *http.Client
	tokens  AccessTokenProvider
	baseURL string

	clientID string
}

func NewAPI(clientID string, tokens AccessTokenProvider, opts ...APIOptionFunc) (*API, error) {
	api := &API{
		clientID: clientID,
		tokens:   tokens,
		baseURL:  baseURL,
	}

	for _, f := range opts {
		if err := f(api); err != nil {
			return nil, err
		}
	}

	if api.client == nil {
		api.client = http.DefaultClient
	}

	return api, nil
}

func (a *API) GetUsers(ctx context.Context, logins []string) (UserResponse, error) {
	values := url.Values{}
	for _, login := range logins {
		values.Add("login", login)
	}

	url := fmt.Sprintf("/users?%s", values.Encode())

	return doAuthenticatedRequest[UserResponse](ctx, a, http.MethodGet, url, nil)
}

// BroadcasterID resolves a login name to the user id.
func (a *API) BroadcasterID(ctx context.Context, login string) (string, error) {
	resp, err := a.GetUsers(ctx, []string{login})
	if err != nil {
		return "", err
	}

	if len(resp.Data) == 0 {
		return "", fmt.Errorf("%w for login %s", ErrUserNotFound, login)
	}

	return resp.Data[0].ID, nil
}

func (a *API) CreateEventSubSubscription(ctx context.Context, reqData CreateEventSubSubscriptionRequest) (CreateEventSubSubscriptionResponse, error) {
	reqBytes, err := json.Marshal(reqData)
	if err != nil {
		return CreateEventSubSubscriptionResponse{}, err
	}

	return doAuthenticatedRequest[CreateEventSubSubscriptionResponse](ctx, a, http.MethodPost, "/eventsub/subscriptions", reqBytes)
}

func doAuthenticatedRequest[T any](ctx context.Context, api *API, method, endpoint string, body []byte) (T, error) {
	var data T

	token, err := api.tokens.AccessToken(ctx)
	if err != nil {
		return data, err
	}

	url := fmt.Sprintf("%s%s", api.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return data, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	req.Header.Set("Client-Id", api.clientID)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httputil.RetryOn429(ctx, func() (*http.Response, error) {
		clone, err := httputil.CloneRequest(req)
		if err != nil {
			return nil, err
		}
		return api.client.Do(clone)
	})
	if err != nil {
		return data, err
	}

	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return data, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return data, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := APIError{}
		if err := json.Unmarshal(respBody, &errResp); err != nil {
			errResp.Message = string(respBody)
		}

		if errResp.Status == 0 {
			errResp.Status = resp.StatusCode
		}

		if errResp.ErrorText == "" {
			errResp.ErrorText = http.StatusText(resp.StatusCode)
		}

		return data, errResp
	}

	if err := json.Unmarshal(respBody, &data); err != nil {
		return data, err
	}

	return data, nil
}
