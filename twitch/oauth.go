package twitch

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultAuthURL  = "https://id.twitch.tv/oauth2/authorize"
	defaultTokenURL = "https://id.twitch.tv/oauth2/token"
)

// TokenResponse is the normalized token endpoint answer.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scopes       []string
	ExpiresIn    int
}

type OAuthOptionFunc func(c *OAuthClient)

func WithTokenURL(tokenURL string) OAuthOptionFunc {
	return func(c *OAuthClient) {
		c.conf.Endpoint.TokenURL = tokenURL
	}
}

func WithOAuthHTTPClient(client *http.Client) OAuthOptionFunc {
	return func(c *OAuthClient) {
		c.client = client
	}
}

// OAuthClient talks to the Twitch OAuth token endpoint for the authorization code
// and refresh token grants.
type OAuthClient struct {
	conf   *oauth2.Config
	client *http.Client
}

func NewOAuthClient(clientID, clientSecret, redirectURL string, scopes []string, opts ...OAuthOptionFunc) *OAuthClient {
	c := &OAuthClient{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   defaultAuthURL,
				TokenURL:  defaultTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}

	for _, f := range opts {
		f(c)
	}

	if c.client == nil {
		c.client = http.DefaultClient
	}

	return c
}

func (c *OAuthClient) AuthCodeURL(state string) string {
	return c.conf.AuthCodeURL(state)
}

func (c *OAuthClient) ExchangeAuthorizationCode(ctx context.Context, code string) (TokenResponse, error) {
	tok, err := c.conf.Exchange(c.withClient(ctx), code)
	if err != nil {
		return TokenResponse{}, convertRetrieveError(err)
	}

	return toTokenResponse(tok), nil
}

func (c *OAuthClient) ExchangeRefreshToken(ctx context.Context, refreshToken string) (TokenResponse, error) {
	src := c.conf.TokenSource(c.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return TokenResponse{}, convertRetrieveError(err)
	}

	return toTokenResponse(tok), nil
}

func (c *OAuthClient) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.client)
}

func convertRetrieveError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		return &TokenEndpointError{
			StatusCode: rErr.Response.StatusCode,
			Body:       strings.TrimSpace(string(rErr.Body)),
		}
	}

	return err
}

func toTokenResponse(tok *oauth2.Token) TokenResponse {
	resp := TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}

	// twitch sends scope as an array, RFC 6749 as a space separated string
	switch scope := tok.Extra("scope").(type) {
	case []any:
		for _, s := range scope {
			if str, ok := s.(string); ok {
				resp.Scopes = append(resp.Scopes, str)
			}
		}
	case string:
		resp.Scopes = strings.Fields(scope)
	}

	switch exp := tok.Extra("expires_in").(type) {
	case float64:
		resp.ExpiresIn = int(exp)
	case string:
		resp.ExpiresIn, _ = strconv.Atoi(exp)
	}

	if resp.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		resp.ExpiresIn = int(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}

	return resp
}
