package twitch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/julez-dev/rewardplay/save"
	"github.com/rs/zerolog"
	"resenje.org/singleflight"
)

// tokens expiring within this window are refreshed before use
const refreshMargin = time.Minute

type TokenStore interface {
	Read() (save.Credentials, error)
	Write(save.Credentials) error
}

type RefreshTokenExchanger interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (TokenResponse, error)
}

type CredentialOptionFunc func(m *CredentialManager)

func WithCredentialClock(clock clockwork.Clock) CredentialOptionFunc {
	return func(m *CredentialManager) {
		m.clock = clock
	}
}

// CredentialManager hands out access tokens, refreshing and persisting the
// stored pair when it is about to expire.
type CredentialManager struct {
	logger    zerolog.Logger
	store     TokenStore
	exchanger RefreshTokenExchanger
	clock     clockwork.Clock

	singleRefresh *singleflight.Group[string, string]
}

func NewCredentialManager(logger zerolog.Logger, store TokenStore, exchanger RefreshTokenExchanger, opts ...CredentialOptionFunc) *CredentialManager {
	m := &CredentialManager{
		logger:        logger.With().Str("component", "credentials").Logger(),
		store:         store,
		exchanger:     exchanger,
		clock:         clockwork.NewRealClock(),
		singleRefresh: &singleflight.Group[string, string]{},
	}

	for _, f := range opts {
		f(m)
	}

	return m
}

// AccessToken returns a token valid for at least another minute.
func (m *CredentialManager) AccessToken(ctx context.Context) (string, error) {
	stored, err := m.store.Read()
	if err != nil {
		if errors.Is(err, save.ErrTokenNotFound) {
			return "", &AuthError{Kind: NoCredentials}
		}
		return "", &AuthError{Kind: NoCredentials, Err: err}
	}

	if stored.AccessToken == "" {
		return "", &AuthError{Kind: NoCredentials}
	}

	// a missing expiry counts as already expired
	if !stored.ExpiresAt.IsZero() && stored.ExpiresAt.Sub(m.clock.Now()) >= refreshMargin {
		return stored.AccessToken, nil
	}

	if stored.RefreshToken == "" {
		return "", &AuthError{Kind: MissingRefreshToken}
	}

	// Concurrent callers share a single refresh
	const key = "refresh"
	token, shared, err := m.singleRefresh.Do(ctx, key, func(ctx context.Context) (string, error) {
		return m.refresh(ctx, stored)
	})
	if err != nil {
		m.logger.Err(err).Bool("shared", shared).Msg("could not refresh token")
		m.singleRefresh.Forget(key)
		return "", err
	}

	return token, nil
}

func (m *CredentialManager) refresh(ctx context.Context, stored save.Credentials) (string, error) {
	m.logger.Info().Msg("refreshing twitch access token")

	resp, err := m.exchanger.ExchangeRefreshToken(ctx, stored.RefreshToken)
	if err != nil {
		authErr := &AuthError{Kind: RefreshFailed, Err: err}

		var endpointErr *TokenEndpointError
		if errors.As(err, &endpointErr) {
			authErr.StatusCode = endpointErr.StatusCode
		}

		return "", authErr
	}

	if resp.AccessToken == "" {
		return "", &AuthError{Kind: RefreshFailed, Err: errors.New("token response is missing access_token")}
	}

	now := m.clock.Now()

	merged := save.Credentials{
		AccessToken:  resp.AccessToken,
		RefreshToken: cmp.Or(resp.RefreshToken, stored.RefreshToken),
		TokenType:    cmp.Or(resp.TokenType, stored.TokenType),
		Scopes:       resp.Scopes,
		ExpiresIn:    cmp.Or(resp.ExpiresIn, stored.ExpiresIn),
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		ObtainedAt:   now,
	}

	if len(merged.Scopes) == 0 {
		merged.Scopes = stored.Scopes
	}

	// must be persisted before the token is returned
	if err := m.store.Write(merged); err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	m.logger.Info().Time("expires-at", merged.ExpiresAt).Msg("token refreshed and saved")

	return merged.AccessToken, nil
}
