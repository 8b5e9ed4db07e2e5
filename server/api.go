package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/julez-dev/rewardplay/save"
	"github.com/julez-dev/rewardplay/twitch"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	HostAndPort string
	RedirectURL string
}

type Authorizer interface {
	AuthCodeURL(state string) string
	ExchangeAuthorizationCode(ctx context.Context, code string) (twitch.TokenResponse, error)
}

type TokenWriter interface {
	Write(save.Credentials) error
	Location() string
}

type OptionFunc func(a *API)

func WithClock(clock clockwork.Clock) OptionFunc {
	return func(a *API) {
		a.clock = clock
	}
}

// API is the one-shot helper serving the authorization code flow on localhost.
type API struct {
	logger zerolog.Logger
	conf   Config
	oauth  Authorizer
	store  TokenWriter
	clock  clockwork.Clock

	state string

	saved     chan struct{}
	savedOnce *sync.Once
}

func New(logger zerolog.Logger, config Config, oauth Authorizer, store TokenWriter, opts ...OptionFunc) (*API, error) {
	state, err := randomString(16)
	if err != nil {
		return nil, fmt.Errorf("could not generate state: %w", err)
	}

	a := &API{
		logger:    logger.With().Str("component", "auth-helper").Logger(),
		conf:      config,
		oauth:     oauth,
		store:     store,
		clock:     clockwork.NewRealClock(),
		state:     state,
		saved:     make(chan struct{}),
		savedOnce: &sync.Once{},
	}

	for _, f := range opts {
		f(a)
	}

	return a, nil
}

// Done is closed after a token pair was stored.
func (a *API) Done() <-chan struct{} {
	return a.saved
}

func (a *API) Handler() http.Handler {
	return router(a.logger, a)
}

// Launch serves until ctx is cancelled or a token pair was stored.
func (a *API) Launch(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:           a.conf.HostAndPort,
		WriteTimeout:   time.Second * 15,
		ReadTimeout:    time.Second * 15,
		IdleTimeout:    time.Second * 60,
		MaxHeaderBytes: 8 * 1024,
		Handler:        a.Handler(),
	}

	httpSrv.RegisterOnShutdown(func() {
		a.logger.Info().Msg("http shutdown started")
	})

	wg, ctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		a.logger.Info().
			Str("addr", httpSrv.Addr).
			Str("redirect-url", a.conf.RedirectURL).
			Msg("starting auth helper")

		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	wg.Go(func() error {
		select {
		case <-ctx.Done():
		case <-a.saved:
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*15)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}

		a.logger.Info().Msg("shutdown done")

		return nil
	})

	return wg.Wait()
}

func (a *API) getLoggerFrom(ctx context.Context) zerolog.Logger {
	if logger := ctx.Value(loggerKey); logger != nil {
		typed, ok := logger.(zerolog.Logger)

		if ok {
			return typed
		}
	}

	return a.logger
}
