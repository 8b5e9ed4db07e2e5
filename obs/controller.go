package obs

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"resenje.org/singleflight"
)

const (
	maxConnectAttempts = 5
	restartMediaAction = "OBS_WEBSOCKET_MEDIA_INPUT_ACTION_RESTART"
	dialTimeout        = 10 * time.Second
)

// Controller triggers clip playback on a media source.
type Controller interface {
	Init(ctx context.Context) error
	PlayMedia(ctx context.Context, path string) error
	Close() error
}

type ControllerConfig struct {
	Address    string
	Password   string
	SourceName string
	DryRun     bool
	HTTPClient *http.Client
}

// NewController picks the dry-run variant when cfg.DryRun is set.
func NewController(logger zerolog.Logger, cfg ControllerConfig) Controller {
	if cfg.DryRun {
		return NewDryRunController(logger, cfg.SourceName)
	}

	return NewRealController(logger, cfg)
}

// session is the part of Client the controller depends on.
type session interface {
	Call(ctx context.Context, requestType string, data any) (json.RawMessage, error)
	Done() <-chan struct{}
	Close() error
}

type (
	setInputSettingsRequest struct {
		InputName     string         `json:"inputName"`
		InputSettings map[string]any `json:"inputSettings"`
		Overlay       bool           `json:"overlay"`
	}

	triggerMediaInputActionRequest struct {
		InputName   string `json:"inputName"`
		MediaAction string `json:"mediaAction"`
	}
)

// RealController connects to OBS lazily and reconnects on demand after the
// connection dropped. Concurrent callers share one connect sequence.
type RealController struct {
	logger     zerolog.Logger
	address    string
	sourceName string

	dial    func(ctx context.Context) (session, error)
	backoff func(attempt int) time.Duration
	clock   clockwork.Clock

	m       *sync.Mutex
	client  session
	closed  bool
	connect *singleflight.Group[string, session]
}

func NewRealController(logger zerolog.Logger, cfg ControllerConfig) *RealController {
	logger = logger.With().Str("component", "obs").Logger()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &RealController{
		logger:     logger,
		address:    cfg.Address,
		sourceName: cfg.SourceName,
		dial: func(ctx context.Context) (session, error) {
			ctx, cancel := context.WithTimeout(ctx, dialTimeout)
			defer cancel()

			client, err := Dial(ctx, logger, httpClient, cfg.Address, cfg.Password)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		backoff: connectBackoff,
		clock:   clockwork.NewRealClock(),
		m:       &sync.Mutex{},
		connect: &singleflight.Group[string, session]{},
	}
}

// connectBackoff is min(2s * attempt, 5s).
func connectBackoff(attempt int) time.Duration {
	return min(time.Duration(attempt)*2*time.Second, 5*time.Second)
}

func (c *RealController) Init(ctx context.Context) error {
	_, err := c.ensureConnected(ctx)
	return err
}

func (c *RealController) PlayMedia(ctx context.Context, path string) error {
	s, err := c.ensureConnected(ctx)
	if err != nil {
		return err
	}

	_, err = s.Call(ctx, "SetInputSettings", setInputSettingsRequest{
		InputName:     c.sourceName,
		InputSettings: map[string]any{"local_file": path},
		Overlay:       true,
	})
	if err != nil {
		return &PlaybackError{Step: "SetInputSettings", Path: path, Err: err}
	}

	_, err = s.Call(ctx, "TriggerMediaInputAction", triggerMediaInputActionRequest{
		InputName:   c.sourceName,
		MediaAction: restartMediaAction,
	})
	if err != nil {
		return &PlaybackError{Step: "TriggerMediaInputAction", Path: path, Err: err}
	}

	c.logger.Info().Str("path", path).Str("source", c.sourceName).Msg("obs playback triggered")

	return nil
}

func (c *RealController) Close() error {
	c.m.Lock()
	c.closed = true
	s := c.client
	c.client = nil
	c.m.Unlock()

	if s == nil {
		return nil
	}

	return s.Close()
}

func (c *RealController) current() session {
	c.m.Lock()
	defer c.m.Unlock()

	return c.client
}

func (c *RealController) ensureConnected(ctx context.Context) (session, error) {
	if s := c.current(); s != nil {
		return s, nil
	}

	const key = "connect"
	s, shared, err := c.connect.Do(ctx, key, func(ctx context.Context) (session, error) {
		// a flight that just finished may already have connected
		if s := c.current(); s != nil {
			return s, nil
		}
		return c.connectWithRetry(ctx)
	})
	if err != nil {
		c.logger.Debug().Bool("shared", shared).Msg("shared obs connect failed")
		c.connect.Forget(key)
		return nil, err
	}

	return s, nil
}

func (c *RealController) connectWithRetry(ctx context.Context) (session, error) {
	var lastErr error

	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		if c.isClosed() {
			return nil, &ConnectionError{Address: c.address, Attempts: attempt - 1, Err: ErrControllerClosed}
		}

		s, err := c.dial(ctx)
		if err == nil {
			c.m.Lock()
			if c.closed {
				c.m.Unlock()
				s.Close()
				return nil, &ConnectionError{Address: c.address, Attempts: attempt, Err: ErrControllerClosed}
			}
			c.client = s
			c.m.Unlock()

			go c.watch(s)

			c.logger.Info().Str("address", c.address).Msg("connected to obs")
			return s, nil
		}

		lastErr = err

		if attempt == maxConnectAttempts {
			break
		}

		delay := c.backoff(attempt)
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry-in", delay).Msg("obs connection attempt failed")

		timer := c.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &ConnectionError{Address: c.address, Attempts: attempt, Err: ctx.Err()}
		case <-timer.Chan():
		}
	}

	return nil, &ConnectionError{Address: c.address, Attempts: maxConnectAttempts, Err: lastErr}
}

func (c *RealController) isClosed() bool {
	c.m.Lock()
	defer c.m.Unlock()

	return c.closed
}

// watch clears the connection once OBS goes away so the next playback reconnects.
func (c *RealController) watch(s session) {
	<-s.Done()

	c.m.Lock()
	defer c.m.Unlock()

	if c.client == s {
		c.client = nil
	}

	if !c.closed {
		c.logger.Warn().Msg("obs connection closed, will retry on next playback")
	}
}

// DryRunController logs playback instead of talking to OBS.
type DryRunController struct {
	logger     zerolog.Logger
	sourceName string
}

func NewDryRunController(logger zerolog.Logger, sourceName string) *DryRunController {
	return &DryRunController{
		logger:     logger.With().Str("component", "obs").Bool("dry-run", true).Logger(),
		sourceName: sourceName,
	}
}

func (d *DryRunController) Init(context.Context) error {
	d.logger.Info().Msg("dry-run mode enabled, obs interactions are skipped")
	return nil
}

func (d *DryRunController) PlayMedia(_ context.Context, path string) error {
	d.logger.Info().Str("path", path).Str("source", d.sourceName).Msgf("would play %s on %s", path, d.sourceName)
	return nil
}

func (d *DryRunController) Close() error {
	return nil
}
