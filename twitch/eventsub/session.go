package eventsub

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
	"github.com/julez-dev/rewardplay/twitch"
	"github.com/rs/zerolog"
)

const (
	DefaultURL = "wss://eventsub.wss.twitch.tv/ws"

	RedemptionSubscriptionType    = "channel.channel_points_custom_reward_redemption.add"
	RedemptionSubscriptionVersion = "1"

	maxMessageSize        = 5 * 1024 * 1024 // 5MB
	defaultReconnectDelay = 2 * time.Second
	dialTimeout           = 30 * time.Second

	// added on top of the keepalive timeout announced in the welcome message
	keepaliveGrace = 5 * time.Second
)

type SubscriptionService interface {
	CreateEventSubSubscription(ctx context.Context, reqData twitch.CreateEventSubSubscriptionRequest) (twitch.CreateEventSubSubscriptionResponse, error)
}

// Redemption is a channel point redemption reduced to what playback needs.
type Redemption struct {
	RewardTitle string
	UserName    string
}

type Dispatcher interface {
	Handle(ctx context.Context, r Redemption)
}

type SessionOptionFunc func(s *SessionManager)

func WithURL(url string) SessionOptionFunc {
	return func(s *SessionManager) {
		s.defaultURL = url
	}
}

func WithReconnectDelay(d time.Duration) SessionOptionFunc {
	return func(s *SessionManager) {
		s.reconnectDelay = d
	}
}

func WithClock(clock clockwork.Clock) SessionOptionFunc {
	return func(s *SessionManager) {
		s.clock = clock
	}
}

// SessionManager keeps an EventSub websocket session alive and subscribed to
// channel point redemptions of a single broadcaster.
type SessionManager struct {
	logger        zerolog.Logger
	httpClient    *http.Client
	subscriptions SubscriptionService
	dispatcher    Dispatcher
	broadcasterID string

	defaultURL     string
	reconnectDelay time.Duration
	clock          clockwork.Clock

	// twitch may send duplicate messages (detectable by id), keep all ids for 15 minutes
	duplicate *ttlcache.Cache[string, struct{}]

	dispatches *sync.WaitGroup
}

func NewSessionManager(logger zerolog.Logger, httpClient *http.Client, subscriptions SubscriptionService, broadcasterID string, dispatcher Dispatcher, opts ...SessionOptionFunc) *SessionManager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	s := &SessionManager{
		logger:         logger.With().Str("component", "eventsub").Logger(),
		httpClient:     httpClient,
		subscriptions:  subscriptions,
		dispatcher:     dispatcher,
		broadcasterID:  broadcasterID,
		defaultURL:     DefaultURL,
		reconnectDelay: defaultReconnectDelay,
		clock:          clockwork.NewRealClock(),
		duplicate: ttlcache.New(
			ttlcache.WithTTL[string, struct{}](15 * time.Minute),
		),
		dispatches: &sync.WaitGroup{},
	}

	for _, f := range opts {
		f(s)
	}

	return s
}

// Run connects, subscribes and forwards redemptions until ctx is cancelled.
// Every lost or refused session is retried after the reconnect delay, there is no retry limit.
// Run always returns ctx.Err() after in-flight dispatches finished.
func (s *SessionManager) Run(ctx context.Context) error {
	go s.duplicate.Start()

	defer func() {
		s.dispatches.Wait()
		s.duplicate.Stop()
	}()

	target := s.defaultURL
	for {
		s.logger.Info().Str("url", target).Msg("connecting to twitch eventsub")

		next, err := s.runSession(ctx, target)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			s.logger.Err(err).Str("url", target).Msg("eventsub session ended")
		}

		target = next

		s.logger.Info().Str("url", target).Dur("delay", s.reconnectDelay).Msg("reconnecting to eventsub")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.reconnectDelay):
		}
	}
}

// runSession drives one connection from dial to close and returns the URL the next
// attempt should target.
func (s *SessionManager) runSession(ctx context.Context, target string) (string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	ws, _, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{
		HTTPClient: s.httpClient,
	})
	cancel()
	if err != nil {
		return s.defaultURL, fmt.Errorf("failed to dial %s: %w", target, err)
	}

	ws.SetReadLimit(maxMessageSize)
	defer ws.CloseNow()

	welcome, err := s.awaitWelcome(ctx, ws)
	if err != nil {
		return s.defaultURL, err
	}

	sessionLogger := s.logger.With().Str("session-id", welcome.Session.ID).Logger()

	if err := s.subscribe(ctx, welcome.Session.ID); err != nil {
		ws.Close(websocket.StatusNormalClosure, "subscription failed")
		return s.defaultURL, err
	}

	sessionLogger.Info().Msg("eventsub subscription active")

	var keepalive time.Duration
	if welcome.Session.KeepAliveTimeoutSeconds > 0 {
		keepalive = time.Duration(welcome.Session.KeepAliveTimeoutSeconds)*time.Second + keepaliveGrace
	}

	for {
		frame, err := s.readFrame(ctx, ws, keepalive)
		if err != nil {
			return s.defaultURL, err
		}

		switch f := frame.(type) {
		case KeepaliveFrame:
			continue
		case ReconnectFrame:
			next := cmp.Or(f.ReconnectURL, s.defaultURL)
			sessionLogger.Info().Str("reconnect-url", next).Msg("twitch requested reconnect")
			ws.Close(websocket.StatusNormalClosure, "reconnecting")
			return next, nil
		case NotificationFrame:
			s.handleNotification(ctx, sessionLogger, f)
		case RevocationFrame:
			sessionLogger.Warn().
				Str("subscription-type", f.Subscription.Type).
				Str("status", f.Subscription.Status).
				Msg("subscription revoked by twitch")
		case WelcomeFrame:
			sessionLogger.Warn().Msg("unexpected welcome message on established session")
		default:
			sessionLogger.Debug().Str("message-type", f.Meta().MessageType).Msg("unhandled message type")
		}
	}
}

func (s *SessionManager) awaitWelcome(ctx context.Context, ws *websocket.Conn) (WelcomeFrame, error) {
	for {
		frame, err := s.readFrame(ctx, ws, 0)
		if err != nil {
			return WelcomeFrame{}, fmt.Errorf("connection lost before welcome: %w", err)
		}

		welcome, ok := frame.(WelcomeFrame)
		if !ok {
			continue
		}

		if welcome.Session.ID == "" {
			return WelcomeFrame{}, &ProtocolError{Kind: MissingSessionID}
		}

		return welcome, nil
	}
}

var errKeepaliveTimeout = errors.New("keepalive timeout")

// readFrame returns the next well formed frame. Malformed frames are skipped.
// A positive timeout bounds the wait for the next frame, measured on the session clock.
func (s *SessionManager) readFrame(ctx context.Context, ws *websocket.Conn, timeout time.Duration) (Frame, error) {
	for {
		readCtx, cancel := context.WithCancelCause(ctx)

		var watchdog clockwork.Timer
		if timeout > 0 {
			watchdog = s.clock.AfterFunc(timeout, func() {
				cancel(errKeepaliveTimeout)
			})
		}

		_, data, err := ws.Read(readCtx)
		if watchdog != nil {
			watchdog.Stop()
		}
		timedOut := errors.Is(context.Cause(readCtx), errKeepaliveTimeout)
		cancel(nil)

		if err != nil {
			if timedOut && ctx.Err() == nil {
				return nil, fmt.Errorf("no message within keepalive window of %s: %w", timeout, errKeepaliveTimeout)
			}
			return nil, fmt.Errorf("failed to read message: %w", err)
		}

		frame, err := ParseFrame(data)
		if err != nil {
			s.logger.Debug().Err(err).Msg("ignoring malformed frame")
			continue
		}

		return frame, nil
	}
}

func (s *SessionManager) subscribe(ctx context.Context, sessionID string) error {
	_, err := s.subscriptions.CreateEventSubSubscription(ctx, twitch.CreateEventSubSubscriptionRequest{
		Type:    RedemptionSubscriptionType,
		Version: RedemptionSubscriptionVersion,
		Condition: map[string]string{
			"broadcaster_user_id": s.broadcasterID,
		},
		Transport: twitch.EventSubTransportRequest{
			Method:    "websocket",
			SessionID: sessionID,
		},
	})
	if err == nil {
		return nil
	}

	subErr := &SubscriptionError{Err: err}

	var apiErr twitch.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusConflict {
			s.logger.Info().Str("session-id", sessionID).Msg("subscription already exists")
			return nil
		}
		subErr.StatusCode = apiErr.Status
	}

	return subErr
}

func (s *SessionManager) handleNotification(ctx context.Context, logger zerolog.Logger, f NotificationFrame) {
	if id := f.Metadata.MessageID; id != "" {
		if s.duplicate.Has(id) {
			logger.Debug().Str("message-id", id).Msg("skipping duplicate notification")
			return
		}
		s.duplicate.Set(id, struct{}{}, ttlcache.DefaultTTL)
	}

	if f.Subscription.Type != "" && f.Subscription.Type != RedemptionSubscriptionType {
		logger.Debug().Str("subscription-type", f.Subscription.Type).Msg("ignoring notification of other subscription type")
		return
	}

	redemption := Redemption{
		RewardTitle: f.Event.Reward.Title,
		UserName:    cmp.Or(f.Event.UserName, "unknown"),
	}

	logger.Info().Str("user", redemption.UserName).Str("reward", redemption.RewardTitle).Msg("reward redeemed")

	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Any("panic", r).Str("reward", redemption.RewardTitle).Msg("dispatcher panicked")
			}
		}()

		s.dispatcher.Handle(ctx, redemption)
	}()
}
