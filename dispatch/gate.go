package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/julez-dev/rewardplay/twitch/eventsub"
	"github.com/rs/zerolog"
)

type ClipResolver interface {
	Resolve(rewardTitle string) (string, bool)
}

type Player interface {
	PlayMedia(ctx context.Context, path string) error
}

type GateOptionFunc func(g *Gate)

func WithClock(clock clockwork.Clock) GateOptionFunc {
	return func(g *Gate) {
		g.clock = clock
	}
}

// Gate turns redemptions into at most one playback per cooldown window.
// The cooldown is shared by all rewards.
type Gate struct {
	logger   zerolog.Logger
	resolver ClipResolver
	player   Player
	cooldown time.Duration
	clock    clockwork.Clock

	m             *sync.Mutex
	cooldownUntil time.Time
}

func NewGate(logger zerolog.Logger, resolver ClipResolver, player Player, cooldown time.Duration, opts ...GateOptionFunc) *Gate {
	g := &Gate{
		logger:   logger.With().Str("component", "dispatch").Logger(),
		resolver: resolver,
		player:   player,
		cooldown: cooldown,
		clock:    clockwork.NewRealClock(),
		m:        &sync.Mutex{},
	}

	for _, f := range opts {
		f(g)
	}

	return g
}

// Handle plays the clip belonging to the redeemed reward unless no clip matches
// or the cooldown is still active. Playback errors are logged, never returned.
func (g *Gate) Handle(ctx context.Context, r eventsub.Redemption) {
	logger := g.logger.With().Str("reward", r.RewardTitle).Str("user", r.UserName).Logger()

	path, ok := g.resolver.Resolve(r.RewardTitle)
	if !ok {
		logger.Warn().Msg("no clip found for reward")
		return
	}

	if !g.tryStartCooldown() {
		logger.Info().Str("clip", path).Msg("cooldown active, skipping")
		return
	}

	// a failed playback still consumes the cooldown window
	if err := g.player.PlayMedia(ctx, path); err != nil {
		logger.Err(err).Str("clip", path).Msg("failed to trigger playback")
		return
	}

	logger.Info().Str("clip", path).Msg("playback triggered")
}

func (g *Gate) tryStartCooldown() bool {
	g.m.Lock()
	defer g.m.Unlock()

	now := g.clock.Now()
	if now.Before(g.cooldownUntil) {
		return false
	}

	g.cooldownUntil = now.Add(g.cooldown)
	return true
}
