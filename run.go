package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/julez-dev/rewardplay/clip"
	"github.com/julez-dev/rewardplay/dispatch"
	"github.com/julez-dev/rewardplay/obs"
	"github.com/julez-dev/rewardplay/twitch"
	"github.com/julez-dev/rewardplay/twitch/eventsub"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
)

var runCMD = &cli.Command{
	Name:  "run",
	Usage: "Listen for channel point redemptions and play the matching clips",
	Description: "Connects to Twitch EventSub and plays <clips_dir>/<slug>.<ext> in OBS for every redeemed reward " +
		"whose title starts with the configured prefix. Runs until interrupted.",
	Action: func(ctx context.Context, command *cli.Command) error {
		cfg, logger, err := loadRuntime(command)
		if err != nil {
			return err
		}

		httpClient := newHTTPClient(logger)

		resolver := clip.NewResolver(logger, afero.NewOsFs(), cfg.ClipsDir, cfg.TitlePrefix, cfg.Extensions)
		if err := resolver.EnsureDir(); err != nil {
			return err
		}

		controller := obs.NewController(logger, obs.ControllerConfig{
			Address:    cfg.OBSAddress,
			Password:   cfg.OBSPassword,
			SourceName: cfg.OBSMediaSourceName,
			DryRun:     cfg.DryRun,
		})
		defer controller.Close()

		if err := controller.Init(ctx); err != nil {
			logger.Warn().Err(err).Msg("initial obs connection failed, will retry when redemptions arrive")
		}

		credentials := twitch.NewCredentialManager(logger, newTokenStore(cfg), newOAuthClient(cfg, httpClient))

		// without a usable token there is nothing to retry
		if _, err := credentials.AccessToken(ctx); err != nil {
			return err
		}

		api, err := twitch.NewAPI(cfg.TwitchClientID, credentials, twitch.WithHTTPClient(httpClient))
		if err != nil {
			return err
		}

		broadcasterID, err := api.BroadcasterID(ctx, cfg.BroadcasterLogin)
		if err != nil {
			return fmt.Errorf("could not look up broadcaster %s: %w", cfg.BroadcasterLogin, err)
		}

		logger.Info().Str("broadcaster-id", broadcasterID).Str("login", cfg.BroadcasterLogin).Msg("resolved broadcaster")

		gate := dispatch.NewGate(logger, resolver, controller, time.Duration(cfg.CooldownMs)*time.Millisecond)
		sessions := eventsub.NewSessionManager(logger, httpClient, api, broadcasterID, gate)

		if err := sessions.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		logger.Info().Msg("shutting down")

		return nil
	},
}
