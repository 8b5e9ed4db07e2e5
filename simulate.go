package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/julez-dev/rewardplay/clip"
	"github.com/julez-dev/rewardplay/obs"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
)

var simulateCMD = &cli.Command{
	Name:      "simulate",
	Usage:     "Play the clip for a reward title once",
	ArgsUsage: "<reward title>",
	Action: func(ctx context.Context, command *cli.Command) error {
		title := strings.Join(command.Args().Slice(), " ")
		if strings.TrimSpace(title) == "" {
			return errors.New(`missing reward title, example: rewardplay simulate "Play: tasty"`)
		}

		cfg, logger, err := loadRuntime(command)
		if err != nil {
			return err
		}

		resolver := clip.NewResolver(logger, afero.NewOsFs(), cfg.ClipsDir, cfg.TitlePrefix, cfg.Extensions)

		path, ok := resolver.Resolve(title)
		if !ok {
			return fmt.Errorf("no clip found for %q, expected a file under %s matching extensions %s",
				title, resolver.Dir(), strings.Join(cfg.Extensions, ", "))
		}

		controller := obs.NewController(logger, obs.ControllerConfig{
			Address:    cfg.OBSAddress,
			Password:   cfg.OBSPassword,
			SourceName: cfg.OBSMediaSourceName,
			DryRun:     cfg.DryRun,
		})
		defer controller.Close()

		if err := controller.Init(ctx); err != nil {
			return err
		}

		if err := controller.PlayMedia(ctx, path); err != nil {
			return err
		}

		logger.Info().Str("reward", title).Str("clip", path).Msg("simulated reward playback")

		return nil
	},
}
