package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cli/browser"
	"github.com/julez-dev/rewardplay/server"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

var authCMD = &cli.Command{
	Name:  "auth",
	Usage: "Authorize rewardplay with the broadcaster's Twitch account",
	Description: "Starts a local helper on the configured port. Open it, authorize on Twitch and the " +
		"token pair is stored for the run command. Exits once the tokens are saved.",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "no-browser",
			Usage: "Do not open the helper page in the default browser",
		},
	},
	Action: func(ctx context.Context, command *cli.Command) error {
		cfg, logger, err := loadRuntime(command)
		if err != nil {
			return err
		}

		store := newTokenStore(cfg)

		api, err := server.New(
			logger,
			server.Config{
				HostAndPort: fmt.Sprintf("localhost:%d", cfg.Port),
				RedirectURL: cfg.RedirectURI,
			},
			newOAuthClient(cfg, newHTTPClient(logger)),
			store,
		)
		if err != nil {
			return err
		}

		helperURL := fmt.Sprintf("http://localhost:%d/", cfg.Port)

		wg, ctx := errgroup.WithContext(ctx)

		wg.Go(func() error {
			return api.Launch(ctx)
		})

		fmt.Fprintf(os.Stdout, "Open %s in your browser to authorize.\n", helperURL)

		if !command.Bool("no-browser") {
			wg.Go(func() error {
				if err := browser.OpenURL(helperURL); err != nil {
					logger.Warn().Err(err).Msg("could not open browser")
				}
				return nil
			})
		}

		if err := wg.Wait(); err != nil {
			return err
		}

		select {
		case <-api.Done():
			fmt.Fprintf(os.Stdout, "Tokens saved to %s\n", store.Location())
		default:
		}

		return nil
	},
}
