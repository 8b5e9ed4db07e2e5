package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cli/browser"
	"github.com/julez-dev/rewardplay/httputil"
	"github.com/julez-dev/rewardplay/save"
	"github.com/julez-dev/rewardplay/twitch"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
)

func init() {
	browser.Stderr = io.Discard
	browser.Stdout = io.Discard
}

func main() {
	app := &cli.Command{
		Name:        "rewardplay",
		Description: "Plays clips in OBS when Twitch channel point rewards are redeemed",
		Usage:       "Twitch channel point redemptions to OBS media playback",
		Authors: []any{
			&mail.Address{
				Name:    "julez-dev",
				Address: "julez-dev@pm.me",
			},
		},
		Commands: []*cli.Command{
			runCMD,
			authCMD,
			simulateCMD,
			versionCMD,
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the config file, searched in the default locations when empty",
				Sources: cli.EnvVars(save.ConfigPathEnv),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Minimum log level (trace, debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "Write logs as JSON lines instead of human readable output",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Only log playback instead of talking to OBS, overrides the config",
			},
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error while running rewardplay: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(command *cli.Command) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(command.String("log-level"))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level: %w", err)
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	if command.Bool("log-json") {
		out = os.Stderr
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = logger

	return logger, nil
}

// loadRuntime builds the logger and loads the config every command works with.
func loadRuntime(command *cli.Command) (save.Config, zerolog.Logger, error) {
	logger, err := setupLogger(command)
	if err != nil {
		return save.Config{}, logger, err
	}

	cfg, err := save.LoadConfig(afero.NewOsFs(), command.String("config"), os.LookupEnv)
	if err != nil {
		return save.Config{}, logger, err
	}

	if command.Bool("dry-run") {
		cfg.DryRun = true
	}

	logger.Info().Str("path", cfg.Path).Bool("dry-run", cfg.DryRun).Msg("loaded config")

	return cfg, logger, nil
}

func newHTTPClient(logger zerolog.Logger) *http.Client {
	return &http.Client{
		Transport: httputil.NewLoggingRoundTrip(http.DefaultTransport, logger, Version),
	}
}

type tokenStore interface {
	twitch.TokenStore
	Location() string
}

func newTokenStore(cfg save.Config) tokenStore {
	if cfg.TokenStore == save.TokenStoreKeyring {
		return save.NewKeyringTokenStore(cfg.BroadcasterLogin)
	}

	return save.NewFileTokenStore(afero.NewOsFs(), cfg.TokensFile)
}

func newOAuthClient(cfg save.Config, httpClient *http.Client) *twitch.OAuthClient {
	return twitch.NewOAuthClient(
		cfg.TwitchClientID,
		cfg.TwitchClientSecret,
		cfg.RedirectURI,
		cfg.Scopes,
		twitch.WithOAuthHTTPClient(httpClient),
	)
}
