package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/vbonduro/nutrilog/internal/config"
	"github.com/vbonduro/nutrilog/internal/logging"
)

// runtime is filled in by the root Before hook and shared with subcommands.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
}

func Run(ctx context.Context, args []string, version string) error {
	var (
		envFile  string
		logLevel string
		closer   func()
		rt       runtime
	)

	app := &cli.Command{
		Name:    "nutrilog",
		Usage:   "Photo-based meal logging and nutrition advice",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "dotenv file merged into the environment before configuration is read",
				Value:       ".env",
				Sources:     cli.EnvVars("NUTRILOG_ENV_FILE"),
				Destination: &envFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "debug, info, warn or error (overrides LOG_LEVEL)",
				Destination: &logLevel,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := config.LoadEnvFile(envFile); err != nil {
				return ctx, err
			}
			cfg, err := config.Load()
			if err != nil {
				return ctx, goerr.Wrap(err, "failed to load configuration")
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
			if err != nil {
				return ctx, goerr.Wrap(err, "failed to initialize logger")
			}
			closer = cleanup
			rt.cfg = cfg
			rt.logger = logger
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if closer != nil {
				closer()
			}
			return nil
		},
		Commands: []*cli.Command{
			cmdServe(&rt),
			cmdMigrate(&rt),
			cmdJournal(&rt),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		slog.Default().Error("failed to run app", logging.ErrAttr(err))
		return err
	}
	return nil
}

func output(c *cli.Command) io.Writer {
	if w := c.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
