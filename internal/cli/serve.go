package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/vbonduro/nutrilog/internal/config"
	"github.com/vbonduro/nutrilog/internal/db"
	"github.com/vbonduro/nutrilog/internal/generation"
	"github.com/vbonduro/nutrilog/internal/generation/claude"
	"github.com/vbonduro/nutrilog/internal/generation/gemini"
	"github.com/vbonduro/nutrilog/internal/generation/ollama"
	"github.com/vbonduro/nutrilog/internal/generation/vertex"
	"github.com/vbonduro/nutrilog/internal/logging"
	"github.com/vbonduro/nutrilog/internal/nutrition"
	"github.com/vbonduro/nutrilog/internal/store"
	"github.com/vbonduro/nutrilog/internal/web"
	"github.com/vbonduro/nutrilog/internal/web/templates"
)

const sweepInterval = 5 * time.Minute

// testCredential opens the canned backend in test mode.
const testCredential = "test"

func cmdServe(rt *runtime) *cli.Command {
	var addr string

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the web shell and MCP endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address (overrides LISTEN_ADDR)",
				Destination: &addr,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, logger := rt.cfg, rt.logger
			if addr != "" {
				cfg.ListenAddr = addr
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				archive nutrition.DayArchive
				journal web.Journal
			)
			if cfg.ArchiveEnabled {
				database, err := db.Open(cfg.DBPath)
				if err != nil {
					return goerr.Wrap(err, "failed to open database", goerr.V("path", cfg.DBPath))
				}
				defer func() {
					if err := database.Close(); err != nil {
						logger.Error("failed to close database", logging.ErrAttr(err))
					}
				}()
				days := store.NewDayStore(database)
				archive, journal = days, days
			} else {
				logger.Info("day archive disabled")
			}

			connector, credential := newConnector(cfg)
			connector = generation.Decorate(connector, cfg.GenerationTimeout, logger)
			logger.Info("using generation backend",
				"backend", connector.Name(),
				"timeout", cfg.GenerationTimeout.String(),
				"concurrency", cfg.AnalysisConcurrency,
			)

			var preset generation.Client
			if credential != "" {
				client, err := connector.Connect(ctx, credential)
				if err != nil {
					logger.Warn("default credential rejected, sessions will ask for a key", logging.ErrAttr(err))
				} else {
					preset = client
				}
			}

			sessions := nutrition.NewSessionStore(cfg.SessionTTL, preset, logger)
			go sessions.RunSweeper(ctx, sweepInterval)

			pipeline := nutrition.NewPipeline(connector, archive, cfg.AnalysisConcurrency, logger)
			server := web.NewServer(pipeline, sessions, journal, templates.FS, logger)

			if err := server.ListenAndServe(ctx, cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return goerr.Wrap(err, "server error", goerr.V("addr", cfg.ListenAddr))
			}
			return nil
		},
	}
}

// newConnector picks the backend named in cfg and the credential, if any, that
// every new session should start with.
func newConnector(cfg *config.Config) (generation.Connector, string) {
	if cfg.TestMode {
		return generation.CannedConnector{
			NameLabel:    nutrition.MealNameLabel,
			SummaryLabel: nutrition.MealSummaryLabel,
		}, testCredential
	}

	switch cfg.GenerationBackend {
	case "claude":
		return claude.NewConnector(cfg.ClaudeModel), cfg.DefaultCredential()
	case "ollama":
		return ollama.NewConnector(cfg.OllamaHost, cfg.OllamaModel), cfg.DefaultCredential()
	case "vertex":
		return vertex.NewConnector(cfg.VertexLocation), cfg.DefaultCredential()
	default:
		return gemini.NewConnector(cfg.GeminiModel), cfg.DefaultCredential()
	}
}
