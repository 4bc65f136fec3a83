package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/vbonduro/nutrilog/internal/db"
	"github.com/vbonduro/nutrilog/internal/logging"
)

func cmdMigrate(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Apply day archive migrations and print the schema version",
		Action: func(ctx context.Context, c *cli.Command) error {
			database, err := db.Open(rt.cfg.DBPath)
			if err != nil {
				return goerr.Wrap(err, "failed to migrate database", goerr.V("path", rt.cfg.DBPath))
			}
			defer func() {
				if err := database.Close(); err != nil {
					rt.logger.Error("failed to close database", logging.ErrAttr(err))
				}
			}()

			version, dirty, err := db.Version(database)
			if err != nil {
				return err
			}
			rt.logger.Info("database migrated", "path", rt.cfg.DBPath, "version", version, "dirty", dirty)
			_, _ = fmt.Fprintf(output(c), "schema version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
}
