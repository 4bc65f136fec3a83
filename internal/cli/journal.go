package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/vbonduro/nutrilog/internal/db"
	"github.com/vbonduro/nutrilog/internal/domain"
	"github.com/vbonduro/nutrilog/internal/logging"
	"github.com/vbonduro/nutrilog/internal/store"
)

func cmdJournal(rt *runtime) *cli.Command {
	var limit int

	return &cli.Command{
		Name:  "journal",
		Usage: "Print recently closed days from the archive",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "limit",
				Usage:       "number of days to print",
				Value:       7,
				Destination: &limit,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			database, err := db.Open(rt.cfg.DBPath)
			if err != nil {
				return goerr.Wrap(err, "failed to open database", goerr.V("path", rt.cfg.DBPath))
			}
			defer func() {
				if err := database.Close(); err != nil {
					rt.logger.Error("failed to close database", logging.ErrAttr(err))
				}
			}()

			days, err := store.NewDayStore(database).ListRecent(ctx, limit)
			if err != nil {
				return err
			}
			return printDays(output(c), days)
		},
	}
}

func printDays(w io.Writer, days []*domain.DayRecord) error {
	if len(days) == 0 {
		_, err := fmt.Fprintln(w, "No closed days yet.")
		return err
	}
	for _, d := range days {
		if _, err := fmt.Fprintf(w, "#%d  %s  goal: %s\n", d.ID, d.ClosedAt.Local().Format("2006-01-02 15:04"), d.Goal); err != nil {
			return err
		}
		for _, m := range d.Meals {
			if _, err := fmt.Fprintf(w, "  - %s: %s\n", m.Name, m.Summary); err != nil {
				return err
			}
		}
		if d.Summary != "" {
			if _, err := fmt.Fprintf(w, "  summary: %s\n", d.Summary); err != nil {
				return err
			}
		}
	}
	return nil
}
