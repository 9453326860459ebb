package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"kvk-tracker/internal/config"
	fxmodules "kvk-tracker/internal/fx"
	"kvk-tracker/internal/scoring"
	"kvk-tracker/internal/service"
)

// deps is everything the commands need, filled by fx.
type deps struct {
	DB         *sql.DB
	Config     *config.Config
	Logger     zerolog.Logger
	Formulas   *scoring.Registry
	Ranking    *service.RankingService
	Ledger     *service.LedgerService
	Thresholds *service.ThresholdService
	Reconcile  *service.ReconcileService
}

func main() {
	var d deps
	if err := newApp(&d).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newApp wires the commands to d. The dependency graph is built in Before
// on every run and the database is closed in After.
func newApp(d *deps) *cli.App {
	return &cli.App{
		Name:  "rankctl",
		Usage: "operate the KvK ranking ledger",
		Before: func(c *cli.Context) error {
			app := fx.New(
				fxmodules.Module,
				fx.NopLogger,
				fx.Populate(
					&d.DB, &d.Config, &d.Logger, &d.Formulas,
					&d.Ranking, &d.Ledger, &d.Thresholds, &d.Reconcile,
				),
			)
			if err := app.Err(); err != nil {
				return err
			}
			return d.Thresholds.Load(c.Context)
		},
		After: func(c *cli.Context) error {
			if d.DB != nil {
				return d.DB.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			appendCommand(d),
			byeCommand(d),
			supersedeCommand(d),
			showCommand(d),
			leaderboardCommand(d),
			compareCommand(d),
			reconcileCommand(d),
			reportCommand(d),
			thresholdsCommand(d),
			formulasCommand(d),
		},
	}
}
