package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"kvk-tracker/internal/domain"
	"kvk-tracker/internal/service"
)

const dateLayout = "2006-01-02"

func phaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "event", Usage: "event number (1-based)", Required: true},
		&cli.StringFlag{Name: "phase-a", Usage: "prep phase result, W or L", Required: true},
		&cli.StringFlag{Name: "phase-b", Usage: "battle phase result, W or L", Required: true},
	}
}

func appendCommand(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "append",
		Usage: "record an approved match result, given from entity A's side",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "a", Usage: "entity A", Required: true},
			&cli.StringFlag{Name: "b", Usage: "entity B", Required: true},
			&cli.StringFlag{Name: "date", Usage: "event date, " + dateLayout},
		}, phaseFlags()...),
		Action: func(c *cli.Context) error {
			date, err := parseDate(c.String("date"))
			if err != nil {
				return err
			}

			stored, err := d.Ledger.AppendMatch(c.Context, domain.MatchSubmission{
				EntityA:     c.String("a"),
				EntityB:     c.String("b"),
				EventNumber: c.Int("event"),
				PhaseA:      domain.PhaseResult(c.String("phase-a")),
				PhaseB:      domain.PhaseResult(c.String("phase-b")),
				EventDate:   date,
			})
			if err != nil {
				return err
			}
			return printRecords(c.App.Writer, stored)
		},
	}
}

func byeCommand(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "bye",
		Usage: "record an event without an opponent",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "entity", Required: true},
			&cli.StringFlag{Name: "date", Usage: "event date, " + dateLayout},
		}, phaseFlags()...),
		Action: func(c *cli.Context) error {
			date, err := parseDate(c.String("date"))
			if err != nil {
				return err
			}

			rec, err := d.Ledger.AppendBye(c.Context, domain.ByeSubmission{
				EntityID:    c.String("entity"),
				EventNumber: c.Int("event"),
				PhaseA:      domain.PhaseResult(c.String("phase-a")),
				PhaseB:      domain.PhaseResult(c.String("phase-b")),
				EventDate:   date,
			})
			if err != nil {
				return err
			}
			return printRecords(c.App.Writer, []domain.MatchRecord{rec})
		},
	}
}

func supersedeCommand(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "supersede",
		Usage: "append a corrected revision of an event",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "entity", Required: true},
			&cli.StringFlag{Name: "reason", Required: true},
		}, phaseFlags()...),
		Action: func(c *cli.Context) error {
			stored, err := d.Ledger.Supersede(c.Context, domain.Correction{
				EntityID:    c.String("entity"),
				EventNumber: c.Int("event"),
				PhaseA:      domain.PhaseResult(c.String("phase-a")),
				PhaseB:      domain.PhaseResult(c.String("phase-b")),
				Reason:      c.String("reason"),
			})
			if err != nil {
				return err
			}
			return printRecords(c.App.Writer, stored)
		},
	}
}

func showCommand(d *deps) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "print an entity's summary and effective history",
		ArgsUsage: "<entity>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "explain", Usage: "break the score into its components"},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return cli.Exit("show needs an entity id", 2)
			}

			p, err := d.Ranking.GetProfile(c.Context, id)
			if err != nil {
				return err
			}
			if !p.HasData {
				fmt.Fprintf(c.App.Writer, "%s has no recorded events\n", id)
				return nil
			}

			s := p.Summary
			w := newTable(c.App.Writer)
			fmt.Fprintf(w, "entity\t%s\n", s.EntityID)
			fmt.Fprintf(w, "score\t%s (%s)\n", formatScore(s.Score), s.FormulaVersion)
			fmt.Fprintf(w, "tier\t%s\n", s.Tier)
			fmt.Fprintf(w, "events\t%d\n", s.TotalEvents)
			fmt.Fprintf(w, "prep\t%d-%d (%.1f%%)\n", s.PhaseAWins, s.PhaseALosses, s.PhaseAWinRate*100)
			fmt.Fprintf(w, "battle\t%d-%d (%.1f%%)\n", s.PhaseBWins, s.PhaseBLosses, s.PhaseBWinRate*100)
			fmt.Fprintf(w, "outcomes\tD%d C%d R%d I%d\n", s.DominationCount, s.ComebackCount, s.ReversalCount, s.InvasionCount)
			fmt.Fprintf(w, "streaks\tprep %d (best %d), battle %d (best %d)\n",
				s.CurrentPhaseAStreak, s.BestPhaseAStreak, s.CurrentPhaseBStreak, s.BestPhaseBStreak)
			if c.Bool("explain") {
				b, err := d.Ranking.Explain(c.Context, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "win rate\t%.3f (prep %.3f, battle %.3f smoothed)\n", b.WinRate, b.PhaseASmoothed, b.PhaseBSmoothed)
				fmt.Fprintf(w, "pattern\t%.3f\n", b.Pattern)
				fmt.Fprintf(w, "recent form\t%.3f\n", b.RecentForm)
				fmt.Fprintf(w, "streak bonus\t%.3f\n", b.Streaks)
				fmt.Fprintf(w, "experience\tx%.2f\n", b.Multiplier)
				fmt.Fprintf(w, "raw\t%.3f\n", b.Raw)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintln(c.App.Writer)
			return printRecords(c.App.Writer, p.History)
		},
	}
}

func leaderboardCommand(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "leaderboard",
		Usage: "list the highest scored entities",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 50},
		},
		Action: func(c *cli.Context) error {
			board, err := d.Ranking.Leaderboard(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}

			w := newTable(c.App.Writer)
			fmt.Fprintln(w, "RANK\tENTITY\tSCORE\tTIER\tEVENTS")
			for i, s := range board {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", i+1, s.EntityID, formatScore(s.Score), s.Tier, s.TotalEvents)
			}
			return w.Flush()
		},
	}
}

func compareCommand(d *deps) *cli.Command {
	return &cli.Command{
		Name:      "compare",
		Usage:     "compare two entities and list their meetings",
		ArgsUsage: "<entity> <entity>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("compare needs two entity ids", 2)
			}

			cmp, err := d.Ranking.Compare(c.Context, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return err
			}

			w := newTable(c.App.Writer)
			fmt.Fprintln(w, "ENTITY\tSCORE\tTIER\tEVENTS")
			for _, p := range []domain.Profile{cmp.A, cmp.B} {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", p.EntityID, formatScore(p.Summary.Score), p.Summary.Tier, p.Summary.TotalEvents)
			}
			fmt.Fprintf(w, "gap\t%.3f\n", cmp.ScoreGap)
			if err := w.Flush(); err != nil {
				return err
			}

			if len(cmp.HeadToHead) > 0 {
				fmt.Fprintln(c.App.Writer)
				return printRecords(c.App.Writer, cmp.HeadToHead)
			}
			return nil
		},
	}
}

func reconcileCommand(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "recompute every entity and report what moved",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "formula", Usage: "formula version, defaults to the current one"},
			&cli.IntFlag{Name: "workers", Usage: "concurrent entities, defaults to RECONCILE_WORKERS"},
			&cli.Float64Flag{Name: "epsilon", Usage: "minimum score delta reported as changed, defaults to RECONCILE_EPSILON"},
			&cli.BoolFlag{Name: "dry-run", Usage: "report without writing summaries"},
			&cli.StringFlag{Name: "resume", Usage: "id of an interrupted run to continue"},
		},
		Action: func(c *cli.Context) error {
			opts := d.Reconcile.DefaultOptions()
			opts.FormulaVersion = c.String("formula")
			opts.DryRun = c.Bool("dry-run")
			opts.ResumeRunID = c.String("resume")
			if c.IsSet("workers") {
				opts.Workers = c.Int("workers")
			}
			if c.IsSet("epsilon") {
				opts.Epsilon = c.Float64("epsilon")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := d.Reconcile.Run(ctx, opts)
			if err != nil {
				return err
			}
			return printReport(c.App.Writer, report)
		},
	}
}

func reportCommand(d *deps) *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "print the delta report of a reconciliation run",
		ArgsUsage: "<run-id>",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return cli.Exit("report needs a run id", 2)
			}

			report, err := d.Reconcile.Report(c.Context, id)
			if err != nil {
				return err
			}
			return printReport(c.App.Writer, report)
		},
	}
}

func thresholdsCommand(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "thresholds",
		Usage: "inspect or refresh tier thresholds",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "print the current snapshot",
				Action: func(c *cli.Context) error {
					return printThresholds(c.App.Writer, d.Thresholds.Current())
				},
			},
			{
				Name:  "refresh",
				Usage: "recompute cuts over every scored entity and relabel",
				Action: func(c *cli.Context) error {
					t, err := d.Thresholds.Refresh(c.Context)
					if err != nil {
						return err
					}
					return printThresholds(c.App.Writer, t)
				},
			},
		},
	}
}

func formulasCommand(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "formulas",
		Usage: "list registered formula versions",
		Action: func(c *cli.Context) error {
			current := d.Formulas.Current().Version()

			w := newTable(c.App.Writer)
			fmt.Fprintln(w, "VERSION\tMIN\tMAX\tWINDOW\tCURRENT")
			for _, v := range d.Formulas.Versions() {
				f, err := d.Formulas.Get(v)
				if err != nil {
					return err
				}
				lo, hi := f.Bounds()
				mark := ""
				if v == current {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%g\t%g\t%d\t%s\n", v, lo, hi, f.Calibration().Window(), mark)
			}
			return w.Flush()
		},
	}
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return &t, nil
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return strconv.FormatFloat(*score, 'f', 3, 64)
}

func printRecords(out io.Writer, records []domain.MatchRecord) error {
	w := newTable(out)
	fmt.Fprintln(w, "EVENT\tREV\tENTITY\tOPPONENT\tPREP\tBATTLE\tOUTCOME\tREASON")
	for _, r := range records {
		opponent := r.OpponentID
		if r.IsBye() {
			opponent = "(bye)"
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.EventNumber, r.Revision, r.EntityID, opponent, r.PhaseAResult, r.PhaseBResult, r.Outcome, r.Reason)
	}
	return w.Flush()
}

func printReport(out io.Writer, report domain.ReconcileReport) error {
	run := report.Run
	fmt.Fprintf(out, "run %s (%s, formula %s", run.ID, run.Status, run.FormulaVersion)
	if run.DryRun {
		fmt.Fprint(out, ", dry run")
	}
	fmt.Fprintf(out, "): %d processed, %d changed, %d failed\n", run.Processed, run.Changed, run.Failed)
	if run.Status == service.RunCancelled {
		fmt.Fprintf(out, "resume with: rankctl reconcile --resume %s\n", run.ID)
	}
	if len(report.Entries) == 0 {
		return nil
	}

	w := newTable(out)
	fmt.Fprintln(w, "ENTITY\tSTATUS\tOLD\tNEW\tDELTA\tTIER\tERROR")
	for _, e := range report.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.3f\t%s->%s\t%s\n",
			e.EntityID, e.Status, formatScore(e.OldScore), formatScore(e.NewScore), e.Delta(), e.OldTier, e.NewTier, e.Error)
	}
	return w.Flush()
}

func printThresholds(out io.Writer, t domain.TierThresholds) error {
	fmt.Fprintf(out, "version %d, %s over %d entities\n", t.Version, t.Method, t.Population)
	w := newTable(out)
	fmt.Fprintln(w, "TIER\tMIN SCORE")
	for _, cut := range t.Cuts {
		fmt.Fprintf(w, "%s\t%.3f\n", cut.Tier, cut.MinScore)
	}
	return w.Flush()
}
