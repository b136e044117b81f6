package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"ffcal/lib/browser"
	"ffcal/lib/calstore"
	"ffcal/lib/configutil"
	"ffcal/lib/scrapers/forexfactory"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// Config is the optional ffcal.json5 file; flags cover the per-run knobs,
// the file covers the machine-specific browser setup.
type Config struct {
	Browser browser.Options `json:"browser"`
}

var (
	startFlag       string
	endFlag         string
	csvFlag         string
	detailsFlag     bool
	clockOffsetFlag string
	headedFlag      bool
)

func init() {
	scrapeCmd.Flags().StringVar(&startFlag, "start", "", "Start date (YYYY-MM-DD).")
	scrapeCmd.Flags().StringVar(&endFlag, "end", "", "End date (YYYY-MM-DD), inclusive.")
	scrapeCmd.Flags().StringVar(&csvFlag, "csv", "ffcal_cache.csv", "Output CSV store.")
	scrapeCmd.Flags().BoolVar(&detailsFlag, "details", false, "Scrape event detail panels.")
	scrapeCmd.Flags().StringVar(&clockOffsetFlag, "clock-offset", "system",
		"Zone for event times: 'system' (local zone, page clock offset only logged) or 'derived' (apply the page clock offset).")
	scrapeCmd.Flags().BoolVar(&headedFlag, "headed", false, "Run the browser with a visible window.")
	scrapeCmd.MarkFlagRequired("start")
	scrapeCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(scrapeCmd)
}

type daySummary struct {
	date     time.Time
	mode     string
	events   int
	inserted int
	updated  int
}

// applyHeadedFlag resolves window visibility: an explicitly passed --headed
// wins, otherwise the config file's setting stands.
func applyHeadedFlag(opts browser.Options, flagSet, headed bool) browser.Options {
	if flagSet {
		opts.Headed = headed
	}
	return opts
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape --start <date> --end <date> [--csv <path>] [--details]",
	Short: "Scrapes a date range of calendar days and reconciles them into the CSV store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		start, err := time.ParseInLocation("2006-01-02", startFlag, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --start date: %w", err)
		}
		end, err := time.ParseInLocation("2006-01-02", endFlag, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --end date: %w", err)
		}
		if end.Before(start) {
			return fmt.Errorf("invalid range: --end %s is before --start %s", endFlag, startFlag)
		}
		offsetMode, err := forexfactory.ParseClockOffsetMode(clockOffsetFlag)
		if err != nil {
			return err
		}

		cfg, err := configutil.ReadConfig[Config]("ffcal.json5")
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read ffcal.json5: %w", err)
		}
		cfg.Browser = applyHeadedFlag(cfg.Browser, cmd.Flags().Changed("headed"), headedFlag)

		// a load failure here means we cannot know what was already
		// captured; continuing would risk duplicates after a crash
		store, err := calstore.Load(csvFlag)
		if err != nil {
			return err
		}

		page, err := browser.Launch(ctx, cfg.Browser)
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		defer page.Close()

		orch := forexfactory.NewOrchestrator(page, store, offsetMode, ".")

		slog.Info("scraping range",
			"start", start.Format("2006-01-02"),
			"end", end.Format("2006-01-02"),
			"days", int(end.Sub(start).Hours()/24)+1,
			"details", detailsFlag,
		)

		var summaries []daySummary
		totalInserted, totalUpdated := 0, 0

		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			if ctx.Err() != nil {
				slog.Warn("interrupted, store reflects last completed day")
				break
			}

			res, err := orch.FetchDay(ctx, day, detailsFlag)
			if err != nil {
				// an exhausted day is not fatal to the range
				slog.Warn("day yielded no events", "date", day.Format("2006-01-02"), "err", err)
				summaries = append(summaries, daySummary{date: day, mode: "-"})
				continue
			}

			inserted, updated := store.Merge(ctx, res.Events)
			if inserted+updated > 0 {
				slog.Info("reconciled day into store",
					"date", day.Format("2006-01-02"),
					"inserted", inserted,
					"updated", updated,
				)
			}
			if err := store.Flush(); err != nil {
				return err
			}

			totalInserted += inserted
			totalUpdated += updated
			summaries = append(summaries, daySummary{
				date:     day,
				mode:     res.Mode.String(),
				events:   len(res.Events),
				inserted: inserted,
				updated:  updated,
			})
		}

		if err := store.Flush(); err != nil {
			return err
		}

		renderSummary(summaries)
		slog.Info("done",
			"rows_total", store.Len(),
			"inserted", totalInserted,
			"updated", totalUpdated,
		)
		return nil
	},
}

func renderSummary(summaries []daySummary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Date", "Mode", "Events", "Inserted", "Updated"})
	for _, s := range summaries {
		t.AppendRow(table.Row{
			s.date.Format("2006-01-02"), s.mode, s.events, s.inserted, s.updated,
		})
	}
	t.Render()
}
