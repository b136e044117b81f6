package forexfactory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ffcal/lib/browser"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	calendarURLFmt = "https://www.forexfactory.com/calendar?day=%s"

	maxAttempts = 3

	// settle delays give the page's own scripts time to run; racing them
	// is what destabilizes the DOM layer in the first place.
	navigateSettle = 350 * time.Millisecond
	reloadSettle   = 500 * time.Millisecond

	snapshotMaxBytes = 300_000
)

// dayURL builds the per-day calendar URL, e.g. "?day=nov24.2025".
func dayURL(day time.Time) string {
	return fmt.Sprintf(calendarURLFmt, strings.ToLower(day.Format("Jan02.2006")))
}

// backoff is the sleep after failed attempt n: min(0.5 * 2^(n-1), 2.0)s.
func backoff(n int) time.Duration {
	secs := math.Min(0.5*math.Pow(2, float64(n-1)), 2.0)
	return time.Duration(secs * float64(time.Second))
}

// DayResult is one day's successful extraction.
type DayResult struct {
	Date     time.Time
	Mode     Mode
	Attempts int
	Events   []CalendarEvent
}

// Orchestrator drives per-day extraction through retries, escalating from
// handle-mode to evaluation-mode when the DOM layer destabilizes.
type Orchestrator struct {
	page        browser.Page
	extractor   *Extractor
	snapshotDir string
	sleep       func(ctx context.Context, d time.Duration)
}

func NewOrchestrator(page browser.Page, cache DetailCache, offsetMode ClockOffsetMode, snapshotDir string) *Orchestrator {
	return &Orchestrator{
		page:        page,
		extractor:   NewExtractor(page, cache, offsetMode),
		snapshotDir: snapshotDir,
		sleep:       sleepCtx,
	}
}

// FetchDay navigates to one day's calendar page and extracts its events.
// On exhaustion it returns an ExtractionExhaustedError; the caller treats
// that day as empty and moves on.
func (o *Orchestrator) FetchDay(ctx context.Context, day time.Time, scrapeDetails bool) (DayResult, error) {
	ctx, span := tracer.Start(ctx, "orchestrator:FetchDay")
	defer span.End()
	span.SetAttributes(attribute.String("day", day.Format("2006-01-02")))

	url := dayURL(day)
	slog.Info("scraping calendar day", "url", url)

	var lastErr error
	navigated := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return DayResult{}, err
		}
		if attempt > 1 {
			o.sleep(ctx, backoff(attempt-1))
		}

		if !navigated {
			if err := o.page.Navigate(ctx, url); err != nil {
				lastErr = err
				slog.Warn("navigation failed", "attempt", attempt, "err", err)
				continue
			}
			navigated = true
			o.sleep(ctx, navigateSettle)
		}

		src, err := o.extractor.collectHandleRows(ctx)
		if err == nil {
			return o.succeed(ctx, day, src, attempt, scrapeDetails), nil
		}
		lastErr = err
		slog.Warn("handle-mode row collection failed",
			"attempt", attempt, "max_attempts", maxAttempts, "err", err)

		if browser.IsStaleContext(err) {
			// reload best-effort; a failed reload just means the
			// evaluation fallback works against the stale document
			if rerr := o.page.Reload(ctx); rerr != nil {
				slog.Debug("reload after stale context failed", "err", rerr)
			} else {
				o.sleep(ctx, reloadSettle)
			}
		}

		src, err = o.extractor.collectEvaluatedRows(ctx)
		if err == nil {
			return o.succeed(ctx, day, src, attempt, scrapeDetails), nil
		}
		lastErr = err
		slog.Debug("evaluation-mode fallback failed", "attempt", attempt, "err", err)
	}

	span.SetStatus(codes.Error, "extraction exhausted")
	o.dumpSnapshot(ctx, day)
	return DayResult{}, &ExtractionExhaustedError{Day: day, Attempts: maxAttempts, Err: lastErr}
}

func (o *Orchestrator) succeed(ctx context.Context, day time.Time, src rowSource, attempt int, scrapeDetails bool) DayResult {
	events := o.extractor.extract(ctx, src, day, scrapeDetails)
	slog.Info("day extracted",
		"date", day.Format("2006-01-02"),
		"mode", src.mode.String(),
		"attempt", attempt,
		"events", len(events),
	)
	return DayResult{Date: day, Mode: src.mode, Attempts: attempt, Events: events}
}

// dumpSnapshot writes the current page markup to disk to aid debugging an
// exhausted day, and logs a short summary of what the static document
// contained. Best-effort throughout.
func (o *Orchestrator) dumpSnapshot(ctx context.Context, day time.Time) {
	html, err := o.page.HTML(ctx)
	if err != nil || html == "" {
		slog.Debug("could not capture page snapshot", "err", err)
		return
	}
	if len(html) > snapshotMaxBytes {
		html = html[:snapshotMaxBytes]
	}

	name := fmt.Sprintf("ffcal_debug_%s.html", day.Format("20060102"))
	path := filepath.Join(o.snapshotDir, name)
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		slog.Debug("failed to write page snapshot", "path", path, "err", err)
		return
	}

	title, staticRows := summarizeSnapshot(html)
	slog.Warn("saved debug page snapshot",
		"path", path,
		"page_title", title,
		"static_rows", staticRows,
	)
}

// summarizeSnapshot parses the dumped markup and reports the page title and
// how many calendar rows exist statically, which usually tells whether the
// page never rendered or rendered and then broke.
func summarizeSnapshot(html string) (string, int) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", 0
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	return title, doc.Find(rowSelector).Length()
}
