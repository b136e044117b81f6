package forexfactory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ffcal/lib/browser"
)

// Mode records which extraction strategy produced a day's rows.
type Mode int

const (
	ModeHandle Mode = iota
	ModeEvaluation
)

func (m Mode) String() string {
	if m == ModeEvaluation {
		return "evaluation"
	}
	return "handle"
}

// RawRow is the intermediate per-row payload both extraction modes produce.
// Produced fresh per fetch, consumed immediately by the normalization
// pipeline, never persisted. The JSON tags match the field names the
// evaluation-mode script serializes.
type RawRow struct {
	ClassName string `json:"className"`
	Time      string `json:"time"`
	Currency  string `json:"currency"`
	Impact    string `json:"impact"`
	Event     string `json:"event"`
	Actual    string `json:"actual"`
	Forecast  string `json:"forecast"`
	Previous  string `json:"previous"`
	HasDetail bool   `json:"hasDetail"`
}

// rowSource is one successful row collection: the raw rows, the strategy
// that produced them, the header clock text observed alongside, and a
// mode-specific way to open row details.
type rowSource struct {
	mode        Mode
	rows        []RawRow
	headerClock string
	// openDetail triggers the detail-reveal interaction for the row at
	// the given page index. Nil when detail interaction is unavailable.
	openDetail func(ctx context.Context, idx int) error
}

// Page structure markers. The class names are the page's own; rows whose
// class contains a separator marker carry no event data.
const (
	rowSelector   = "tr.calendar__row"
	clockSelector = ".calendar__clock"

	cellTime     = "td.calendar__time"
	cellCurrency = "td.calendar__currency"
	cellImpact   = "td.calendar__impact"
	cellEvent    = "td.calendar__event"
	cellActual   = "td.calendar__actual"
	cellForecast = "td.calendar__forecast"
	cellPrevious = "td.calendar__previous"
	detailLink   = "td.calendar__detail a"

	classDayBreaker = "day-breaker"
	classNoEvent    = "no-event"
)

const detailClickSettle = 250 * time.Millisecond

// Extractor turns collected raw rows into canonical calendar events. One
// pipeline serves both strategies; they differ only in how rows are sourced.
type Extractor struct {
	page       browser.Page
	details    *DetailFetcher
	offsetMode ClockOffsetMode
	sleep      func(ctx context.Context, d time.Duration)
}

func NewExtractor(page browser.Page, cache DetailCache, offsetMode ClockOffsetMode) *Extractor {
	return &Extractor{
		page:       page,
		details:    NewDetailFetcher(page, cache),
		offsetMode: offsetMode,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// extract runs the shared normalization pipeline over a row source:
// separator and empty-event rows are dropped, times are carried over and
// resolved against baseDate in the heuristic zone, impact text is
// normalized, and details are optionally fetched. Output order is page row
// order.
func (x *Extractor) extract(ctx context.Context, src rowSource, baseDate time.Time, scrapeDetails bool) []CalendarEvent {
	ctx, span := tracer.Start(ctx, "extractor:extract")
	defer span.End()

	loc := x.offsetMode.location(src.headerClock, time.Now())

	events := make([]CalendarEvent, 0, len(src.rows))
	carry := timeCarryOver{}

	for idx, row := range src.rows {
		if strings.Contains(row.ClassName, classDayBreaker) || strings.Contains(row.ClassName, classNoEvent) {
			continue
		}
		name := strings.TrimSpace(row.Event)
		if name == "" {
			continue
		}

		timeText := carry.apply(row.Time)
		instant := ResolveTime(timeText).At(baseDate, loc)
		currency := strings.TrimSpace(row.Currency)

		detail := ""
		if scrapeDetails && row.HasDetail && src.openDetail != nil {
			rowIdx := idx
			detail = x.details.Fetch(ctx, NewEventKey(instant, currency, name), func(ctx context.Context) error {
				return src.openDetail(ctx, rowIdx)
			})
		}

		events = append(events, CalendarEvent{
			Time:     instant,
			Currency: currency,
			Impact:   NormalizeImpact(row.Impact),
			Event:    name,
			Actual:   strings.TrimSpace(row.Actual),
			Forecast: strings.TrimSpace(row.Forecast),
			Previous: strings.TrimSpace(row.Previous),
			Detail:   detail,
		})
	}

	slog.Debug("extracted events",
		"mode", src.mode.String(),
		"rows", len(src.rows),
		"events", len(events),
	)
	return events
}

// collectHandleRows reads the calendar rows through structured element
// handles. Any query failure surfaces to the caller; the orchestrator
// decides whether it signals context instability.
func (x *Extractor) collectHandleRows(ctx context.Context) (rowSource, error) {
	handles, err := x.page.Elements(ctx, rowSelector)
	if err != nil {
		return rowSource{}, err
	}

	rows := make([]RawRow, 0, len(handles))
	for _, h := range handles {
		row := RawRow{}
		row.ClassName, _ = h.Attribute("class")
		row.Time = cellText(h, cellTime)
		row.Currency = cellText(h, cellCurrency)
		row.Impact = impactText(h)
		row.Event = cellText(h, cellEvent)
		row.Actual = cellText(h, cellActual)
		row.Forecast = cellText(h, cellForecast)
		row.Previous = cellText(h, cellPrevious)
		_, derr := h.Element(detailLink)
		row.HasDetail = derr == nil
		rows = append(rows, row)
	}

	clock := ""
	if clockHandles, cerr := x.page.Elements(ctx, clockSelector); cerr == nil && len(clockHandles) > 0 {
		clock, _ = clockHandles[0].Text()
	}

	return rowSource{
		mode:        ModeHandle,
		rows:        rows,
		headerClock: strings.TrimSpace(clock),
		openDetail: func(ctx context.Context, idx int) error {
			if idx < 0 || idx >= len(handles) {
				return fmt.Errorf("row %d out of range", idx)
			}
			link, err := handles[idx].Element(detailLink)
			if err != nil {
				return err
			}
			// scroll failures are cosmetic, the click still lands
			_ = link.ScrollIntoView()
			x.sleep(ctx, detailClickSettle)
			return link.Click()
		},
	}, nil
}

// rowsScript serializes all visible calendar rows plus the header clock in
// one evaluation, so evaluation mode never touches the DOM handle layer.
const rowsScript = `
() => {
	const q = (r, sel) => {
		const el = r.querySelector(sel);
		return el ? el.innerText.trim() : '';
	};
	const impactOf = (r) => {
		const sp = r.querySelector('td.calendar__impact span');
		if (sp && sp.getAttribute) {
			return sp.getAttribute('title') || (sp.innerText || '').trim();
		}
		return q(r, 'td.calendar__impact');
	};
	const clockEl = document.querySelector('.calendar__clock');
	const rows = Array.from(document.querySelectorAll('tr.calendar__row'));
	return {
		clock: clockEl ? clockEl.innerText.trim() : '',
		rows: rows.map(r => ({
			className: r.className || '',
			time: q(r, 'td.calendar__time'),
			currency: q(r, 'td.calendar__currency'),
			impact: impactOf(r),
			event: q(r, 'td.calendar__event'),
			actual: q(r, 'td.calendar__actual'),
			forecast: q(r, 'td.calendar__forecast'),
			previous: q(r, 'td.calendar__previous'),
			hasDetail: !!r.querySelector('td.calendar__detail a')
		}))
	};
}`

// detailClickScript clicks the detail link of the row at the given index.
// The index is interpolated as an integer, never as text.
const detailClickScriptFmt = `
() => {
	const rows = Array.from(document.querySelectorAll('tr.calendar__row'));
	if (rows.length <= %d) return false;
	const link = rows[%d].querySelector('td.calendar__detail a');
	if (!link) return false;
	link.scrollIntoView();
	link.click();
	return true;
}`

// collectEvaluatedRows pulls all rows via one in-page script. Used when the
// handle layer has become unreliable. An empty row array is treated as
// failure so the orchestrator keeps retrying.
func (x *Extractor) collectEvaluatedRows(ctx context.Context) (rowSource, error) {
	var payload struct {
		Clock string   `json:"clock"`
		Rows  []RawRow `json:"rows"`
	}
	if err := x.page.Eval(ctx, rowsScript, &payload); err != nil {
		return rowSource{}, err
	}
	if len(payload.Rows) == 0 {
		return rowSource{}, &browser.EvalError{Err: fmt.Errorf("row script returned no rows")}
	}

	return rowSource{
		mode:        ModeEvaluation,
		rows:        payload.Rows,
		headerClock: strings.TrimSpace(payload.Clock),
		openDetail: func(ctx context.Context, idx int) error {
			var clicked bool
			err := x.page.Eval(ctx, fmt.Sprintf(detailClickScriptFmt, idx, idx), &clicked)
			if err != nil {
				return err
			}
			if !clicked {
				return fmt.Errorf("no detail link on row %d", idx)
			}
			return nil
		},
	}, nil
}

func cellText(h browser.Handle, selector string) string {
	cell, err := h.Element(selector)
	if err != nil {
		return ""
	}
	text, err := cell.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// impactText prefers the impact span's title attribute over the cell text,
// matching what the page actually encodes.
func impactText(h browser.Handle) string {
	if span, err := h.Element(cellImpact + " span"); err == nil {
		if title, terr := span.Attribute("title"); terr == nil && title != "" {
			return title
		}
	}
	return cellText(h, cellImpact)
}
