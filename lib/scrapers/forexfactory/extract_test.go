package forexfactory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"ffcal/lib/browser"
	"ffcal/lib/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// fakeHandle is an in-memory DOM element for driving the handle-mode
// collector.
type fakeHandle struct {
	text     string
	attrs    map[string]string
	children map[string]*fakeHandle
	clicks   int
}

func (h *fakeHandle) Text() (string, error) { return h.text, nil }

func (h *fakeHandle) Attribute(name string) (string, error) {
	v, ok := h.attrs[name]
	if !ok {
		return "", fmt.Errorf("no attribute %q", name)
	}
	return v, nil
}

func (h *fakeHandle) Click() error {
	h.clicks++
	return nil
}

func (h *fakeHandle) ScrollIntoView() error { return nil }

func (h *fakeHandle) Element(selector string) (browser.Handle, error) {
	child, ok := h.children[selector]
	if !ok {
		return nil, &browser.DomQueryError{Selector: selector, Err: fmt.Errorf("not found")}
	}
	return child, nil
}

// fakePage implements browser.Page through pluggable functions so each test
// scripts exactly the behavior it needs.
type fakePage struct {
	navigateFn func(ctx context.Context, url string) error
	reloadFn   func(ctx context.Context) error
	elementsFn func(ctx context.Context, selector string) ([]browser.Handle, error)
	evalFn     func(ctx context.Context, js string, out any) error
	htmlFn     func(ctx context.Context) (string, error)
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if p.navigateFn == nil {
		return nil
	}
	return p.navigateFn(ctx, url)
}

func (p *fakePage) Reload(ctx context.Context) error {
	if p.reloadFn == nil {
		return nil
	}
	return p.reloadFn(ctx)
}

func (p *fakePage) Elements(ctx context.Context, selector string) ([]browser.Handle, error) {
	if p.elementsFn == nil {
		return nil, &browser.DomQueryError{Selector: selector, Err: fmt.Errorf("no elements scripted")}
	}
	return p.elementsFn(ctx, selector)
}

func (p *fakePage) Eval(ctx context.Context, js string, out any) error {
	if p.evalFn == nil {
		return &browser.EvalError{Err: fmt.Errorf("no eval scripted")}
	}
	return p.evalFn(ctx, js, out)
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	if p.htmlFn == nil {
		return "", nil
	}
	return p.htmlFn(ctx)
}

func (p *fakePage) Close() error { return nil }

// evalInto mimics the JSON round-trip real evaluation results go through.
func evalInto(t *testing.T, value any, out any) {
	t.Helper()
	b, err := json.Marshal(value)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, out))
}

func newRowHandle(row RawRow) *fakeHandle {
	cell := func(text string) *fakeHandle { return &fakeHandle{text: text} }

	h := &fakeHandle{
		attrs: map[string]string{"class": row.ClassName},
		children: map[string]*fakeHandle{
			cellTime:     cell(row.Time),
			cellCurrency: cell(row.Currency),
			cellEvent:    cell(row.Event),
			cellActual:   cell(row.Actual),
			cellForecast: cell(row.Forecast),
			cellPrevious: cell(row.Previous),
			cellImpact + " span": {
				attrs: map[string]string{"title": row.Impact},
			},
		},
	}
	if row.HasDetail {
		h.children[detailLink] = &fakeHandle{}
	}
	return h
}

func rowPage(rows []RawRow, clock string) (*fakePage, []*fakeHandle) {
	handles := make([]*fakeHandle, len(rows))
	for i, row := range rows {
		handles[i] = newRowHandle(row)
	}

	page := &fakePage{
		elementsFn: func(ctx context.Context, selector string) ([]browser.Handle, error) {
			switch selector {
			case rowSelector:
				out := make([]browser.Handle, len(handles))
				for i, h := range handles {
					out[i] = h
				}
				return out, nil
			case clockSelector:
				return []browser.Handle{&fakeHandle{text: clock}}, nil
			}
			return nil, &browser.DomQueryError{Selector: selector, Err: fmt.Errorf("not found")}
		},
	}
	return page, handles
}

func newTestExtractor(page browser.Page) *Extractor {
	x := NewExtractor(page, nil, ClockOffsetSystem)
	x.sleep = func(context.Context, time.Duration) {}
	x.details.sleep = x.sleep
	return x
}

var sampleRows = []RawRow{
	{ClassName: "calendar__row day-breaker", Event: "Mon Jun 3"},
	{
		ClassName: "calendar__row",
		Time:      "8:30am",
		Currency:  "USD",
		Impact:    "High Impact Expected",
		Event:     "Non-Farm Payrolls",
		Actual:    "275K",
		Forecast:  "243K",
		Previous:  "229K",
	},
	// no time cell: inherits 8:30am
	{
		ClassName: "calendar__row",
		Currency:  "USD",
		Impact:    "Medium Impact Expected",
		Event:     "Unemployment Rate",
		Actual:    "3.9%",
	},
	{ClassName: "calendar__row no-event"},
	{
		ClassName: "calendar__row",
		Time:      "All Day",
		Currency:  "EUR",
		Impact:    "Non-Economic",
		Event:     "French Bank Holiday",
	},
	// event cell empty: structural filler, dropped
	{ClassName: "calendar__row", Time: "10:00am", Currency: "GBP"},
}

func expectedSampleEvents(day time.Time) []CalendarEvent {
	loc := day.Location()
	return []CalendarEvent{
		{
			Time:     time.Date(day.Year(), day.Month(), day.Day(), 8, 30, 0, 0, loc),
			Currency: "USD",
			Impact:   ImpactHigh,
			Event:    "Non-Farm Payrolls",
			Actual:   "275K",
			Forecast: "243K",
			Previous: "229K",
		},
		{
			Time:     time.Date(day.Year(), day.Month(), day.Day(), 8, 30, 0, 0, loc),
			Currency: "USD",
			Impact:   ImpactMedium,
			Event:    "Unemployment Rate",
			Actual:   "3.9%",
		},
		{
			Time:     time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc),
			Currency: "EUR",
			Impact:   ImpactHoliday,
			Event:    "French Bank Holiday",
		},
	}
}

func TestExtractHandleMode(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:forexfactory")
	defer cleanup()

	page, _ := rowPage(sampleRows, "")
	x := newTestExtractor(page)

	src, err := x.collectHandleRows(context.Background())
	require.NoError(t, err)
	require.Equal(t, ModeHandle, src.mode)

	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.Local)
	events := x.extract(context.Background(), src, day, false)
	require.Empty(t, cmp.Diff(expectedSampleEvents(day), events))
}

func TestExtractEvaluationMode(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:forexfactory")
	defer cleanup()

	page := &fakePage{
		evalFn: func(ctx context.Context, js string, out any) error {
			require.Equal(t, rowsScript, js)
			evalInto(t, map[string]any{"clock": "", "rows": sampleRows}, out)
			return nil
		},
	}
	x := newTestExtractor(page)

	src, err := x.collectEvaluatedRows(context.Background())
	require.NoError(t, err)
	require.Equal(t, ModeEvaluation, src.mode)

	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.Local)
	events := x.extract(context.Background(), src, day, false)
	require.Empty(t, cmp.Diff(expectedSampleEvents(day), events))
}

// Both strategies must normalize identical page content to identical events.
func TestExtractionModeEquivalence(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:forexfactory")
	defer cleanup()

	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.Local)

	handledPage, _ := rowPage(sampleRows, "9:15am")
	hx := newTestExtractor(handledPage)
	hsrc, err := hx.collectHandleRows(context.Background())
	require.NoError(t, err)

	evalPage := &fakePage{
		evalFn: func(ctx context.Context, js string, out any) error {
			evalInto(t, map[string]any{"clock": "9:15am", "rows": sampleRows}, out)
			return nil
		},
	}
	ex := newTestExtractor(evalPage)
	esrc, err := ex.collectEvaluatedRows(context.Background())
	require.NoError(t, err)

	require.Equal(t, hsrc.headerClock, esrc.headerClock)
	require.Empty(t, cmp.Diff(hsrc.rows, esrc.rows))

	handled := hx.extract(context.Background(), hsrc, day, false)
	evaluated := ex.extract(context.Background(), esrc, day, false)
	require.Empty(t, cmp.Diff(handled, evaluated))
}

func TestCollectEvaluatedRowsRejectsEmpty(t *testing.T) {
	page := &fakePage{
		evalFn: func(ctx context.Context, js string, out any) error {
			evalInto(t, map[string]any{"clock": "", "rows": []RawRow{}}, out)
			return nil
		},
	}
	x := newTestExtractor(page)

	_, err := x.collectEvaluatedRows(context.Background())
	require.Error(t, err)
}

func TestExtractFetchesDetails(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:forexfactory")
	defer cleanup()

	rows := []RawRow{
		{
			ClassName: "calendar__row",
			Time:      "8:30am",
			Currency:  "USD",
			Impact:    "High Impact Expected",
			Event:     "Non-Farm Payrolls",
			HasDetail: true,
		},
	}

	page, handles := rowPage(rows, "")
	page.evalFn = func(ctx context.Context, js string, out any) error {
		switch {
		case strings.Contains(js, "calendarspecs"):
			evalInto(t, []map[string]string{
				{"name": "Source", "desc": "BLS"},
				{"name": "Speaker", "desc": ""},
			}, out)
		case strings.Contains(js, "Close Detail"):
			evalInto(t, true, out)
		default:
			t.Fatalf("unexpected eval: %s", js)
		}
		return nil
	}
	x := newTestExtractor(page)

	src, err := x.collectHandleRows(context.Background())
	require.NoError(t, err)

	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.Local)
	events := x.extract(context.Background(), src, day, true)

	require.Len(t, events, 1)
	require.Equal(t, "Source: BLS | Speaker: ", events[0].Detail)
	require.Equal(t, 1, handles[0].children[detailLink].clicks)
}

func TestExtractSkipsDetailsWhenDisabled(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:forexfactory")
	defer cleanup()

	rows := []RawRow{
		{
			ClassName: "calendar__row",
			Time:      "8:30am",
			Currency:  "USD",
			Impact:    "High Impact Expected",
			Event:     "Non-Farm Payrolls",
			HasDetail: true,
		},
	}

	page, handles := rowPage(rows, "")
	x := newTestExtractor(page)

	src, err := x.collectHandleRows(context.Background())
	require.NoError(t, err)

	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.Local)
	events := x.extract(context.Background(), src, day, false)

	require.Len(t, events, 1)
	require.Equal(t, "", events[0].Detail)
	require.Equal(t, 0, handles[0].children[detailLink].clicks)
}
