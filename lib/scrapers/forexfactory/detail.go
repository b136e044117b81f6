package forexfactory

import (
	"context"
	"log/slog"
	"time"

	"ffcal/lib/textutil"
)

// DetailCache is the read side of the persisted store consulted before any
// page interaction. A hit with non-empty detail short-circuits the fetch.
type DetailCache interface {
	CachedDetail(key EventKey) (string, bool)
}

const detailRenderWait = 450 * time.Millisecond

// detailReadScript extracts the revealed detail panel's specification table
// as name/description pairs.
const detailReadScript = `
() => {
	const detailRow = document.querySelector('tr.calendar__details--detail');
	if (!detailRow) return [];
	const table = detailRow.querySelector('table.calendarspecs');
	if (!table) return [];
	const out = [];
	Array.from(table.querySelectorAll('tr')).forEach(tr => {
		const tds = tr.querySelectorAll('td');
		if (tds.length >= 2) {
			const name = (tds[0].innerText || '').trim();
			const desc = (tds[1].innerText || '').trim();
			if (name) out.push({ name: name, desc: desc });
		}
	});
	return out;
}`

const detailCloseScript = `
() => {
	const c = document.querySelector('a[title="Close Detail"]');
	if (c) { c.click(); return true; }
	return false;
}`

// DetailFetcher lazily resolves the free-text detail field for one event.
// Detail enrichment is always optional: every internal failure degrades to
// an empty string, logged at debug level, and never propagates.
type DetailFetcher struct {
	page  detailPage
	cache DetailCache
	sleep func(ctx context.Context, d time.Duration)
}

// detailPage is the slice of browser.Page the fetcher needs; tests provide
// a fake.
type detailPage interface {
	Eval(ctx context.Context, js string, out any) error
}

func NewDetailFetcher(page detailPage, cache DetailCache) *DetailFetcher {
	return &DetailFetcher{page: page, cache: cache, sleep: sleepCtx}
}

// Fetch returns the detail text for key. Cache hits cost zero page
// interaction. On a miss, open triggers the row's detail-reveal interaction,
// the rendered specification table is flattened to one line, and the panel
// is closed best-effort.
func (f *DetailFetcher) Fetch(ctx context.Context, key EventKey, open func(ctx context.Context) error) string {
	ctx, span := tracer.Start(ctx, "detail:fetch")
	defer span.End()

	if f.cache != nil {
		if detail, ok := f.cache.CachedDetail(key); ok && detail != "" {
			return detail
		}
	}
	if open == nil {
		return ""
	}

	if err := open(ctx); err != nil {
		slog.Debug("detail reveal failed", "event", key.Event, "err", err)
		return ""
	}
	f.sleep(ctx, detailRenderWait)

	var pairs []struct {
		Name string `json:"name"`
		Desc string `json:"desc"`
	}
	if err := f.page.Eval(ctx, detailReadScript, &pairs); err != nil {
		slog.Debug("detail table read failed", "event", key.Event, "err", err)
		f.closePanel(ctx)
		return ""
	}

	specs := make([]textutil.Spec, 0, len(pairs))
	for _, p := range pairs {
		specs = append(specs, textutil.Spec{Name: p.Name, Desc: p.Desc})
	}

	f.closePanel(ctx)
	return textutil.FlattenSpecs(specs)
}

// closePanel dismisses the open detail panel; failure to close is non-fatal
// and only logged.
func (f *DetailFetcher) closePanel(ctx context.Context) {
	var closed bool
	if err := f.page.Eval(ctx, detailCloseScript, &closed); err != nil {
		slog.Debug("detail panel close failed", "err", err)
	}
}
