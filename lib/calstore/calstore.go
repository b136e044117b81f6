// Package calstore persists reconciled calendar events as a fixed-column
// CSV table, addressable by uniqueness key. The store is loaded once per
// run, mutated only between days, and flushed after every day so a restart
// resumes without losing anything beyond the in-flight day.
package calstore

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"time"

	"ffcal/lib/scrapers/forexfactory"
	"ffcal/lib/telemetry"

	"go.opentelemetry.io/otel/attribute"
)

var tracer = telemetry.Tracer("calstore")

var header = []string{
	"DateTime", "Currency", "Impact", "Event",
	"Actual", "Forecast", "Previous", "Detail",
}

// Store is an ordered collection of reconciled events with a key index.
// Order is insertion order, which preserves page row order within a day and
// day order across the run.
type Store struct {
	path  string
	rows  []forexfactory.CalendarEvent
	index map[forexfactory.EventKey]int
}

// Load reads the store at path. A missing file yields an empty store; any
// other read or parse failure is a store I/O error, which callers must
// treat as fatal.
func Load(path string) (*Store, error) {
	s := &Store{
		path:  path,
		index: make(map[forexfactory.EventKey]int),
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read store %s: %w", path, err)
	}

	for i, rec := range records {
		if i == 0 && len(rec) > 0 && rec[0] == header[0] {
			continue
		}
		if len(rec) != len(header) {
			return nil, fmt.Errorf("read store %s: row %d has %d columns, want %d", path, i+1, len(rec), len(header))
		}
		t, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, fmt.Errorf("read store %s: row %d: %w", path, i+1, err)
		}
		ev := forexfactory.CalendarEvent{
			Time:     t,
			Currency: rec[1],
			Impact:   forexfactory.ParseImpact(rec[2]),
			Event:    rec[3],
			Actual:   rec[4],
			Forecast: rec[5],
			Previous: rec[6],
			Detail:   rec[7],
		}
		// keys are unique by construction; a hand-edited file can
		// violate that, so the first row wins and the rest are dropped
		if _, ok := s.index[ev.Key()]; ok {
			slog.Warn("dropping duplicate store row",
				"path", path, "row", i+1, "event", ev.Event)
			continue
		}
		s.append(ev)
	}

	slog.Info("loaded persisted store", "path", path, "rows", len(s.rows))
	return s, nil
}

func (s *Store) append(ev forexfactory.CalendarEvent) {
	s.index[ev.Key()] = len(s.rows)
	s.rows = append(s.rows, ev)
}

func (s *Store) Len() int { return len(s.rows) }

// Events returns the stored rows in order.
func (s *Store) Events() []forexfactory.CalendarEvent {
	out := make([]forexfactory.CalendarEvent, len(s.rows))
	copy(out, s.rows)
	return out
}

// CachedDetail implements the detail cache consulted before page
// interaction.
func (s *Store) CachedDetail(key forexfactory.EventKey) (string, bool) {
	i, ok := s.index[key]
	if !ok {
		return "", false
	}
	return s.rows[i].Detail, true
}

// Merge reconciles freshly extracted events into the store by uniqueness
// key. Absent keys insert. Present keys update only when the incoming
// event carries a non-empty detail and the stored one is empty; detail
// captured on an earlier run is never clobbered by a later run that saw
// none. Merging the same events twice is a no-op.
func (s *Store) Merge(ctx context.Context, events []forexfactory.CalendarEvent) (inserted, updated int) {
	_, span := tracer.Start(ctx, "store:Merge")
	defer span.End()

	for _, ev := range events {
		key := ev.Key()
		i, ok := s.index[key]
		if !ok {
			s.append(ev)
			inserted++
			continue
		}
		if ev.Detail != "" && s.rows[i].Detail == "" {
			s.rows[i] = ev
			updated++
		}
	}

	span.SetAttributes(
		attribute.Int("inserted", inserted),
		attribute.Int("updated", updated),
	)
	return inserted, updated
}

// Flush writes the full table to disk atomically: a temp file in the same
// directory is renamed over the target so a crash mid-write never leaves a
// truncated store.
func (s *Store) Flush() error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("write store %s: %w", s.path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write store %s: %w", s.path, err)
	}
	for _, ev := range s.rows {
		rec := []string{
			ev.Time.Format(time.RFC3339),
			ev.Currency,
			ev.Impact.String(),
			ev.Event,
			ev.Actual,
			ev.Forecast,
			ev.Previous,
			ev.Detail,
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("write store %s: %w", s.path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write store %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write store %s: %w", s.path, err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write store %s: %w", s.path, err)
	}
	return nil
}
