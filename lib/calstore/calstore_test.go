package calstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ffcal/lib/scrapers/forexfactory"
	"ffcal/lib/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func sampleEvents() []forexfactory.CalendarEvent {
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	return []forexfactory.CalendarEvent{
		{
			Time:     day.Add(8*time.Hour + 30*time.Minute),
			Currency: "USD",
			Impact:   forexfactory.ImpactHigh,
			Event:    "Non-Farm Payrolls",
			Actual:   "275K",
			Forecast: "243K",
			Previous: "229K",
			Detail:   "Source: BLS",
		},
		{
			Time:     day.Add(8*time.Hour + 30*time.Minute),
			Currency: "USD",
			Impact:   forexfactory.ImpactMedium,
			Event:    "Unemployment Rate",
			Actual:   "3.9%",
		},
		{
			Time:     day,
			Currency: "EUR",
			Impact:   forexfactory.ImpactHoliday,
			Event:    "French Bank Holiday",
		},
	}
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.csv"))
	require.NoError(t, err)
	require.Equal(t, 0, s.Len())
}

func TestFlushLoadRoundTrip(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:calstore")
	defer cleanup()

	path := filepath.Join(t.TempDir(), "store.csv")

	s, err := Load(path)
	require.NoError(t, err)

	events := sampleEvents()
	inserted, updated := s.Merge(context.Background(), events)
	require.Equal(t, len(events), inserted)
	require.Equal(t, 0, updated)
	require.NoError(t, s.Flush())

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(events, reloaded.Events()))
}

func TestLoadRejectsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"DateTime,Currency,Impact,Event,Actual,Forecast,Previous,Detail\n"+
			"not-a-time,USD,HIGH,Non-Farm Payrolls,,,,\n",
	), 0o644))

	_, err := Load(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(
		"DateTime,Currency,Impact\n2024-06-03T08:30:00Z,USD,HIGH\n",
	), 0o644))

	_, err = Load(path)
	require.Error(t, err)
}

func TestLoadDropsDuplicateKeys(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:calstore")
	defer cleanup()

	path := filepath.Join(t.TempDir(), "store.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"DateTime,Currency,Impact,Event,Actual,Forecast,Previous,Detail\n"+
			"2024-06-03T08:30:00Z,USD,HIGH,Non-Farm Payrolls,275K,,,Source: BLS\n"+
			"2024-06-03T08:30:00Z,USD,HIGH,Non-Farm Payrolls,280K,,,\n"+
			"2024-06-03T08:30:00Z,USD,MEDIUM,Unemployment Rate,3.9%,,,\n",
	), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	// the first row wins, including its detail
	require.Equal(t, "275K", s.Events()[0].Actual)
	detail, ok := s.CachedDetail(s.Events()[0].Key())
	require.True(t, ok)
	require.Equal(t, "Source: BLS", detail)

	// a flush after the deduplicating load persists unique keys only
	require.NoError(t, s.Flush())
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.Len())
}

func TestMergeIsIdempotent(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:calstore")
	defer cleanup()

	s, err := Load(filepath.Join(t.TempDir(), "store.csv"))
	require.NoError(t, err)

	events := sampleEvents()
	inserted, updated := s.Merge(context.Background(), events)
	require.Equal(t, 3, inserted)
	require.Equal(t, 0, updated)

	inserted, updated = s.Merge(context.Background(), events)
	require.Equal(t, 0, inserted)
	require.Equal(t, 0, updated)
	require.Equal(t, 3, s.Len())
}

func TestMergeDetailDirectionality(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:calstore")
	defer cleanup()

	s, err := Load(filepath.Join(t.TempDir(), "store.csv"))
	require.NoError(t, err)

	base := forexfactory.CalendarEvent{
		Time:     time.Date(2024, 6, 3, 8, 30, 0, 0, time.UTC),
		Currency: "USD",
		Impact:   forexfactory.ImpactHigh,
		Event:    "Non-Farm Payrolls",
	}

	s.Merge(context.Background(), []forexfactory.CalendarEvent{base})

	// a later scrape that found the detail fills the gap
	withDetail := base
	withDetail.Detail = "Source: BLS"
	inserted, updated := s.Merge(context.Background(), []forexfactory.CalendarEvent{withDetail})
	require.Equal(t, 0, inserted)
	require.Equal(t, 1, updated)
	require.Equal(t, "Source: BLS", s.Events()[0].Detail)

	// a later scrape that found nothing never clobbers stored detail
	inserted, updated = s.Merge(context.Background(), []forexfactory.CalendarEvent{base})
	require.Equal(t, 0, inserted)
	require.Equal(t, 0, updated)
	require.Equal(t, "Source: BLS", s.Events()[0].Detail)

	// nor does one that found a different detail
	changed := base
	changed.Detail = "Source: Eurostat"
	_, updated = s.Merge(context.Background(), []forexfactory.CalendarEvent{changed})
	require.Equal(t, 0, updated)
	require.Equal(t, "Source: BLS", s.Events()[0].Detail)
}

func TestMergePreservesInsertionOrder(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:calstore")
	defer cleanup()

	s, err := Load(filepath.Join(t.TempDir(), "store.csv"))
	require.NoError(t, err)

	events := sampleEvents()
	s.Merge(context.Background(), events[:2])
	s.Merge(context.Background(), events)

	got := s.Events()
	require.Len(t, got, 3)
	require.Equal(t, "Non-Farm Payrolls", got[0].Event)
	require.Equal(t, "Unemployment Rate", got[1].Event)
	require.Equal(t, "French Bank Holiday", got[2].Event)
}

func TestCachedDetail(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:calstore")
	defer cleanup()

	s, err := Load(filepath.Join(t.TempDir(), "store.csv"))
	require.NoError(t, err)

	events := sampleEvents()
	s.Merge(context.Background(), events)

	detail, ok := s.CachedDetail(events[0].Key())
	require.True(t, ok)
	require.Equal(t, "Source: BLS", detail)

	detail, ok = s.CachedDetail(events[1].Key())
	require.True(t, ok)
	require.Equal(t, "", detail)

	missing := forexfactory.NewEventKey(events[0].Time, "JPY", "Non-Farm Payrolls")
	_, ok = s.CachedDetail(missing)
	require.False(t, ok)
}

func TestFlushIsAtomic(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:calstore")
	defer cleanup()

	dir := t.TempDir()
	path := filepath.Join(dir, "store.csv")

	s, err := Load(path)
	require.NoError(t, err)
	s.Merge(context.Background(), sampleEvents())
	require.NoError(t, s.Flush())

	// the temp file never survives a successful flush
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "store.csv", entries[0].Name())
}
