package analytics

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sisuxi/sisu-slack-bot/internal/analytics/types"
	"github.com/sisuxi/sisu-slack-bot/internal/config"
	"github.com/sisuxi/sisu-slack-bot/internal/errors"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	// Long timer so only explicit barriers flush.
	cfg.Ingestion.FlushIntervalMs = int((time.Hour).Milliseconds())
	return cfg
}

func TestLogEventWithID(t *testing.T) {
	svc, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Cleanup()

	id, err := svc.LogEventWithID(types.EventData{User: "U1", Channel: "C1"})
	if err != nil {
		t.Fatalf("LogEventWithID: %v", err)
	}

	parts := strings.SplitN(id, "-", 2)
	if len(parts) != 2 || len(parts[1]) != 8 {
		t.Fatalf("event ID = %q, want millis-suffix form", id)
	}
	if _, err := strconv.ParseInt(parts[0], 10, 64); err != nil {
		t.Errorf("event ID prefix %q is not unix millis", parts[0])
	}
}

func TestLoggedEventsVisibleToReads(t *testing.T) {
	svc, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Cleanup()

	for i := 0; i < 3; i++ {
		if err := svc.LogEvent(types.EventData{User: "U1", Channel: "C1", ResponseTime: 100}); err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
	}

	// Below the batch threshold with an hour-long timer, so only the read
	// barrier can make these visible.
	now := time.Now().UTC()
	got, err := svc.GetEventsInRange(context.Background(), now.Add(-time.Minute), now.Add(time.Minute), types.Filter{})
	if err != nil {
		t.Fatalf("GetEventsInRange: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d events, want 3 via flush barrier", len(got))
	}

	st, err := svc.GetStats(context.Background(), types.Query{})
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if st.TotalEvents != 3 || st.UniqueUsers != 1 {
		t.Errorf("stats = %d events / %d users, want 3/1", st.TotalEvents, st.UniqueUsers)
	}
}

func TestCleanupPersistsPending(t *testing.T) {
	cfg := testConfig(t)

	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := svc.LogEvent(types.EventData{User: "U1", Channel: "C1"}); err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
	}
	if err := svc.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	// A fresh service over the same directory sees everything.
	svc2, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc2.Cleanup()

	st, err := svc2.GetDailyStats(context.Background(), "")
	if err != nil {
		t.Fatalf("GetDailyStats: %v", err)
	}
	if st.TotalEvents != 4 {
		t.Errorf("TotalEvents after restart = %d, want 4", st.TotalEvents)
	}
}

func TestOperationsAfterCleanup(t *testing.T) {
	svc, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	// Idempotent.
	if err := svc.Cleanup(); err != nil {
		t.Errorf("second Cleanup: %v", err)
	}

	ctx := context.Background()
	if err := svc.LogEvent(types.EventData{}); !errors.Is(err, errors.ErrServiceClosed) {
		t.Errorf("LogEvent err = %v, want ErrServiceClosed", err)
	}
	if _, err := svc.GetStats(ctx, types.Query{}); !errors.Is(err, errors.ErrServiceClosed) {
		t.Errorf("GetStats err = %v, want ErrServiceClosed", err)
	}
	if _, err := svc.GetChannelStats(ctx, "C1", types.Query{}); !errors.Is(err, errors.ErrServiceClosed) {
		t.Errorf("GetChannelStats err = %v, want ErrServiceClosed", err)
	}
	if _, err := svc.GetDailyStats(ctx, ""); !errors.Is(err, errors.ErrServiceClosed) {
		t.Errorf("GetDailyStats err = %v, want ErrServiceClosed", err)
	}
	if _, err := svc.Export(ctx, "2026-01-01", "2026-01-02", "x.parquet"); !errors.Is(err, errors.ErrServiceClosed) {
		t.Errorf("Export err = %v, want ErrServiceClosed", err)
	}
}

func TestGetChannelStatsNoData(t *testing.T) {
	svc, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Cleanup()

	st, err := svc.GetChannelStats(context.Background(), "C404", types.Query{})
	if err != nil {
		t.Fatalf("GetChannelStats: %v", err)
	}
	if st != nil {
		t.Errorf("GetChannelStats = %+v, want nil for unseen channel", st)
	}
}

func TestGetDailyStatsEmptyDateUsesClock(t *testing.T) {
	svc, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Cleanup()
	svc.now = func() time.Time { return time.Date(2026, 3, 9, 18, 0, 0, 0, time.UTC) }

	events := []types.Event{
		{Timestamp: "2026-03-09T10:00:00.000Z", EventID: "1-a", User: "U1", ResponseTime: 50},
		{Timestamp: "2026-03-09T11:00:00.000Z", EventID: "1-b", User: "U2", ResponseTime: 150},
	}
	if err := svc.store.Append("2026-03-09", events); err != nil {
		t.Fatalf("Append: %v", err)
	}

	st, err := svc.GetDailyStats(context.Background(), "")
	if err != nil {
		t.Fatalf("GetDailyStats: %v", err)
	}
	if st.Date != "2026-03-09" {
		t.Errorf("Date = %q, want the injected clock's day", st.Date)
	}
	if st.TotalEvents != 2 {
		t.Errorf("TotalEvents = %d, want 2", st.TotalEvents)
	}
}

func TestGetDailyStatsMalformedDate(t *testing.T) {
	svc, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Cleanup()

	if _, err := svc.GetDailyStats(context.Background(), "not-a-date"); !errors.IsMalformedDate(err) {
		t.Errorf("err = %v, want malformed date", err)
	}
}

func TestExportRoundtrip(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Cleanup()

	for i := 0; i < 5; i++ {
		if err := svc.LogEvent(types.EventData{User: "U1", Channel: "C1"}); err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
	}

	today := types.DateKey(time.Now().UTC())
	path := filepath.Join(cfg.ArchiveDir(), "out.parquet")
	rows, err := svc.Export(context.Background(), today, today, path)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if rows != 5 {
		t.Errorf("Export rows = %d, want 5", rows)
	}
}

func TestServiceStats(t *testing.T) {
	svc, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Cleanup()

	for i := 0; i < 2; i++ {
		if err := svc.LogEvent(types.EventData{User: "U1"}); err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
	}

	st := svc.Stats()
	if st.EventsLogged != 2 {
		t.Errorf("EventsLogged = %d, want 2", st.EventsLogged)
	}
	if st.LogFailures != 0 {
		t.Errorf("LogFailures = %d, want 0", st.LogFailures)
	}
	if st.Buffer.EventsQueued != 2 {
		t.Errorf("Buffer.EventsQueued = %d, want 2", st.Buffer.EventsQueued)
	}
}
