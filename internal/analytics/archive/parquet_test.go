package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sisuxi/sisu-slack-bot/internal/analytics/types"
	"github.com/sisuxi/sisu-slack-bot/internal/errors"
)

func archiveEvent(ts, user, command string) types.Event {
	return types.Event{
		Timestamp:    ts,
		EventID:      "id-" + ts,
		User:         user,
		Channel:      "C1",
		ChannelType:  types.ChannelTypeChannel,
		Command:      command,
		ResponseTime: 150,
		TokensUsed:   &types.TokenUsage{Input: 10, Output: 20, Total: 30},
		IsInThread:   true,
	}
}

func TestWriterReaderRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")

	w, err := NewWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	events := []types.Event{
		archiveEvent("2026-03-09T10:00:00.000Z", "U1", "summarize"),
		archiveEvent("2026-03-09T11:00:00.000Z", "U2", ""),
	}
	events[1].ErrorStatus = &types.ErrorStatus{HasError: true, ErrorType: "timeout"}

	if err := w.WriteEvents(events); err != nil {
		t.Fatalf("WriteEvents: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if w.RowCount() != 2 {
		t.Errorf("RowCount = %d, want 2", w.RowCount())
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	if r.NumRows() != 2 {
		t.Errorf("NumRows = %d, want 2", r.NumRows())
	}
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("ReadAll returned %d rows", len(rows))
	}
	if rows[0].User != "U1" || rows[0].Command != "summarize" {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[0].TokensTotal != 30 || !rows[0].IsInThread {
		t.Errorf("row 0 flattening wrong: %+v", rows[0])
	}
	if !rows[1].HasError || rows[1].ErrorType != "timeout" {
		t.Errorf("row 1 error columns = %v/%q", rows[1].HasError, rows[1].ErrorType)
	}
}

func TestWriteAfterClose(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "out.parquet"), DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err = w.WriteEvents([]types.Event{archiveEvent("2026-03-09T10:00:00.000Z", "U1", "")})
	if !errors.Is(err, ErrWriterClosed) {
		t.Errorf("err = %v, want ErrWriterClosed", err)
	}
}

func TestReadAllCorruptArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")

	w, err := NewWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	events := make([]types.Event, 500)
	for i := range events {
		events[i] = archiveEvent(
			types.FormatTimestamp(time.Date(2026, 3, 9, 10, 0, i/60, (i%60)*1e6, time.UTC)),
			"U1", "summarize")
	}
	if err := w.WriteEvents(events); err != nil {
		t.Fatalf("WriteEvents: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Garble the first data pages in place. The footer at the tail stays
	// valid, so the damage only surfaces when rows are read.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 8; i < 72 && i < len(data)-8; i++ {
		data[i] ^= 0xFF
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path)
	if err != nil {
		// Corruption caught at open is acceptable too.
		return
	}
	defer r.Close()

	if _, err := r.ReadAll(); err == nil {
		t.Error("ReadAll of corrupt archive succeeded, want error")
	}
}

func TestEventToRowAbsentOptionals(t *testing.T) {
	ev := types.Event{Timestamp: "2026-03-09T10:00:00.000Z", EventID: "x"}
	row := EventToRow(&ev)
	if row.TokensTotal != 0 || row.HasError || row.ErrorType != "" {
		t.Errorf("absent optionals not zeroed: %+v", row)
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		in   string
		want CompressionType
	}{
		{"snappy", CompressionSnappy},
		{"zstd", CompressionZstd},
		{"lz4", CompressionLZ4},
		{"gzip", CompressionGzip},
		{"none", CompressionNone},
		{"", CompressionNone},
		{"brotli", CompressionNone},
	}
	for _, tt := range tests {
		if got := ParseCompressionType(tt.in); got != tt.want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

type mapLoader map[string][]types.Event

func (m mapLoader) Load(date string) ([]types.Event, error) {
	return m[date], nil
}

func TestExport(t *testing.T) {
	loader := mapLoader{
		"2026-03-09": {
			archiveEvent("2026-03-09T10:00:00.000Z", "U1", "summarize"),
			archiveEvent("2026-03-09T11:00:00.000Z", "U2", ""),
		},
		"2026-03-10": {
			archiveEvent("2026-03-10T09:00:00.000Z", "U3", "help"),
		},
	}

	path := filepath.Join(t.TempDir(), "range.parquet")
	rows, err := Export(loader, []string{"2026-03-09", "2026-03-10"}, path, DefaultOptions())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if rows != 3 {
		t.Errorf("Export rows = %d, want 3", rows)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	if r.NumRows() != 3 {
		t.Errorf("NumRows = %d, want 3", r.NumRows())
	}
}

func TestExportEmptyRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")
	_, err := Export(mapLoader{}, []string{"2026-01-01"}, path, DefaultOptions())
	if !errors.Is(err, errors.ErrNoArchiveData) {
		t.Errorf("err = %v, want ErrNoArchiveData", err)
	}
}
