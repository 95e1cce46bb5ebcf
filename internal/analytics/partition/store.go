// Package partition persists events as date-partitioned, append-only files
// of newline-delimited JSON. One file per UTC calendar date, one event per
// line, no header or footer.
//
// The store performs no locking of its own: the write buffer already
// serializes appends per date-key, and the design assumes a single writer
// process per log directory.
package partition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/sisuxi/sisu-slack-bot/internal/analytics/types"
	"github.com/sisuxi/sisu-slack-bot/internal/errors"
	"github.com/sisuxi/sisu-slack-bot/internal/logging"
)

const (
	filePrefix = "events-"
	fileSuffix = ".jsonl"
)

// Store maps date keys to partition files under a single directory.
type Store struct {
	dir string
	log *slog.Logger

	stats StoreStats
}

// StoreStats holds store counters.
type StoreStats struct {
	Appends        atomic.Int64
	EventsAppended atomic.Int64
	Loads          atomic.Int64
	EventsLoaded   atomic.Int64
	Errors         atomic.Int64
}

// New creates a store rooted at dir, creating the directory if absent.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create partition dir: %w", err)
	}
	return &Store{
		dir: dir,
		log: logging.Component("partition"),
	}, nil
}

// Dir returns the partition directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the partition file path for a date key.
func (s *Store) Path(date string) string {
	return filepath.Join(s.dir, filePrefix+date+fileSuffix)
}

// Append serializes the batch, one JSON object per line, and appends it to
// the partition file for date with a single write. The file and directory
// are created as needed. Callers must not issue concurrent appends for the
// same date; appends for different dates are independent.
func (s *Store) Append(date string, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for i := range events {
		line, err := json.Marshal(&events[i])
		if err != nil {
			s.stats.Errors.Add(1)
			return fmt.Errorf("encode event %s: %w", events[i].EventID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	f, err := os.OpenFile(s.Path(date), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		s.stats.Errors.Add(1)
		return fmt.Errorf("open partition %s: %w", date, err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		s.stats.Errors.Add(1)
		return fmt.Errorf("append partition %s: %w", date, err)
	}

	if err := f.Close(); err != nil {
		s.stats.Errors.Add(1)
		return fmt.Errorf("close partition %s: %w", date, err)
	}

	s.stats.Appends.Add(1)
	s.stats.EventsAppended.Add(int64(len(events)))
	s.log.Debug("partition append", "date", date, "events", len(events))
	return nil
}

// Load reads the full partition for date in append order. A missing file is
// an empty partition, not an error. Parsing is strict: any unparsable line
// aborts the load with ErrPartitionCorrupt.
func (s *Store) Load(date string) ([]types.Event, error) {
	data, err := os.ReadFile(s.Path(date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		s.stats.Errors.Add(1)
		return nil, fmt.Errorf("read partition %s: %w", date, err)
	}

	var events []types.Event
	for i, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			s.stats.Errors.Add(1)
			return nil, errors.NewCorruptLine(date, i+1, err)
		}
		events = append(events, ev)
	}

	s.stats.Loads.Add(1)
	s.stats.EventsLoaded.Add(int64(len(events)))
	return events, nil
}

// Dates lists the date keys of all partitions present on disk, ascending.
func (s *Store) Dates() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var dates []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		if len(date) == len(types.DateKeyLayout) {
			dates = append(dates, date)
		}
	}

	sort.Strings(dates)
	return dates, nil
}

// StatsSnapshot is a point-in-time copy of the store counters.
type StatsSnapshot struct {
	Appends        int64
	EventsAppended int64
	Loads          int64
	EventsLoaded   int64
	Errors         int64
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() StatsSnapshot {
	return StatsSnapshot{
		Appends:        s.stats.Appends.Load(),
		EventsAppended: s.stats.EventsAppended.Load(),
		Loads:          s.stats.Loads.Load(),
		EventsLoaded:   s.stats.EventsLoaded.Load(),
		Errors:         s.stats.Errors.Load(),
	}
}
