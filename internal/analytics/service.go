package analytics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sisuxi/sisu-slack-bot/internal/analytics/archive"
	"github.com/sisuxi/sisu-slack-bot/internal/analytics/buffer"
	"github.com/sisuxi/sisu-slack-bot/internal/analytics/partition"
	"github.com/sisuxi/sisu-slack-bot/internal/analytics/query"
	"github.com/sisuxi/sisu-slack-bot/internal/analytics/types"
	"github.com/sisuxi/sisu-slack-bot/internal/config"
	"github.com/sisuxi/sisu-slack-bot/internal/errors"
	"github.com/sisuxi/sisu-slack-bot/internal/logging"
)

// Service orchestrates the event log: ingestion through the write buffer,
// reads through the query engine, exports through the archive.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	store  *partition.Store
	buffer *buffer.Buffer
	engine *query.Engine

	closed atomic.Bool

	// now is swappable in tests.
	now func() time.Time

	eventsLogged atomic.Int64
	logFailures  atomic.Int64
}

// New creates a service rooted at the configured data directory.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, errors.Wrap(err, "ensure directories")
	}

	store, err := partition.New(cfg.EventsDir())
	if err != nil {
		return nil, errors.Wrap(err, "create partition store")
	}

	buf := buffer.New(store, buffer.Options{
		BatchSize:     cfg.Ingestion.FlushBatchSize,
		FlushInterval: time.Duration(cfg.Ingestion.FlushIntervalMs) * time.Millisecond,
	})

	engine := query.New(store, buf, query.Options{
		Percentiles:        cfg.Query.Percentiles.Enabled,
		PercentileAccuracy: cfg.Query.Percentiles.Accuracy,
		MaxConcurrentLoads: cfg.Query.MaxConcurrentLoads,
	})

	return &Service{
		cfg:    cfg,
		log:    logging.Component("analytics"),
		store:  store,
		buffer: buf,
		engine: engine,
		now:    time.Now,
	}, nil
}

// LogEvent records one interaction event. The event is stamped and buffered;
// persistence may happen now (batch threshold) or later (timer). The
// returned error exists for boundary logging only — callers treat ingestion
// as fire-and-forget and must not fail their own work on it.
func (s *Service) LogEvent(data types.EventData) error {
	_, err := s.LogEventWithID(data)
	return err
}

// LogEventWithID is the returning variant of LogEvent for callers that need
// the assigned event ID.
func (s *Service) LogEventWithID(data types.EventData) (string, error) {
	if s.closed.Load() {
		return "", errors.ErrServiceClosed
	}

	ev, err := s.buffer.Enqueue(data)
	if err != nil {
		s.logFailures.Add(1)
		s.log.Error("log event failed", "eventId", ev.EventID, "error", err)
		return ev.EventID, err
	}

	s.eventsLogged.Add(1)
	return ev.EventID, nil
}

// GetEventsInRange returns the filtered events between start and end,
// inclusive, ascending by timestamp.
func (s *Service) GetEventsInRange(ctx context.Context, start, end time.Time, f types.Filter) ([]types.Event, error) {
	if s.closed.Load() {
		return nil, errors.ErrServiceClosed
	}
	return s.engine.EventsInRange(ctx, start, end, f)
}

// GetStats computes overall usage statistics, defaulting to the trailing
// 7 days.
func (s *Service) GetStats(ctx context.Context, q types.Query) (*types.UsageStats, error) {
	if s.closed.Load() {
		return nil, errors.ErrServiceClosed
	}
	return s.engine.Stats(ctx, q)
}

// GetChannelStats computes statistics scoped to one channel, defaulting to
// the trailing 30 days. A nil result with a nil error means no data.
func (s *Service) GetChannelStats(ctx context.Context, channelID string, q types.Query) (*types.ChannelStats, error) {
	if s.closed.Load() {
		return nil, errors.ErrServiceClosed
	}
	return s.engine.ChannelStats(ctx, channelID, q)
}

// GetDailyStats computes statistics for one UTC calendar day. An empty date
// means today; a malformed one is rejected.
func (s *Service) GetDailyStats(ctx context.Context, date string) (*types.DailyStats, error) {
	if s.closed.Load() {
		return nil, errors.ErrServiceClosed
	}

	day := s.now().UTC()
	if date != "" {
		var err error
		day, err = query.ParseDay(date)
		if err != nil {
			return nil, err
		}
	}
	return s.engine.DailyStats(ctx, day)
}

// Export rewrites the partitions between two date keys (inclusive) into a
// Parquet file at path. Source partitions are untouched.
func (s *Service) Export(ctx context.Context, startDate, endDate, path string) (int64, error) {
	if s.closed.Load() {
		return 0, errors.ErrServiceClosed
	}

	start, err := types.ParseQueryTime(startDate)
	if err != nil {
		return 0, err
	}
	end, err := types.ParseQueryTime(endDate)
	if err != nil {
		return 0, err
	}

	// Same consistency barrier as reads.
	if err := s.buffer.FlushAll(); err != nil {
		return 0, errors.Wrap(err, "flush before export")
	}

	rows, err := archive.Export(s.store, types.DateRange(start, end), path, archive.Options{
		Compression: archive.ParseCompressionType(s.cfg.Archive.Compression),
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("archive exported", "path", path, "rows", rows)
	return rows, nil
}

// Cleanup synchronously flushes all pending buffers and cancels all timers.
// Must be invoked before process exit to avoid losing buffered events.
// Further operations on the service fail with ErrServiceClosed.
func (s *Service) Cleanup() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.buffer.Close()
	if err != nil {
		s.log.Error("cleanup flush failed", "error", err)
	}
	return err
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// ServiceStats holds combined service counters.
type ServiceStats struct {
	EventsLogged int64
	LogFailures  int64
	Buffer       buffer.StatsSnapshot
	Store        partition.StatsSnapshot
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		EventsLogged: s.eventsLogged.Load(),
		LogFailures:  s.logFailures.Load(),
		Buffer:       s.buffer.Stats(),
		Store:        s.store.Stats(),
	}
}
