// Package query answers range and aggregate queries over the partitioned
// event log. Every query starts with a flush barrier so results reflect all
// prior enqueues, then loads the relevant partitions, filters, and
// aggregates in a single pass.
package query

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sisuxi/sisu-slack-bot/internal/analytics/aggregate"
	"github.com/sisuxi/sisu-slack-bot/internal/analytics/types"
	"github.com/sisuxi/sisu-slack-bot/internal/errors"
	"github.com/sisuxi/sisu-slack-bot/internal/logging"
)

const (
	// Default query windows when the caller leaves the range unset.
	defaultStatsDays        = 7
	defaultChannelStatsDays = 30

	// topCommandLimit bounds mostUsedCommands / topCommands rankings.
	topCommandLimit = 5
)

// Loader is the partition store primitive the engine reads from.
type Loader interface {
	Load(date string) ([]types.Event, error)
}

// Flusher is the write-buffer barrier the engine drains before reading.
type Flusher interface {
	FlushAll() error
}

// Options configures the query engine.
type Options struct {
	// Percentiles enables DDSketch response-time percentiles in stats.
	Percentiles bool

	// PercentileAccuracy is the sketch relative accuracy (0.01 = 1%).
	PercentileAccuracy float64

	// MaxConcurrentLoads bounds parallel partition loads. Default: 4.
	MaxConcurrentLoads int
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return Options{
		Percentiles:        true,
		PercentileAccuracy: 0.01,
		MaxConcurrentLoads: 4,
	}
}

// Engine is the read side of the event log.
type Engine struct {
	store  Loader
	buffer Flusher
	opts   Options
	log    *slog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// New creates a query engine over store, draining buffer before each read.
// buffer may be nil when querying a directory with no live writer.
func New(store Loader, buffer Flusher, opts Options) *Engine {
	if opts.MaxConcurrentLoads <= 0 {
		opts.MaxConcurrentLoads = DefaultOptions().MaxConcurrentLoads
	}
	if opts.PercentileAccuracy <= 0 {
		opts.PercentileAccuracy = DefaultOptions().PercentileAccuracy
	}
	return &Engine{
		store:  store,
		buffer: buffer,
		opts:   opts,
		log:    logging.Component("query"),
		now:    time.Now,
	}
}

// EventsInRange returns the events whose timestamps fall within
// [start, end], both inclusive, satisfying every filter field, sorted
// ascending by timestamp. Partitions for the covered dates are loaded in
// parallel; a corrupt partition aborts the whole query.
func (e *Engine) EventsInRange(ctx context.Context, start, end time.Time, f types.Filter) ([]types.Event, error) {
	e.barrier()

	dates := types.DateRange(start, end)
	if len(dates) == 0 {
		return nil, nil
	}

	loaded := make([][]types.Event, len(dates))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrentLoads)
	for i, date := range dates {
		g.Go(func() error {
			events, err := e.store.Load(date)
			if err != nil {
				return err
			}
			loaded[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	startTs := types.FormatTimestamp(start)
	endTs := types.FormatTimestamp(end)

	var out []types.Event
	for _, events := range loaded {
		for i := range events {
			ev := &events[i]
			if ev.Timestamp < startTs || ev.Timestamp > endTs {
				continue
			}
			if !f.Matches(ev) {
				continue
			}
			out = append(out, *ev)
		}
	}

	// Timestamps are lexicographically sortable; the stable sort keeps
	// append order for equal timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})

	return out, nil
}

// Stats computes the overall aggregate view for the query's range,
// defaulting to the trailing 7 days. An empty result set yields zero-valued
// numerics, never an error.
func (e *Engine) Stats(ctx context.Context, q types.Query) (*types.UsageStats, error) {
	start, end, err := q.Window(e.now(), defaultStatsDays)
	if err != nil {
		return nil, err
	}

	events, err := e.EventsInRange(ctx, start, end, q.Filter())
	if err != nil {
		return nil, err
	}

	acc := e.newAccumulator()
	for i := range events {
		acc.Add(&events[i])
	}

	st := acc.Stats(types.FormatTimestamp(start), types.FormatTimestamp(end))
	return &st, nil
}

// ChannelStats computes the aggregate view scoped to one channel, defaulting
// to the trailing 30 days, with the top-5 command ranking and the last
// activity timestamp. A nil result with a nil error means no data.
func (e *Engine) ChannelStats(ctx context.Context, channelID string, q types.Query) (*types.ChannelStats, error) {
	start, end, err := q.Window(e.now(), defaultChannelStatsDays)
	if err != nil {
		return nil, err
	}

	f := q.Filter()
	f.Channel = channelID

	events, err := e.EventsInRange(ctx, start, end, f)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	acc := e.newAccumulator()
	for i := range events {
		acc.Add(&events[i])
	}

	return &types.ChannelStats{
		Channel:          channelID,
		UsageStats:       acc.Stats(types.FormatTimestamp(start), types.FormatTimestamp(end)),
		MostUsedCommands: acc.TopCommands(topCommandLimit),
		LastActivity:     acc.LastActivity(),
	}, nil
}

// DailyStats computes the aggregate view for one UTC calendar day, covering
// [00:00:00.000, 23:59:59.999]. The hourly distribution always carries all
// 24 buckets, even for a day with no events.
func (e *Engine) DailyStats(ctx context.Context, day time.Time) (*types.DailyStats, error) {
	day = day.UTC()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24*time.Hour - time.Millisecond)

	events, err := e.EventsInRange(ctx, dayStart, dayEnd, types.Filter{})
	if err != nil {
		return nil, err
	}

	acc := e.newAccumulator()
	for i := range events {
		acc.Add(&events[i])
	}

	st := acc.Stats(types.FormatTimestamp(dayStart), types.FormatTimestamp(dayEnd))

	return &types.DailyStats{
		Date:                types.DateKey(dayStart),
		TotalEvents:         st.TotalEvents,
		UniqueUsers:         st.UniqueUsers,
		UniqueChannels:      st.UniqueChannels,
		AverageResponseTime: st.AverageResponseTime,
		TotalTokensUsed:     st.TotalTokensUsed,
		ErrorRate:           st.ErrorRate,
		HourlyDistribution:  acc.HourlyDistribution(),
		TopCommands:         acc.TopCommands(topCommandLimit),
	}, nil
}

// barrier flushes all buffered events so the read reflects prior enqueues.
// A barrier failure degrades the read instead of failing it: the batch is
// retained on the ingestion side and the error was already surfaced there.
func (e *Engine) barrier() {
	if e.buffer == nil {
		return
	}
	if err := e.buffer.FlushAll(); err != nil {
		e.log.Warn("flush barrier failed, results may lag ingestion", "error", err)
	}
}

func (e *Engine) newAccumulator() *aggregate.Accumulator {
	return aggregate.NewAccumulator(e.opts.Percentiles, e.opts.PercentileAccuracy)
}

// ParseDay parses an external YYYY-MM-DD day parameter for DailyStats,
// failing fast on malformed input.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(types.DateKeyLayout, s)
	if err != nil {
		return time.Time{}, errors.NewMalformedDate(s)
	}
	return t, nil
}
