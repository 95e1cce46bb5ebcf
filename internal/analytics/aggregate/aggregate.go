// Package aggregate computes streaming aggregates over event scans: counts,
// unique actors, response-time statistics, token totals, error rates,
// command usage, and hourly histograms. One pass, no buffering of events.
package aggregate

import (
	"sort"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/sisuxi/sisu-slack-bot/internal/analytics/types"
)

// Counter counts occurrences by name, remembering first-seen order so that
// top-K rankings break ties deterministically.
type Counter struct {
	counts map[string]int
	order  []string
}

// NewCounter creates an empty counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

// Inc increments the count for name.
func (c *Counter) Inc(name string) {
	if _, seen := c.counts[name]; !seen {
		c.order = append(c.order, name)
	}
	c.counts[name]++
}

// Len returns the number of distinct names seen.
func (c *Counter) Len() int {
	return len(c.counts)
}

// Snapshot returns a copy of the name -> count mapping. Never nil.
func (c *Counter) Snapshot() map[string]int {
	out := make(map[string]int, len(c.counts))
	for name, n := range c.counts {
		out[name] = n
	}
	return out
}

// Top returns the k highest-count entries, descending by count, ties broken
// by first-seen order.
func (c *Counter) Top(k int) []types.CommandCount {
	ranked := make([]types.CommandCount, 0, len(c.order))
	for _, name := range c.order {
		ranked = append(ranked, types.CommandCount{Command: name, Count: c.counts[name]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// Accumulator maintains running statistics over a single event scan.
type Accumulator struct {
	count       int
	users       map[string]struct{}
	channels    map[string]struct{}
	responseSum float64
	tokensTotal int64
	errorCount  int
	commands    *Counter
	hourly      [24]int
	lastSeen    string

	// sketch is nil when percentiles are disabled.
	sketch *ddsketch.DDSketch
}

// NewAccumulator creates an accumulator. When percentile calculation is
// enabled, response times feed a DDSketch with the given relative accuracy.
func NewAccumulator(percentiles bool, accuracy float64) *Accumulator {
	a := &Accumulator{
		users:    make(map[string]struct{}),
		channels: make(map[string]struct{}),
		commands: NewCounter(),
	}
	if percentiles {
		if sketch, err := ddsketch.NewDefaultDDSketch(accuracy); err == nil {
			a.sketch = sketch
		}
	}
	return a
}

// Add folds one event into the running statistics.
func (a *Accumulator) Add(e *types.Event) {
	a.count++

	if e.User != "" {
		a.users[e.User] = struct{}{}
	}
	if e.Channel != "" {
		a.channels[e.Channel] = struct{}{}
	}

	a.responseSum += float64(e.ResponseTime)
	if a.sketch != nil {
		a.sketch.Add(float64(e.ResponseTime))
	}

	a.tokensTotal += e.TokensTotal()
	if e.HasError() {
		a.errorCount++
	}

	if bucket := e.CommandBucket(); bucket != "" {
		a.commands.Inc(bucket)
	}

	if hour := e.Hour(); hour != "" {
		if idx := hourIndex(hour); idx >= 0 {
			a.hourly[idx]++
		}
	}

	if e.Timestamp > a.lastSeen {
		a.lastSeen = e.Timestamp
	}
}

// Count returns the number of events added.
func (a *Accumulator) Count() int {
	return a.count
}

// LastActivity returns the maximum timestamp observed, or "".
func (a *Accumulator) LastActivity() string {
	return a.lastSeen
}

// TopCommands returns the k highest-count command buckets.
func (a *Accumulator) TopCommands(k int) []types.CommandCount {
	return a.commands.Top(k)
}

// HourlyDistribution returns all 24 hour buckets, "00" through "23",
// zero-filled for hours with no events.
func (a *Accumulator) HourlyDistribution() map[string]int {
	out := make(map[string]int, 24)
	for i := 0; i < 24; i++ {
		out[hourLabel(i)] = a.hourly[i]
	}
	return out
}

// Stats builds the overall aggregate view for the given range bounds. An
// empty accumulator yields zero-valued numerics and an empty (non-nil)
// commandUsage map.
func (a *Accumulator) Stats(startDate, endDate string) types.UsageStats {
	st := types.UsageStats{
		StartDate:       startDate,
		EndDate:         endDate,
		TotalEvents:     a.count,
		UniqueUsers:     len(a.users),
		UniqueChannels:  len(a.channels),
		TotalTokensUsed: a.tokensTotal,
		CommandUsage:    a.commands.Snapshot(),
	}

	if a.count > 0 {
		st.AverageResponseTime = a.responseSum / float64(a.count)
		st.ErrorRate = float64(a.errorCount) / float64(a.count)
	}

	if a.sketch != nil && a.count > 0 {
		p50, err50 := a.sketch.GetValueAtQuantile(0.50)
		p95, err95 := a.sketch.GetValueAtQuantile(0.95)
		p99, err99 := a.sketch.GetValueAtQuantile(0.99)
		if err50 == nil && err95 == nil && err99 == nil {
			st.ResponseTimes = &types.Percentiles{P50: p50, P95: p95, P99: p99}
		}
	}

	return st
}

func hourIndex(hour string) int {
	if len(hour) != 2 {
		return -1
	}
	h0, h1 := hour[0]-'0', hour[1]-'0'
	if h0 > 9 || h1 > 9 {
		return -1
	}
	idx := int(h0)*10 + int(h1)
	if idx > 23 {
		return -1
	}
	return idx
}

func hourLabel(i int) string {
	return string([]byte{byte('0' + i/10), byte('0' + i%10)})
}
