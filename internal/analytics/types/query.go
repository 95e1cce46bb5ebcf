package types

import (
	"time"

	"github.com/sisuxi/sisu-slack-bot/internal/errors"
)

// Filter narrows a range scan. Zero values match everything; string fields
// are exact matches, HasError compares against errorStatus.hasError with an
// absent errorStatus treated as false.
type Filter struct {
	Channel  string
	User     string
	Command  string
	HasError *bool
}

// Matches reports whether the event satisfies every set filter field.
func (f Filter) Matches(e *Event) bool {
	if f.Channel != "" && e.Channel != f.Channel {
		return false
	}
	if f.User != "" && e.User != f.User {
		return false
	}
	if f.Command != "" && e.Command != f.Command {
		return false
	}
	if f.HasError != nil && e.HasError() != *f.HasError {
		return false
	}
	return true
}

// Query is the external, string-typed form of query parameters as supplied
// by the stats command and operational tooling. Dates are ISO-8601 date-time
// strings or plain dates; malformed values fail fast.
type Query struct {
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	Channel   string `json:"channel,omitempty"`
	User      string `json:"user,omitempty"`
	Command   string `json:"command,omitempty"`
	HasError  *bool  `json:"hasError,omitempty"`
}

// Filter returns the record-level filter implied by the query.
func (q Query) Filter() Filter {
	return Filter{
		Channel:  q.Channel,
		User:     q.User,
		Command:  q.Command,
		HasError: q.HasError,
	}
}

// Window resolves the query's date range. Unset bounds default to the
// trailing defaultDays window ending at now. Malformed date strings are
// rejected rather than silently defaulted.
func (q Query) Window(now time.Time, defaultDays int) (start, end time.Time, err error) {
	end = now.UTC()
	if q.EndDate != "" {
		end, err = ParseQueryTime(q.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	start = end.AddDate(0, 0, -defaultDays)
	if q.StartDate != "" {
		start, err = ParseQueryTime(q.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	return start, end, nil
}

// ParseQueryTime parses an external date parameter: RFC 3339 date-time or a
// plain YYYY-MM-DD date (interpreted as midnight UTC).
func ParseQueryTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(DateKeyLayout, s); err == nil {
		return t, nil
	}
	return time.Time{}, errors.NewMalformedDate(s)
}

// CommandCount is one entry of a top-K command ranking.
type CommandCount struct {
	Command string `json:"command"`
	Count   int    `json:"count"`
}

// Percentiles holds response-time percentiles in milliseconds.
type Percentiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// UsageStats is the overall aggregate view over a date range.
type UsageStats struct {
	StartDate           string         `json:"startDate"`
	EndDate             string         `json:"endDate"`
	TotalEvents         int            `json:"totalEvents"`
	UniqueUsers         int            `json:"uniqueUsers"`
	UniqueChannels      int            `json:"uniqueChannels"`
	AverageResponseTime float64        `json:"averageResponseTime"`
	TotalTokensUsed     int64          `json:"totalTokensUsed"`
	ErrorRate           float64        `json:"errorRate"`
	CommandUsage        map[string]int `json:"commandUsage"`
	ResponseTimes       *Percentiles   `json:"responseTimes,omitempty"`
}

// ChannelStats is the aggregate view scoped to a single channel.
type ChannelStats struct {
	Channel string `json:"channel"`
	UsageStats
	MostUsedCommands []CommandCount `json:"mostUsedCommands"`
	LastActivity     string         `json:"lastActivity"`
}

// DailyStats is the aggregate view for one UTC calendar day. The hourly
// distribution always carries all 24 buckets, "00" through "23".
type DailyStats struct {
	Date                string         `json:"date"`
	TotalEvents         int            `json:"totalEvents"`
	UniqueUsers         int            `json:"uniqueUsers"`
	UniqueChannels      int            `json:"uniqueChannels"`
	AverageResponseTime float64        `json:"averageResponseTime"`
	TotalTokensUsed     int64          `json:"totalTokensUsed"`
	ErrorRate           float64        `json:"errorRate"`
	HourlyDistribution  map[string]int `json:"hourlyDistribution"`
	TopCommands         []CommandCount `json:"topCommands"`
}
