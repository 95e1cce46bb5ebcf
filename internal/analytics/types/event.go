package types

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the textual form of event timestamps: UTC with
// millisecond precision. Fixed width, so string comparison order equals
// chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// DateKeyLayout is the partition key derived from a timestamp.
const DateKeyLayout = "2006-01-02"

// ChannelType values as reported by the chat platform.
const (
	ChannelTypeIM      = "im"
	ChannelTypeChannel = "channel"
	ChannelTypeGroup   = "group"
	ChannelTypeMPIM    = "mpim"
)

// TokenUsage holds language-model token counts for one interaction.
// Total is expected to equal Input + Output but is stored as given.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// ErrorStatus describes whether an interaction failed and how.
type ErrorStatus struct {
	HasError     bool   `json:"hasError"`
	ErrorType    string `json:"errorType,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Event is the immutable unit of data in the log. One event per line in a
// partition file, append-only, never mutated after creation.
type Event struct {
	Timestamp    string       `json:"timestamp"`
	EventID      string       `json:"eventId"`
	User         string       `json:"user,omitempty"`
	Channel      string       `json:"channel,omitempty"`
	ChannelType  string       `json:"channelType,omitempty"`
	Command      string       `json:"command,omitempty"`
	Query        string       `json:"query,omitempty"`
	ResponseTime int64        `json:"responseTime"`
	TokensUsed   *TokenUsage  `json:"tokensUsed,omitempty"`
	ErrorStatus  *ErrorStatus `json:"errorStatus,omitempty"`
	IsInThread   bool         `json:"isInThread"`
	BotMentioned bool         `json:"botMentioned"`
}

// EventData carries the caller-supplied fields of an Event. Timestamp and
// EventID are assigned by the write buffer at enqueue time, never by the
// caller. Field contents are accepted as given; callers are trusted.
type EventData struct {
	User         string       `json:"user,omitempty"`
	Channel      string       `json:"channel,omitempty"`
	ChannelType  string       `json:"channelType,omitempty"`
	Command      string       `json:"command,omitempty"`
	Query        string       `json:"query,omitempty"`
	ResponseTime int64        `json:"responseTime"`
	TokensUsed   *TokenUsage  `json:"tokensUsed,omitempty"`
	ErrorStatus  *ErrorStatus `json:"errorStatus,omitempty"`
	IsInThread   bool         `json:"isInThread"`
	BotMentioned bool         `json:"botMentioned"`
}

// NewEvent builds an Event from caller data, stamping it with the given
// creation instant and a fresh event ID.
func NewEvent(data EventData, now time.Time) Event {
	return Event{
		Timestamp:    FormatTimestamp(now),
		EventID:      NewEventID(now),
		User:         data.User,
		Channel:      data.Channel,
		ChannelType:  data.ChannelType,
		Command:      data.Command,
		Query:        data.Query,
		ResponseTime: data.ResponseTime,
		TokensUsed:   data.TokensUsed,
		ErrorStatus:  data.ErrorStatus,
		IsInThread:   data.IsInThread,
		BotMentioned: data.BotMentioned,
	}
}

// NewEventID returns a best-effort unique identifier: creation time in unix
// milliseconds plus a random suffix. Collisions are possible but acceptable
// for analytics use; this is not a primary-key guarantee.
func NewEventID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix
}

// FormatTimestamp renders t in the sortable textual timestamp form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a textual event timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// DateKey returns the UTC calendar date identifying the partition for t.
func DateKey(t time.Time) string {
	return t.UTC().Format(DateKeyLayout)
}

// DateKey returns the partition key derived from the event's timestamp.
func (e *Event) DateKey() string {
	if len(e.Timestamp) >= len(DateKeyLayout) {
		return e.Timestamp[:len(DateKeyLayout)]
	}
	return e.Timestamp
}

// HasError reports the event's error flag, treating an absent errorStatus
// as no error.
func (e *Event) HasError() bool {
	return e.ErrorStatus != nil && e.ErrorStatus.HasError
}

// TokensTotal returns the total token count, treating absent usage as zero.
func (e *Event) TokensTotal() int64 {
	if e.TokensUsed == nil {
		return 0
	}
	return int64(e.TokensUsed.Total)
}

// CommandBucket returns the commandUsage bucket this event contributes to:
// its command if present, the synthetic "query" bucket if only free-text
// query is present, or "" if neither.
func (e *Event) CommandBucket() string {
	if e.Command != "" {
		return e.Command
	}
	if e.Query != "" {
		return "query"
	}
	return ""
}

// Hour returns the two-digit UTC hour of the event's timestamp, or "" if the
// timestamp is too short to carry one.
func (e *Event) Hour() string {
	// Positions 11..13 in "2006-01-02T15:04:05.000Z".
	if len(e.Timestamp) >= 13 {
		return e.Timestamp[11:13]
	}
	return ""
}

// DateRange lists the UTC date keys from start to end inclusive, in order.
// An inverted range yields nil.
func DateRange(start, end time.Time) []string {
	startDay := start.UTC().Truncate(24 * time.Hour)
	endDay := end.UTC().Truncate(24 * time.Hour)

	var keys []string
	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		keys = append(keys, d.Format(DateKeyLayout))
	}
	return keys
}
