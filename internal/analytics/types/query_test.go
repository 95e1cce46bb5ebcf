package types

import (
	"testing"
	"time"

	"github.com/sisuxi/sisu-slack-bot/internal/errors"
)

func TestFilterMatches(t *testing.T) {
	yes, no := true, false
	ev := Event{
		User:        "U1",
		Channel:     "C1",
		Command:     "summarize",
		ErrorStatus: &ErrorStatus{HasError: true},
	}

	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty matches all", Filter{}, true},
		{"channel match", Filter{Channel: "C1"}, true},
		{"channel mismatch", Filter{Channel: "C2"}, false},
		{"user match", Filter{User: "U1"}, true},
		{"command mismatch", Filter{Command: "help"}, false},
		{"hasError true", Filter{HasError: &yes}, true},
		{"hasError false", Filter{HasError: &no}, false},
		{"combined", Filter{Channel: "C1", User: "U1", Command: "summarize"}, true},
	}
	for _, tt := range tests {
		if got := tt.f.Matches(&ev); got != tt.want {
			t.Errorf("%s: Matches = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFilterAbsentErrorStatus(t *testing.T) {
	no := false
	ev := Event{}
	if !(Filter{HasError: &no}).Matches(&ev) {
		t.Error("absent errorStatus must match hasError=false")
	}
}

func TestQueryWindowDefaults(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	start, end, err := Query{}.Window(now, 7)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if !end.Equal(now) {
		t.Errorf("end = %v, want now", end)
	}
	if !start.Equal(now.AddDate(0, 0, -7)) {
		t.Errorf("start = %v, want now-7d", start)
	}
}

func TestQueryWindowExplicit(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	q := Query{StartDate: "2026-01-01", EndDate: "2026-01-31T12:00:00Z"}

	start, end, err := q.Window(now, 7)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if !start.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", start)
	}
	if !end.Equal(time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %v", end)
	}
}

func TestQueryWindowMalformed(t *testing.T) {
	now := time.Now()
	for _, q := range []Query{
		{StartDate: "03/09/2026"},
		{EndDate: "not-a-date"},
	} {
		if _, _, err := q.Window(now, 7); !errors.IsMalformedDate(err) {
			t.Errorf("Window(%+v) err = %v, want malformed date", q, err)
		}
	}
}

func TestParseQueryTime(t *testing.T) {
	got, err := ParseQueryTime("2026-03-09")
	if err != nil {
		t.Fatalf("ParseQueryTime: %v", err)
	}
	if !got.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("plain date parsed to %v, want midnight UTC", got)
	}

	got, err = ParseQueryTime("2026-03-09T15:04:05.123Z")
	if err != nil {
		t.Fatalf("ParseQueryTime: %v", err)
	}
	if got.Hour() != 15 {
		t.Errorf("RFC 3339 parse hour = %d, want 15", got.Hour())
	}
}
