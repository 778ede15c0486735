package domain

import (
	"fmt"
	"strings"
	"time"
)

// Timestamps travel as "YYYY-MM-DD HH:MM:SS" strings end to end; the
// attribution service rejects anything else.
const (
	TimestampLayout = "2006-01-02 15:04:05"
	DateLayout      = "2006-01-02"
)

// ParseTimestamp parses a canonical session/conversion timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatTimestamp renders t in the canonical layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func joinDateTime(date, clock string) string {
	return strings.TrimSpace(date) + " " + strings.TrimSpace(clock)
}

// Session is a single marketing touchpoint of a user. It is a read-only
// source record owned by the store.
type Session struct {
	SessionID             string  `json:"session_id"`
	UserID                string  `json:"user_id"`
	EventDate             string  `json:"event_date"`
	EventTime             string  `json:"event_time"`
	ChannelName           string  `json:"channel_name"`
	HolderEngagement      bool    `json:"holder_engagement"`
	CloserEngagement      bool    `json:"closer_engagement"`
	ImpressionInteraction bool    `json:"impression_interaction"`
	Cost                  *string `json:"cost,omitempty"`
}

// Timestamp returns the session's "date time" string, unvalidated.
func (s Session) Timestamp() string { return joinDateTime(s.EventDate, s.EventTime) }

// Conversion is a goal event of a user. Revenue is kept as a decimal string
// and only used for reporting.
type Conversion struct {
	ConvID   string `json:"conv_id"`
	UserID   string `json:"user_id"`
	ConvDate string `json:"conv_date"`
	ConvTime string `json:"conv_time"`
	Revenue  string `json:"revenue"`
}

// Timestamp returns the conversion's "date time" string, unvalidated.
func (c Conversion) Timestamp() string { return joinDateTime(c.ConvDate, c.ConvTime) }
