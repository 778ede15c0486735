package domain

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// JoinFieldErrors folds field errors into one error, nil when empty.
func JoinFieldErrors(errs []FieldError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msgs = append(msgs, fe.Error())
	}
	return errors.New(strings.Join(msgs, "; "))
}

// ValidateRecord performs strict checks on a single journey record.
// prefix names the record in the returned field paths, e.g. "records[3]".
func ValidateRecord(prefix string, r *JourneySessionRecord) []FieldError {
	var errs []FieldError
	field := func(name string) string { return prefix + "." + name }

	// Required fields
	if r.ConversionID == "" {
		errs = append(errs, FieldError{field("conversion_id"), "required"})
	}
	if r.SessionID == "" {
		errs = append(errs, FieldError{field("session_id"), "required"})
	}
	if r.Timestamp == "" {
		errs = append(errs, FieldError{field("timestamp"), "required"})
	} else if _, err := ParseTimestamp(r.Timestamp); err != nil {
		errs = append(errs, FieldError{field("timestamp"), "must be YYYY-MM-DD HH:MM:SS"})
	}
	if r.ChannelLabel == "" {
		errs = append(errs, FieldError{field("channel_label"), "required"})
	}

	// Flags
	flags := []struct {
		name string
		v    int
	}{
		{"holder_engagement", r.HolderEngagement},
		{"closer_engagement", r.CloserEngagement},
		{"conversion", r.Conversion},
		{"impression_interaction", r.ImpressionInteraction},
	}
	for _, f := range flags {
		if f.v != 0 && f.v != 1 {
			errs = append(errs, FieldError{field(f.name), "must be 0 or 1"})
		}
	}
	return errs
}
