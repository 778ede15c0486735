package domain

import (
	"fmt"
	"time"
)

// ChannelReportRow is the per channel, per day aggregate of cost and
// attributed value. Amounts are decimal strings as read from the store.
type ChannelReportRow struct {
	ChannelName string `json:"channel_name"`
	Date        string `json:"date"`
	Cost        string `json:"cost"`
	IHC         string `json:"ihc"`
	IHCRevenue  string `json:"ihc_revenue"`
}

// DateRange is an optional, inclusive YYYY-MM-DD window. Empty bounds are open.
type DateRange struct {
	Start string `json:"start_date,omitempty"`
	End   string `json:"end_date,omitempty"`
}

// IsZero reports whether neither bound is set.
func (r DateRange) IsZero() bool { return r.Start == "" && r.End == "" }

func (r DateRange) String() string {
	start, end := r.Start, r.End
	if start == "" {
		start = "all"
	}
	if end == "" {
		end = "all"
	}
	return start + " to " + end
}

// Validate checks the bounds' format and order.
func (r DateRange) Validate() []FieldError {
	var errs []FieldError
	var start, end time.Time
	var err error

	if r.Start != "" {
		if start, err = time.Parse(DateLayout, r.Start); err != nil {
			errs = append(errs, FieldError{"start_date", fmt.Sprintf("invalid format %q, expected YYYY-MM-DD", r.Start)})
		}
	}
	if r.End != "" {
		if end, err = time.Parse(DateLayout, r.End); err != nil {
			errs = append(errs, FieldError{"end_date", fmt.Sprintf("invalid format %q, expected YYYY-MM-DD", r.End)})
		}
	}
	if len(errs) == 0 && r.Start != "" && r.End != "" && start.After(end) {
		errs = append(errs, FieldError{"start_date", fmt.Sprintf("%s is after end_date %s", r.Start, r.End)})
	}
	return errs
}
