package journey

import "example.com/attribution/internal/domain"

type Statistics struct {
	TotalJourneys         int     `json:"total_journeys"`
	TotalSessions         int     `json:"total_sessions"`
	AvgSessionsPerJourney float64 `json:"avg_sessions_per_journey"`
	MinSessions           int     `json:"min_sessions"`
	MaxSessions           int     `json:"max_sessions"`
}

// ConversionCounts is the number of records per conversion.
func ConversionCounts(records []domain.JourneySessionRecord) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.ConversionID]++
	}
	return counts
}

func Stats(records []domain.JourneySessionRecord) Statistics {
	counts := ConversionCounts(records)
	st := Statistics{TotalJourneys: len(counts), TotalSessions: len(records)}
	if len(counts) == 0 {
		return st
	}
	first := true
	for _, n := range counts {
		if first || n < st.MinSessions {
			st.MinSessions = n
		}
		if first || n > st.MaxSessions {
			st.MaxSessions = n
		}
		first = false
	}
	st.AvgSessionsPerJourney = float64(st.TotalSessions) / float64(st.TotalJourneys)
	return st
}
