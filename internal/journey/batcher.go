package journey

import (
	"example.com/attribution/internal/domain"

	log "github.com/sirupsen/logrus"
)

// Request limits of the attribution service's batch endpoint.
const (
	DefaultMaxJourneysPerChunk = 100
	DefaultMaxSessionsPerChunk = 3000
)

// group returns records grouped by conversion, in first-seen order.
func group(records []domain.JourneySessionRecord) [][]domain.JourneySessionRecord {
	index := make(map[string]int)
	var groups [][]domain.JourneySessionRecord
	for _, r := range records {
		i, ok := index[r.ConversionID]
		if !ok {
			i = len(groups)
			index[r.ConversionID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], r)
	}
	return groups
}

// Chunk packs whole journeys into batches holding at most maxJourneys
// conversions and maxSessions records. A journey is never split; one larger
// than maxSessions gets a batch of its own.
func Chunk(records []domain.JourneySessionRecord, maxJourneys, maxSessions int) []domain.Batch {
	if maxJourneys <= 0 {
		maxJourneys = DefaultMaxJourneysPerChunk
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessionsPerChunk
	}

	groups := group(records)
	var (
		batches  []domain.Batch
		current  domain.Batch
		journeys int
	)
	for _, g := range groups {
		if len(current) > 0 && (journeys+1 > maxJourneys || len(current)+len(g) > maxSessions) {
			batches = append(batches, current)
			current, journeys = nil, 0
		}
		if len(g) > maxSessions {
			log.WithFields(log.Fields{"conv_id": g[0].ConversionID, "sessions": len(g), "max_sessions": maxSessions}).
				Warn("Journey exceeds session limit, sending it alone.")
		}
		current = append(current, g...)
		journeys++
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	log.WithFields(log.Fields{"journeys": len(groups), "chunks": len(batches)}).Info("Split journeys into chunks.")
	return batches
}

// OnlyConversions keeps the records of the listed conversions.
func OnlyConversions(records []domain.JourneySessionRecord, convIDs []string) []domain.JourneySessionRecord {
	keep := make(map[string]struct{}, len(convIDs))
	for _, id := range convIDs {
		keep[id] = struct{}{}
	}
	var out []domain.JourneySessionRecord
	for _, r := range records {
		if _, ok := keep[r.ConversionID]; ok {
			out = append(out, r)
		}
	}
	return out
}
