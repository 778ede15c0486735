package journey

import (
	"fmt"
	"testing"

	"example.com/attribution/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journeyRecords returns n records of conversion conv, the last one marked.
func journeyRecords(conv string, n int) []domain.JourneySessionRecord {
	out := make([]domain.JourneySessionRecord, n)
	for i := range out {
		out[i] = domain.JourneySessionRecord{
			ConversionID: conv,
			SessionID:    fmt.Sprintf("%s-S%d", conv, i),
			Timestamp:    fmt.Sprintf("2024-01-10 %02d:00:00", i%24),
			ChannelLabel: "Direct",
			Conversion:   domain.Flag(i == n-1),
		}
	}
	return out
}

func sizes(batches []domain.Batch) (journeys, sessions []int) {
	for _, b := range batches {
		journeys = append(journeys, b.JourneyCount())
		sessions = append(sessions, len(b))
	}
	return journeys, sessions
}

func TestChunk(t *testing.T) {
	t.Run("250 single-session journeys make batches of 100, 100 and 50", func(t *testing.T) {
		var records []domain.JourneySessionRecord
		for i := 0; i < 250; i++ {
			records = append(records, journeyRecords(fmt.Sprintf("C%03d", i), 1)...)
		}

		batches := Chunk(records, 100, 3000)

		journeys, _ := sizes(batches)
		assert.Equal(t, []int{100, 100, 50}, journeys)
	})

	t.Run("session limit starts a new batch before it is exceeded", func(t *testing.T) {
		var records []domain.JourneySessionRecord
		records = append(records, journeyRecords("A", 4)...)
		records = append(records, journeyRecords("B", 4)...)
		records = append(records, journeyRecords("C", 2)...)

		batches := Chunk(records, 100, 9)

		journeys, sessions := sizes(batches)
		assert.Equal(t, []int{2, 1}, journeys)
		assert.Equal(t, []int{8, 2}, sessions)
	})

	t.Run("a batch may fill the session limit exactly", func(t *testing.T) {
		var records []domain.JourneySessionRecord
		records = append(records, journeyRecords("A", 5)...)
		records = append(records, journeyRecords("B", 5)...)

		batches := Chunk(records, 100, 10)
		require.Len(t, batches, 1)
		assert.Len(t, batches[0], 10)
	})

	t.Run("an oversized journey goes alone", func(t *testing.T) {
		var records []domain.JourneySessionRecord
		records = append(records, journeyRecords("A", 2)...)
		records = append(records, journeyRecords("BIG", 12)...)
		records = append(records, journeyRecords("C", 1)...)

		batches := Chunk(records, 100, 10)

		require.Len(t, batches, 3)
		assert.Equal(t, []string{"A"}, batches[0].ConversionIDs())
		assert.Equal(t, []string{"BIG"}, batches[1].ConversionIDs())
		assert.Len(t, batches[1], 12)
		assert.Equal(t, []string{"C"}, batches[2].ConversionIDs())
	})

	t.Run("interleaved records are regrouped without splitting a journey", func(t *testing.T) {
		a, b := journeyRecords("A", 3), journeyRecords("B", 3)
		records := []domain.JourneySessionRecord{a[0], b[0], a[1], b[1], a[2], b[2]}

		batches := Chunk(records, 1, 100)

		require.Len(t, batches, 2)
		assert.Equal(t, []string{"A"}, batches[0].ConversionIDs())
		assert.Len(t, batches[0], 3)
		assert.Equal(t, []string{"B"}, batches[1].ConversionIDs())
	})

	t.Run("bounds and atomicity hold for mixed journey sizes", func(t *testing.T) {
		var records []domain.JourneySessionRecord
		for i := 0; i < 300; i++ {
			records = append(records, journeyRecords(fmt.Sprintf("C%03d", i), 1+i%37)...)
		}

		batches := Chunk(records, DefaultMaxJourneysPerChunk, DefaultMaxSessionsPerChunk)

		seenIn := make(map[string]int)
		total := 0
		for bi, b := range batches {
			assert.LessOrEqual(t, b.JourneyCount(), DefaultMaxJourneysPerChunk)
			assert.LessOrEqual(t, len(b), DefaultMaxSessionsPerChunk)
			for _, r := range b {
				if prev, ok := seenIn[r.ConversionID]; ok {
					assert.Equal(t, prev, bi, "conversion %s split", r.ConversionID)
				}
				seenIn[r.ConversionID] = bi
			}
			total += len(b)
		}
		assert.Equal(t, len(records), total)
	})

	t.Run("non-positive limits fall back to defaults", func(t *testing.T) {
		var records []domain.JourneySessionRecord
		for i := 0; i < 150; i++ {
			records = append(records, journeyRecords(fmt.Sprintf("C%03d", i), 1)...)
		}
		journeys, _ := sizes(Chunk(records, 0, -1))
		assert.Equal(t, []int{100, 50}, journeys)
	})

	t.Run("no records make no batches", func(t *testing.T) {
		assert.Empty(t, Chunk(nil, 100, 3000))
	})
}

func TestOnlyConversions(t *testing.T) {
	var records []domain.JourneySessionRecord
	records = append(records, journeyRecords("A", 2)...)
	records = append(records, journeyRecords("B", 1)...)
	records = append(records, journeyRecords("C", 3)...)

	got := OnlyConversions(records, []string{"C", "A"})
	assert.Equal(t, []string{"A", "C"}, domain.Batch(got).ConversionIDs())
	assert.Len(t, got, 5)
	assert.Empty(t, OnlyConversions(records, nil))
}
