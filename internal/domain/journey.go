package domain

// JourneySessionRecord is one session of one conversion's journey, shaped as
// the attribution service expects it. Flags are 0 or 1 on the wire.
type JourneySessionRecord struct {
	ConversionID          string `json:"conversion_id"`
	SessionID             string `json:"session_id"`
	Timestamp             string `json:"timestamp"`
	ChannelLabel          string `json:"channel_label"`
	HolderEngagement      int    `json:"holder_engagement"`
	CloserEngagement      int    `json:"closer_engagement"`
	Conversion            int    `json:"conversion"`
	ImpressionInteraction int    `json:"impression_interaction"`
}

// IsConversionSession reports whether the record is the session closest to
// its conversion.
func (r JourneySessionRecord) IsConversionSession() bool { return r.Conversion == 1 }

// Flag converts a bool to its wire form.
func Flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Batch is a run of whole journeys sent to the attribution service in one
// request.
type Batch []JourneySessionRecord

// ConversionIDs returns the distinct conversion ids in first-seen order.
func (b Batch) ConversionIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, r := range b {
		if _, ok := seen[r.ConversionID]; ok {
			continue
		}
		seen[r.ConversionID] = struct{}{}
		ids = append(ids, r.ConversionID)
	}
	return ids
}

// JourneyCount is the number of distinct conversions in the batch.
func (b Batch) JourneyCount() int { return len(b.ConversionIDs()) }

// Credit is the attribution value the service assigned to one session of
// one conversion.
type Credit struct {
	ConvID    string  `json:"conv_id"`
	SessionID string  `json:"session_id"`
	IHC       float64 `json:"ihc"`
}

// CreditSum is a conversion whose stored credits do not add up to 1.
type CreditSum struct {
	ConvID string  `json:"conv_id"`
	Total  float64 `json:"total_ihc"`
}
