package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"example.com/attribution/internal/domain"
)

// CreditKey identifies a stored credit. The result table enforces the same
// (conv_id, session_id) uniqueness.
func CreditKey(convID, sessionID string) string {
	return convID + "|" + sessionID
}

// BatchKey returns a stable key for a scoring request: a hex SHA-256 over
// the batch's sorted conversion ids, so the same journeys give the same key
// in every run.
func BatchKey(b domain.Batch) string {
	ids := b.ConversionIDs()
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "|")))
	return hex.EncodeToString(sum[:])
}

// Dedupe drops repeated credits, keeping the first of each key.
func Dedupe(credits []domain.Credit) []domain.Credit {
	seen := make(map[string]struct{}, len(credits))
	out := make([]domain.Credit, 0, len(credits))
	for _, c := range credits {
		k := CreditKey(c.ConvID, c.SessionID)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}
