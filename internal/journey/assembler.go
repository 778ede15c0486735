package journey

import (
	"context"
	"fmt"
	"sort"
	"time"

	"example.com/attribution/internal/domain"

	log "github.com/sirupsen/logrus"
)

const DefaultLookupBatchSize = 1000

// SessionSource loads every session of the given users, ordered by time.
// A non-nil before restricts the result to sessions strictly earlier.
type SessionSource interface {
	SessionsForUsers(ctx context.Context, userIDs []string, before *time.Time) ([]domain.Session, error)
}

type Options struct {
	// LookupBatchSize is how many conversions share one session lookup.
	LookupBatchSize int
	// IncludeConversionInstant lets a session stamped exactly at the
	// conversion time join the journey, as its conversion session.
	IncludeConversionInstant bool
}

type SkipReason string

const (
	SkipMalformedConversion SkipReason = "malformed_conversion_timestamp"
	SkipMalformedSession    SkipReason = "malformed_session_timestamp"
	SkipNoEligibleSessions  SkipReason = "no_eligible_sessions"
)

// Skip is a unit the assembler left out. Session skips carry no conversion.
type Skip struct {
	ConversionID string     `json:"conversion_id,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`
	UserID       string     `json:"user_id,omitempty"`
	Reason       SkipReason `json:"reason"`
}

type Assembly struct {
	Records  []domain.JourneySessionRecord
	Journeys int
	Skipped  []Skip
}

// Skips counts skipped units by reason.
func (a Assembly) Skips() map[SkipReason]int {
	out := make(map[SkipReason]int)
	for _, s := range a.Skipped {
		out[s.Reason]++
	}
	return out
}

// Assembler builds conversion journeys. Conversions are served oldest first
// and every session it hands out is claimed in the shared ClaimSet, so a
// session never appears in two journeys.
type Assembler struct {
	sessions SessionSource
	claims   *ClaimSet
	opts     Options
}

func NewAssembler(sessions SessionSource, claims *ClaimSet, opts Options) *Assembler {
	if opts.LookupBatchSize <= 0 {
		opts.LookupBatchSize = DefaultLookupBatchSize
	}
	if claims == nil {
		claims = NewClaimSet()
	}
	return &Assembler{sessions: sessions, claims: claims, opts: opts}
}

// Claims exposes the claim state after a run.
func (a *Assembler) Claims() *ClaimSet { return a.claims }

type datedConversion struct {
	domain.Conversion
	at time.Time
}

type datedSession struct {
	domain.Session
	at time.Time
}

// Assemble returns one record per session of every journey it could build.
// Records of a journey are contiguous and chronological.
func (a *Assembler) Assemble(ctx context.Context, conversions []domain.Conversion) (Assembly, error) {
	var out Assembly

	dated := make([]datedConversion, 0, len(conversions))
	for _, c := range conversions {
		at, err := domain.ParseTimestamp(c.Timestamp())
		if err != nil {
			log.WithFields(log.Fields{"conv_id": c.ConvID, "timestamp": c.Timestamp()}).
				Error("Invalid conversion timestamp format.")
			out.Skipped = append(out.Skipped, Skip{ConversionID: c.ConvID, UserID: c.UserID, Reason: SkipMalformedConversion})
			continue
		}
		dated = append(dated, datedConversion{Conversion: c, at: at})
	}

	// Earlier conversions get first claim.
	sort.SliceStable(dated, func(i, j int) bool {
		if !dated[i].at.Equal(dated[j].at) {
			return dated[i].at.Before(dated[j].at)
		}
		return dated[i].ConvID < dated[j].ConvID
	})

	badSessions := make(map[string]struct{})
	for start := 0; start < len(dated); start += a.opts.LookupBatchSize {
		end := start + a.opts.LookupBatchSize
		if end > len(dated) {
			end = len(dated)
		}
		batch := dated[start:end]

		byUser, skipped, err := a.lookup(ctx, batch, badSessions)
		if err != nil {
			return out, err
		}
		out.Skipped = append(out.Skipped, skipped...)

		for _, conv := range batch {
			records := a.build(conv, byUser[conv.UserID])
			if len(records) == 0 {
				log.WithFields(log.Fields{"conv_id": conv.ConvID, "user_id": conv.UserID}).
					Warn("No unclaimed sessions before conversion.")
				out.Skipped = append(out.Skipped, Skip{ConversionID: conv.ConvID, UserID: conv.UserID, Reason: SkipNoEligibleSessions})
				continue
			}
			out.Records = append(out.Records, records...)
			out.Journeys++
			log.WithFields(log.Fields{"conv_id": conv.ConvID, "sessions": len(records)}).Debug("Built journey.")
		}
	}

	log.WithFields(log.Fields{
		"conversions": len(conversions),
		"journeys":    out.Journeys,
		"records":     len(out.Records),
		"skipped":     len(out.Skipped),
	}).Info("Assembled customer journeys.")
	return out, nil
}

// lookup fetches the sessions of every user in batch with a single call and
// groups the parseable ones by user.
func (a *Assembler) lookup(ctx context.Context, batch []datedConversion, bad map[string]struct{}) (map[string][]datedSession, []Skip, error) {
	seen := make(map[string]struct{})
	var userIDs []string
	latest := batch[0].at
	for _, c := range batch {
		if _, ok := seen[c.UserID]; !ok {
			seen[c.UserID] = struct{}{}
			userIDs = append(userIDs, c.UserID)
		}
		if c.at.After(latest) {
			latest = c.at
		}
	}
	// One second past the latest conversion keeps same-instant sessions in
	// reach; build applies the exact bound per conversion.
	before := latest.Add(time.Second)

	sessions, err := a.sessions.SessionsForUsers(ctx, userIDs, &before)
	if err != nil {
		return nil, nil, fmt.Errorf("sessions for %d users: %w", len(userIDs), err)
	}

	var skipped []Skip
	byUser := make(map[string][]datedSession, len(userIDs))
	for _, s := range sessions {
		at, err := domain.ParseTimestamp(s.Timestamp())
		if err != nil {
			if _, dup := bad[s.SessionID]; !dup {
				bad[s.SessionID] = struct{}{}
				log.WithFields(log.Fields{"session_id": s.SessionID, "timestamp": s.Timestamp()}).
					Warn("Skipping session due to invalid timestamp.")
				skipped = append(skipped, Skip{SessionID: s.SessionID, UserID: s.UserID, Reason: SkipMalformedSession})
			}
			continue
		}
		byUser[s.UserID] = append(byUser[s.UserID], datedSession{Session: s, at: at})
	}
	return byUser, skipped, nil
}

// build selects, marks and claims the journey of one conversion.
func (a *Assembler) build(conv datedConversion, candidates []datedSession) []domain.JourneySessionRecord {
	var eligible, instant []datedSession
	picked := make(map[string]struct{})
	for _, s := range candidates {
		if a.claims.Claimed(s.SessionID) {
			continue
		}
		if _, dup := picked[s.SessionID]; dup {
			continue
		}
		switch {
		case s.at.Before(conv.at):
			eligible = append(eligible, s)
			picked[s.SessionID] = struct{}{}
		case a.opts.IncludeConversionInstant && s.at.Equal(conv.at):
			instant = append(instant, s)
		}
	}

	var closing datedSession
	if len(instant) > 0 {
		closing = earliestID(instant)
		eligible = append(eligible, closing)
	} else if len(eligible) > 0 {
		closing = latest(eligible)
	} else {
		return nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if !eligible[i].at.Equal(eligible[j].at) {
			return eligible[i].at.Before(eligible[j].at)
		}
		return eligible[i].SessionID < eligible[j].SessionID
	})

	records := make([]domain.JourneySessionRecord, 0, len(eligible))
	for _, s := range eligible {
		a.claims.Claim(s.SessionID, conv.ConvID)
		records = append(records, domain.JourneySessionRecord{
			ConversionID:          conv.ConvID,
			SessionID:             s.SessionID,
			Timestamp:             domain.FormatTimestamp(s.at),
			ChannelLabel:          s.ChannelName,
			HolderEngagement:      domain.Flag(s.HolderEngagement),
			CloserEngagement:      domain.Flag(s.CloserEngagement),
			Conversion:            domain.Flag(s.SessionID == closing.SessionID),
			ImpressionInteraction: domain.Flag(s.ImpressionInteraction),
		})
	}
	return records
}

// latest picks the session closest to the conversion; equal timestamps go to
// the smallest session id.
func latest(sessions []datedSession) datedSession {
	best := sessions[0]
	for _, s := range sessions[1:] {
		if s.at.After(best.at) || (s.at.Equal(best.at) && s.SessionID < best.SessionID) {
			best = s
		}
	}
	return best
}

func earliestID(sessions []datedSession) datedSession {
	best := sessions[0]
	for _, s := range sessions[1:] {
		if s.SessionID < best.SessionID {
			best = s
		}
	}
	return best
}

// StaticSessions serves sessions from memory.
type StaticSessions []domain.Session

func (s StaticSessions) SessionsForUsers(_ context.Context, userIDs []string, before *time.Time) ([]domain.Session, error) {
	want := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		want[id] = struct{}{}
	}
	var out []domain.Session
	for _, sess := range s {
		if _, ok := want[sess.UserID]; !ok {
			continue
		}
		if before != nil {
			// Unparseable rows pass through; the assembler reports them.
			if at, err := domain.ParseTimestamp(sess.Timestamp()); err == nil && !at.Before(*before) {
				continue
			}
		}
		out = append(out, sess)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp() < out[j].Timestamp() })
	return out, nil
}

// Assemble is the in-memory form: journeys for conversions over a fixed set
// of sessions, with a fresh claim set.
func Assemble(ctx context.Context, conversions []domain.Conversion, sessions []domain.Session, opts Options) (Assembly, error) {
	return NewAssembler(StaticSessions(sessions), NewClaimSet(), opts).Assemble(ctx, conversions)
}
