// Package memory is an in-process store used for dry runs and tests. It
// follows the same contracts as the postgres store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"example.com/attribution/internal/domain"
	"example.com/attribution/internal/idempotency"
	"example.com/attribution/internal/journey"
	"example.com/attribution/internal/money"
)

// Seed is the JSON document a Store can be loaded from.
type Seed struct {
	Conversions []domain.Conversion `json:"conversions"`
	Sessions    []domain.Session    `json:"sessions"`
	Credits     []domain.Credit     `json:"credits,omitempty"`
}

type Store struct {
	mu          sync.Mutex
	conversions []domain.Conversion
	sessions    []domain.Session
	credits     []domain.Credit
	creditKeys  map[string]struct{}
	report      map[reportKey]domain.ChannelReportRow
}

type reportKey struct{ channel, date string }

func New(seed Seed) *Store {
	s := &Store{
		conversions: append([]domain.Conversion(nil), seed.Conversions...),
		sessions:    append([]domain.Session(nil), seed.Sessions...),
		creditKeys:  make(map[string]struct{}),
		report:      make(map[reportKey]domain.ChannelReportRow),
	}
	s.insert(seed.Credits)
	return s
}

// Load reads a Seed from a JSON file.
func Load(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(b, &seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return New(seed), nil
}

func inRange(date string, r domain.DateRange) bool {
	if r.Start != "" && date < r.Start {
		return false
	}
	if r.End != "" && date > r.End {
		return false
	}
	return true
}

func (s *Store) Ready(context.Context) error { return nil }

func (s *Store) Conversions(_ context.Context, r domain.DateRange) ([]domain.Conversion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Conversion
	for _, c := range s.conversions {
		if inRange(c.ConvDate, r) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if a, b := out[i].Timestamp(), out[j].Timestamp(); a != b {
			return a < b
		}
		return out[i].ConvID < out[j].ConvID
	})
	return out, nil
}

func (s *Store) SessionsForUsers(ctx context.Context, userIDs []string, before *time.Time) ([]domain.Session, error) {
	s.mu.Lock()
	sessions := journey.StaticSessions(append([]domain.Session(nil), s.sessions...))
	s.mu.Unlock()
	return sessions.SessionsForUsers(ctx, userIDs, before)
}

// insert adds credits not stored yet; callers hold mu or own s exclusively.
func (s *Store) insert(credits []domain.Credit) int64 {
	var n int64
	for _, c := range credits {
		k := idempotency.CreditKey(c.ConvID, c.SessionID)
		if _, ok := s.creditKeys[k]; ok {
			continue
		}
		s.creditKeys[k] = struct{}{}
		s.credits = append(s.credits, c)
		n++
	}
	return n
}

func (s *Store) InsertCredits(_ context.Context, credits []domain.Credit) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(credits), nil
}

// Credits returns a copy of every stored credit in insertion order.
func (s *Store) Credits() []domain.Credit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Credit(nil), s.credits...)
}

func (s *Store) AttributedConversionIDs(_ context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	have := make(map[string]struct{})
	for _, c := range s.credits {
		have[c.ConvID] = struct{}{}
	}
	var out []string
	for _, id := range ids {
		if _, ok := have[id]; ok {
			out = append(out, id)
			delete(have, id)
		}
	}
	return out, nil
}

func (s *Store) UnbalancedConversions(_ context.Context, tolerance float64) ([]domain.CreditSum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sums := make(map[string]float64)
	for _, c := range s.credits {
		sums[c.ConvID] += c.IHC
	}
	var out []domain.CreditSum
	for id, total := range sums {
		if math.Abs(total-1) > tolerance {
			out = append(out, domain.CreditSum{ConvID: id, Total: total})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConvID < out[j].ConvID })
	return out, nil
}

type aggregate struct {
	cost, ihc, revenue money.Decimal
}

// RebuildChannelReporting aggregates credited sessions by channel and
// session date, replacing existing rows in r.
func (s *Store) RebuildChannelReporting(_ context.Context, r domain.DateRange) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make(map[string]domain.Session, len(s.sessions))
	for _, sess := range s.sessions {
		sessions[sess.SessionID] = sess
	}
	conversions := make(map[string]domain.Conversion, len(s.conversions))
	for _, c := range s.conversions {
		conversions[c.ConvID] = c
	}

	aggs := make(map[reportKey]*aggregate)
	for _, c := range s.credits {
		sess, ok := sessions[c.SessionID]
		if !ok || !inRange(sess.EventDate, r) {
			continue
		}
		conv, ok := conversions[c.ConvID]
		if !ok {
			continue
		}
		var cost money.Decimal
		if sess.Cost != nil {
			var err error
			if cost, err = money.OrZero(*sess.Cost); err != nil {
				return 0, fmt.Errorf("session %s cost: %w", sess.SessionID, err)
			}
		}
		revenue, err := money.OrZero(conv.Revenue)
		if err != nil {
			return 0, fmt.Errorf("conversion %s revenue: %w", conv.ConvID, err)
		}
		ihc, err := money.FromFloat(c.IHC)
		if err != nil {
			return 0, fmt.Errorf("credit %s/%s: %w", c.ConvID, c.SessionID, err)
		}

		k := reportKey{sess.ChannelName, sess.EventDate}
		a, ok := aggs[k]
		if !ok {
			a = &aggregate{}
			aggs[k] = a
		}
		a.cost = a.cost.Add(cost)
		a.ihc = a.ihc.Add(ihc)
		a.revenue = a.revenue.Add(ihc.Mul(revenue))
	}

	for k := range s.report {
		if inRange(k.date, r) {
			delete(s.report, k)
		}
	}
	for k, a := range aggs {
		s.report[k] = domain.ChannelReportRow{
			ChannelName: k.channel,
			Date:        k.date,
			Cost:        a.cost.String(),
			IHC:         a.ihc.String(),
			IHCRevenue:  a.revenue.String(),
		}
	}
	return int64(len(aggs)), nil
}

func (s *Store) ChannelReport(_ context.Context, r domain.DateRange, channel string) ([]domain.ChannelReportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ChannelReportRow
	for k, row := range s.report {
		if !inRange(k.date, r) || (channel != "" && k.channel != channel) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChannelName != out[j].ChannelName {
			return out[i].ChannelName < out[j].ChannelName
		}
		return out[i].Date < out[j].Date
	})
	return out, nil
}
