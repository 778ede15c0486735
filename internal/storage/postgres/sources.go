package postgres

import (
	"context"
	"fmt"
	"time"

	"example.com/attribution/internal/domain"
)

// Conversions loads conversions whose date falls in r, oldest first.
func (db *DB) Conversions(ctx context.Context, r domain.DateRange) ([]domain.Conversion, error) {
	f := dateFilter("conv_date", r)
	sql := fmt.Sprintf(`
SELECT conv_id, user_id, conv_date, conv_time, revenue::text
FROM conversions
%s
ORDER BY conv_date, conv_time, conv_id`, f.where())

	rows, err := db.Pool.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, fmt.Errorf("query conversions: %w", err)
	}
	defer rows.Close()

	var out []domain.Conversion
	for rows.Next() {
		var c domain.Conversion
		if err := rows.Scan(&c.ConvID, &c.UserID, &c.ConvDate, &c.ConvTime, &c.Revenue); err != nil {
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// sessionsQuery builds the lookup for a batch of users. Sessions come back
// in chronological order.
func sessionsQuery(userIDs []string) (string, []any) {
	f := &filter{}
	f.add("ss.user_id = ANY($%d)", userIDs)
	sql := fmt.Sprintf(`
SELECT ss.session_id, ss.user_id, ss.event_date, ss.event_time, ss.channel_name,
       ss.holder_engagement, ss.closer_engagement, ss.impression_interaction,
       sc.cost::text
FROM session_sources ss
LEFT JOIN session_costs sc ON sc.session_id = ss.session_id
%s
ORDER BY ss.event_date, ss.event_time, ss.session_id`, f.where())
	return sql, f.args
}

// SessionsForUsers returns every session of the given users, in one query.
// before, when set, is an exclusive upper bound.
func (db *DB) SessionsForUsers(ctx context.Context, userIDs []string, before *time.Time) ([]domain.Session, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	sql, args := sessionsQuery(userIDs)
	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(
			&s.SessionID, &s.UserID, &s.EventDate, &s.EventTime, &s.ChannelName,
			&s.HolderEngagement, &s.CloserEngagement, &s.ImpressionInteraction,
			&s.Cost,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keepBefore(out, before), nil
}

// keepBefore drops sessions at or after before. Rows whose timestamp does not
// parse are kept so the assembler can record them as skipped.
func keepBefore(sessions []domain.Session, before *time.Time) []domain.Session {
	if before == nil {
		return sessions
	}
	out := sessions[:0]
	for _, s := range sessions {
		if at, err := domain.ParseTimestamp(s.Timestamp()); err == nil && !at.Before(*before) {
			continue
		}
		out = append(out, s)
	}
	return out
}
