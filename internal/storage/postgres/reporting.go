package postgres

import (
	"context"
	"fmt"

	"example.com/attribution/internal/domain"
)

// rebuildQueries returns the delete and insert statements that refresh
// channel_reporting for r. Both share the same arguments.
func rebuildQueries(r domain.DateRange) (del, ins string, args []any) {
	target := dateFilter("date", r)
	source := dateFilter("ss.event_date", r)

	del = "DELETE FROM channel_reporting " + target.where()
	ins = fmt.Sprintf(`
INSERT INTO channel_reporting (channel_name, date, cost, ihc, ihc_revenue)
SELECT
  ss.channel_name,
  ss.event_date,
  SUM(COALESCE(sc.cost, 0)),
  SUM(acj.ihc),
  SUM(acj.ihc::numeric * c.revenue)
FROM attribution_customer_journey acj
JOIN session_sources ss ON ss.session_id = acj.session_id
JOIN conversions c ON c.conv_id = acj.conv_id
LEFT JOIN session_costs sc ON sc.session_id = acj.session_id
%s
GROUP BY ss.channel_name, ss.event_date`, source.where())
	return del, ins, source.args
}

// RebuildChannelReporting replaces the aggregated rows of r in one
// transaction and returns how many rows were written.
func (db *DB) RebuildChannelReporting(ctx context.Context, r domain.DateRange) (int64, error) {
	del, ins, args := rebuildQueries(r)

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, del, args...); err != nil {
		return 0, fmt.Errorf("clear channel reporting: %w", err)
	}
	ct, err := tx.Exec(ctx, ins, args...)
	if err != nil {
		return 0, fmt.Errorf("aggregate channel reporting: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ChannelReport reads aggregated rows for r, optionally for one channel.
// Numeric columns are returned as text so no precision is lost.
func (db *DB) ChannelReport(ctx context.Context, r domain.DateRange, channel string) ([]domain.ChannelReportRow, error) {
	f := dateFilter("date", r)
	if channel != "" {
		f.add("channel_name = $%d", channel)
	}
	sql := fmt.Sprintf(`
SELECT channel_name, date, cost::text, ihc::text, ihc_revenue::text
FROM channel_reporting
%s
ORDER BY channel_name, date`, f.where())

	rows, err := db.Pool.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, fmt.Errorf("query channel report: %w", err)
	}
	defer rows.Close()

	var out []domain.ChannelReportRow
	for rows.Next() {
		var row domain.ChannelReportRow
		if err := rows.Scan(&row.ChannelName, &row.Date, &row.Cost, &row.IHC, &row.IHCRevenue); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
