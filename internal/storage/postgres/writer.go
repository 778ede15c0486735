package postgres

import (
	"context"
	"fmt"

	"example.com/attribution/internal/domain"
)

// maxInsertRows keeps a single statement well under the 65535 parameter cap.
const maxInsertRows = 1000

const creditCols = "conv_id, session_id, ihc"

// InsertCredits writes credits with ON CONFLICT DO NOTHING, so re-running a
// range never duplicates a (conv_id, session_id) row. It returns the number
// of rows actually inserted.
func (db *DB) InsertCredits(ctx context.Context, credits []domain.Credit) (int64, error) {
	var total int64
	for start := 0; start < len(credits); start += maxInsertRows {
		end := min(start+maxInsertRows, len(credits))
		part := credits[start:end]

		args := make([]any, 0, len(part)*3)
		for _, c := range part {
			args = append(args, c.ConvID, c.SessionID, c.IHC)
		}
		sql := "INSERT INTO attribution_customer_journey (" + creditCols + ") VALUES " +
			valuesClause(len(part), 3) +
			" ON CONFLICT DO NOTHING"

		ct, err := db.Pool.Exec(ctx, sql, args...)
		if err != nil {
			return total, fmt.Errorf("insert credits: %w", err)
		}
		total += ct.RowsAffected()
	}
	return total, nil
}

// AttributedConversionIDs returns the subset of ids that already have at
// least one stored credit.
func (db *DB) AttributedConversionIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.Pool.Query(ctx,
		"SELECT DISTINCT conv_id FROM attribution_customer_journey WHERE conv_id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("query attributed conversions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conv_id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UnbalancedConversions lists conversions whose credits sum further than
// tolerance from 1.
func (db *DB) UnbalancedConversions(ctx context.Context, tolerance float64) ([]domain.CreditSum, error) {
	rows, err := db.Pool.Query(ctx, `
SELECT conv_id, SUM(ihc)::float8 AS total
FROM attribution_customer_journey
GROUP BY conv_id
HAVING ABS(SUM(ihc) - 1.0) > $1
ORDER BY conv_id`, tolerance)
	if err != nil {
		return nil, fmt.Errorf("query credit sums: %w", err)
	}
	defer rows.Close()

	var out []domain.CreditSum
	for rows.Next() {
		var s domain.CreditSum
		if err := rows.Scan(&s.ConvID, &s.Total); err != nil {
			return nil, fmt.Errorf("scan credit sum: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
