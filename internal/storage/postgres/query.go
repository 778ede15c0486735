package postgres

import (
	"fmt"
	"strings"

	"example.com/attribution/internal/domain"
)

// filter collects AND-ed conditions with numbered placeholders.
type filter struct {
	conds []string
	args  []any
}

// add appends a condition; expr holds one %d for the placeholder index.
func (f *filter) add(expr string, arg any) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, fmt.Sprintf(expr, len(f.args)))
}

func (f *filter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(f.conds, " AND ")
}

// dateFilter bounds a TEXT date column (YYYY-MM-DD) by an inclusive range.
// Open bounds add nothing.
func dateFilter(column string, r domain.DateRange) *filter {
	f := &filter{}
	if r.Start != "" {
		f.add(column+" >= $%d", r.Start)
	}
	if r.End != "" {
		f.add(column+" <= $%d", r.End)
	}
	return f
}

// valuesClause renders "($1,$2),($3,$4)" for rows tuples of width cols.
func valuesClause(rows, cols int) string {
	var b strings.Builder
	argi := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "$%d", argi)
			argi++
		}
		b.WriteByte(')')
	}
	return b.String()
}
