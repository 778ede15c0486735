package report

import (
	"fmt"

	"example.com/attribution/internal/domain"
	"example.com/attribution/internal/money"
)

// Undefined is printed for a ratio whose denominator is zero.
const Undefined = "undefined"

// Ratio is a derived metric that may be undefined.
type Ratio struct {
	Value   money.Decimal
	Defined bool
}

func divide(num, den money.Decimal) Ratio {
	q, ok := num.Quo(den)
	return Ratio{Value: q, Defined: ok}
}

func (r Ratio) String() string {
	if !r.Defined {
		return Undefined
	}
	return r.Value.Round(4).String()
}

func (r Ratio) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Metrics is a report row with its derived ratios.
type Metrics struct {
	ChannelName string        `json:"channel_name"`
	Date        string        `json:"date"`
	Cost        money.Decimal `json:"cost"`
	IHC         money.Decimal `json:"ihc"`
	IHCRevenue  money.Decimal `json:"ihc_revenue"`
	CPO         Ratio         `json:"cpo"`
	ROAS        Ratio         `json:"roas"`
}

// Derive computes CPO = cost / ihc and ROAS = ihc_revenue / cost per row.
func Derive(rows []domain.ChannelReportRow) ([]Metrics, error) {
	out := make([]Metrics, 0, len(rows))
	for i, row := range rows {
		cost, err := money.OrZero(row.Cost)
		if err != nil {
			return nil, fmt.Errorf("row %d cost: %w", i, err)
		}
		ihc, err := money.OrZero(row.IHC)
		if err != nil {
			return nil, fmt.Errorf("row %d ihc: %w", i, err)
		}
		revenue, err := money.OrZero(row.IHCRevenue)
		if err != nil {
			return nil, fmt.Errorf("row %d ihc_revenue: %w", i, err)
		}
		out = append(out, Metrics{
			ChannelName: row.ChannelName,
			Date:        row.Date,
			Cost:        cost,
			IHC:         ihc,
			IHCRevenue:  revenue,
			CPO:         divide(cost, ihc),
			ROAS:        divide(revenue, cost),
		})
	}
	return out, nil
}

type Summary struct {
	Rows         int           `json:"rows"`
	TotalCost    money.Decimal `json:"total_cost"`
	TotalIHC     money.Decimal `json:"total_ihc"`
	TotalRevenue money.Decimal `json:"total_ihc_revenue"`
	ROAS         Ratio         `json:"roas"`
}

// Totals sums the report and derives the overall ROAS.
func Totals(metrics []Metrics) Summary {
	var s Summary
	for _, m := range metrics {
		s.TotalCost = s.TotalCost.Add(m.Cost)
		s.TotalIHC = s.TotalIHC.Add(m.IHC)
		s.TotalRevenue = s.TotalRevenue.Add(m.IHCRevenue)
	}
	s.Rows = len(metrics)
	s.ROAS = divide(s.TotalRevenue, s.TotalCost)
	return s
}
