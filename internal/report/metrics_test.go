package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"example.com/attribution/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive(t *testing.T) {
	t.Run("computes CPO and ROAS", func(t *testing.T) {
		got, err := Derive([]domain.ChannelReportRow{
			{ChannelName: "Paid Search", Date: "2024-01-10", Cost: "50", IHC: "2.5", IHCRevenue: "200"},
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "20.0000", got[0].CPO.String())
		assert.Equal(t, "4.0000", got[0].ROAS.String())
	})

	t.Run("zero cost makes ROAS undefined", func(t *testing.T) {
		got, err := Derive([]domain.ChannelReportRow{
			{ChannelName: "Direct", Date: "2024-01-10", Cost: "0", IHC: "1", IHCRevenue: "10"},
		})
		require.NoError(t, err)
		assert.False(t, got[0].ROAS.Defined)
		assert.Equal(t, Undefined, got[0].ROAS.String())
		assert.True(t, got[0].CPO.Defined)
		assert.Equal(t, "0.0000", got[0].CPO.String())
	})

	t.Run("zero ihc makes CPO undefined", func(t *testing.T) {
		got, err := Derive([]domain.ChannelReportRow{
			{ChannelName: "Display", Date: "2024-01-10", Cost: "12.5", IHC: "", IHCRevenue: ""},
		})
		require.NoError(t, err)
		assert.Equal(t, Undefined, got[0].CPO.String())
		assert.Equal(t, "0.0000", got[0].ROAS.String())
	})

	t.Run("rejects non-numeric amounts", func(t *testing.T) {
		_, err := Derive([]domain.ChannelReportRow{{ChannelName: "x", Cost: "n/a"}})
		assert.Error(t, err)
	})

	t.Run("undefined ratios serialise as a marker", func(t *testing.T) {
		got, err := Derive([]domain.ChannelReportRow{{ChannelName: "Direct", Date: "2024-01-10", Cost: "0", IHC: "0", IHCRevenue: "0"}})
		require.NoError(t, err)
		b, err := json.Marshal(got[0])
		require.NoError(t, err)
		assert.JSONEq(t, `{"channel_name":"Direct","date":"2024-01-10","cost":"0","ihc":"0","ihc_revenue":"0","cpo":"undefined","roas":"undefined"}`, string(b))
	})
}

func TestTotals(t *testing.T) {
	metrics, err := Derive([]domain.ChannelReportRow{
		{ChannelName: "A", Date: "2024-01-10", Cost: "10", IHC: "0.5", IHCRevenue: "30"},
		{ChannelName: "B", Date: "2024-01-10", Cost: "30", IHC: "0.5", IHCRevenue: "10"},
	})
	require.NoError(t, err)

	s := Totals(metrics)
	assert.Equal(t, 2, s.Rows)
	assert.Equal(t, "40", s.TotalCost.String())
	assert.Equal(t, "1.0", s.TotalIHC.String())
	assert.Equal(t, "1.0000", s.ROAS.String())

	assert.Equal(t, Undefined, Totals(nil).ROAS.String())
}

func TestCSVExporter(t *testing.T) {
	metrics, err := Derive([]domain.ChannelReportRow{
		{ChannelName: "Direct", Date: "2024-01-10", Cost: "0", IHC: "1", IHCRevenue: "10"},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "channel_reporting.csv")
	exp := ExporterFor(path)
	require.IsType(t, CSVExporter{}, exp)
	require.NoError(t, exp.Export(metrics))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"channel_name", "date", "cost", "ihc", "ihc_revenue", "CPO", "ROAS"},
		{"Direct", "2024-01-10", "0", "1", "10", "0.0000", "undefined"},
	}, rows)
}

func TestXLSXExporter(t *testing.T) {
	metrics, err := Derive([]domain.ChannelReportRow{
		{ChannelName: "Email", Date: "2024-01-11", Cost: "5", IHC: "1", IHCRevenue: "25"},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "channel_reporting.xlsx")
	exp := ExporterFor(path)
	require.IsType(t, XLSXExporter{}, exp)
	require.NoError(t, exp.Export(metrics))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
