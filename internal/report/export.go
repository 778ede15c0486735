package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/360EntSecGroup-Skylar/excelize/v2"
	log "github.com/sirupsen/logrus"
)

var header = []string{"channel_name", "date", "cost", "ihc", "ihc_revenue", "CPO", "ROAS"}

func (m Metrics) cells() []string {
	return []string{m.ChannelName, m.Date, m.Cost.String(), m.IHC.String(), m.IHCRevenue.String(), m.CPO.String(), m.ROAS.String()}
}

// Exporter writes a derived report to a destination.
type Exporter interface {
	Export(metrics []Metrics) error
	Path() string
}

// ExporterFor picks the format from the file extension; CSV unless .xlsx.
func ExporterFor(path string) Exporter {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return XLSXExporter{path: path}
	}
	return CSVExporter{path: path}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	return nil
}

type CSVExporter struct {
	path string
}

func NewCSVExporter(path string) CSVExporter { return CSVExporter{path: path} }

func (e CSVExporter) Path() string { return e.path }

func (e CSVExporter) Export(metrics []Metrics) error {
	if err := ensureDir(e.path); err != nil {
		return err
	}
	f, err := os.Create(e.path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, m := range metrics {
		if err := w.Write(m.cells()); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	log.WithFields(log.Fields{"path": e.path, "rows": len(metrics)}).Info("Exported channel reporting with CPO and ROAS metrics.")
	return nil
}

const sheetName = "channel_reporting"

type XLSXExporter struct {
	path string
}

func NewXLSXExporter(path string) XLSXExporter { return XLSXExporter{path: path} }

func (e XLSXExporter) Path() string { return e.path }

func (e XLSXExporter) Export(metrics []Metrics) error {
	if err := ensureDir(e.path); err != nil {
		return err
	}
	f := excelize.NewFile()
	idx := f.NewSheet(sheetName)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	rows := make([][]string, 0, len(metrics)+1)
	rows = append(rows, header)
	for _, m := range metrics {
		rows = append(rows, m.cells())
	}
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return fmt.Errorf("cell name: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("set %s: %w", cell, err)
			}
		}
	}
	if err := f.SaveAs(e.path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	log.WithFields(log.Fields{"path": e.path, "rows": len(metrics)}).Info("Exported channel reporting workbook.")
	return nil
}
