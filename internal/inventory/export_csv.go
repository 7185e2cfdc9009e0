package inventory

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	csvFlushEvery = 200
	csvBufferSize = 32 * 1024
)

type csvStreamer struct {
	buf          *bufio.Writer
	csv          *csv.Writer
	flushEvery   int
	pendingLines int
}

func newCSVStreamer(w io.Writer) *csvStreamer {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true
	return &csvStreamer{buf: buf, csv: writer, flushEvery: csvFlushEvery}
}

func (s *csvStreamer) writeComment(line string) error {
	if s == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if !strings.HasSuffix(line, "\r\n") {
		line = strings.TrimSuffix(line, "\n")
		line += "\r\n"
	}
	if _, err := s.buf.WriteString(line); err != nil {
		return err
	}
	return nil
}

func (s *csvStreamer) writeRow(row []string) error {
	if s == nil || s.csv == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

func (s *csvStreamer) Flush() error {
	if s == nil || s.csv == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

func (s *csvStreamer) Close() error {
	return s.Flush()
}

// WriteSnapshotCSV streams a snapshot as CSV: a comment banner, a header row,
// one row per key, then a totals row aggregated from the same rows.
func WriteSnapshotCSV(w io.Writer, cutoff time.Time, rows []SnapshotRow) error {
	streamer := newCSVStreamer(w)
	if err := streamer.writeComment("# Report: Stock Snapshot"); err != nil {
		return err
	}
	if err := streamer.writeComment(fmt.Sprintf("# As Of: %s | Rows: %d", cutoff.UTC().Format(time.RFC3339), len(rows))); err != nil {
		return err
	}
	if err := streamer.writeRow([]string{"SKU", "Product", "Variant SKU", "Category", "Warehouse", "Location", "Qty", "Unit Cost", "Value"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := streamer.writeRow([]string{
			row.SKU,
			row.ProductName,
			row.VariantSKU,
			row.CategoryName,
			row.WarehouseName,
			row.LocationCode,
			formatQty(row.Qty),
			row.UnitCost.StringFixed(2),
			row.Value().StringFixed(2),
		}); err != nil {
			return err
		}
	}
	if err := streamer.writeRow([]string{"", "", "", "", "", "", "", "", ""}); err != nil {
		return err
	}
	totals := summarise(rows)
	totalsRows := [][]string{
		{"Totals", "", "SKUs", "", "", "", strconv.Itoa(totals.SKUCount), "", ""},
		{"Totals", "", "Quantity", "", "", "", formatQty(totals.TotalQty), "", ""},
		{"Totals", "", "Value", "", "", "", "", "", totals.TotalValue.StringFixed(2)},
	}
	for _, row := range totalsRows {
		if err := streamer.writeRow(row); err != nil {
			return err
		}
	}
	return streamer.Close()
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
