package purchases

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Purchases"

var exportColumns = []string{"ID", "Type", "User", "Date", "Description", "Status", "Amount"}

// sheetWriter appends rows to a single-sheet workbook.
type sheetWriter struct {
	file  *excelize.File
	sheet string
	row   int
}

func newSheetWriter(name string) *sheetWriter {
	f := excelize.NewFile()
	// Excel limits sheet names to 31 chars
	if len(name) > 31 {
		name = name[:31]
	}
	f.SetSheetName("Sheet1", name)
	return &sheetWriter{file: f, sheet: name, row: 1}
}

func (w *sheetWriter) header(columns []string) error {
	if err := w.values(columns); err != nil {
		return err
	}
	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		start, _ := excelize.CoordinatesToCellName(1, w.row-1)
		end, _ := excelize.CoordinatesToCellName(len(columns), w.row-1)
		_ = w.file.SetCellStyle(w.sheet, start, end, style)
	}
	return nil
}

func (w *sheetWriter) values(row []string) error {
	vals := make([]any, len(row))
	for i, v := range row {
		vals[i] = v
	}
	return w.write(vals)
}

func (w *sheetWriter) write(row []any) error {
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.sheet, cell, &row); err != nil {
		return err
	}
	w.row++
	return nil
}

// ExportXLSX writes every transaction matching f (ignoring paging) of userID,
// or of all users when userID is empty, as an Excel workbook.
func (s *Service) ExportXLSX(ctx context.Context, userID string, f Filter, out io.Writer) error {
	list, err := s.Transactions(ctx, userID, f)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load purchases for export")
		return err
	}

	w := newSheetWriter(exportSheet)
	defer w.file.Close()

	if err := w.header(exportColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range list {
		t := &list[i]
		row := []any{t.ID, t.Type, t.UserID, t.Date.Format("2006-01-02 15:04"), t.Description, t.Status, t.Amount}
		if err := w.write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	_ = w.file.SetColWidth(w.sheet, "E", "E", 48)

	if err := w.file.Write(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	s.logger.Info().Int("rows", len(list)).Msg("purchases exported")
	return nil
}
