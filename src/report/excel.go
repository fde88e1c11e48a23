package report

import (
	"io"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
	"go.uber.org/multierr"

	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
)

const sheetName = "Report"

func renderExcel(w io.Writer, entries []datastructures.HistoryEntry) (err error) {
	f := excelize.NewFile()
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return errors.Wrap(err, "couldn't name sheet")
	}

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return errors.Wrap(err, "couldn't write header")
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "couldn't create header style")
	}
	if err := f.SetRowStyle(sheetName, 1, 1, bold); err != nil {
		return errors.Wrap(err, "couldn't style header")
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			e.Id,
			e.Timestamp,
			e.FileName,
			e.ProcessedFile,
			e.ProcessingTime,
			e.MemoryUsed,
			FormatLabelStats(e.LabelStats),
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return errors.Wrapf(err, "couldn't write row %d", i+2)
		}
	}

	if err := f.SetColWidth(sheetName, "A", "G", 22); err != nil {
		return errors.Wrap(err, "couldn't size columns")
	}
	return f.Write(w)
}
