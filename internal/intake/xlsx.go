package intake

import (
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

// readXLSX returns the cells of the workbook's first sheet.
func readXLSX(data []byte) ([][]string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		zap.L().Debug("intake: open xlsx", zap.Error(err))
		return nil, invalid("could not read spreadsheet")
	}
	if len(f.Sheets) == 0 {
		return nil, invalid("spreadsheet has no sheets")
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			continue
		}
		rows = append(rows, rowToStrings(row))
	}
	return rows, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
