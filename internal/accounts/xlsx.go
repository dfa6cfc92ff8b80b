package accounts

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/model"
)

// XLSXOptions selects the sheet holding the account list.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // overrides SheetIndex when set
}

// LoadXLSX reads an account list from a spreadsheet. The selected sheet's
// first row must be a header naming at least an id or name column.
func LoadXLSX(ctx context.Context, path string, opts XLSXOptions) ([]model.AccountRef, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "accounts: open xlsx")
	}

	sheet, err := pickSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.New("accounts: xlsx sheet is empty")
	}

	fields, err := headerMap(rowStrings(sheet.Rows[0]))
	if err != nil {
		return nil, err
	}

	var accounts []model.AccountRef
	skipped := 0
	for _, row := range sheet.Rows[1:] {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "accounts: xlsx cancelled")
		}
		acct, ok := rowAccount(fields, rowStrings(row))
		if !ok {
			skipped++
			continue
		}
		accounts = append(accounts, acct)
	}
	if skipped > 0 {
		zap.L().Warn("accounts: rows without id or name skipped",
			zap.Int("rows", skipped),
		)
	}
	return accounts, nil
}

func pickSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("accounts: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("accounts: sheet index %d out of range, workbook has %d sheets",
			opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}
