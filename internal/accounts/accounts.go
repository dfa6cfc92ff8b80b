// Package accounts loads CRM account lists from operator-supplied CSV and
// XLSX files and exports qualified prospects back out as CSV.
package accounts

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector-cli/internal/model"
)

// Load reads an account list, dispatching on the file extension. CSV input
// streams; XLSX loads whole.
func Load(ctx context.Context, path string) ([]model.AccountRef, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "accounts: open csv")
		}
		defer f.Close()
		return LoadCSV(ctx, f)
	case ".xlsx":
		return LoadXLSX(ctx, path, XLSXOptions{})
	default:
		return nil, eris.Errorf("accounts: unsupported file type %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// columns maps recognized header names onto account fields. Lookup keys are
// lowercased with spaces, underscores, and dashes removed.
var columns = map[string]string{
	"id":           "id",
	"accountid":    "id",
	"sfid":         "id",
	"salesforceid": "id",

	"name":        "name",
	"account":     "name",
	"accountname": "name",
	"company":     "name",
	"hospital":    "name",

	"parent":        "parent",
	"parentname":    "parent",
	"parentaccount": "parent",
	"healthsystem":  "parent",

	"city":        "city",
	"billingcity": "city",

	"state":        "state",
	"billingstate": "state",
	"province":     "state",
}

var headerCleaner = strings.NewReplacer(" ", "", "_", "", "-", "")

// headerMap resolves a header row to field -> column index. The first
// column matching a field wins. At least one of id or name must resolve.
func headerMap(header []string) (map[string]int, error) {
	fields := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.TrimPrefix(strings.TrimSpace(h), "\ufeff") // Excel BOM
		key = headerCleaner.Replace(strings.ToLower(key))
		field, ok := columns[key]
		if !ok {
			continue
		}
		if _, taken := fields[field]; taken {
			continue
		}
		fields[field] = i
	}
	if _, ok := fields["id"]; !ok {
		if _, ok := fields["name"]; !ok {
			return nil, eris.New("accounts: header has no id or name column")
		}
	}
	return fields, nil
}

// rowAccount builds an AccountRef from one data row. Rows carrying neither
// an id nor a name are not accounts.
func rowAccount(fields map[string]int, row []string) (model.AccountRef, bool) {
	cell := func(field string) string {
		idx, ok := fields[field]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}
	acct := model.AccountRef{
		ID:     cell("id"),
		Name:   cell("name"),
		Parent: cell("parent"),
		City:   cell("city"),
		State:  cell("state"),
	}
	if acct.ID == "" && acct.Name == "" {
		return model.AccountRef{}, false
	}
	return acct, true
}
