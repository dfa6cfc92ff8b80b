package accounts

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/model"
)

// StreamCSV reads an account list and sends one AccountRef per data row.
// The first row must be a header naming at least an id or name column; rows
// with neither are skipped and counted. The caller must consume the account
// channel. Both channels close when processing completes.
func StreamCSV(ctx context.Context, r io.Reader) (<-chan model.AccountRef, <-chan error) {
	out := make(chan model.AccountRef, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1

		header, err := reader.Read()
		if err == io.EOF {
			errCh <- eris.New("accounts: csv is empty")
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "accounts: read csv header")
			return
		}
		fields, err := headerMap(header)
		if err != nil {
			errCh <- err
			return
		}

		line := 1
		skipped := 0
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "accounts: csv cancelled")
				return
			}

			row, err := reader.Read()
			if err == io.EOF {
				if skipped > 0 {
					zap.L().Warn("accounts: rows without id or name skipped",
						zap.Int("rows", skipped),
					)
				}
				return
			}
			if err != nil {
				errCh <- eris.Wrapf(err, "accounts: read csv row %d", line+1)
				return
			}
			line++

			acct, ok := rowAccount(fields, row)
			if !ok {
				skipped++
				continue
			}

			select {
			case out <- acct:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "accounts: csv cancelled")
				return
			}
		}
	}()

	return out, errCh
}

// LoadCSV collects StreamCSV output into a slice.
func LoadCSV(ctx context.Context, r io.Reader) ([]model.AccountRef, error) {
	out, errCh := StreamCSV(ctx, r)

	var accounts []model.AccountRef
	for acct := range out {
		accounts = append(accounts, acct)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return accounts, nil
}
