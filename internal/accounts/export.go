package accounts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector-cli/internal/model"
)

// prospectColumns is the ordered export header.
var prospectColumns = []string{
	"account_id",
	"account_name",
	"run_id",
	"full_name",
	"title",
	"employer",
	"profile_url",
	"score",
	"persona",
	"connections",
	"location",
	"rationale",
}

// ExportProspectsCSV writes the qualified prospects of the given runs as
// one CSV table, one row per prospect in run order.
func ExportProspectsCSV(w io.Writer, runs ...*model.PipelineRun) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(prospectColumns); err != nil {
		return eris.Wrap(err, "accounts: write export header")
	}
	for _, run := range runs {
		for _, q := range run.Qualified {
			if err := cw.Write(prospectRow(run, q)); err != nil {
				return eris.Wrap(err, "accounts: write export row")
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "accounts: flush export")
	}
	return nil
}

// prospectRow maps one qualified prospect to an export row.
func prospectRow(run *model.PipelineRun, q model.QualifiedProspect) []string {
	name := q.Profile.FullName
	if name == "" {
		name = strings.TrimSpace(q.Profile.GivenName + " " + q.Profile.FamilyName)
	}
	return []string{
		run.Account.ID,
		run.Account.Name,
		run.ID,
		name,
		q.Profile.Title,
		q.Profile.Employer,
		q.ProfileURL,
		fmt.Sprintf("%d", q.Score),
		string(q.Persona),
		fmt.Sprintf("%d", q.Profile.Connections),
		q.Profile.Location(),
		q.Rationale,
	}
}
