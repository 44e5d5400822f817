// Package export serializes the clean poll dataset to interchange formats:
// JSON, CSV (flattened result rows), XLSX workbooks, and standalone SQLite
// snapshot files.
package export

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/wahldaten/poll-pipeline/internal/model"
	"github.com/wahldaten/poll-pipeline/internal/store"
)

// Format is a supported export format.
type Format string

const (
	FormatJSON   Format = "json"
	FormatCSV    Format = "csv"
	FormatSQLite Format = "sqlite"
	FormatXLSX   Format = "xlsx"
)

// ParseFormat validates a format flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatSQLite, FormatXLSX:
		return f, nil
	default:
		return "", eris.Errorf("export: unsupported format %q", s)
	}
}

// Dataset is one consistent snapshot of the clean tables, assembled once and
// handed to a format writer.
type Dataset struct {
	Polls     []model.CleanPoll
	Rows      []store.ResultRow
	Reference *model.ReferenceSet

	institutes map[int64]string
	parties    map[int64]string
	providers  map[int64]string
}

// Collect loads the polls selected by f plus the flattened result rows and
// the reference names used to label them.
func Collect(ctx context.Context, st store.Store, f store.CleanFilter) (*Dataset, error) {
	polls, err := st.ListCleanPolls(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "export: load clean polls")
	}
	rows, err := st.ListResultRows(ctx, store.ResultFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "export: load result rows")
	}
	ref, err := st.ReferenceSet(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "export: load reference set")
	}

	// The flattened view follows the same poll selection as f, so a scoped
	// export never carries rows of polls outside it.
	selected := make(map[int64]struct{}, len(polls))
	for _, p := range polls {
		selected[p.ID] = struct{}{}
	}
	kept := make([]store.ResultRow, 0, len(rows))
	for _, r := range rows {
		if _, ok := selected[r.PollID]; ok {
			kept = append(kept, r)
		}
	}

	d := &Dataset{
		Polls:      polls,
		Rows:       kept,
		Reference:  ref,
		institutes: make(map[int64]string, len(ref.Institutes)),
		parties:    make(map[int64]string, len(ref.Parties)),
		providers:  make(map[int64]string, len(ref.Providers)),
	}
	for _, e := range ref.Institutes {
		d.institutes[e.ID] = e.Name
	}
	for _, e := range ref.Parties {
		d.parties[e.ID] = e.Name
	}
	for _, e := range ref.Providers {
		d.providers[e.ID] = e.Name
	}
	return d, nil
}

// WriteFile writes the dataset to path in the given format.
func (d *Dataset) WriteFile(ctx context.Context, path string, format Format) error {
	switch format {
	case FormatJSON:
		return d.WriteJSONFile(path)
	case FormatCSV:
		return d.WriteCSVFile(path)
	case FormatXLSX:
		return d.WriteXLSXFile(path)
	case FormatSQLite:
		return d.WriteSQLiteFile(ctx, path)
	default:
		return eris.Errorf("export: unsupported format %q", format)
	}
}

func (d *Dataset) instituteName(id *int64) string {
	return d.lookup(d.institutes, id)
}

func (d *Dataset) providerName(id *int64) string {
	return d.lookup(d.providers, id)
}

func (d *Dataset) partyName(id int64) string {
	return d.parties[id]
}

func (d *Dataset) lookup(names map[int64]string, id *int64) string {
	if id == nil {
		return ""
	}
	return names[*id]
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
