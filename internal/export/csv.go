package export

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/wahldaten/poll-pipeline/internal/store"
)

// csvColumns defines the ordered columns of the flattened results CSV: one
// row per (poll, party) pair.
var csvColumns = []string{
	"poll_id",
	"publish_date",
	"scope",
	"institute",
	"party",
	"percentage",
	"out_of_range",
}

// WriteCSV writes the flattened result rows as CSV.
func (d *Dataset) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(csvColumns); err != nil {
		return eris.Wrap(err, "export: write CSV header")
	}

	for _, r := range d.Rows {
		if err := cw.Write(d.buildCSVRow(r)); err != nil {
			return eris.Wrap(err, "export: write CSV row")
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush CSV")
}

func (d *Dataset) buildCSVRow(r store.ResultRow) []string {
	return []string{
		strconv.FormatInt(r.PollID, 10),
		r.PublishDate.Format("2006-01-02"),
		string(r.Scope),
		d.instituteName(r.InstituteID),
		d.partyName(r.PartyID),
		strconv.FormatFloat(r.Percentage, 'f', -1, 64),
		strconv.FormatBool(r.OutOfRange),
	}
}

func (d *Dataset) WriteCSVFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}

	if err := d.WriteCSV(f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}
