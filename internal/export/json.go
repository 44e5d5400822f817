package export

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/wahldaten/poll-pipeline/internal/model"
)

// jsonDocument is the envelope of a JSON export.
type jsonDocument struct {
	ExportedAt time.Time           `json:"exported_at"`
	PollCount  int                 `json:"poll_count"`
	Polls      []model.CleanPoll   `json:"polls"`
	Reference  *model.ReferenceSet `json:"reference"`
}

// WriteJSON writes the dataset as one indented JSON document.
func (d *Dataset) WriteJSON(w io.Writer) error {
	doc := jsonDocument{
		ExportedAt: time.Now().UTC(),
		PollCount:  len(d.Polls),
		Polls:      d.Polls,
		Reference:  d.Reference,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return eris.Wrap(err, "export: encode JSON")
	}
	return nil
}

func (d *Dataset) WriteJSONFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := d.WriteJSON(f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}
