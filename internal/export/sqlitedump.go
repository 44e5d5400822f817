package export

import (
	"context"
	"os"

	"github.com/rotisserie/eris"

	"github.com/wahldaten/poll-pipeline/internal/store"
)

// WriteSQLiteFile writes a standalone SQLite snapshot of the clean dataset:
// the full schema, the reference tables, and every exported poll with its
// results. The file is self-contained and can be opened by any SQLite tool
// or used directly as a pollsync store.
func (d *Dataset) WriteSQLiteFile(ctx context.Context, path string) error {
	// A stale snapshot at the target path would merge with the new data.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "export: remove stale snapshot %s", path)
	}

	snap, err := store.NewSQLite(path)
	if err != nil {
		return eris.Wrapf(err, "export: create snapshot %s", path)
	}
	defer snap.Close() //nolint:errcheck

	if err := snap.Migrate(ctx); err != nil {
		return err
	}
	if err := snap.ReplaceReferenceSet(ctx, d.Reference); err != nil {
		return err
	}

	for i := range d.Polls {
		p := d.Polls[i]
		p.ID = 0
		if _, err := snap.UpsertCleanPoll(ctx, &p); err != nil {
			return eris.Wrapf(err, "export: snapshot poll %d", d.Polls[i].ID)
		}
	}

	return eris.Wrapf(snap.Close(), "export: close snapshot %s", path)
}
