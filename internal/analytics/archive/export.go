package archive

import (
	"github.com/sisuxi/sisu-slack-bot/internal/analytics/types"
	"github.com/sisuxi/sisu-slack-bot/internal/errors"
)

// Loader is the partition primitive exports read from.
type Loader interface {
	Load(date string) ([]types.Event, error)
}

// Export rewrites the partitions for the given date keys into a single
// Parquet file at path. Source partitions are left untouched. Returns the
// number of rows written; a range with no events is an error so callers
// don't mistake an empty file for a successful backup.
func Export(store Loader, dates []string, path string, opts Options) (int64, error) {
	w, err := NewWriter(path, opts)
	if err != nil {
		return 0, err
	}

	for _, date := range dates {
		events, err := store.Load(date)
		if err != nil {
			w.Close()
			return 0, errors.Wrapf(err, "export %s", date)
		}
		if err := w.WriteEvents(events); err != nil {
			w.Close()
			return 0, errors.Wrapf(err, "export %s", date)
		}
	}

	if err := w.Close(); err != nil {
		return 0, err
	}

	if w.RowCount() == 0 {
		return 0, errors.ErrNoArchiveData
	}
	return w.RowCount(), nil
}
