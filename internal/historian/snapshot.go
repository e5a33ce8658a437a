package historian

import (
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"main/internal/schema"
)

// Snapshot is the crash-recovery state written on shutdown and read
// back on startup. Recovery compares it against the venue before
// trading resumes.
type Snapshot struct {
	TakenAtUs int64               `json:"taken_at_us"`
	GSID      uint64              `json:"gsid"`
	Account   schema.AccountState `json:"account"`
	Positions []schema.Position   `json:"positions"`
}

var snapshotJSON = sonic.ConfigFastest

// WriteSnapshot atomically replaces the snapshot file.
func WriteSnapshot(dir string, s Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create snapshot dir")
	}
	data, err := snapshotJSON.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	tmp := filepath.Join(dir, "snapshot.json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write snapshot")
	}
	return os.Rename(tmp, filepath.Join(dir, "snapshot.json"))
}

// ReadSnapshot loads the last snapshot. A missing file returns ok
// false with no error.
func ReadSnapshot(dir string) (Snapshot, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, "snapshot.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, errors.Wrap(err, "read snapshot")
	}
	var s Snapshot
	if err := snapshotJSON.Unmarshal(data, &s); err != nil {
		return Snapshot{}, false, errors.Wrap(err, "unmarshal snapshot")
	}
	return s, true, nil
}
