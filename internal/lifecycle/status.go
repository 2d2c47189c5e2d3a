package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the runtime state a node persists while it is up. Peers and
// tooling read it to find a live node without probing ports.
type Status struct {
	PID       int       `json:"pid"`
	HTTPAddr  string    `json:"http_addr"`
	DataDir   string    `json:"data_dir"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version,omitempty"`
}

// PathRefs records where each logical collection lives on disk. It is
// persisted next to the status file so restarts reopen the same stores even
// when configuration defaults move.
type PathRefs struct {
	Collections map[string]string `json:"collections"`
	Blob        string            `json:"blob,omitempty"`
}

// WriteStatus persists st at path atomically via a rename.
func WriteStatus(path string, st Status) error {
	return writeJSON(path, st)
}

// ReadStatus loads a status file. A missing or corrupt file reads as absent,
// never as an error; a half-written status from a crashed node must not wedge
// the next start.
func ReadStatus(path string) (Status, bool) {
	var st Status
	data, err := os.ReadFile(path)
	if err != nil {
		return Status{}, false
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, false
	}
	return st, true
}

// RemoveStatus deletes the status file. Missing is fine.
func RemoveStatus(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WritePathRefs persists refs at path atomically via a rename.
func WritePathRefs(path string, refs PathRefs) error {
	return writeJSON(path, refs)
}

// ReadPathRefs loads a path-reference file. Missing or corrupt reads as empty.
func ReadPathRefs(path string) PathRefs {
	refs := PathRefs{Collections: map[string]string{}}
	data, err := os.ReadFile(path)
	if err != nil {
		return refs
	}
	var loaded PathRefs
	if err := json.Unmarshal(data, &loaded); err != nil {
		return refs
	}
	if loaded.Collections == nil {
		loaded.Collections = map[string]string{}
	}
	return loaded
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
