// Package jobs persists the per-flow job records and the JSON artifacts a
// run leaves in its project directory. Every write goes through a temp file
// and a rename so pollers never observe a half-written file.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forPelevin/reelplan/internal/types"
)

// Flows with a job record, in display order.
var Flows = []string{types.FlowRoughCut, types.FlowEnrich}

// FileName is the job record name for a flow, e.g. "rough-cut-job.json".
func FileName(flow string) string { return flow + "-job.json" }

// Store reads and writes job records under <root>/<projectId>/.
type Store struct {
	root string
}

func NewStore(root string) *Store { return &Store{root: root} }

func (s *Store) Path(projectID, flow string) string {
	return filepath.Join(s.root, projectID, FileName(flow))
}

func (s *Store) Write(rec types.JobRecord) error {
	if rec.ProjectID == "" || rec.Flow == "" {
		return errors.New("job record needs projectId and flow")
	}
	if rec.StageDurationsMs == nil {
		rec.StageDurationsMs = map[string]int64{}
	}
	if rec.RetryEvents == nil {
		rec.RetryEvents = []types.RetryEvent{}
	}
	return WriteJSON(s.Path(rec.ProjectID, rec.Flow), rec)
}

// Read returns the last record for a flow. A missing record is reported
// with an error matching os.ErrNotExist.
func (s *Store) Read(projectID, flow string) (types.JobRecord, error) {
	var rec types.JobRecord
	b, err := os.ReadFile(s.Path(projectID, flow))
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("decode %s job record: %w", flow, err)
	}
	return rec, nil
}

// List returns the records that exist for a project, in Flows order.
func (s *Store) List(projectID string) ([]types.JobRecord, error) {
	var out []types.JobRecord
	for _, flow := range Flows {
		rec, err := s.Read(projectID, flow)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// WriteJSON writes v indented, atomically.
func WriteJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFile(path, append(b, '\n'))
}

// WriteFile creates parent directories and replaces path atomically.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
