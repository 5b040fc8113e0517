package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/partition"
	"github.com/pthm-cable/cellsim/reactions"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the live molecule population at the end of an iteration.
type Snapshot struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id,omitempty"`
	Seed    int64  `json:"seed"`

	Iteration int64   `json:"iteration"`
	Time      float64 `json:"time"`

	Molecules []MoleculeState `json:"molecules"`

	Bookmark *Bookmark `json:"bookmark,omitempty"`
}

// MoleculeState holds one live molecule. Volume molecules carry X/Y/Z;
// surface molecules carry Wall, Tile and the in-plane U/V as well as their
// 3D position.
type MoleculeState struct {
	ID      components.MoleculeID `json:"id"`
	Species string                `json:"species"`
	Surface bool                  `json:"surface,omitempty"`

	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`

	Wall int     `json:"wall,omitempty"`
	Tile int     `json:"tile,omitempty"`
	U    float64 `json:"u,omitempty"`
	V    float64 `json:"v,omitempty"`

	UnimolTime *float64 `json:"unimol_time,omitempty"`
}

// CaptureSnapshot records every live molecule of part in creation order.
func CaptureSnapshot(part *partition.Partition, net *reactions.Network, iteration int64, t float64) *Snapshot {
	mols := part.Molecules()
	s := &Snapshot{
		Version:   SnapshotVersion,
		Iteration: iteration,
		Time:      t,
		Molecules: make([]MoleculeState, 0, part.NumLive()),
	}
	for _, m := range mols {
		if m.IsDefunct() {
			continue
		}
		st := MoleculeState{
			ID:      m.ID,
			Species: net.Species(m.Species).Name,
		}
		pos := m.Pos
		if m.IsSurface() {
			st.Surface = true
			st.Wall = m.Wall
			st.Tile = m.Tile
			st.U = m.Pos2D.X
			st.V = m.Pos2D.Y
			pos = part.SurfacePosition(m)
		}
		st.X, st.Y, st.Z = pos.X, pos.Y, pos.Z
		if m.UnimolRxTime < components.TimeForever {
			rt := m.UnimolRxTime
			st.UnimolTime = &rt
		}
		s.Molecules = append(s.Molecules, st)
	}
	return s
}

// Counts returns the number of molecules per species name.
func (s *Snapshot) Counts() map[string]int {
	out := make(map[string]int)
	for _, m := range s.Molecules {
		out[m.Species]++
	}
	return out
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	name := fmt.Sprintf("snapshot_%d", snapshot.Iteration)
	if snapshot.Bookmark != nil {
		name = fmt.Sprintf("snapshot_%d_%s", snapshot.Iteration, snapshot.Bookmark.Type)
	}
	name += ".json"

	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}
