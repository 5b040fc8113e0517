package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOutputManagerDisabled(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil || om != nil {
		t.Fatalf("NewOutputManager(\"\") = %v, %v; want nil, nil", om, err)
	}
	if err := om.WriteTelemetry(WindowStats{}); err != nil {
		t.Errorf("nil WriteTelemetry: %v", err)
	}
	if err := om.WriteManifest(RunManifest{}); err != nil {
		t.Errorf("nil WriteManifest: %v", err)
	}
	if om.RunID() != "" || om.Dir() != "" {
		t.Error("nil manager should report empty run id and dir")
	}
	if err := om.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}

func TestOutputManagerWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}

	for i := int64(1); i <= 3; i++ {
		stats := WindowStats{
			WindowEnd: i * 10,
			Live:      5,
			Species: []SpeciesCount{
				{Iteration: i * 10, Species: "A", Count: 2},
				{Iteration: i * 10, Species: "B", Count: 3},
			},
			ReactionCounts: []ReactionCount{{Iteration: i * 10, Reaction: "a_to_b", Count: 1, Total: i}},
		}
		if err := om.WriteTelemetry(stats); err != nil {
			t.Fatalf("WriteTelemetry: %v", err)
		}
		if err := om.WritePerf(PerfStats{}, i*10); err != nil {
			t.Fatalf("WritePerf: %v", err)
		}
	}
	if err := om.WriteBookmark(Bookmark{Type: BookmarkSteadyState, Iteration: 30, Description: "steady"}); err != nil {
		t.Fatalf("WriteBookmark: %v", err)
	}
	if err := om.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tests := []struct {
		file   string
		header string
		lines  int
	}{
		{StatsFile, "window_end,sim_time,live", 4},
		{MoleculeCountsFile, "iteration,sim_time,species,count", 7},
		{ReactionCountsFile, "iteration,sim_time,reaction,count,total", 4},
		{PerfFile, "window_end,avg_step_us", 4},
		{BookmarksFile, "type,iteration,description", 2},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			data, err := os.ReadFile(filepath.Join(dir, tt.file))
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) != tt.lines {
				t.Errorf("%d lines, want %d:\n%s", len(lines), tt.lines, data)
			}
			if !strings.HasPrefix(lines[0], tt.header) {
				t.Errorf("header = %q, want prefix %q", lines[0], tt.header)
			}
			if strings.Count(string(data), tt.header) != 1 {
				t.Errorf("header written more than once")
			}
		})
	}
}

func TestOutputManagerManifest(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}
	defer om.Close()

	if len(om.RunID()) != 36 {
		t.Errorf("RunID() = %q, want a uuid", om.RunID())
	}

	if err := om.WriteManifest(RunManifest{Seed: 9, Species: []string{"A"}}); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got RunManifest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.RunID != om.RunID() || got.Seed != 9 {
		t.Errorf("manifest = %+v", got)
	}
}
