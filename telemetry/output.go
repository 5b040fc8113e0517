package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pborman/uuid"

	"github.com/pthm-cable/cellsim/config"
)

// Output file names inside the run directory.
const (
	StatsFile          = "stats.csv"
	ReactionCountsFile = "reaction_counts.csv"
	MoleculeCountsFile = "molecule_counts.csv"
	PerfFile           = "perf.csv"
	BookmarksFile      = "bookmarks.csv"
	ConfigFile         = "config.yaml"
	ManifestFile       = "run.json"
)

// csvFile is an append-only CSV target whose header is written once.
type csvFile struct {
	f             *os.File
	headerWritten bool
}

func (c *csvFile) write(records any) error {
	if !c.headerWritten {
		if err := gocsv.Marshal(records, c.f); err != nil {
			return err
		}
		c.headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, c.f)
}

// OutputManager handles structured experiment output with CSV logging.
type OutputManager struct {
	dir   string
	runID string

	stats     csvFile
	reactions csvFile
	molecules csvFile
	perf      csvFile
	bookmarks csvFile
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir, runID: uuid.New()}

	targets := []struct {
		name string
		dst  *csvFile
	}{
		{StatsFile, &om.stats},
		{ReactionCountsFile, &om.reactions},
		{MoleculeCountsFile, &om.molecules},
		{PerfFile, &om.perf},
		{BookmarksFile, &om.bookmarks},
	}
	for _, tgt := range targets {
		f, err := os.Create(filepath.Join(dir, tgt.name))
		if err != nil {
			om.Close()
			return nil, fmt.Errorf("creating %s: %w", tgt.name, err)
		}
		tgt.dst.f = f
	}

	return om, nil
}

// RunID returns the identifier assigned to this run, "" when output is disabled.
func (om *OutputManager) RunID() string {
	if om == nil {
		return ""
	}
	return om.runID
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, ConfigFile))
}

// RunManifest describes one run in run.json.
type RunManifest struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	Seed       int64     `json:"seed"`
	Iterations int64     `json:"iterations"`
	TimeStep   float64   `json:"time_step"`
	Species    []string  `json:"species"`
	Reactions  []string  `json:"reactions"`
	Walls      int       `json:"walls"`
	Subparts   int       `json:"subparts"`
}

// WriteManifest writes run.json. RunID is filled in when empty.
func (om *OutputManager) WriteManifest(m RunManifest) error {
	if om == nil {
		return nil
	}
	if m.RunID == "" {
		m.RunID = om.runID
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(om.dir, ManifestFile), data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", ManifestFile, err)
	}
	return nil
}

// WriteTelemetry writes a window to stats.csv and its per-species and
// per-reaction rows to molecule_counts.csv and reaction_counts.csv.
func (om *OutputManager) WriteTelemetry(stats WindowStats) error {
	if om == nil {
		return nil
	}

	if err := om.stats.write([]WindowStats{stats}); err != nil {
		return fmt.Errorf("writing stats: %w", err)
	}
	if len(stats.Species) > 0 {
		if err := om.molecules.write(stats.Species); err != nil {
			return fmt.Errorf("writing molecule counts: %w", err)
		}
	}
	if len(stats.ReactionCounts) > 0 {
		if err := om.reactions.write(stats.ReactionCounts); err != nil {
			return fmt.Errorf("writing reaction counts: %w", err)
		}
	}
	return nil
}

// WritePerf writes a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd int64) error {
	if om == nil {
		return nil
	}
	if err := om.perf.write([]PerfStatsCSV{stats.ToCSV(windowEnd)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteBookmark writes a bookmark record to bookmarks.csv.
func (om *OutputManager) WriteBookmark(b Bookmark) error {
	if om == nil {
		return nil
	}
	if err := om.bookmarks.write([]Bookmark{b}); err != nil {
		return fmt.Errorf("writing bookmark: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, c := range []*csvFile{&om.stats, &om.reactions, &om.molecules, &om.perf, &om.bookmarks} {
		if c.f == nil {
			continue
		}
		if err := c.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.f = nil
	}
	return firstErr
}
