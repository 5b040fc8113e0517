package sim

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/telemetry"
)

// flushTelemetry checks if the stats window should be flushed and handles bookmarks.
func (s *Simulation) flushTelemetry() {
	if !s.collector.ShouldFlush(s.iteration) {
		return
	}

	counts := s.sampleCounts()
	displacements := s.sampleDisplacements()

	stats := s.collector.Flush(s.iteration, s.Time(), counts, displacements)
	perfStats := s.perfCollector.Stats()

	if s.statsCallback != nil {
		s.statsCallback(stats)
	}

	if s.logStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	if err := s.outputManager.WriteTelemetry(stats); err != nil {
		s.log.Error("failed to write telemetry", "error", err)
	}
	if err := s.outputManager.WritePerf(perfStats, stats.WindowEnd); err != nil {
		s.log.Error("failed to write perf", "error", err)
	}

	s.metrics.Observe(stats)
	s.stream.Publish(stats)

	bookmarks := s.bookmarkDetector.Check(stats)
	for i := range bookmarks {
		bm := bookmarks[i]
		if s.logStats {
			bm.LogBookmark()
		}
		if err := s.outputManager.WriteBookmark(bm); err != nil {
			s.log.Error("failed to write bookmark", "error", err)
		}
		s.saveSnapshot(&bm)
	}
}

// sampleCounts returns live counts of molecule species; surface classes are
// left out.
func (s *Simulation) sampleCounts() []telemetry.SpeciesCount {
	out := make([]telemetry.SpeciesCount, 0, len(s.model.Species))
	for _, sp := range s.model.Species {
		if sp.Kind == components.KindSurfaceClass {
			continue
		}
		n := 0
		if int(sp.ID) < len(s.counts) {
			n = s.counts[sp.ID]
		}
		out = append(out, telemetry.SpeciesCount{Species: sp.Name, Count: n})
	}
	return out
}

// sampleDisplacements returns the distance each live volume molecule moved
// since the previous flush and records current positions for the next one.
// Molecules created after the previous flush are not sampled.
func (s *Simulation) sampleDisplacements() []float64 {
	var out []float64
	next := make(map[components.MoleculeID]r3.Vec, len(s.lastPos))
	for _, m := range s.model.Part.Molecules() {
		if m.IsDefunct() || !m.IsVolume() {
			continue
		}
		if prev, ok := s.lastPos[m.ID]; ok {
			out = append(out, r3.Norm(r3.Sub(m.Pos, prev)))
		}
		next[m.ID] = m.Pos
	}
	s.lastPos = next
	return out
}

// saveSnapshot creates and saves a snapshot to disk.
func (s *Simulation) saveSnapshot(bookmark *telemetry.Bookmark) {
	if s.snapshotDir == "" {
		return
	}
	snapshot := s.createSnapshot(bookmark)

	path, err := telemetry.SaveSnapshot(snapshot, s.snapshotDir)
	if err != nil {
		s.log.Error("failed to save snapshot", "error", err)
		return
	}

	s.log.Info("snapshot saved", "path", path, "iteration", s.iteration)
}

// createSnapshot builds a snapshot from the current state.
func (s *Simulation) createSnapshot(bookmark *telemetry.Bookmark) *telemetry.Snapshot {
	snapshot := telemetry.CaptureSnapshot(s.model.Part, s.model.Net, s.iteration, s.Time())
	snapshot.RunID = s.outputManager.RunID()
	snapshot.Seed = s.seed
	snapshot.Bookmark = bookmark
	return snapshot
}
