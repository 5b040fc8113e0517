package sim

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/config"
	"github.com/pthm-cable/cellsim/rng"
	"github.com/pthm-cable/cellsim/systems"
	"github.com/pthm-cable/cellsim/telemetry"
)

// smallModel keeps the default network and geometry with fewer molecules.
const smallModel = `
simulation:
  iterations: 20
telemetry:
  stats_window: 5.0e-6
  snapshot_every: 10
releases:
  - name: a_cloud
    species: A
    number: 50
    shape: sphere
    radius: 0.3
  - name: b_block
    species: B
    number: 50
    shape: box
    size: [0.6, 0.6, 0.6]
  - name: receptors
    species: R
    number: 20
    shape: region
    region: cell[membrane]
`

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	if body == "" {
		cfg, err := config.Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}
	path := filepath.Join(t.TempDir(), "model.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestBuildModelDefaults(t *testing.T) {
	m, err := BuildModel(loadConfig(t, ""))
	if err != nil {
		t.Fatalf("BuildModel: %v", err)
	}
	if len(m.Species) != 6 || m.Species[5].Kind != components.KindSurfaceClass {
		t.Fatalf("species = %+v", m.Species)
	}
	if got := len(m.Net.RuleNames()); got != 5 {
		t.Errorf("rules = %d, want 5", got)
	}
	if len(m.Geom.Walls) != 12 {
		t.Fatalf("walls = %d, want 12", len(m.Geom.Walls))
	}
	for _, w := range m.Geom.Walls {
		if w.Grid == nil {
			t.Fatal("wall without a surface grid")
		}
	}

	ri, ok := m.Geom.RegionByName("cell,drain")
	if !ok {
		t.Fatal("drain region missing")
	}
	drain := m.Geom.Regions[ri]
	if drain.SurfaceClass != 5 {
		t.Errorf("drain surface class = %d, want 5", drain.SurfaceClass)
	}
	if len(drain.Walls) != 2 || drain.Walls[0] != 10 || drain.Walls[1] != 11 {
		t.Errorf("drain walls = %v, want [10 11]", drain.Walls)
	}

	if len(m.Releases) != 3 {
		t.Fatalf("releases = %d, want 3", len(m.Releases))
	}
	rec := m.Releases[2]
	if rec.Shape != ShapeRegion || len(rec.Walls) != 10 {
		t.Errorf("receptor release = %+v", rec)
	}
	for i, wi := range rec.Walls {
		if wi != i {
			t.Errorf("receptor walls = %v, want 0..9", rec.Walls)
			break
		}
	}
}

func TestBuildModelErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown rule type", "rules: [{name: r, reactants: [C], rate: 1, type: catalytic}]", "unknown type"},
		{"faces without box", `
objects:
  - name: tri
    vertices: [[0, 0, 0], [0.1, 0, 0], [0, 0.1, 0]]
    triangles: [[0, 1, 2]]
    regions: [{name: r, faces: [top]}]
releases: []
`, "faces need a box"},
		{"malformed region", `releases: [{name: r, species: R, number: 1, shape: region, region: "cell["}]`, "release 0 (r)"},
		{"unknown object", "releases: [{name: r, species: R, number: 1, shape: region, region: nucleus}]", "release 0 (r)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildModel(loadConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestBuildModelDegenerateWallIsFatalGeometry(t *testing.T) {
	_, err := BuildModel(loadConfig(t, `
objects:
  - name: flat
    vertices: [[0, 0, 0], [0.1, 0, 0], [0.2, 0, 0]]
    triangles: [[0, 1, 2]]
releases: []
`))
	var fatal *systems.FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("err = %v, want a FatalError", err)
	}
	if fatal.Kind != systems.FatalGeometry || fatal.Wall != 0 || fatal.Object != 0 {
		t.Errorf("got kind %v wall %d object %d, want geometry wall 0 object 0", fatal.Kind, fatal.Wall, fatal.Object)
	}
}

func TestReleaseDueHonoursDelay(t *testing.T) {
	cfg := loadConfig(t, `
species:
  - {name: A, kind: volume, diffusion_constant: 0}
rules: []
objects: []
releases:
  - {name: now, species: A, number: 3, shape: point, location: [0.1, 0.2, 0.3]}
  - {name: later, species: A, number: 2, shape: point, time: 1.5e-6}
`)
	m, err := BuildModel(cfg)
	if err != nil {
		t.Fatalf("BuildModel: %v", err)
	}
	r := rng.New(1)
	dt := cfg.Simulation.TimeStep

	n, err := releaseDue(m.Part, r, m.Releases, 0, dt)
	if err != nil || n != 3 {
		t.Fatalf("first step placed %d (err %v), want 3", n, err)
	}
	for _, mol := range m.Part.Molecules() {
		if mol.ReleaseDelay != 0 {
			t.Errorf("molecule %d delay = %g, want 0", mol.ID, mol.ReleaseDelay)
		}
		if mol.Pos != (r3.Vec{X: 0.1, Y: 0.2, Z: 0.3}) {
			t.Errorf("molecule %d at %v", mol.ID, mol.Pos)
		}
		if !mol.Has(components.FlagScheduleUnimol) {
			t.Errorf("molecule %d has no pending unimolecular schedule", mol.ID)
		}
	}

	n, err = releaseDue(m.Part, r, m.Releases, dt, dt)
	if err != nil || n != 2 {
		t.Fatalf("second step placed %d (err %v), want 2", n, err)
	}
	for _, mol := range m.Part.Molecules()[3:] {
		if math.Abs(mol.ReleaseDelay-0.5e-6) > 1e-15 {
			t.Errorf("molecule %d delay = %g, want 5e-7", mol.ID, mol.ReleaseDelay)
		}
		if math.Abs(mol.DiffusionTime-1.5e-6) > 1e-15 {
			t.Errorf("molecule %d time = %g, want 1.5e-6", mol.ID, mol.DiffusionTime)
		}
	}

	n, err = releaseDue(m.Part, r, m.Releases, 2*dt, dt)
	if err != nil || n != 0 {
		t.Errorf("sites released twice: placed %d (err %v)", n, err)
	}
}

func TestVolumeShapesStayInside(t *testing.T) {
	r := rng.New(3)
	sphere := Release{Shape: ShapeSphere, Center: r3.Vec{X: 0.2}, Radius: 0.25}
	box := Release{Shape: ShapeBox, Center: r3.Vec{Y: -0.1}, Size: r3.Vec{X: 0.2, Y: 0.4, Z: 0.6}}
	for i := 0; i < 500; i++ {
		p := volumePoint(r, &sphere)
		if r3.Norm(r3.Sub(p, sphere.Center)) > sphere.Radius {
			t.Fatalf("sphere point %v outside radius", p)
		}
		q := volumePoint(r, &box)
		d := r3.Sub(q, box.Center)
		if math.Abs(d.X) > 0.1 || math.Abs(d.Y) > 0.2 || math.Abs(d.Z) > 0.3 {
			t.Fatalf("box point %v outside box", q)
		}
	}
}

func TestRegionReleaseOccupiesVacantTiles(t *testing.T) {
	m, err := BuildModel(loadConfig(t, ""))
	if err != nil {
		t.Fatalf("BuildModel: %v", err)
	}
	site := m.Releases[2]
	n, err := releaseOnRegion(m.Part, rng.New(5), &site, 0, 0)
	if err != nil || n != 200 {
		t.Fatalf("placed %d (err %v), want 200", n, err)
	}
	for _, mol := range m.Part.Molecules() {
		if !mol.IsSurface() {
			t.Fatalf("molecule %d is not a surface molecule", mol.ID)
		}
		if mol.Wall >= 10 {
			t.Errorf("molecule %d landed on drain wall %d", mol.ID, mol.Wall)
		}
		w := &m.Geom.Walls[mol.Wall]
		if got := w.Grid.MoleculeOnTile(mol.Tile); got != mol.ID {
			t.Errorf("tile %d of wall %d holds %d, want %d", mol.Tile, mol.Wall, got, mol.ID)
		}
		if w.UVToTile(mol.Pos2D) != mol.Tile {
			t.Errorf("molecule %d position %v is not inside tile %d", mol.ID, mol.Pos2D, mol.Tile)
		}
	}
}

func TestRegionReleaseReportsFullRegion(t *testing.T) {
	// One tile per wall: the top face offers two tiles.
	cfg := loadConfig(t, `
geometry:
  surface_grid_density: 1
releases:
  - {name: crowd, species: R, number: 3, shape: region, region: "cell[top]"}
`)
	m, err := BuildModel(cfg)
	if err != nil {
		t.Fatalf("BuildModel: %v", err)
	}
	n, err := releaseDue(m.Part, rng.New(1), m.Releases, 0, cfg.Simulation.TimeStep)
	if !errors.Is(err, ErrRegionFull) {
		t.Fatalf("err = %v, want ErrRegionFull", err)
	}
	if n != 2 {
		t.Errorf("placed %d, want 2", n)
	}
}

func TestSimulationRun(t *testing.T) {
	cfg := loadConfig(t, smallModel)
	outDir := filepath.Join(t.TempDir(), "out")
	snapDir := filepath.Join(t.TempDir(), "snaps")

	var windows []telemetry.WindowStats
	s, err := NewSimulation(cfg, Options{
		OutputDir:     outDir,
		SnapshotDir:   snapDir,
		StatsCallback: func(ws telemetry.WindowStats) { windows = append(windows, ws) },
	})
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if s.Iteration() != 20 {
		t.Errorf("iteration = %d, want 20", s.Iteration())
	}
	if len(windows) != 4 {
		t.Fatalf("windows = %d, want 4", len(windows))
	}
	for i, ws := range windows {
		if ws.WindowEnd != int64(5*(i+1)) {
			t.Errorf("window %d ends at %d", i, ws.WindowEnd)
		}
		// A+B->C, A+R->RA and RA->R+A all keep B-A-RA constant.
		if b, a, ra := ws.Count("B"), ws.Count("A"), ws.Count("RA"); b != a+ra {
			t.Errorf("window %d: B=%d, A=%d, RA=%d", i, b, a, ra)
		}
		if ws.Count("R")+ws.Count("RA") != 20 {
			t.Errorf("window %d: receptors not conserved: R=%d RA=%d", i, ws.Count("R"), ws.Count("RA"))
		}
	}
	if windows[0].DispMean != 0 {
		t.Errorf("first window has no previous positions, mean = %g", windows[0].DispMean)
	}
	if windows[1].DispMean <= 0 {
		t.Errorf("second window mean displacement = %g, want > 0", windows[1].DispMean)
	}

	data, err := os.ReadFile(filepath.Join(outDir, telemetry.StatsFile))
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 5 {
		t.Errorf("stats.csv has %d lines, want header + 4", lines)
	}
	for _, name := range []string{telemetry.ConfigFile, telemetry.ManifestFile, telemetry.MoleculeCountsFile} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}

	for _, name := range []string{"snapshot_10.json", "snapshot_20.json"} {
		snap, err := telemetry.LoadSnapshot(filepath.Join(snapDir, name))
		if err != nil {
			t.Errorf("load %s: %v", name, err)
			continue
		}
		if snap.Seed != cfg.Simulation.Seed || snap.RunID != s.outputManager.RunID() {
			t.Errorf("%s: seed %d run %q", name, snap.Seed, snap.RunID)
		}
	}

	rec := httptest.NewRecorder()
	s.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "cellsim_iteration 20") {
		t.Error("iteration gauge not updated")
	}
}

func TestSimulationIsDeterministic(t *testing.T) {
	final := func() telemetry.WindowStats {
		cfg := loadConfig(t, smallModel)
		var last telemetry.WindowStats
		s, err := NewSimulation(cfg, Options{
			Seed:          7,
			Iterations:    10,
			StatsCallback: func(ws telemetry.WindowStats) { last = ws },
		})
		if err != nil {
			t.Fatalf("NewSimulation: %v", err)
		}
		defer s.Close()
		if err := s.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		return last
	}

	a, b := final(), final()
	if len(a.Species) == 0 || len(a.Species) != len(b.Species) {
		t.Fatalf("species rows %d vs %d", len(a.Species), len(b.Species))
	}
	for i := range a.Species {
		if a.Species[i] != b.Species[i] {
			t.Errorf("species %s: %d vs %d", a.Species[i].Species, a.Species[i].Count, b.Species[i].Count)
		}
	}
	if a.DispMean != b.DispMean || a.VolVolCollisions != b.VolVolCollisions {
		t.Errorf("runs diverged: %+v vs %+v", a, b)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := NewSimulation(loadConfig(t, smallModel), Options{})
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if s.Iteration() != 0 {
		t.Errorf("iteration = %d after cancellation, want 0", s.Iteration())
	}
}
