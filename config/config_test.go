package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Simulation.TimeStep != 1e-6 {
		t.Errorf("time_step = %g, want 1e-6", cfg.Simulation.TimeStep)
	}
	if len(cfg.Species) != 5 || len(cfg.SurfaceClasses) != 1 {
		t.Fatalf("species = %d, classes = %d", len(cfg.Species), len(cfg.SurfaceClasses))
	}
	if cfg.Derived.NumSpecies != 6 {
		t.Errorf("NumSpecies = %d, want 6", cfg.Derived.NumSpecies)
	}
	if cfg.Derived.SpeciesIndex["sink"] != 5 {
		t.Errorf("sink index = %d, want 5", cfg.Derived.SpeciesIndex["sink"])
	}
	// sqrt(4 * 100 * 1e-6)
	if math.Abs(cfg.Derived.SpaceSteps[0]-0.02) > 1e-12 {
		t.Errorf("space step of A = %g, want 0.02", cfg.Derived.SpaceSteps[0])
	}
	if math.Abs(cfg.Derived.TileArea-1e-4) > 1e-18 {
		t.Errorf("TileArea = %g, want 1e-4", cfg.Derived.TileArea)
	}

	unbind := cfg.Rules[2]
	if unbind.Name != "unbind" || len(unbind.Products) != 2 {
		t.Fatalf("unbind = %+v", unbind)
	}
	if unbind.Products[1].Species != "A" || unbind.Products[1].Orientation != -1 {
		t.Errorf("orientation shorthand parsed as %+v", unbind.Products[1])
	}
}

func TestLoadOverridesScalarsAndReplacesLists(t *testing.T) {
	path := writeFile(t, `
simulation:
  iterations: 25
species:
  - name: X
    kind: volume
    diffusion_constant: 1
    time_step: 4.0e-6
rules:
  - name: x_decay
    reactants: [X]
    rate: 5
    probability: 0.5
objects: []
releases:
  - name: x
    species: X
    number: 3
    shape: point
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Simulation.Iterations != 25 {
		t.Errorf("iterations = %d, want 25", cfg.Simulation.Iterations)
	}
	if cfg.Simulation.TimeStep != 1e-6 {
		t.Errorf("unset time_step should keep its default, got %g", cfg.Simulation.TimeStep)
	}
	if len(cfg.Species) != 1 || cfg.Species[0].Name != "X" {
		t.Errorf("species list not replaced: %+v", cfg.Species)
	}
	if len(cfg.Objects) != 0 {
		t.Errorf("objects = %d, want 0", len(cfg.Objects))
	}
	// surface_classes was not in the file and keeps the default
	if len(cfg.SurfaceClasses) != 1 {
		t.Errorf("surface classes = %v", cfg.SurfaceClasses)
	}
	if cfg.Derived.TimeSteps[0] != 4e-6 {
		t.Errorf("custom time step = %g", cfg.Derived.TimeSteps[0])
	}
	if p := cfg.Rules[0].Probability; p == nil || *p != 0.5 {
		t.Errorf("probability = %v", p)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad time step", "simulation: {time_step: 0}", "time_step"},
		{"unknown reactant", "rules: [{name: r, reactants: [Q], rate: 1}]", "unknown reactant"},
		{"surface class product", "rules: [{name: r, reactants: [A], products: [sink], rate: 1}]", "invalid product"},
		{"bad side", "rules: [{name: r, reactants: [A, sink], type: reflective, side: up}]", "side"},
		{"duplicate species", "species: [{name: A, kind: volume}, {name: A, kind: volume}]", "declared twice"},
		{"bad kind", "species: [{name: A, kind: gas}]", "kind"},
		{"region release of volume", "releases: [{name: r, species: A, number: 1, shape: region, region: cell}]", "surface species"},
		{"unknown shape", "releases: [{name: r, species: A, number: 1, shape: cone}]", "unknown shape"},
		{"unknown class on region", "objects: [{name: o, box: {lo: [0,0,0], hi: [1,1,1]}, regions: [{name: r, faces: [top], surface_class: nope}]}]", "surface class"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("Load written config: %v", err)
	}
	if len(again.Rules) != len(cfg.Rules) || again.Rules[2].Products[1].Orientation != -1 {
		t.Errorf("rules did not survive the round trip: %+v", again.Rules)
	}
	if again.Objects[0].Box == nil || again.Objects[0].Box.Hi[0] != 0.5 {
		t.Errorf("box did not survive the round trip: %+v", again.Objects[0])
	}
}

func TestInitAndCfg(t *testing.T) {
	MustInit("")
	if Cfg().Partition.EdgeLength != 2 {
		t.Errorf("edge_length = %g, want 2", Cfg().Partition.EdgeLength)
	}
	if err := Init(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Init with a missing file should fail")
	}
}
