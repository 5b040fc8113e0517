// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds the engine parameters and the model (species, rules,
// geometry and releases) of one run.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Partition  PartitionConfig  `yaml:"partition"`
	Geometry   GeometryConfig   `yaml:"geometry"`
	Surface    SurfaceConfig    `yaml:"surface"`
	Reactions  ReactionsConfig  `yaml:"reactions"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Server     ServerConfig     `yaml:"server"`

	Species        []SpeciesConfig `yaml:"species"`
	SurfaceClasses []string        `yaml:"surface_classes"`
	Rules          []RuleConfig    `yaml:"rules"`
	Objects        []ObjectConfig  `yaml:"objects"`
	Releases       []ReleaseConfig `yaml:"releases"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SimulationConfig holds run length and timing.
type SimulationConfig struct {
	TimeStep   float64 `yaml:"time_step"`  // Seconds per iteration
	Iterations int64   `yaml:"iterations"` // Iterations to run
	Seed       int64   `yaml:"seed"`
}

// PartitionConfig holds the spatial partition bounds. Lengths are in um.
type PartitionConfig struct {
	Origin           [3]float64 `yaml:"origin"`
	EdgeLength       float64    `yaml:"edge_length"`
	SubpartitionEdge float64    `yaml:"subpartition_edge_length"`
}

// GeometryConfig holds mesh tolerances and surface grid parameters.
type GeometryConfig struct {
	Epsilon            float64 `yaml:"epsilon"`
	SurfaceGridDensity float64 `yaml:"surface_grid_density"` // Tiles per um^2
	ProductBump        float64 `yaml:"product_bump"`         // Offset of volume products off a wall (um)
}

// SurfaceConfig holds surface diffusion limits.
type SurfaceConfig struct {
	MaxDiffusionRetries int `yaml:"max_diffusion_retries"`
	MaxEdgeCrossings    int `yaml:"max_edge_crossings"`
}

// ReactionsConfig holds interaction distances.
type ReactionsConfig struct {
	VolRxRadius float64 `yaml:"vol_rx_radius"` // um
	MaxWallHits int     `yaml:"max_wall_hits"`
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         float64 `yaml:"stats_window"`   // Simulated seconds per stats window
	SnapshotEvery       int64   `yaml:"snapshot_every"` // Iterations between snapshots (0 = off)
	PerfCollectorWindow int     `yaml:"perf_collector_window"`
	BookmarkHistorySize int     `yaml:"bookmark_history_size"`
	CompactEvery        int64   `yaml:"compact_every"` // Iterations between store compactions
}

// ServerConfig holds the optional HTTP endpoint for /metrics and /stream.
type ServerConfig struct {
	Addr string `yaml:"addr"` // Empty disables the server
}

// SpeciesConfig declares one species.
type SpeciesConfig struct {
	Name     string  `yaml:"name"`
	Kind     string  `yaml:"kind"`                // volume or surface
	D        float64 `yaml:"diffusion_constant"`  // um^2/s
	TimeStep float64 `yaml:"time_step,omitempty"` // Custom step, 0 = simulation step
}

// RuleConfig declares one reaction rule. Probability, when set, is used as
// the per-collision probability verbatim; otherwise Rate is converted.
type RuleConfig struct {
	Name        string          `yaml:"name"`
	Reactants   []string        `yaml:"reactants"`
	Products    []ProductConfig `yaml:"products,omitempty"`
	Rate        float64         `yaml:"rate,omitempty"`
	Probability *float64        `yaml:"probability,omitempty"`
	Type        string          `yaml:"type,omitempty"` // standard, reflective, transparent, absorptive
	Side        string          `yaml:"side,omitempty"` // front, back or any
}

// ProductConfig names a product and the wall side it is placed on when
// created from a surface reactant. In YAML it may be written as a plain
// string with an orientation mark: "A'" (front), "A," (back) or "A".
type ProductConfig struct {
	Species     string `yaml:"species"`
	Orientation int8   `yaml:"orientation,omitempty"`
}

// UnmarshalYAML accepts both the scalar shorthand and the mapping form.
func (p *ProductConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s := strings.TrimSpace(value.Value)
		switch {
		case strings.HasSuffix(s, "'"):
			p.Species, p.Orientation = strings.TrimSuffix(s, "'"), 1
		case strings.HasSuffix(s, ","):
			p.Species, p.Orientation = strings.TrimSuffix(s, ","), -1
		default:
			p.Species, p.Orientation = s, 0
		}
		if p.Species == "" {
			return fmt.Errorf("line %d: empty product", value.Line)
		}
		return nil
	}
	type plain ProductConfig
	return value.Decode((*plain)(p))
}

// ObjectConfig declares a triangle mesh, either explicitly or as a box.
type ObjectConfig struct {
	Name      string         `yaml:"name"`
	Box       *BoxConfig     `yaml:"box,omitempty"`
	Vertices  [][3]float64   `yaml:"vertices,omitempty"`
	Triangles [][3]int       `yaml:"triangles,omitempty"`
	Regions   []RegionConfig `yaml:"regions,omitempty"`
}

// BoxConfig is an axis-aligned box given by two corners.
type BoxConfig struct {
	Lo [3]float64 `yaml:"lo"`
	Hi [3]float64 `yaml:"hi"`
}

// RegionConfig names a subset of an object's triangles, by index or by box
// face, and optionally tags it with a surface class.
type RegionConfig struct {
	Name         string   `yaml:"name"`
	Triangles    []int    `yaml:"triangles,omitempty"`
	Faces        []string `yaml:"faces,omitempty"`
	SurfaceClass string   `yaml:"surface_class,omitempty"`
}

// ReleaseConfig places molecules at a given time. Shape is point, box,
// sphere (volume species) or region (surface species).
type ReleaseConfig struct {
	Name     string     `yaml:"name"`
	Species  string     `yaml:"species"`
	Number   int        `yaml:"number"`
	Shape    string     `yaml:"shape"`
	Location [3]float64 `yaml:"location,omitempty"`
	Size     [3]float64 `yaml:"size,omitempty"`   // Box edge lengths
	Radius   float64    `yaml:"radius,omitempty"` // Sphere radius
	Region   string     `yaml:"region,omitempty"` // Region expression
	Time     float64    `yaml:"time,omitempty"`   // Absolute release time (s)
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	SpeciesIndex map[string]int // name -> species id, surface classes follow molecules
	TimeSteps    []float64      // Effective per-species time step
	SpaceSteps   []float64      // sqrt(4*D*dt) per species, 0 for surface classes
	TileArea     float64        // um^2 per tile at the configured density
	NumSpecies   int            // molecule species plus surface classes
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used. Model lists (species,
// rules, objects, releases) in the file replace the default model wholesale.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := Merge(cfg, data); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// Merge unmarshals data on top of cfg. Scalars present in data override;
// a model list present in data replaces the one in cfg.
func Merge(cfg *Config, data []byte) error {
	var present struct {
		Species        yaml.Node `yaml:"species"`
		SurfaceClasses yaml.Node `yaml:"surface_classes"`
		Rules          yaml.Node `yaml:"rules"`
		Objects        yaml.Node `yaml:"objects"`
		Releases       yaml.Node `yaml:"releases"`
	}
	if err := yaml.Unmarshal(data, &present); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	if present.Species.Kind != 0 {
		cfg.Species = nil
	}
	if present.SurfaceClasses.Kind != 0 {
		cfg.SurfaceClasses = nil
	}
	if present.Rules.Kind != 0 {
		cfg.Rules = nil
	}
	if present.Objects.Kind != 0 {
		cfg.Objects = nil
	}
	if present.Releases.Kind != 0 {
		cfg.Releases = nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// Validate checks engine parameters and cross references between the model
// sections.
func (c *Config) Validate() error {
	if c.Simulation.TimeStep <= 0 {
		return fmt.Errorf("simulation.time_step must be positive, got %g", c.Simulation.TimeStep)
	}
	if c.Partition.EdgeLength <= 0 || c.Partition.SubpartitionEdge <= 0 {
		return fmt.Errorf("partition edge lengths must be positive")
	}
	if c.Geometry.Epsilon <= 0 {
		return fmt.Errorf("geometry.epsilon must be positive, got %g", c.Geometry.Epsilon)
	}
	if c.Geometry.SurfaceGridDensity <= 0 {
		return fmt.Errorf("geometry.surface_grid_density must be positive, got %g", c.Geometry.SurfaceGridDensity)
	}
	if c.Reactions.VolRxRadius <= 0 {
		return fmt.Errorf("reactions.vol_rx_radius must be positive, got %g", c.Reactions.VolRxRadius)
	}

	names := make(map[string]string)
	for i, s := range c.Species {
		if s.Name == "" {
			return fmt.Errorf("species %d has no name", i)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("species %q declared twice", s.Name)
		}
		switch s.Kind {
		case "volume", "surface":
		default:
			return fmt.Errorf("species %q: kind must be volume or surface, got %q", s.Name, s.Kind)
		}
		if s.D < 0 || s.TimeStep < 0 {
			return fmt.Errorf("species %q: diffusion constant and time step must not be negative", s.Name)
		}
		names[s.Name] = s.Kind
	}
	for _, sc := range c.SurfaceClasses {
		if _, dup := names[sc]; dup || sc == "" {
			return fmt.Errorf("surface class %q clashes with another name", sc)
		}
		names[sc] = "surface_class"
	}

	for i, r := range c.Rules {
		for _, n := range r.Reactants {
			if _, ok := names[n]; !ok {
				return fmt.Errorf("rule %d (%s): unknown reactant %q", i, r.Name, n)
			}
		}
		for _, p := range r.Products {
			if kind, ok := names[p.Species]; !ok || kind == "surface_class" {
				return fmt.Errorf("rule %d (%s): invalid product %q", i, r.Name, p.Species)
			}
		}
		if r.Probability != nil && *r.Probability < 0 {
			return fmt.Errorf("rule %d (%s): negative probability", i, r.Name)
		}
		switch r.Side {
		case "", "any", "front", "back":
		default:
			return fmt.Errorf("rule %d (%s): side must be front, back or any, got %q", i, r.Name, r.Side)
		}
	}

	for _, o := range c.Objects {
		if o.Box == nil && len(o.Triangles) == 0 {
			return fmt.Errorf("object %q has neither a box nor triangles", o.Name)
		}
		for _, reg := range o.Regions {
			if reg.SurfaceClass != "" && names[reg.SurfaceClass] != "surface_class" {
				return fmt.Errorf("object %q region %q: unknown surface class %q", o.Name, reg.Name, reg.SurfaceClass)
			}
		}
	}

	for i, r := range c.Releases {
		kind, ok := names[r.Species]
		if !ok || kind == "surface_class" {
			return fmt.Errorf("release %d (%s): invalid species %q", i, r.Name, r.Species)
		}
		if r.Number < 0 || r.Time < 0 {
			return fmt.Errorf("release %d (%s): number and time must not be negative", i, r.Name)
		}
		switch r.Shape {
		case "point", "box", "sphere":
			if kind != "volume" {
				return fmt.Errorf("release %d (%s): shape %s needs a volume species", i, r.Name, r.Shape)
			}
		case "region":
			if kind != "surface" {
				return fmt.Errorf("release %d (%s): region releases need a surface species", i, r.Name)
			}
		default:
			return fmt.Errorf("release %d (%s): unknown shape %q", i, r.Name, r.Shape)
		}
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	n := len(c.Species) + len(c.SurfaceClasses)
	c.Derived.NumSpecies = n
	c.Derived.SpeciesIndex = make(map[string]int, n)
	c.Derived.TimeSteps = make([]float64, n)
	c.Derived.SpaceSteps = make([]float64, n)

	for i, s := range c.Species {
		c.Derived.SpeciesIndex[s.Name] = i
		dt := s.TimeStep
		if dt == 0 {
			dt = c.Simulation.TimeStep
		}
		c.Derived.TimeSteps[i] = dt
		c.Derived.SpaceSteps[i] = math.Sqrt(4 * s.D * dt)
	}
	for j, sc := range c.SurfaceClasses {
		c.Derived.SpeciesIndex[sc] = len(c.Species) + j
	}
	c.Derived.TileArea = 1 / c.Geometry.SurfaceGridDensity
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
