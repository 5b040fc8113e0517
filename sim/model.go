package sim

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/config"
	"github.com/pthm-cable/cellsim/geometry"
	"github.com/pthm-cable/cellsim/partition"
	"github.com/pthm-cable/cellsim/reactions"
	"github.com/pthm-cable/cellsim/systems"
)

// Model is everything built from a config before the first step: the
// species table, the reaction network, the meshes and an empty partition.
type Model struct {
	Species  []components.Species
	Net      *reactions.Network
	Geom     *geometry.Geometry
	Part     *partition.Partition
	Releases []Release
}

// BuildModel turns cfg into a runnable model. cfg must have been loaded
// through config.Load so that Derived is populated.
func BuildModel(cfg *config.Config) (*Model, error) {
	species := buildSpecies(cfg)

	rules, err := buildRules(cfg)
	if err != nil {
		return nil, err
	}
	net, err := reactions.NewNetwork(species, rules, reactions.Params{
		TimeStep:   cfg.Simulation.TimeStep,
		RxRadius3D: cfg.Reactions.VolRxRadius,
		TileArea:   cfg.Derived.TileArea,
	})
	if err != nil {
		return nil, fmt.Errorf("building reaction network: %w", err)
	}

	var geom *geometry.Geometry
	if len(cfg.Objects) > 0 {
		specs, err := buildObjects(cfg)
		if err != nil {
			return nil, err
		}
		geom, err = geometry.Build(specs, cfg.Geometry.Epsilon)
		if err != nil {
			return nil, fmt.Errorf("building geometry: %w", systems.GeometryError(err))
		}
		geom.InitGrids(cfg.Geometry.SurfaceGridDensity)
	}

	o := cfg.Partition.Origin
	part, err := partition.New(partition.Config{
		Origin:      r3.Vec{X: o[0], Y: o[1], Z: o[2]},
		EdgeLength:  cfg.Partition.EdgeLength,
		SubpartEdge: cfg.Partition.SubpartitionEdge,
	}, geom, len(species))
	if err != nil {
		return nil, fmt.Errorf("building partition: %w", err)
	}

	releases, err := buildReleases(cfg, net, geom)
	if err != nil {
		return nil, err
	}

	return &Model{
		Species:  species,
		Net:      net,
		Geom:     geom,
		Part:     part,
		Releases: releases,
	}, nil
}

// buildSpecies lays out molecule species first and surface classes after
// them, matching config.Derived.SpeciesIndex.
func buildSpecies(cfg *config.Config) []components.Species {
	out := make([]components.Species, 0, cfg.Derived.NumSpecies)
	for i, s := range cfg.Species {
		kind := components.KindVolume
		if s.Kind == "surface" {
			kind = components.KindSurface
		}
		out = append(out, components.Species{
			ID:        components.SpeciesID(i),
			Name:      s.Name,
			Kind:      kind,
			D:         s.D,
			TimeStep:  cfg.Derived.TimeSteps[i],
			SpaceStep: cfg.Derived.SpaceSteps[i],
		})
	}
	for _, sc := range cfg.SurfaceClasses {
		out = append(out, components.Species{
			ID:   components.SpeciesID(len(out)),
			Name: sc,
			Kind: components.KindSurfaceClass,
		})
	}
	return out
}

func buildRules(cfg *config.Config) ([]reactions.Rule, error) {
	rules := make([]reactions.Rule, 0, len(cfg.Rules))
	for i, rc := range cfg.Rules {
		typ, ok := reactions.ParseClassType(rc.Type)
		if !ok {
			return nil, fmt.Errorf("rule %d (%s): unknown type %q", i, rc.Name, rc.Type)
		}
		var side int8
		switch rc.Side {
		case "front":
			side = 1
		case "back":
			side = -1
		}
		prob := -1.0
		if rc.Probability != nil {
			prob = *rc.Probability
		}
		products := make([]reactions.ProductSpec, len(rc.Products))
		for j, p := range rc.Products {
			products[j] = reactions.ProductSpec{Species: p.Species, Orientation: p.Orientation}
		}
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("rule_%d", i)
		}
		rules = append(rules, reactions.Rule{
			Name:        name,
			Reactants:   rc.Reactants,
			Products:    products,
			Rate:        rc.Rate,
			Probability: prob,
			Type:        typ,
			Side:        side,
		})
	}
	return rules, nil
}

func buildObjects(cfg *config.Config) ([]geometry.ObjectSpec, error) {
	specs := make([]geometry.ObjectSpec, 0, len(cfg.Objects))
	for _, oc := range cfg.Objects {
		var spec geometry.ObjectSpec
		if oc.Box != nil {
			var err error
			spec, err = geometry.Box(oc.Name, toVec(oc.Box.Lo), toVec(oc.Box.Hi))
			if err != nil {
				return nil, fmt.Errorf("object %q: %w", oc.Name, err)
			}
		} else {
			spec.Name = oc.Name
			spec.Vertices = make([]r3.Vec, len(oc.Vertices))
			for i, v := range oc.Vertices {
				spec.Vertices[i] = toVec(v)
			}
			spec.Triangles = oc.Triangles
		}

		for _, rc := range oc.Regions {
			tris := append([]int(nil), rc.Triangles...)
			if len(rc.Faces) > 0 {
				if oc.Box == nil {
					return nil, fmt.Errorf("object %q region %q: faces need a box object", oc.Name, rc.Name)
				}
				faceTris, err := geometry.FaceTriangles(rc.Faces)
				if err != nil {
					return nil, fmt.Errorf("object %q region %q: %w", oc.Name, rc.Name, err)
				}
				tris = append(tris, faceTris...)
			}
			sc := -1
			if rc.SurfaceClass != "" {
				sc = cfg.Derived.SpeciesIndex[rc.SurfaceClass]
			}
			spec.Regions = append(spec.Regions, geometry.RegionSpec{
				Name:         rc.Name,
				Triangles:    tris,
				SurfaceClass: sc,
			})
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func toVec(v [3]float64) r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }
