package geometry

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// BoxFaces names the faces of a Box in triangle order; face i owns
// triangles 2i and 2i+1.
var BoxFaces = [6]string{"bottom", "top", "front", "back", "left", "right"}

// Box returns an axis-aligned closed box with outward normals. Every face is
// also exposed as a region named after it.
func Box(name string, lo, hi r3.Vec) (ObjectSpec, error) {
	if hi.X <= lo.X || hi.Y <= lo.Y || hi.Z <= lo.Z {
		return ObjectSpec{}, fmt.Errorf("box %q: upper corner %v not above lower corner %v: %w", name, hi, lo, ErrBadMesh)
	}
	spec := ObjectSpec{
		Name: name,
		Vertices: []r3.Vec{
			{X: lo.X, Y: lo.Y, Z: lo.Z},
			{X: hi.X, Y: lo.Y, Z: lo.Z},
			{X: hi.X, Y: hi.Y, Z: lo.Z},
			{X: lo.X, Y: hi.Y, Z: lo.Z},
			{X: lo.X, Y: lo.Y, Z: hi.Z},
			{X: hi.X, Y: lo.Y, Z: hi.Z},
			{X: hi.X, Y: hi.Y, Z: hi.Z},
			{X: lo.X, Y: hi.Y, Z: hi.Z},
		},
		Triangles: [][3]int{
			{0, 2, 1}, {0, 3, 2}, // bottom -z
			{4, 5, 6}, {4, 6, 7}, // top +z
			{0, 1, 5}, {0, 5, 4}, // front -y
			{3, 7, 6}, {3, 6, 2}, // back +y
			{0, 4, 7}, {0, 7, 3}, // left -x
			{1, 2, 6}, {1, 6, 5}, // right +x
		},
	}
	for i, face := range BoxFaces {
		spec.Regions = append(spec.Regions, RegionSpec{
			Name:         face,
			Triangles:    []int{2 * i, 2*i + 1},
			SurfaceClass: -1,
		})
	}
	return spec, nil
}

// FaceTriangles returns the triangle indices of the named box faces.
func FaceTriangles(faces []string) ([]int, error) {
	var out []int
	for _, f := range faces {
		found := false
		for i, name := range BoxFaces {
			if name == f {
				out = append(out, 2*i, 2*i+1)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown box face %q", f)
		}
	}
	return out, nil
}
