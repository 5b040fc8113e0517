package geometry

import (
	"fmt"
	"sort"
)

// ExprOp tags a region expression node.
type ExprOp uint8

const (
	ExprRegion ExprOp = iota
	ExprObject
	ExprUnion
	ExprIntersect
	ExprDifference
)

// RegionExpr is a tree of set operations over named regions and objects.
// Leaves carry Name ("object,region" for regions, object name for objects).
type RegionExpr struct {
	Op          ExprOp
	Name        string
	Left, Right *RegionExpr
}

// Eval returns the sorted wall indices selected by e.
func (g *Geometry) Eval(e *RegionExpr) ([]int, error) {
	if e == nil {
		return nil, fmt.Errorf("empty region expression")
	}
	switch e.Op {
	case ExprRegion:
		ri, ok := g.RegionByName(e.Name)
		if !ok {
			return nil, fmt.Errorf("unknown region %q", e.Name)
		}
		return append([]int(nil), g.Regions[ri].Walls...), nil
	case ExprObject:
		oi, ok := g.ObjectByName(e.Name)
		if !ok {
			return nil, fmt.Errorf("unknown object %q", e.Name)
		}
		obj := g.Objects[oi]
		walls := make([]int, obj.NumWalls)
		for i := range walls {
			walls[i] = obj.FirstWall + i
		}
		return walls, nil
	}

	left, err := g.Eval(e.Left)
	if err != nil {
		return nil, err
	}
	right, err := g.Eval(e.Right)
	if err != nil {
		return nil, err
	}
	inRight := make(map[int]bool, len(right))
	for _, w := range right {
		inRight[w] = true
	}

	var out []int
	switch e.Op {
	case ExprUnion:
		seen := make(map[int]bool, len(left)+len(right))
		for _, w := range append(left, right...) {
			if !seen[w] {
				seen[w] = true
				out = append(out, w)
			}
		}
	case ExprIntersect:
		for _, w := range left {
			if inRight[w] {
				out = append(out, w)
			}
		}
	case ExprDifference:
		for _, w := range left {
			if !inRight[w] {
				out = append(out, w)
			}
		}
	default:
		return nil, fmt.Errorf("unknown region operator %d", e.Op)
	}
	sort.Ints(out)
	return out, nil
}
