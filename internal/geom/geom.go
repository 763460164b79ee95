// Package geom provides the polygon primitives used by contour tracking:
// area, perimeter and centroid derivation, rasterised intersection-over-union
// and containment ratios between feature contours.
package geom

import "math"

// Point is a 2D coordinate in image or heliographic frame.
type Point struct {
	X float64
	Y float64
}

// Polygon is a closed contour as an ordered vertex sequence. The closing edge
// from the last vertex back to the first is implicit.
type Polygon []Point

// SignedArea returns the shoelace area of the polygon. Positive for
// counter-clockwise winding, negative for clockwise.
func (p Polygon) SignedArea() float64 {
	if len(p) < 3 {
		return 0
	}
	var sum float64
	for i := range p {
		j := (i + 1) % len(p)
		sum += p[i].X*p[j].Y - p[j].X*p[i].Y
	}
	return sum / 2
}

// Area returns the absolute enclosed area of the polygon.
func (p Polygon) Area() float64 {
	return math.Abs(p.SignedArea())
}

// Perimeter returns the total edge length including the closing edge.
func (p Polygon) Perimeter() float64 {
	if len(p) < 2 {
		return 0
	}
	var sum float64
	for i := range p {
		j := (i + 1) % len(p)
		dx := p[j].X - p[i].X
		dy := p[j].Y - p[i].Y
		sum += math.Hypot(dx, dy)
	}
	return sum
}

// Centroid returns the area-weighted centroid of the polygon. Degenerate
// polygons (area ~ 0) fall back to the vertex mean.
func (p Polygon) Centroid() Point {
	if len(p) == 0 {
		return Point{}
	}
	a := p.SignedArea()
	if math.Abs(a) < 1e-12 {
		var c Point
		for _, v := range p {
			c.X += v.X
			c.Y += v.Y
		}
		c.X /= float64(len(p))
		c.Y /= float64(len(p))
		return c
	}
	var cx, cy float64
	for i := range p {
		j := (i + 1) % len(p)
		cross := p[i].X*p[j].Y - p[j].X*p[i].Y
		cx += (p[i].X + p[j].X) * cross
		cy += (p[i].Y + p[j].Y) * cross
	}
	return Point{X: cx / (6 * a), Y: cy / (6 * a)}
}

// Bounds returns the axis-aligned bounding box as (min, max) corners.
func (p Polygon) Bounds() (Point, Point) {
	if len(p) == 0 {
		return Point{}, Point{}
	}
	min := p[0]
	max := p[0]
	for _, v := range p[1:] {
		if v.X < min.X {
			min.X = v.X
		}
		if v.Y < min.Y {
			min.Y = v.Y
		}
		if v.X > max.X {
			max.X = v.X
		}
		if v.Y > max.Y {
			max.Y = v.Y
		}
	}
	return min, max
}

// Contains reports whether the point lies inside the polygon using the
// even-odd crossing rule. Points exactly on an edge may resolve either way;
// the rasteriser samples cell centres so this does not affect IoU stability.
func (p Polygon) Contains(pt Point) bool {
	inside := false
	n := len(p)
	for i := 0; i < n; i++ {
		j := (i + n - 1) % n
		yi, yj := p[i].Y, p[j].Y
		if (yi > pt.Y) != (yj > pt.Y) {
			xCross := (p[j].X-p[i].X)*(pt.Y-yi)/(yj-yi) + p[i].X
			if pt.X < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

// DefaultRasterCell is the default sampling cell size (in coordinate units)
// for rasterised overlap measures. One pixel when contours are in image
// coordinates.
const DefaultRasterCell = 1.0

// maxRasterCells caps the sampling grid so a pathological bounding box cannot
// allocate unbounded work. When exceeded, the cell size is coarsened.
const maxRasterCells = 1 << 20

// rasterCounts samples both polygons over their joint bounding box and
// returns cell counts (inA, inB, inBoth). Sampling at cell centres keeps the
// measure deterministic for identical inputs.
func rasterCounts(a, b Polygon, cell float64) (int, int, int) {
	if len(a) < 3 || len(b) < 3 {
		return 0, 0, 0
	}
	if cell <= 0 {
		cell = DefaultRasterCell
	}
	aMin, aMax := a.Bounds()
	bMin, bMax := b.Bounds()
	min := Point{X: math.Min(aMin.X, bMin.X), Y: math.Min(aMin.Y, bMin.Y)}
	max := Point{X: math.Max(aMax.X, bMax.X), Y: math.Max(aMax.Y, bMax.Y)}

	nx := int(math.Ceil((max.X-min.X)/cell)) + 1
	ny := int(math.Ceil((max.Y-min.Y)/cell)) + 1
	for nx*ny > maxRasterCells {
		cell *= 2
		nx = int(math.Ceil((max.X-min.X)/cell)) + 1
		ny = int(math.Ceil((max.Y-min.Y)/cell)) + 1
	}

	var inA, inB, inBoth int
	for iy := 0; iy < ny; iy++ {
		y := min.Y + (float64(iy)+0.5)*cell
		for ix := 0; ix < nx; ix++ {
			x := min.X + (float64(ix)+0.5)*cell
			pt := Point{X: x, Y: y}
			ca := a.Contains(pt)
			cb := b.Contains(pt)
			if ca {
				inA++
			}
			if cb {
				inB++
			}
			if ca && cb {
				inBoth++
			}
		}
	}
	return inA, inB, inBoth
}

// IoU returns the rasterised intersection-over-union of two polygons in
// [0, 1]. Disjoint bounding boxes short-circuit to 0.
func IoU(a, b Polygon, cell float64) float64 {
	if len(a) < 3 || len(b) < 3 {
		return 0
	}
	aMin, aMax := a.Bounds()
	bMin, bMax := b.Bounds()
	if aMax.X < bMin.X || bMax.X < aMin.X || aMax.Y < bMin.Y || bMax.Y < aMin.Y {
		return 0
	}
	inA, inB, inBoth := rasterCounts(a, b, cell)
	union := inA + inB - inBoth
	if union == 0 {
		return 0
	}
	return float64(inBoth) / float64(union)
}

// ContainmentRatio returns the fraction of the inner polygon's sampled cells
// that fall inside the outer polygon. Used for nested-contour suppression and
// umbra-in-penumbra association.
func ContainmentRatio(inner, outer Polygon, cell float64) float64 {
	if len(inner) < 3 || len(outer) < 3 {
		return 0
	}
	inInner, _, inBoth := rasterCounts(inner, outer, cell)
	if inInner == 0 {
		return 0
	}
	return float64(inBoth) / float64(inInner)
}
