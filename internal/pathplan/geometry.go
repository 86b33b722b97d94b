// Package pathplan implements the Path Planner (C5): coverage-pattern
// waypoint generation over a mowing polygon, circular obstacle exclusion
// with tangent-point re-routing, and an online ε-greedy Q-learning
// pattern selector.
//
// Geometry in this file is pure numeric computation with no natural
// ecosystem library among the teacher/pack's domain stack, so it stays on
// the standard library by design — see DESIGN.md.
package pathplan

import "math"

// Point is a planar coordinate in meters, mower-frame or world-frame
// depending on caller context.
type Point struct {
	X float64
	Y float64
}

// Polygon is an ordered list of vertices describing the mowing boundary
// (or an offset ring derived from it). The edge from the last vertex back
// to the first closes the polygon.
type Polygon []Point

// Obstacle is a circular exclusion zone, per spec.md §4.5.
type Obstacle struct {
	ID      string
	Center  Point
	RadiusM float64
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// PointInPolygon reports whether p lies inside poly, via ray-casting
// (odd-even rule) counting edge crossings of a horizontal ray cast from p.
func PointInPolygon(poly Polygon, p Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		vi, vj := poly[i], poly[j]
		if ((vi.Y > p.Y) != (vj.Y > p.Y)) &&
			(p.X < (vj.X-vi.X)*(p.Y-vi.Y)/(vj.Y-vi.Y)+vi.X) {
			inside = !inside
		}
		j = i
	}
	return inside
}

// LineIntersection returns the single intersection point of segments
// (a1,a2) and (b1,b2), in parametric form, or ok=false if the segments are
// parallel or do not overlap within [0,1] on both.
func LineIntersection(a1, a2, b1, b2 Point) (Point, bool) {
	r := Point{a2.X - a1.X, a2.Y - a1.Y}
	s := Point{b2.X - b1.X, b2.Y - b1.Y}

	denom := r.X*s.Y - r.Y*s.X
	if denom == 0 {
		return Point{}, false
	}

	qp := Point{b1.X - a1.X, b1.Y - a1.Y}
	t := (qp.X*s.Y - qp.Y*s.X) / denom
	u := (qp.X*r.Y - qp.Y*r.X) / denom

	if t < 0 || t > 1 || u < 0 || u > 1 {
		return Point{}, false
	}
	return Point{a1.X + t*r.X, a1.Y + t*r.Y}, true
}

// clipSegmentToPolygon clips segment (a,b) to the portion lying inside
// poly, returning the clipped endpoints. Assumes a convex-enough boundary
// that at most one entry and one exit point exist on the segment; this
// holds for the stripe geometry the planner generates.
func clipSegmentToPolygon(poly Polygon, a, b Point) (Point, Point, bool) {
	aIn := PointInPolygon(poly, a)
	bIn := PointInPolygon(poly, b)
	if aIn && bIn {
		return a, b, true
	}

	var hits []Point
	n := len(poly)
	for i := 0; i < n; i++ {
		v1 := poly[i]
		v2 := poly[(i+1)%n]
		if pt, ok := LineIntersection(a, b, v1, v2); ok {
			hits = append(hits, pt)
		}
	}

	switch {
	case aIn && len(hits) >= 1:
		return a, hits[0], true
	case bIn && len(hits) >= 1:
		return hits[0], b, true
	case len(hits) >= 2:
		return hits[0], hits[1], true
	default:
		return Point{}, Point{}, false
	}
}

// boundingBox returns the axis-aligned bounding box of poly.
func boundingBox(poly Polygon) (min, max Point) {
	min = Point{math.Inf(1), math.Inf(1)}
	max = Point{math.Inf(-1), math.Inf(-1)}
	for _, p := range poly {
		if p.X < min.X {
			min.X = p.X
		}
		if p.Y < min.Y {
			min.Y = p.Y
		}
		if p.X > max.X {
			max.X = p.X
		}
		if p.Y > max.Y {
			max.Y = p.Y
		}
	}
	return min, max
}

// offsetPolygonInward shrinks poly toward its centroid by distance d,
// used to generate successive spiral rings. This is a simple centroid-scale
// approximation, not a true Minkowski erosion, which is adequate for the
// roughly-convex mowing boundaries this planner targets.
func offsetPolygonInward(poly Polygon, d float64) Polygon {
	cx, cy := 0.0, 0.0
	for _, p := range poly {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(poly))
	centroid := Point{cx / n, cy / n}

	out := make(Polygon, len(poly))
	for i, p := range poly {
		toCentroid := dist(p, centroid)
		if toCentroid <= d {
			out[i] = centroid
			continue
		}
		ratio := (toCentroid - d) / toCentroid
		out[i] = Point{
			X: centroid.X + (p.X-centroid.X)*ratio,
			Y: centroid.Y + (p.Y-centroid.Y)*ratio,
		}
	}
	return out
}

// polygonArea returns the unsigned area of poly via the shoelace formula.
func polygonArea(poly Polygon) float64 {
	sum := 0.0
	n := len(poly)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += poly[i].X*poly[j].Y - poly[j].X*poly[i].Y
	}
	return math.Abs(sum) / 2
}

// inAnyExclusion reports whether p lies within any obstacle's radius.
func inAnyExclusion(p Point, obstacles []Obstacle) bool {
	for _, o := range obstacles {
		if dist(p, o.Center) <= o.RadiusM {
			return true
		}
	}
	return false
}

// tangentPoints returns the two points on circle (center, radius) where a
// line from external point p is tangent to the circle.
func tangentPoints(p Point, center Point, radius float64) (Point, Point, bool) {
	d := dist(p, center)
	if d <= radius {
		return Point{}, Point{}, false
	}
	// Angle from p to center, and half-angle of the tangent lines.
	angleToCenter := math.Atan2(center.Y-p.Y, center.X-p.X)
	halfAngle := math.Asin(radius / d)

	tangentLen := math.Sqrt(d*d - radius*radius)
	a1 := angleToCenter + halfAngle
	a2 := angleToCenter - halfAngle

	// Project along each tangent line from p by tangentLen, then snap onto
	// the circle by picking the nearer circle point to that projection.
	proj := func(angle float64) Point {
		return Point{p.X + tangentLen*math.Cos(angle), p.Y + tangentLen*math.Sin(angle)}
	}
	snap := func(proj Point) Point {
		ang := math.Atan2(proj.Y-center.Y, proj.X-center.X)
		return Point{center.X + radius*math.Cos(ang), center.Y + radius*math.Sin(ang)}
	}

	return snap(proj(a1)), snap(proj(a2)), true
}

// reroute reconnects a segment (a,b) whose straight line crosses an
// exclusion zone, choosing the shorter of the two tangent-point detours
// around the obstacle, per spec.md §4.5.
func reroute(a, b Point, obs Obstacle) []Point {
	at1, at2, ok1 := tangentPoints(a, obs.Center, obs.RadiusM)
	bt1, bt2, ok2 := tangentPoints(b, obs.Center, obs.RadiusM)
	if !ok1 || !ok2 {
		return []Point{a, b}
	}

	// Pair tangent points on the same side and compare total detour length.
	pathA := []Point{a, at1, bt2, b}
	pathB := []Point{a, at2, bt1, b}

	lenOf := func(pts []Point) float64 {
		total := 0.0
		for i := 1; i < len(pts); i++ {
			total += dist(pts[i-1], pts[i])
		}
		return total
	}

	if lenOf(pathA) <= lenOf(pathB) {
		return pathA
	}
	return pathB
}

// segmentCrossesExclusion reports whether segment (a,b) passes through any
// obstacle's exclusion radius, even if both endpoints are outside it.
func segmentCrossesExclusion(a, b Point, obs Obstacle) bool {
	// Distance from obs.Center to the segment (a,b).
	vx, vy := b.X-a.X, b.Y-a.Y
	segLenSq := vx*vx + vy*vy
	if segLenSq == 0 {
		return dist(a, obs.Center) <= obs.RadiusM
	}
	t := ((obs.Center.X-a.X)*vx + (obs.Center.Y-a.Y)*vy) / segLenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	closest := Point{a.X + t*vx, a.Y + t*vy}
	return dist(closest, obs.Center) <= obs.RadiusM
}

// applyExclusions filters a waypoint path against obstacles: waypoints
// inside an exclusion are dropped, and segments crossing one are re-routed
// via the nearer tangent detour, per spec.md §4.5.
func applyExclusions(path []Point, obstacles []Obstacle) []Point {
	if len(obstacles) == 0 {
		return path
	}

	var filtered []Point
	for _, p := range path {
		if !inAnyExclusion(p, obstacles) {
			filtered = append(filtered, p)
		}
	}

	if len(filtered) < 2 {
		return filtered
	}

	out := []Point{filtered[0]}
	for i := 1; i < len(filtered); i++ {
		a, b := filtered[i-1], filtered[i]
		rerouted := false
		for _, obs := range obstacles {
			if segmentCrossesExclusion(a, b, obs) {
				detour := reroute(a, b, obs)
				out = append(out, detour[1:]...)
				rerouted = true
				break
			}
		}
		if !rerouted {
			out = append(out, b)
		}
	}
	return out
}
