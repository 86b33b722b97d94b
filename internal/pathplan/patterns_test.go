package pathplan

import "testing"

func TestGenerate_Parallel_ProducesWaypointsWithinBoundary(t *testing.T) {
	poly := squarePoly()
	path := Generate(PatternParallel, poly, 1.0, 0.1, nil)
	if len(path) == 0 {
		t.Fatal("expected a non-empty path")
	}
	for _, p := range path {
		if !PointInPolygon(poly, p) && dist(p, nearestVertex(poly, p)) > 0.5 {
			t.Errorf("waypoint %v far outside boundary", p)
		}
	}
}

func TestGenerate_Spiral_ShrinksTowardCenter(t *testing.T) {
	poly := squarePoly()
	path := Generate(PatternSpiral, poly, 1.0, 0, nil)
	if len(path) == 0 {
		t.Fatal("expected a non-empty spiral path")
	}
	center := Point{5, 5}
	if dist(path[len(path)-1], center) >= dist(path[0], center) {
		t.Fatalf("expected the spiral to end nearer the center than it starts: first %v, last %v", path[0], path[len(path)-1])
	}
}

func TestGenerate_ZigZag_ProducesNonEmptyPath(t *testing.T) {
	poly := squarePoly()
	path := Generate(PatternZigZag, poly, 1.0, 0.1, nil)
	if len(path) == 0 {
		t.Fatal("expected a non-empty zig-zag path")
	}
}

func nearestVertex(poly Polygon, p Point) Point {
	best := poly[0]
	bestD := dist(poly[0], p)
	for _, v := range poly[1:] {
		if d := dist(v, p); d < bestD {
			best, bestD = v, d
		}
	}
	return best
}
