package pathplan

import "testing"

func squarePoly() Polygon {
	return Polygon{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
}

func TestPointInPolygon(t *testing.T) {
	poly := squarePoly()
	cases := []struct {
		p    Point
		want bool
	}{
		{Point{5, 5}, true},
		{Point{-1, 5}, false},
		{Point{11, 5}, false},
		{Point{0.01, 0.01}, true},
	}
	for _, c := range cases {
		if got := PointInPolygon(poly, c.p); got != c.want {
			t.Errorf("PointInPolygon(%v) = %v, want %v", c.p, got, c.want)
		}
	}
}

func TestLineIntersection_CrossingSegments(t *testing.T) {
	pt, ok := LineIntersection(Point{0, 0}, Point{10, 10}, Point{0, 10}, Point{10, 0})
	if !ok {
		t.Fatal("expected an intersection")
	}
	if pt.X != 5 || pt.Y != 5 {
		t.Fatalf("intersection = %v, want (5,5)", pt)
	}
}

func TestLineIntersection_ParallelSegments_NoIntersection(t *testing.T) {
	_, ok := LineIntersection(Point{0, 0}, Point{10, 0}, Point{0, 1}, Point{10, 1})
	if ok {
		t.Fatal("expected no intersection for parallel segments")
	}
}

func TestPolygonArea_Square(t *testing.T) {
	area := polygonArea(squarePoly())
	if area != 100 {
		t.Fatalf("area = %f, want 100", area)
	}
}

func TestApplyExclusions_DropsWaypointInsideObstacle(t *testing.T) {
	path := []Point{{0, 0}, {5, 5}, {10, 10}}
	obstacles := []Obstacle{{ID: "rock", Center: Point{5, 5}, RadiusM: 1}}
	out := applyExclusions(path, obstacles)
	for _, p := range out {
		if p == (Point{5, 5}) {
			t.Fatal("expected the excluded waypoint to be dropped")
		}
	}
}

func TestApplyExclusions_ReroutesCrossingSegment(t *testing.T) {
	path := []Point{{0, 5}, {10, 5}}
	obstacles := []Obstacle{{ID: "rock", Center: Point{5, 5}, RadiusM: 1}}
	out := applyExclusions(path, obstacles)
	if len(out) <= 2 {
		t.Fatalf("expected a detour with extra waypoints, got %v", out)
	}
	for _, p := range out {
		if dist(p, Point{5, 5}) < 1 {
			t.Fatalf("rerouted path still passes through the exclusion zone: %v", out)
		}
	}
}
