package pathplan

import "math"

// Pattern names a coverage strategy, used as both the waypoint-generation
// selector and the Q-learning action space.
type Pattern string

const (
	PatternParallel Pattern = "parallel"
	PatternSpiral   Pattern = "spiral"
	PatternZigZag   Pattern = "zigzag"
)

// AllPatterns enumerates the action space for the online selector.
var AllPatterns = []Pattern{PatternParallel, PatternSpiral, PatternZigZag}

// Generate produces a waypoint sequence covering poly with the given
// pattern, stripe width, and overlap ratio, with obstacle exclusions
// applied, per spec.md §4.5.
func Generate(pattern Pattern, poly Polygon, stripeWidth, overlapRatio float64, obstacles []Obstacle) []Point {
	var path []Point
	switch pattern {
	case PatternSpiral:
		path = generateSpiral(poly, stripeWidth)
	case PatternZigZag:
		path = generateParallel(poly, stripeWidth, overlapRatio, true)
	default:
		path = generateParallel(poly, stripeWidth, overlapRatio, false)
	}
	return applyExclusions(path, obstacles)
}

// generateParallel lays stripes at a fixed spacing across the polygon's
// bounding box, clips each to the polygon, and alternates direction
// (boustrophedon) so consecutive stripes connect without a long transit.
// When zigZag is true, each stripe's start is shifted up and its end down
// by stripeWidth·tan(45°)/4 = stripeWidth/4, tilting every stripe slightly;
// the stripes are not rotated to a 45° heading.
func generateParallel(poly Polygon, stripeWidth, overlapRatio float64, zigZag bool) []Point {
	if len(poly) < 3 || stripeWidth <= 0 {
		return nil
	}
	spacing := stripeWidth * (1 - overlapRatio)
	if spacing <= 0 {
		spacing = stripeWidth
	}

	min, max := boundingBox(poly)
	var path []Point
	reverse := false

	for y := min.Y + stripeWidth/2; y <= max.Y; y += spacing {
		a := Point{min.X - 1, y}
		b := Point{max.X + 1, y}

		clippedA, clippedB, ok := clipSegmentToPolygon(poly, a, b)
		if !ok {
			continue
		}

		if zigZag {
			offset := stripeWidth * math.Tan(45*math.Pi/180) / 4
			clippedA.Y += offset
			clippedB.Y -= offset
		}

		if reverse {
			path = append(path, clippedB, clippedA)
		} else {
			path = append(path, clippedA, clippedB)
		}
		reverse = !reverse
	}
	return path
}

// generateSpiral produces successive inward-offset polygon rings until the
// remaining area falls below stripeWidth², per spec.md §4.5.
func generateSpiral(poly Polygon, stripeWidth float64) []Point {
	if len(poly) < 3 || stripeWidth <= 0 {
		return nil
	}

	var path []Point
	current := poly
	minArea := stripeWidth * stripeWidth

	for i := 0; i < 1000; i++ {
		if polygonArea(current) < minArea {
			break
		}
		path = append(path, current...)
		path = append(path, current[0]) // close the ring
		next := offsetPolygonInward(current, stripeWidth)
		if polygonArea(next) >= polygonArea(current) {
			break // offset degenerated (e.g. collapsed to centroid); stop
		}
		current = next
	}
	return path
}
