package pathplan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/acredsfan/mowercore/internal/config"
	"github.com/acredsfan/mowercore/internal/observability"
)

// Planner is the Path Planner (C5) composition: it owns the mowing
// boundary, the fused obstacle exclusion set (populated by Obstacle
// Avoidance engagements), and the online pattern selector.
type Planner struct {
	cfg      config.PathPlannerConfig
	selector *Selector
	log      *zap.Logger

	mu        sync.RWMutex
	boundary  Polygon
	obstacles []Obstacle
}

// New constructs a Planner for the given mowing boundary.
func New(cfg config.PathPlannerConfig, boundary Polygon, metrics *observability.Metrics, log *zap.Logger) *Planner {
	return &Planner{
		cfg:      cfg,
		selector: NewSelector(cfg.Selector, metrics, log),
		log:      log,
		boundary: boundary,
	}
}

// StateHash derives a stable, coarse state identifier for the Q-table:
// the boundary's area bucket and the current obstacle count. Coarse
// buckets keep the table small while still distinguishing meaningfully
// different mowing sessions.
func (p *Planner) StateHash() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	area := polygonArea(p.boundary)
	areaBucket := int(area / 10) // 10 m^2 buckets
	canonical := fmt.Sprintf("area=%d;obstacles=%d", areaBucket, len(p.obstacles))
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:8])
}

// PlanSession selects a pattern via the online selector and generates the
// waypoint sequence for the current boundary and obstacle set.
func (p *Planner) PlanSession() (Pattern, []Point) {
	stateHash := p.StateHash()
	pattern := p.selector.Select(stateHash)

	p.mu.RLock()
	boundary := p.boundary
	obstacles := append([]Obstacle(nil), p.obstacles...)
	p.mu.RUnlock()

	path := Generate(pattern, boundary, p.cfg.StripeWidth, p.cfg.OverlapRatio, obstacles)
	return pattern, path
}

// CompleteSession records the outcome of a mowing session against the
// pattern that was selected for it and persists the updated Q-table.
func (p *Planner) CompleteSession(stateHash string, pattern Pattern, coverageFraction, traversalTimeSeconds, timeBudgetSeconds float64, collisions int) error {
	reward := Reward(p.cfg.Selector, coverageFraction, traversalTimeSeconds, timeBudgetSeconds, collisions)
	p.selector.Update(stateHash, pattern, reward)
	return p.selector.Persist()
}

// RecordObstacle adds an obstacle at the estimated world coordinate to the
// exclusion set, fusing it into an existing entry if one lies within
// mergeRadiusM, per spec.md §4.6's obstacle map integration.
func (p *Planner) RecordObstacle(id string, center Point, radiusM, mergeRadiusM float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, existing := range p.obstacles {
		if dist(existing.Center, center) <= mergeRadiusM {
			// Fuse: average the centers, keep the larger radius.
			p.obstacles[i].Center = Point{
				X: (existing.Center.X + center.X) / 2,
				Y: (existing.Center.Y + center.Y) / 2,
			}
			if radiusM > existing.RadiusM {
				p.obstacles[i].RadiusM = radiusM
			}
			return
		}
	}
	p.obstacles = append(p.obstacles, Obstacle{ID: id, Center: center, RadiusM: radiusM})
}

// Obstacles returns a copy of the current exclusion set.
func (p *Planner) Obstacles() []Obstacle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Obstacle(nil), p.obstacles...)
}

// SetBoundary replaces the mowing boundary, e.g. on a configuration
// reload or when a new mowing zone is selected.
func (p *Planner) SetBoundary(boundary Polygon) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.boundary = boundary
}

// Reroute re-plans a path segment around the current obstacle set,
// exposed for Obstacle Avoidance to request a detour around a
// newly-estimated obstacle position, per spec.md §4.6.
func (p *Planner) Reroute(a, b Point) []Point {
	p.mu.RLock()
	obstacles := append([]Obstacle(nil), p.obstacles...)
	p.mu.RUnlock()
	return applyExclusions([]Point{a, b}, obstacles)
}
