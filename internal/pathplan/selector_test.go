package pathplan

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/acredsfan/mowercore/internal/config"
)

func testSelectorConfig(t *testing.T) config.PatternSelectorConfig {
	return config.PatternSelectorConfig{
		Epsilon:         1.0, // force exploration on every Select call
		EpsilonDecay:    0.9,
		EpsilonMin:      0.05,
		LearningRate:    0.5,
		DiscountFactor:  0.9,
		WeightCoverage:  1.0,
		WeightTime:      0.1,
		WeightObstacles: 0.5,
		QTablePath:      filepath.Join(t.TempDir(), "qtable.json"),
	}
}

func TestSelector_UpdateIncreasesQValueTowardReward(t *testing.T) {
	cfg := testSelectorConfig(t)
	s := NewSelector(cfg, nil, zap.NewNop())

	s.Update("state-a", PatternParallel, 1.0)
	s.mu.Lock()
	q := s.table["state-a"][PatternParallel]
	s.mu.Unlock()

	if q <= 0 {
		t.Fatalf("expected Q-value to move toward the reward, got %f", q)
	}
}

func TestSelector_EpsilonDecaysTowardFloor(t *testing.T) {
	cfg := testSelectorConfig(t)
	cfg.Epsilon = 0.5
	cfg.EpsilonDecay = 0.5
	cfg.EpsilonMin = 0.1
	s := NewSelector(cfg, nil, zap.NewNop())

	for i := 0; i < 10; i++ {
		s.Update("state-a", PatternParallel, 0.5)
	}
	if got := s.Epsilon(); got != cfg.EpsilonMin {
		t.Fatalf("epsilon = %f, want floor %f after repeated decay", got, cfg.EpsilonMin)
	}
}

func TestSelector_PersistAndReload_RoundTrip(t *testing.T) {
	cfg := testSelectorConfig(t)
	s1 := NewSelector(cfg, nil, zap.NewNop())
	s1.Update("state-a", PatternSpiral, 0.8)
	if err := s1.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	s2 := NewSelector(cfg, nil, zap.NewNop())
	s2.mu.Lock()
	q := s2.table["state-a"][PatternSpiral]
	s2.mu.Unlock()
	if q == 0 {
		t.Fatal("expected the reloaded selector to recover the persisted Q-value")
	}
}

func TestReward_PenalizesCollisionsAndOvertime(t *testing.T) {
	cfg := testSelectorConfig(t)
	fast := Reward(cfg, 1.0, 10, 100, 0)
	slowWithCollisions := Reward(cfg, 1.0, 90, 100, 3)
	if slowWithCollisions >= fast {
		t.Fatalf("expected collisions and overtime to reduce reward: fast=%f slow=%f", fast, slowWithCollisions)
	}
}
