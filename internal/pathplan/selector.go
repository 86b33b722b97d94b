package pathplan

import (
	"encoding/json"
	"math/rand"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acredsfan/mowercore/internal/atomicfile"
	"github.com/acredsfan/mowercore/internal/config"
	"github.com/acredsfan/mowercore/internal/observability"
)

// QEntry is one row of the persisted Q-table, per spec.md §4.5's
// `{version, entries: [(state_hash, pattern, q_value)]}` record.
type QEntry struct {
	StateHash string  `json:"state_hash"`
	Pattern   Pattern `json:"pattern"`
	QValue    float64 `json:"q_value"`
}

// PatternModelRecord is the on-disk form of the selector's Q-table.
type PatternModelRecord struct {
	Version int      `json:"version"`
	Entries []QEntry `json:"entries"`
}

const modelVersion = 1

// Selector is a tabular ε-greedy Q-learning policy over state_hash →
// pattern → reward, persisted atomically between sessions.
type Selector struct {
	cfg     config.PatternSelectorConfig
	metrics *observability.Metrics
	log     *zap.Logger

	mu           sync.Mutex
	table        map[string]map[Pattern]float64
	epsilon      float64
	sessionCount int
	rng          *rand.Rand
}

// NewSelector constructs a Selector, loading any previously persisted
// Q-table from cfg.QTablePath. A missing or corrupt file starts empty.
func NewSelector(cfg config.PatternSelectorConfig, metrics *observability.Metrics, log *zap.Logger) *Selector {
	s := &Selector{
		cfg:     cfg,
		metrics: metrics,
		log:     log,
		table:   make(map[string]map[Pattern]float64),
		epsilon: cfg.Epsilon,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.load()
	if s.metrics != nil {
		s.metrics.SelectorEpsilon.Set(s.epsilon)
	}
	return s
}

func (s *Selector) load() {
	data, err := os.ReadFile(s.cfg.QTablePath)
	if err != nil {
		return
	}
	var rec PatternModelRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		if s.log != nil {
			s.log.Warn("pathplan: discarding corrupt Q-table", zap.Error(err))
		}
		return
	}
	for _, e := range rec.Entries {
		if s.table[e.StateHash] == nil {
			s.table[e.StateHash] = make(map[Pattern]float64)
		}
		s.table[e.StateHash][e.Pattern] = e.QValue
	}
}

// Persist writes the current Q-table to cfg.QTablePath via the
// write-tmp/fsync/rename discipline shared with the cross-process bridge.
func (s *Selector) Persist() error {
	s.mu.Lock()
	rec := PatternModelRecord{Version: modelVersion}
	for stateHash, patterns := range s.table {
		for pattern, q := range patterns {
			rec.Entries = append(rec.Entries, QEntry{StateHash: stateHash, Pattern: pattern, QValue: q})
		}
	}
	s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(s.cfg.QTablePath, data, 0o644)
}

// Select chooses a pattern for the given state hash using ε-greedy
// exploration: with probability ε, pick uniformly at random; otherwise
// pick the highest-Q pattern (ties broken by enumeration order).
func (s *Selector) Select(stateHash string) Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rng.Float64() < s.epsilon {
		choice := AllPatterns[s.rng.Intn(len(AllPatterns))]
		if s.metrics != nil {
			s.metrics.PatternSelectionsTotal.WithLabelValues(string(choice)).Inc()
		}
		return choice
	}

	best := AllPatterns[0]
	bestQ := s.table[stateHash][best]
	for _, p := range AllPatterns[1:] {
		if q := s.table[stateHash][p]; q > bestQ {
			best, bestQ = p, q
		}
	}
	if s.metrics != nil {
		s.metrics.PatternSelectionsTotal.WithLabelValues(string(best)).Inc()
	}
	return best
}

// Reward computes R = coverage*w_c + (1 - traversal_time/time_budget)*w_t
// - collisions*w_o, per spec.md §4.5.
func Reward(cfg config.PatternSelectorConfig, coverageFraction, traversalTimeSeconds, timeBudgetSeconds float64, collisions int) float64 {
	timeTerm := 1.0
	if timeBudgetSeconds > 0 {
		timeTerm = 1 - traversalTimeSeconds/timeBudgetSeconds
	}
	return coverageFraction*cfg.WeightCoverage + timeTerm*cfg.WeightTime - float64(collisions)*cfg.WeightObstacles
}

// Update applies the Q-learning update rule Q[s,a] += α*(r - Q[s,a]) and
// decays ε toward EpsilonMin, marking the end of one mowing session.
func (s *Selector) Update(stateHash string, pattern Pattern, reward float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table[stateHash] == nil {
		s.table[stateHash] = make(map[Pattern]float64)
	}
	q := s.table[stateHash][pattern]
	s.table[stateHash][pattern] = q + s.cfg.LearningRate*(reward-q)

	s.sessionCount++
	s.epsilon *= s.cfg.EpsilonDecay
	if s.epsilon < s.cfg.EpsilonMin {
		s.epsilon = s.cfg.EpsilonMin
	}
	if s.metrics != nil {
		s.metrics.SelectorEpsilon.Set(s.epsilon)
	}
}

// Epsilon returns the selector's current exploration rate, mostly for tests.
func (s *Selector) Epsilon() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epsilon
}
