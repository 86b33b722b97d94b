// Package avoidance implements Obstacle Avoidance (C6): a background
// monitor over the sensor snapshot stream and an external camera
// classifier signal, strategy selection and execution, three-strikes
// escalation to Stuck, and a Merkle-chained audit trail of every
// engagement.
//
// The audit-trail hash chaining is grounded on the teacher's constitutional
// decision ledger (governance/constitutional.go's computeDecisionHash /
// ParentHash), repurposed here as an avoidance engagement log rather than
// a containment-policy compliance proof.
package avoidance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acredsfan/mowercore/internal/config"
	"github.com/acredsfan/mowercore/internal/eventbus"
	"github.com/acredsfan/mowercore/internal/observability"
	"github.com/acredsfan/mowercore/internal/pathplan"
	"github.com/acredsfan/mowercore/internal/sensors"
)

// Strategy names a maneuver chosen to clear a trigger.
type Strategy string

const (
	StrategyTurnRight Strategy = "turn_right_45"
	StrategyTurnLeft  Strategy = "turn_left_45"
	StrategyBackupRotate90 Strategy = "backup_rotate_90"
	StrategyBackupRotate180 Strategy = "backup_rotate_180"
)

// CameraSignal is the external camera classifier's per-frame output,
// consumed as an interface per spec.md §4.6 — this module does not
// implement the classifier.
type CameraSignal struct {
	BoxAreaPx  float64
	Confidence float64
	ClassName  string
	DropOff    bool
}

// CameraSource is implemented by the external camera classifier.
type CameraSource interface {
	Latest() CameraSignal
}

// Pose is the mower's current estimated position and heading, supplied by
// the caller (state manager / localization, outside this package's scope).
type Pose struct {
	X, Y       float64
	HeadingDeg float64
}

// PoseSource supplies the current pose for obstacle-position estimation.
type PoseSource interface {
	Pose() Pose
}

// Engagement is one audit-trail record of an avoidance maneuver, hash
// chained to the previous engagement.
type Engagement struct {
	Timestamp    time.Time `json:"timestamp"`
	Trigger      string    `json:"trigger"`
	Strategy     Strategy  `json:"strategy"`
	Pose         Pose      `json:"pose"`
	Cleared      bool      `json:"cleared"`
	DecisionHash string    `json:"decision_hash"`
	ParentHash   string    `json:"parent_hash"`
}

// Monitor is the Obstacle Avoidance background component.
type Monitor struct {
	cfg     config.AvoidanceConfig
	bus     *eventbus.Bus
	planner *pathplan.Planner
	camera  CameraSource
	pose    PoseSource
	metrics *observability.Metrics
	log     *zap.Logger

	mu               sync.Mutex
	consecutiveFails int
	firstFailAt      time.Time
	lastHash         string
	ledger           []Engagement
}

// New constructs an avoidance Monitor.
func New(cfg config.AvoidanceConfig, bus *eventbus.Bus, planner *pathplan.Planner, camera CameraSource, pose PoseSource, metrics *observability.Metrics, log *zap.Logger) *Monitor {
	return &Monitor{
		cfg:     cfg,
		bus:     bus,
		planner: planner,
		camera:  camera,
		pose:    pose,
		metrics: metrics,
		log:     log,
	}
}

// TriggerReason names which condition engaged avoidance.
type TriggerReason string

const (
	TriggerToFLeft   TriggerReason = "tof_left"
	TriggerToFRight  TriggerReason = "tof_right"
	TriggerToFBoth   TriggerReason = "tof_both"
	TriggerCamera    TriggerReason = "camera_obstacle"
	TriggerDropOff   TriggerReason = "drop_off"
	TriggerNone      TriggerReason = ""
)

const minDistanceThresholdMM = 300.0
const cameraObstacleThresholdPx = 1000.0

// Evaluate inspects one sensor snapshot plus the latest camera signal and
// reports which trigger rule fired, if any, per spec.md §4.6.
func Evaluate(snap sensors.Snapshot, cam CameraSignal) TriggerReason {
	leftBlocked := snap.ToF.LeftMM < minDistanceThresholdMM
	rightBlocked := snap.ToF.RightMM < minDistanceThresholdMM

	switch {
	case cam.DropOff:
		return TriggerDropOff
	case leftBlocked && rightBlocked:
		return TriggerToFBoth
	case cam.BoxAreaPx > cameraObstacleThresholdPx:
		return TriggerCamera
	case leftBlocked:
		return TriggerToFLeft
	case rightBlocked:
		return TriggerToFRight
	default:
		return TriggerNone
	}
}

// SelectStrategy maps a trigger reason to a maneuver, per spec.md §4.6.
func SelectStrategy(trigger TriggerReason, leftClearanceMM, rightClearanceMM float64) Strategy {
	switch trigger {
	case TriggerToFLeft:
		return StrategyTurnRight
	case TriggerToFRight:
		return StrategyTurnLeft
	case TriggerDropOff:
		return StrategyBackupRotate180
	default: // TriggerToFBoth, TriggerCamera
		return StrategyBackupRotate90
	}
}

// Engage runs one avoidance cycle: evaluates the trigger, selects and
// records a strategy, publishes ObstacleDetected, and updates the obstacle
// map. The returned bool reports whether a trigger was present and an
// engagement took place. The physical maneuver execution itself is outside
// this package; the caller reports its outcome through MarkCleared or
// MarkFailed, and MarkFailed is what signals the escalation to Stuck after
// three unresolved attempts within 15s.
func (m *Monitor) Engage(snap sensors.Snapshot, cam CameraSignal) (TriggerReason, Strategy, bool) {
	trigger := Evaluate(snap, cam)
	if trigger == TriggerNone {
		return trigger, "", false
	}

	strategy := SelectStrategy(trigger, snap.ToF.LeftMM, snap.ToF.RightMM)

	pose := Pose{}
	if m.pose != nil {
		pose = m.pose.Pose()
	}

	m.recordEngagement(trigger, strategy, pose)

	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.EventObstacleDetected, Payload: struct {
			Trigger  TriggerReason
			Strategy Strategy
		}{trigger, strategy}})
	}
	if m.metrics != nil {
		m.metrics.AvoidanceManeuversTotal.WithLabelValues(string(strategy)).Inc()
	}

	m.recordObstaclePosition(pose, snap)

	return trigger, strategy, true
}

// MarkCleared resets the consecutive-failure streak and marks the latest
// engagement cleared. The clearance is announced as an ObstacleDetected
// event whose payload is the string "cleared"; there is no separate
// ObstacleCleared event type.
func (m *Monitor) MarkCleared() {
	m.mu.Lock()
	m.consecutiveFails = 0
	m.firstFailAt = time.Time{}
	if len(m.ledger) > 0 {
		m.ledger[len(m.ledger)-1].Cleared = true
	}
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.EventObstacleDetected, Payload: "cleared"})
	}
}

// MarkFailed records one failed clear attempt and reports whether the
// three-strikes-within-15s threshold has now been crossed, meaning the
// caller should transition to Stuck.
func (m *Monitor) MarkFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.firstFailAt.IsZero() || time.Since(m.firstFailAt) > 15*time.Second {
		m.firstFailAt = time.Now()
		m.consecutiveFails = 0
	}
	m.consecutiveFails++
	if m.metrics != nil {
		m.metrics.ConsecutiveAvoidanceFailures.Set(float64(m.consecutiveFails))
	}
	return m.consecutiveFails >= m.cfg.StrikesBeforeStuck
}

func (m *Monitor) recordObstaclePosition(pose Pose, snap sensors.Snapshot) {
	if m.planner == nil {
		return
	}
	// Project the nearer ToF reading along the current heading to estimate
	// the obstacle's world coordinate.
	distM := minDistanceThresholdMM / 1000.0
	if snap.ToF.LeftMM < snap.ToF.RightMM {
		distM = snap.ToF.LeftMM / 1000.0
	} else {
		distM = snap.ToF.RightMM / 1000.0
	}
	rad := pose.HeadingDeg * math.Pi / 180.0
	est := pathplan.Point{
		X: pose.X + distM*math.Cos(rad),
		Y: pose.Y + distM*math.Sin(rad),
	}
	m.planner.RecordObstacle(uuid.New().String(), est, 0.3, 0.5)
}

func (m *Monitor) recordEngagement(trigger TriggerReason, strategy Strategy, pose Pose) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := Engagement{
		Timestamp: time.Now(),
		Trigger:   string(trigger),
		Strategy:  strategy,
		Pose:      pose,
	}
	e.ParentHash = m.lastHash
	e.DecisionHash = computeDecisionHash(e)
	m.lastHash = e.DecisionHash

	m.ledger = append(m.ledger, e)
	if len(m.ledger) > 256 {
		m.ledger = m.ledger[len(m.ledger)-256:]
	}

	if m.log != nil {
		m.log.Info("obstacle avoidance engaged",
			zap.String("trigger", string(trigger)),
			zap.String("strategy", string(strategy)),
			zap.String("decision_hash", e.DecisionHash[:16]))
	}
}

// computeDecisionHash creates a canonical SHA256 hash of the engagement's
// inputs, chained to the previous engagement's hash.
func computeDecisionHash(e Engagement) string {
	canonical := map[string]any{
		"timestamp":   e.Timestamp.UnixNano(),
		"trigger":     e.Trigger,
		"strategy":    string(e.Strategy),
		"pose":        e.Pose,
		"parent_hash": e.ParentHash,
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Ledger returns a copy of the audit trail, most recent last.
func (m *Monitor) Ledger() []Engagement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Engagement(nil), m.ledger...)
}
