// Package supervisor implements the Resource Manager (C7): the
// composition root that owns the Hardware Registry, instantiates every
// other component, wires them through the Event Bus, and supervises
// ordered startup and shutdown per spec.md §4.7.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/acredsfan/mowercore/internal/atomicfile"
	"github.com/acredsfan/mowercore/internal/avoidance"
	"github.com/acredsfan/mowercore/internal/bridge"
	"github.com/acredsfan/mowercore/internal/config"
	"github.com/acredsfan/mowercore/internal/eventbus"
	"github.com/acredsfan/mowercore/internal/hardware"
	"github.com/acredsfan/mowercore/internal/mowererrors"
	"github.com/acredsfan/mowercore/internal/observability"
	"github.com/acredsfan/mowercore/internal/pathplan"
	"github.com/acredsfan/mowercore/internal/secrets"
	"github.com/acredsfan/mowercore/internal/sensors"
	"github.com/acredsfan/mowercore/internal/statemachine"
	"github.com/acredsfan/mowercore/internal/storage"
)

// Supervisor owns every long-lived component and the ordering contract
// between them.
type Supervisor struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *observability.Metrics

	Registry  *hardware.Registry
	Sensors   *sensors.Interface
	Bus       *eventbus.Bus
	Machine   *statemachine.Machine
	Planner   *pathplan.Planner
	Avoidance *avoidance.Monitor
	Bridge    *bridge.Bridge
	Secrets   *secrets.Store
	DB        *storage.DB

	camera avoidance.CameraSource

	startedAt time.Time
}

// New constructs every component but does not start any goroutines; call
// Start to bring the system up in spec.md §4.7's fixed order.
func New(cfg *config.Config, log *zap.Logger, metrics *observability.Metrics, boundary pathplan.Polygon, camera avoidance.CameraSource, pose avoidance.PoseSource) (*Supervisor, error) {
	db, err := storage.Open(cfg.Storage.DBPath, cfg.Storage.RetentionDays)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open storage: %w", err)
	}

	store, err := secrets.Open(cfg.Secrets.StorePath, cfg.Secrets.MasterKeyPath, "MOWER_MASTER_KEY", log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("supervisor: open secrets store: %w", err)
	}

	i2c, err := hardware.NewI2CBus(cfg.Hardware.I2CBus, cfg.Hardware.UseSimulation, cfg.Sensors.BusResetCooldown, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("supervisor: open i2c bus: %w", err)
	}

	registry := hardware.NewRegistry(i2c, cfg.Hardware.InitTimeout, log)

	bus := eventbus.New(cfg.EventBus.QueueSize, cfg.EventBus.CriticalEventTypes, log, metrics)

	machine := statemachine.New(cfg.StateMachine.AuditTrailSize, statemachine.Callbacks{
		OnTransition: func(from, to statemachine.State, ctx map[string]any) {
			if metrics != nil {
				metrics.StateTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
			}
			if db != nil {
				_ = db.AppendLedger(storage.LedgerEntry{FromState: from.String(), ToState: to.String(), Reason: "state_transition", Context: ctx})
			}
		},
		OnEntry: func(to statemachine.State, ctx map[string]any) {
			bus.Publish(eventbus.Event{Type: eventbus.EventStateTransition, Payload: to})
		},
	}, log)

	planner := pathplan.New(cfg.PathPlanner, boundary, metrics, log)
	avoid := avoidance.New(cfg.Avoidance, bus, planner, camera, pose, metrics, log)

	br, err := bridge.New(cfg.Bridge.BridgeDir, cfg.Bridge.StaleThreshold, metrics, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("supervisor: open bridge: %w", err)
	}

	readers, required := buildSensorReaders(cfg.Hardware)
	sensorIface := sensors.New(cfg.Sensors, readers, required, i2c, bus, metrics, log)

	sup := &Supervisor{
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		Registry:  registry,
		Sensors:   sensorIface,
		Bus:       bus,
		Machine:   machine,
		Planner:   planner,
		Avoidance: avoid,
		Bridge:    br,
		Secrets:   store,
		DB:        db,
		camera:    camera,
	}

	sup.subscribeCriticalErrors()

	return sup, nil
}

// subscribeCriticalErrors wires the generic critical-error escalation path:
// any ErrorOccurred event whose payload reports itself Critical() drives an
// EmergencyStop request, per spec.md §4.7's required-sensor-failure rule
// generalized to every critical error code (internal/mowererrors).
func (s *Supervisor) subscribeCriticalErrors() {
	s.Bus.Subscribe("supervisor-critical-errors", []eventbus.EventType{eventbus.EventErrorOccurred}, func(evt eventbus.Event) {
		mowErr, ok := evt.Payload.(*mowererrors.Error)
		if !ok || !mowErr.Critical() {
			return
		}
		// ErrorOccurred is dispatched synchronously inside Publish's read
		// lock. Escalating transitions the state machine, whose OnEntry
		// callback publishes a StateTransition event of its own — running
		// that on a fresh goroutine keeps this handler from re-entering
		// Publish's lock on the same call stack.
		go func() {
			if mowErr.Code == mowererrors.CodeRequiredSensorDown {
				if sensorName, ok := mowErr.Context["sensor"].(string); ok {
					s.HandleRequiredSensorFailure(sensorName)
					return
				}
			}
			s.escalateToEmergencyStop(map[string]any{"reason": "critical_error", "code": int(mowErr.Code)})
		}()
	})
}

// buildSensorReaders always returns the simulated readers, whatever
// Hardware.UseSimulation says; no real-driver path is wired.
func buildSensorReaders(hwCfg config.HardwareConfig) ([]sensors.Reader, []string) {
	readers := []sensors.Reader{
		sensors.NewSimIMU(),
		sensors.NewSimToF(),
		sensors.NewSimEnvironment(),
		sensors.NewSimPower(),
		sensors.NewSimGPS(),
	}
	return readers, hwCfg.RequiredComponents
}

// Start brings the system up in spec.md §4.7's fixed order: Hardware
// Registry, Sensor Interface, Event Bus (already constructed, no
// goroutines of its own), State Manager, Path Planner, Obstacle
// Avoidance, Cross-Process Bridge.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.Registry.Initialize(ctx); err != nil {
		return fmt.Errorf("supervisor: hardware registry bring-up: %w", err)
	}
	s.Sensors.Start(ctx)
	s.startedAt = time.Now()

	if err := s.Machine.TransitionTo(statemachine.Idle, map[string]any{"reason": "startup_complete"}); err != nil {
		return fmt.Errorf("supervisor: transition to idle: %w", err)
	}

	go s.bridgeWriteLoop(ctx)
	go s.mowLoop(ctx)

	if s.log != nil {
		s.log.Info("supervisor: startup complete")
	}
	return nil
}

// mowLoop drives the reactive core for one mowing session: it plans a
// coverage pattern, transitions Idle -> Mowing, and on every sensor poll
// tick evaluates and engages Obstacle Avoidance against the latest fused
// snapshot, driving Mowing <-> Avoiding and escalating to Stuck after
// three unresolved engagements, per spec.md §4.6 and §4.7.
func (s *Supervisor) mowLoop(ctx context.Context) {
	if err := s.Machine.TransitionTo(statemachine.Mowing, map[string]any{"reason": "session_start"}); err != nil {
		if s.log != nil {
			s.log.Warn("supervisor: could not start mowing session", zap.Error(err))
		}
		return
	}

	pattern, _ := s.Planner.PlanSession()
	stateHash := s.Planner.StateHash()
	sessionStart := time.Now()
	collisions := 0

	ticker := time.NewTicker(s.cfg.Sensors.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.completeSession(stateHash, pattern, sessionStart, collisions)
			return
		case <-ticker.C:
			cam := avoidance.CameraSignal{}
			if s.camera != nil {
				cam = s.camera.Latest()
			}

			switch s.Machine.Current() {
			case statemachine.Mowing:
				snap := s.Sensors.Latest()
				if trigger, _, engaged := s.Avoidance.Engage(snap, cam); engaged {
					collisions++
					_ = s.Machine.TransitionTo(statemachine.Avoiding, map[string]any{"trigger": string(trigger)})
				}
			case statemachine.Avoiding:
				snap := s.Sensors.Latest()
				if avoidance.Evaluate(snap, cam) == avoidance.TriggerNone {
					s.Avoidance.MarkCleared()
					_ = s.Machine.TransitionTo(statemachine.Mowing, map[string]any{"reason": "obstacle_cleared"})
				} else if s.Avoidance.MarkFailed() {
					_ = s.Machine.TransitionTo(statemachine.Stuck, map[string]any{"reason": "avoidance_exhausted"})
					s.completeSession(stateHash, pattern, sessionStart, collisions)
					return
				}
			default:
				// Any other state (Paused, Docking, EmergencyStop, ...) ends
				// this session; the operator or a fresh Idle->Mowing
				// transition starts the next one.
				s.completeSession(stateHash, pattern, sessionStart, collisions)
				return
			}
		}
	}
}

// completeSession reports the finished session's outcome to the path
// planner so its pattern selector can update from the reward, per
// spec.md §4.5.
func (s *Supervisor) completeSession(stateHash string, pattern pathplan.Pattern, start time.Time, collisions int) {
	budget := s.cfg.PathPlanner.SessionTimeBudget
	traversal := time.Since(start).Seconds()

	coverage := 1.0
	if budget > 0 {
		coverage = traversal / budget.Seconds()
		if coverage > 1.0 {
			coverage = 1.0
		}
	}

	if err := s.Planner.CompleteSession(stateHash, pattern, coverage, traversal, budget.Seconds(), collisions); err != nil && s.log != nil {
		s.log.Warn("supervisor: complete session failed", zap.Error(err))
	}
}

// bridgeWriteLoop publishes a fresh status frame at cfg.Bridge.WriteInterval.
func (s *Supervisor) bridgeWriteLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Bridge.WriteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.Sensors.Latest()
			state := s.Machine.Current().String()
			if err := s.Bridge.WriteStatus(s.cfg.MowerID, state, snap); err != nil && s.log != nil {
				s.log.Warn("supervisor: bridge status write failed", zap.Error(err))
			}
		}
	}
}

// Shutdown stops every component in the reverse of Start's order. Only the
// sensor interface's join is bounded by cfg.Supervisor.ShutdownTimeout;
// bridge cleanup, registry teardown and the storage prune/close run
// without a deadline.
func (s *Supervisor) Shutdown() {
	if s.log != nil {
		s.log.Info("supervisor: shutdown beginning")
	}

	timeout := s.cfg.Supervisor.ShutdownTimeout
	if !s.Sensors.Stop(timeout) && s.log != nil {
		s.log.Warn("supervisor: sensor interface force-detached after timeout")
	}

	s.Bridge.Cleanup()
	s.Registry.Cleanup()

	if s.DB != nil {
		if _, err := s.DB.PruneOldLedgerEntries(); err != nil && s.log != nil {
			s.log.Warn("supervisor: ledger prune failed", zap.Error(err))
		}
		_ = s.DB.Close()
	}

	if s.log != nil {
		s.log.Info("supervisor: shutdown complete")
	}
}

// HandleRequiredSensorFailure implements spec.md §4.7's rule: on a
// required-sensor permanent failure, request EmergencyStop. It does not
// publish its own ErrorOccurred event — the sensor interface already
// published the one that led here (internal/sensors checkRequiredDwell),
// and subscribeCriticalErrors is what calls this method.
func (s *Supervisor) HandleRequiredSensorFailure(sensorName string) {
	s.escalateToEmergencyStop(map[string]any{"reason": "required_sensor_down", "sensor": sensorName})
}

// escalateToEmergencyStop requests the EmergencyStop transition. It does
// not call Bus.Publish directly, but the transition's OnEntry callback
// publishes a StateTransition event, which is why callers inside a
// synchronously-dispatched critical-event handler run it on a fresh
// goroutine rather than on the handler's own call stack.
func (s *Supervisor) escalateToEmergencyStop(reason map[string]any) {
	_ = s.Machine.TransitionTo(statemachine.EmergencyStop, reason)
}

// AcquirePIDFile enforces single-instance operation, per spec.md §4.7: if
// the PID file exists and names a live process, startup aborts unless
// forceCleanup requests sending SIGTERM then, after 2s, SIGKILL.
func AcquirePIDFile(path string, forceCleanup bool, log *zap.Logger) error {
	if data, err := os.ReadFile(path); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && pid > 0 && processAlive(pid) {
			if !forceCleanup {
				return fmt.Errorf("supervisor: another instance is running (pid %d); pass force_cleanup to take over", pid)
			}
			if log != nil {
				log.Warn("supervisor: force_cleanup requested, terminating sibling instance", zap.Int("pid", pid))
			}
			_ = unix.Kill(pid, unix.SIGTERM)
			time.Sleep(2 * time.Second)
			if processAlive(pid) {
				_ = unix.Kill(pid, unix.SIGKILL)
			}
		}
	}

	return atomicfile.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// ReleasePIDFile removes the PID file on clean shutdown.
func ReleasePIDFile(path string) {
	_ = os.Remove(path)
}

func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
