package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/acredsfan/mowercore/internal/avoidance"
	"github.com/acredsfan/mowercore/internal/config"
	"github.com/acredsfan/mowercore/internal/eventbus"
	"github.com/acredsfan/mowercore/internal/mowererrors"
	"github.com/acredsfan/mowercore/internal/observability"
	"github.com/acredsfan/mowercore/internal/pathplan"
	"github.com/acredsfan/mowercore/internal/sensors"
	"github.com/acredsfan/mowercore/internal/statemachine"
)

type noCamera struct{}

func (noCamera) Latest() avoidance.CameraSignal { return avoidance.CameraSignal{} }

type noPose struct{}

func (noPose) Pose() avoidance.Pose { return avoidance.Pose{} }

func waitForState(t *testing.T, m *statemachine.Machine, want statemachine.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.Current() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, current is %s", want, m.Current())
}

func newTestSupervisor(t *testing.T) (*Supervisor, *sensors.SimToF) {
	t.Helper()

	cfg := config.Defaults()
	cfg.Sensors.PollInterval = 5 * time.Millisecond
	boundary := pathplan.Polygon{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	metrics := observability.NewMetrics()

	tof := sensors.NewSimToF()
	bus := eventbus.New(cfg.EventBus.QueueSize, cfg.EventBus.CriticalEventTypes, zap.NewNop(), metrics)
	machine := statemachine.New(cfg.StateMachine.AuditTrailSize, statemachine.Callbacks{
		OnEntry: func(to statemachine.State, ctx map[string]any) {
			bus.Publish(eventbus.Event{Type: eventbus.EventStateTransition, Payload: to})
		},
	}, zap.NewNop())
	planner := pathplan.New(cfg.PathPlanner, boundary, metrics, zap.NewNop())
	avoid := avoidance.New(cfg.Avoidance, bus, planner, noCamera{}, noPose{}, metrics, zap.NewNop())
	sensorIface := sensors.New(cfg.Sensors, []sensors.Reader{tof}, nil, nil, bus, metrics, zap.NewNop())

	sup := &Supervisor{
		cfg:       &cfg,
		log:       zap.NewNop(),
		metrics:   metrics,
		Sensors:   sensorIface,
		Bus:       bus,
		Machine:   machine,
		Planner:   planner,
		Avoidance: avoid,
		camera:    noCamera{},
	}
	sup.subscribeCriticalErrors()
	return sup, tof
}

// mowLoop requires the state machine already be in Idle; Supervisor.Start
// does that transition before launching mowLoop, so the test mirrors it.
func TestMowLoop_TransitionsToMowingAndEngagesAvoidanceOnObstacle(t *testing.T) {
	sup, tof := newTestSupervisor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup.Sensors.Start(ctx)
	defer sup.Sensors.Stop(time.Second)

	if err := sup.Machine.TransitionTo(statemachine.Idle, nil); err != nil {
		t.Fatalf("TransitionTo(Idle): %v", err)
	}

	go sup.mowLoop(ctx)

	waitForState(t, sup.Machine, statemachine.Mowing, time.Second)

	tof.Set(sensors.ToFData{LeftMM: 100, RightMM: 2000, FrontMM: 2000})
	waitForState(t, sup.Machine, statemachine.Avoiding, time.Second)

	if n := len(sup.Avoidance.Ledger()); n != 1 {
		t.Fatalf("expected one avoidance engagement recorded, got %d", n)
	}

	tof.Set(sensors.ToFData{LeftMM: 2000, RightMM: 2000, FrontMM: 2000})
	waitForState(t, sup.Machine, statemachine.Mowing, time.Second)
}

func TestMowLoop_ThreeUnresolvedEngagementsEscalateToStuck(t *testing.T) {
	sup, tof := newTestSupervisor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup.Sensors.Start(ctx)
	defer sup.Sensors.Stop(time.Second)

	if err := sup.Machine.TransitionTo(statemachine.Idle, nil); err != nil {
		t.Fatalf("TransitionTo(Idle): %v", err)
	}

	go sup.mowLoop(ctx)

	waitForState(t, sup.Machine, statemachine.Mowing, time.Second)

	tof.Set(sensors.ToFData{LeftMM: 100, RightMM: 100, FrontMM: 100})
	waitForState(t, sup.Machine, statemachine.Stuck, 2*time.Second)
}

func TestSupervisor_CriticalErrorEvent_EscalatesToEmergencyStop(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	if err := sup.Machine.TransitionTo(statemachine.Idle, nil); err != nil {
		t.Fatalf("TransitionTo(Idle): %v", err)
	}

	err := mowererrors.New(mowererrors.CodeRequiredSensorDown, "required sensor down", map[string]any{"sensor": "tof"})
	sup.Bus.Publish(eventbus.Event{Type: eventbus.EventErrorOccurred, Payload: err})

	waitForState(t, sup.Machine, statemachine.EmergencyStop, time.Second)
}

func TestSupervisor_HandleRequiredSensorFailure_TransitionsToEmergencyStop(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	if err := sup.Machine.TransitionTo(statemachine.Idle, nil); err != nil {
		t.Fatalf("TransitionTo(Idle): %v", err)
	}

	sup.HandleRequiredSensorFailure("imu")

	if sup.Machine.Current() != statemachine.EmergencyStop {
		t.Fatalf("expected EmergencyStop, got %s", sup.Machine.Current())
	}
}

func TestPIDFile_AcquireRelease_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mowercore.pid")

	if err := AcquirePIDFile(path, false, zap.NewNop()); err != nil {
		t.Fatalf("AcquirePIDFile: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected pid file to exist after acquire: %v", err)
	}

	ReleasePIDFile(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed after release, got err=%v", err)
	}
}

func TestAcquirePIDFile_LiveSiblingAbortsWithoutForceCleanup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mowercore.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatalf("seed pid file: %v", err)
	}

	if err := AcquirePIDFile(path, false, zap.NewNop()); err == nil {
		t.Fatal("expected AcquirePIDFile to abort when the recorded pid is alive and force_cleanup is false")
	}
}
