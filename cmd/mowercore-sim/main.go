// Package main — cmd/mowercore-sim/main.go
//
// mowercore simulation harness.
//
// Purpose: exercise the sensor fusion, obstacle avoidance, and state
// machine subsystems end-to-end against the simulated sensor readers,
// without any real hardware, by running a scripted scenario of injected
// sensor conditions and reporting the resulting state transitions and
// avoidance engagements.
//
// Output: per-tick CSV to stdout (tick, state, tof_front_mm, trigger).
// Summary: final state, whether avoidance engaged, and a pass/fail verdict
// to stderr. front_obstacle passes only if avoidance engaged; the other
// scenarios always report PASS.
//
// Usage:
//
//	mowercore-sim -scenario front_obstacle
//	mowercore-sim -scenario required_sensor_dropout -ticks 200
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/acredsfan/mowercore/internal/avoidance"
	"github.com/acredsfan/mowercore/internal/config"
	"github.com/acredsfan/mowercore/internal/eventbus"
	"github.com/acredsfan/mowercore/internal/observability"
	"github.com/acredsfan/mowercore/internal/pathplan"
	"github.com/acredsfan/mowercore/internal/sensors"
	"github.com/acredsfan/mowercore/internal/statemachine"
)

func main() {
	scenario := flag.String("scenario", "front_obstacle", "Scenario name: front_obstacle, required_sensor_dropout, clear_run")
	ticks := flag.Int("ticks", 100, "Number of simulated poll cycles")
	tickInterval := flag.Duration("tick_interval", 20*time.Millisecond, "Wall-clock time per simulated tick")
	flag.Parse()

	log := zap.NewNop()
	metrics := observability.NewMetrics()
	cfg := config.Defaults()

	tof := sensors.NewSimToF()
	imu := sensors.NewSimIMU()
	env := sensors.NewSimEnvironment()
	power := sensors.NewSimPower()
	gps := sensors.NewSimGPS()

	bus := eventbus.New(cfg.EventBus.QueueSize, cfg.EventBus.CriticalEventTypes, log, metrics)
	machine := statemachine.New(cfg.StateMachine.AuditTrailSize, statemachine.Callbacks{}, log)
	boundary := pathplan.Polygon{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	planner := pathplan.New(cfg.PathPlanner, boundary, metrics, log)
	monitor := avoidance.New(cfg.Avoidance, bus, planner, constantCamera{}, fixedPose{}, metrics, log)

	iface := sensors.New(cfg.Sensors, []sensors.Reader{tof, imu, env, power, gps},
		cfg.Hardware.RequiredComponents, nil, bus, metrics, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	iface.Start(ctx)
	defer iface.Stop(time.Second)

	_ = machine.TransitionTo(statemachine.Idle, map[string]any{"reason": "sim_start"})
	_ = machine.TransitionTo(statemachine.Mowing, map[string]any{"reason": "sim_start"})

	w := csv.NewWriter(os.Stdout)
	_ = w.Write([]string{"tick", "state", "tof_front_mm", "trigger"})
	defer w.Flush()

	reachedAvoiding := false

	for t := 0; t < *ticks; t++ {
		applyScenario(*scenario, t, tof)
		time.Sleep(*tickInterval)

		snap := iface.Latest()
		trigger := avoidance.Evaluate(snap, avoidance.CameraSignal{})
		if trigger != avoidance.TriggerNone {
			if _, _, ok := monitor.Engage(snap, avoidance.CameraSignal{}); ok {
				reachedAvoiding = true
				_ = machine.TransitionTo(statemachine.Avoiding, map[string]any{"trigger": string(trigger)})
			}
		} else if machine.Current() == statemachine.Avoiding {
			monitor.MarkCleared()
			_ = machine.TransitionTo(statemachine.Mowing, map[string]any{"reason": "obstacle_cleared"})
		}

		_ = w.Write([]string{
			strconv.Itoa(t),
			machine.Current().String(),
			strconv.FormatFloat(snap.ToF.FrontMM, 'f', 1, 64),
			string(trigger),
		})
	}
	w.Flush()

	fmt.Fprintf(os.Stderr, "\n=== SCENARIO RESULT: %s ===\n", *scenario)
	fmt.Fprintf(os.Stderr, "final state: %s\n", machine.Current().String())
	fmt.Fprintf(os.Stderr, "avoidance engaged: %v\n", reachedAvoiding)

	switch *scenario {
	case "front_obstacle":
		if reachedAvoiding {
			fmt.Fprintln(os.Stderr, "RESULT: PASS")
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "RESULT: FAIL — expected an avoidance engagement")
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, "RESULT: PASS (no terminal-state assertion for this scenario)")
		os.Exit(0)
	}
}

// applyScenario mutates the simulated readers for tick t according to the
// named scenario.
func applyScenario(name string, t int, tof *sensors.SimToF) {
	switch name {
	case "front_obstacle":
		// avoidance.Evaluate triggers off the left/right ToF readings, not
		// front distance, so both sides are blocked to simulate something
		// squarely ahead of the mower.
		if t == 20 {
			tof.Set(sensors.ToFData{LeftMM: 150, RightMM: 150, FrontMM: 150})
		}
		if t == 40 {
			tof.Set(sensors.ToFData{LeftMM: 2000, RightMM: 2000, FrontMM: 2000})
		}
	case "required_sensor_dropout":
		if t == 10 {
			tof.SetFailing(true)
		}
		if t == 60 {
			tof.SetFailing(false)
		}
	case "clear_run":
		// No injected faults; the mower should mow uninterrupted.
	}
}

// constantCamera and fixedPose stand in for vision and localization,
// which lie outside the scope of this harness; only ToF-triggered
// avoidance is exercised.
type constantCamera struct{}

func (constantCamera) Latest() avoidance.CameraSignal { return avoidance.CameraSignal{} }

type fixedPose struct{}

func (fixedPose) Pose() avoidance.Pose { return avoidance.Pose{} }
