package avoidance

import (
	"testing"

	"go.uber.org/zap"

	"github.com/acredsfan/mowercore/internal/config"
	"github.com/acredsfan/mowercore/internal/sensors"
)

func TestEvaluate_ToFLeftTriggers(t *testing.T) {
	snap := sensors.Snapshot{ToF: sensors.ToFData{LeftMM: 100, RightMM: 2000}}
	if got := Evaluate(snap, CameraSignal{}); got != TriggerToFLeft {
		t.Fatalf("got %v, want TriggerToFLeft", got)
	}
}

func TestEvaluate_BothToFTriggersBoth(t *testing.T) {
	snap := sensors.Snapshot{ToF: sensors.ToFData{LeftMM: 100, RightMM: 100}}
	if got := Evaluate(snap, CameraSignal{}); got != TriggerToFBoth {
		t.Fatalf("got %v, want TriggerToFBoth", got)
	}
}

func TestEvaluate_CameraObstacleTriggers(t *testing.T) {
	snap := sensors.Snapshot{ToF: sensors.ToFData{LeftMM: 2000, RightMM: 2000}}
	if got := Evaluate(snap, CameraSignal{BoxAreaPx: 1500}); got != TriggerCamera {
		t.Fatalf("got %v, want TriggerCamera", got)
	}
}

func TestEvaluate_DropOffTakesPriority(t *testing.T) {
	snap := sensors.Snapshot{ToF: sensors.ToFData{LeftMM: 2000, RightMM: 2000}}
	if got := Evaluate(snap, CameraSignal{DropOff: true}); got != TriggerDropOff {
		t.Fatalf("got %v, want TriggerDropOff", got)
	}
}

func TestEvaluate_NoTriggerWhenClear(t *testing.T) {
	snap := sensors.Snapshot{ToF: sensors.ToFData{LeftMM: 2000, RightMM: 2000}}
	if got := Evaluate(snap, CameraSignal{}); got != TriggerNone {
		t.Fatalf("got %v, want TriggerNone", got)
	}
}

func TestSelectStrategy_MapsTriggersToManeuvers(t *testing.T) {
	cases := []struct {
		trigger TriggerReason
		want    Strategy
	}{
		{TriggerToFLeft, StrategyTurnRight},
		{TriggerToFRight, StrategyTurnLeft},
		{TriggerDropOff, StrategyBackupRotate180},
		{TriggerToFBoth, StrategyBackupRotate90},
		{TriggerCamera, StrategyBackupRotate90},
	}
	for _, c := range cases {
		if got := SelectStrategy(c.trigger, 0, 0); got != c.want {
			t.Errorf("SelectStrategy(%v) = %v, want %v", c.trigger, got, c.want)
		}
	}
}

func testAvoidanceConfig() config.AvoidanceConfig {
	return config.AvoidanceConfig{
		StrikesBeforeStuck:     3,
		ReactionDistanceMeters: 0.4,
		BackupDurationSeconds:  1.5,
	}
}

func TestMonitor_Engage_RecordsChainedAuditTrail(t *testing.T) {
	m := New(testAvoidanceConfig(), nil, nil, nil, nil, nil, zap.NewNop())

	snap := sensors.Snapshot{ToF: sensors.ToFData{LeftMM: 100, RightMM: 2000}}
	trigger, strategy, engaged := m.Engage(snap, CameraSignal{})
	if !engaged || trigger != TriggerToFLeft || strategy != StrategyTurnRight {
		t.Fatalf("unexpected engagement: trigger=%v strategy=%v engaged=%v", trigger, strategy, engaged)
	}

	snap2 := sensors.Snapshot{ToF: sensors.ToFData{LeftMM: 2000, RightMM: 100}}
	_, _, engaged2 := m.Engage(snap2, CameraSignal{})
	if !engaged2 {
		t.Fatal("expected a second engagement")
	}

	ledger := m.Ledger()
	if len(ledger) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(ledger))
	}
	if ledger[1].ParentHash != ledger[0].DecisionHash {
		t.Fatalf("expected entry 2's parent hash to chain to entry 1's decision hash")
	}
	if ledger[0].DecisionHash == "" || ledger[1].DecisionHash == "" {
		t.Fatal("expected non-empty decision hashes")
	}
}

func TestMonitor_MarkFailed_EscalatesAfterThreeStrikesWithinWindow(t *testing.T) {
	m := New(testAvoidanceConfig(), nil, nil, nil, nil, nil, zap.NewNop())

	if m.MarkFailed() {
		t.Fatal("expected no escalation after 1 strike")
	}
	if m.MarkFailed() {
		t.Fatal("expected no escalation after 2 strikes")
	}
	if !m.MarkFailed() {
		t.Fatal("expected escalation after 3 strikes")
	}
}

func TestMonitor_MarkCleared_ResetsStrikeCount(t *testing.T) {
	m := New(testAvoidanceConfig(), nil, nil, nil, nil, nil, zap.NewNop())
	m.MarkFailed()
	m.MarkFailed()
	m.MarkCleared()
	if m.MarkFailed() {
		t.Fatal("expected strike count to reset after MarkCleared")
	}
}
