package statemachine

import (
	"testing"

	"go.uber.org/zap"
)

func TestMachine_ValidTransition_RecordsHistory(t *testing.T) {
	m := New(100, Callbacks{}, zap.NewNop())

	if err := m.TransitionTo(Idle, nil); err != nil {
		t.Fatalf("Initializing -> Idle: %v", err)
	}
	if err := m.TransitionTo(Mowing, nil); err != nil {
		t.Fatalf("Idle -> Mowing: %v", err)
	}

	if m.Current() != Mowing {
		t.Fatalf("expected current state Mowing, got %s", m.Current())
	}

	hist := m.History()
	if len(hist) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(hist))
	}
	last := hist[len(hist)-1]
	if last.From != Idle || last.To != Mowing {
		t.Errorf("expected last record Idle->Mowing, got %s->%s", last.From, last.To)
	}
}

func TestMachine_InvalidTransition_NoMutation(t *testing.T) {
	m := New(100, Callbacks{}, zap.NewNop())
	_ = m.TransitionTo(Idle, nil)
	_ = m.TransitionTo(Docking, nil)
	_ = m.TransitionTo(Docked, nil)

	beforeHistLen := len(m.History())

	err := m.TransitionTo(Mowing, nil)
	if err == nil {
		t.Fatal("expected InvalidTransition error from Docked -> Mowing")
	}
	if m.Current() != Docked {
		t.Fatalf("expected state to remain Docked, got %s", m.Current())
	}
	if len(m.History()) != beforeHistLen {
		t.Fatalf("expected no new history record on invalid transition")
	}
}

func TestMachine_EmergencyStop_ReachableFromEveryNonTerminalState(t *testing.T) {
	for _, s := range []State{Initializing, Idle, Mowing, Docking, Manual, Avoiding,
		ReturningHome, Docked, Paused, Error, Stuck, LowBattery} {
		if !CanTransition(s, EmergencyStop) {
			t.Errorf("expected EmergencyStop reachable from %s", s)
		}
	}
	if CanTransition(ShuttingDown, EmergencyStop) {
		t.Error("ShuttingDown must have no outgoing transitions, including EmergencyStop")
	}
}

func TestMachine_EmergencyStopOverride_ThenRestrictedExits(t *testing.T) {
	var exited, entered State
	m := New(100, Callbacks{
		OnExit:  func(from State, ctx map[string]any) { exited = from },
		OnEntry: func(to State, ctx map[string]any) { entered = to },
	}, zap.NewNop())

	_ = m.TransitionTo(Idle, nil)
	_ = m.TransitionTo(Mowing, nil)

	if err := m.TransitionTo(EmergencyStop, map[string]any{"reason": "button"}); err != nil {
		t.Fatalf("Mowing -> EmergencyStop should always succeed: %v", err)
	}
	if m.Previous() != Mowing {
		t.Errorf("expected previous state Mowing, got %s", m.Previous())
	}
	if exited != Mowing || entered != EmergencyStop {
		t.Errorf("expected OnExit(Mowing) and OnEntry(EmergencyStop), got exit=%s entry=%s", exited, entered)
	}

	if err := m.TransitionTo(Mowing, nil); err == nil {
		t.Fatal("expected EmergencyStop -> Mowing to be rejected")
	}
	if err := m.TransitionTo(Idle, nil); err != nil {
		t.Fatalf("EmergencyStop -> Idle should be permitted: %v", err)
	}
}

func TestMachine_SetErrorCondition(t *testing.T) {
	m := New(100, Callbacks{}, zap.NewNop())
	_ = m.TransitionTo(Idle, nil)

	if err := m.SetErrorCondition("imu timeout"); err != nil {
		t.Fatalf("SetErrorCondition: %v", err)
	}
	if m.Current() != Error {
		t.Fatalf("expected state Error, got %s", m.Current())
	}
	if m.ErrorMessage() != "imu timeout" {
		t.Errorf("expected recorded error message, got %q", m.ErrorMessage())
	}

	m.ClearErrorCondition()
	if m.ErrorMessage() != "" {
		t.Errorf("expected error message cleared, got %q", m.ErrorMessage())
	}
	if m.Current() != Error {
		t.Errorf("ClearErrorCondition must not transition state, still Error, got %s", m.Current())
	}
}

func TestMachine_HistoryBoundedAtCapacity(t *testing.T) {
	m := New(4, Callbacks{}, zap.NewNop())
	_ = m.TransitionTo(Idle, nil)
	_ = m.TransitionTo(Mowing, nil)
	_ = m.TransitionTo(Paused, nil)
	_ = m.TransitionTo(Mowing, nil)
	_ = m.TransitionTo(Paused, nil)
	_ = m.TransitionTo(Idle, nil)

	hist := m.History()
	if len(hist) != 4 {
		t.Fatalf("expected history capped at 4, got %d", len(hist))
	}
}
