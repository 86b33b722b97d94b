package hardware

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeComponent struct {
	name    string
	failing bool
	healthy bool
	cleanup bool
}

func (f *fakeComponent) Name() string { return f.name }
func (f *fakeComponent) Initialize(ctx context.Context) error {
	if f.failing {
		return fmt.Errorf("fake component %s: injected failure", f.name)
	}
	f.healthy = true
	return nil
}
func (f *fakeComponent) Cleanup() error { f.cleanup = true; return nil }
func (f *fakeComponent) Healthy() bool  { return f.healthy }

func TestRegistry_Initialize_RequiredFailureAbortsStartup(t *testing.T) {
	r := NewRegistry(nil, time.Second, zap.NewNop())
	r.Register(&fakeComponent{name: "drive_motors", failing: true}, Required)

	if err := r.Initialize(context.Background()); err == nil {
		t.Fatal("expected an error when a required component fails to initialize")
	}
}

func TestRegistry_Initialize_OptionalFailureContinues(t *testing.T) {
	r := NewRegistry(nil, time.Second, zap.NewNop())
	gps := &fakeComponent{name: "gps", failing: true}
	imu := &fakeComponent{name: "imu"}
	r.Register(gps, Optional)
	r.Register(imu, Required)

	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if r.Healthy("gps") {
		t.Fatal("expected gps to be marked unhealthy")
	}
	if !r.Healthy("imu") {
		t.Fatal("expected imu to be marked healthy")
	}
}

func TestRegistry_Cleanup_RunsInReverseOrder(t *testing.T) {
	r := NewRegistry(nil, time.Second, zap.NewNop())
	var order []string
	a := &fakeComponentWithOrder{name: "a", order: &order}
	b := &fakeComponentWithOrder{name: "b", order: &order}
	r.Register(a, Required)
	r.Register(b, Required)

	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	r.Cleanup()

	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Fatalf("expected cleanup order [b, a], got %v", order)
	}
}

type fakeComponentWithOrder struct {
	name  string
	order *[]string
}

func (f *fakeComponentWithOrder) Name() string                         { return f.name }
func (f *fakeComponentWithOrder) Initialize(ctx context.Context) error { return nil }
func (f *fakeComponentWithOrder) Cleanup() error {
	*f.order = append(*f.order, f.name)
	return nil
}
func (f *fakeComponentWithOrder) Healthy() bool { return true }
