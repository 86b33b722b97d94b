package sensors

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BusKind identifies which shared resource a Reader depends on, so the
// poll loop knows whether a failing sensor is a bus-recovery candidate.
type BusKind int

const (
	BusI2C BusKind = iota
	BusSerial
	BusOther
)

// Reader is the capability interface every sensor implements, per
// spec.md §9's "dynamic duck-typed sensor drivers" redesign note: a
// single interface parameterized over a reading type, with concrete
// sensors as variants behind it rather than ad hoc per-driver structs.
type Reader interface {
	// Name is the stable sensor identifier used in Health, logs, and
	// metrics labels.
	Name() string

	// Bus reports which shared hardware resource this sensor depends on.
	Bus() BusKind

	// Timeout bounds a single Read call, per spec.md §4.2 (IMU 50ms,
	// ToF 30ms, others 100ms).
	Timeout() time.Duration

	// Read performs one read attempt, respecting ctx's deadline. The
	// returned value's concrete type is sensor-specific (IMUData,
	// ToFData, EnvironmentData, PowerData, or GPSData).
	Read(ctx context.Context) (any, error)
}

// ─── Simulated readers ──────────────────────────────────────────────────────
//
// The supervisor and the simulation entrypoint use these in place of real
// drivers; no real driver is wired. Each
// holds a settable in-memory value so tests and the simulation entrypoint
// can inject specific sensor conditions (e.g. a ToF obstacle) without any
// real I2C/serial hardware.

// SimIMU is a simulated BNO085-class IMU reader.
type SimIMU struct {
	mu   sync.Mutex
	data IMUData
	fail bool
}

func NewSimIMU() *SimIMU { return &SimIMU{data: IMUData{Safe: true}} }

func (s *SimIMU) Name() string        { return "imu" }
func (s *SimIMU) Bus() BusKind        { return BusSerial }
func (s *SimIMU) Timeout() time.Duration { return 50 * time.Millisecond }

func (s *SimIMU) Read(ctx context.Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, fmt.Errorf("sim imu: injected failure")
	}
	return s.data, nil
}

// Set updates the simulated IMU reading.
func (s *SimIMU) Set(d IMUData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = d
}

// SetFailing forces every subsequent Read to fail until cleared.
func (s *SimIMU) SetFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// SimToF is a simulated VL53L0X-class dual/triple ToF reader.
type SimToF struct {
	mu   sync.Mutex
	data ToFData
	fail bool
}

func NewSimToF() *SimToF {
	return &SimToF{data: ToFData{LeftMM: 2000, RightMM: 2000, FrontMM: 2000}}
}

func (s *SimToF) Name() string           { return "tof" }
func (s *SimToF) Bus() BusKind           { return BusI2C }
func (s *SimToF) Timeout() time.Duration { return 30 * time.Millisecond }

func (s *SimToF) Read(ctx context.Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, fmt.Errorf("sim tof: injected failure")
	}
	return s.data, nil
}

func (s *SimToF) Set(d ToFData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = d
}

func (s *SimToF) SetFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// SimEnvironment is a simulated BME280-class reader (optional sensor).
type SimEnvironment struct {
	mu   sync.Mutex
	data EnvironmentData
	fail bool
}

func NewSimEnvironment() *SimEnvironment {
	return &SimEnvironment{data: EnvironmentData{TemperatureC: 22.0, HumidityPct: 45.0, PressureHPa: 1015.0}}
}

func (s *SimEnvironment) Name() string           { return "bme280" }
func (s *SimEnvironment) Bus() BusKind           { return BusI2C }
func (s *SimEnvironment) Timeout() time.Duration { return 100 * time.Millisecond }

func (s *SimEnvironment) Read(ctx context.Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, fmt.Errorf("sim bme280: injected failure")
	}
	return s.data, nil
}

func (s *SimEnvironment) SetFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// SimPower is a simulated INA3221-class reader (optional sensor).
type SimPower struct {
	mu   sync.Mutex
	data PowerData
	fail bool
}

func NewSimPower() *SimPower {
	return &SimPower{data: PowerData{VoltageV: 12.6, CurrentA: 1.2, PercentPB: 90.0}}
}

func (s *SimPower) Name() string           { return "ina3221" }
func (s *SimPower) Bus() BusKind           { return BusI2C }
func (s *SimPower) Timeout() time.Duration { return 100 * time.Millisecond }

func (s *SimPower) Read(ctx context.Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, fmt.Errorf("sim ina3221: injected failure")
	}
	return s.data, nil
}

func (s *SimPower) Set(d PowerData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = d
}

func (s *SimPower) SetFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// SimGPS is a simulated GPS reader (optional sensor).
type SimGPS struct {
	mu   sync.Mutex
	data GPSData
	fail bool
}

func NewSimGPS() *SimGPS {
	return &SimGPS{data: GPSData{HDOP: 99.9}}
}

func (s *SimGPS) Name() string           { return "gps" }
func (s *SimGPS) Bus() BusKind           { return BusSerial }
func (s *SimGPS) Timeout() time.Duration { return 100 * time.Millisecond }

func (s *SimGPS) Read(ctx context.Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, fmt.Errorf("sim gps: injected failure")
	}
	return s.data, nil
}

func (s *SimGPS) Set(d GPSData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = d
}

func (s *SimGPS) SetFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}
