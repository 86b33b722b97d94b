package sensors

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acredsfan/mowercore/internal/config"
	"github.com/acredsfan/mowercore/internal/eventbus"
	"github.com/acredsfan/mowercore/internal/hardware"
	"github.com/acredsfan/mowercore/internal/mowererrors"
	"github.com/acredsfan/mowercore/internal/observability"
)

// Interface is the Sensor Interface (C2): one poll loop per registered
// Reader, I2C bus recovery, and a fusion aggregator that publishes a
// complete Snapshot at a fixed cadence.
type Interface struct {
	cfg     config.SensorsConfig
	i2c     *hardware.I2CBus
	bus     *eventbus.Bus
	metrics *observability.Metrics
	log     *zap.Logger

	readers  []Reader
	required map[string]bool

	mu     sync.RWMutex
	health map[string]*Health
	latest map[string]Reading

	snapMu   sync.RWMutex
	snapshot Snapshot

	requiredSince   map[string]time.Time
	lastBusRecovery time.Time

	estop atomicBool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// atomicBool avoids importing sync/atomic's generic Bool for go<1.19 style
// clarity; mutex-backed is simple enough at this call frequency.
type atomicBool struct {
	mu sync.RWMutex
	v  bool
}

func (a *atomicBool) Set(v bool) { a.mu.Lock(); a.v = v; a.mu.Unlock() }
func (a *atomicBool) Get() bool  { a.mu.RLock(); defer a.mu.RUnlock(); return a.v }

// New constructs a Sensor Interface. requiredNames lists sensors whose
// sustained failure raises a CriticalError event per spec.md §4.2.
func New(cfg config.SensorsConfig, readers []Reader, requiredNames []string, i2c *hardware.I2CBus, bus *eventbus.Bus, metrics *observability.Metrics, log *zap.Logger) *Interface {
	required := make(map[string]bool, len(requiredNames))
	for _, n := range requiredNames {
		required[n] = true
	}

	health := make(map[string]*Health, len(readers))
	latest := make(map[string]Reading, len(readers))
	for _, r := range readers {
		health[r.Name()] = &Health{Name: r.Name(), Working: true}
	}

	return &Interface{
		cfg:           cfg,
		i2c:           i2c,
		bus:           bus,
		metrics:       metrics,
		log:           log,
		readers:       readers,
		required:      required,
		health:        health,
		latest:        latest,
		snapshot:      sentinelSnapshot(),
		requiredSince: make(map[string]time.Time),
	}
}

// Start launches one poll goroutine per sensor plus the fusion aggregator.
// It returns immediately; call Stop to join all goroutines.
func (iface *Interface) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	iface.cancel = cancel

	for _, r := range iface.readers {
		iface.wg.Add(1)
		go iface.pollLoop(ctx, r)
	}

	iface.wg.Add(1)
	go iface.fusionLoop(ctx)
}

// Stop signals every goroutine to exit and waits up to timeout for them to
// join. Returns true if all goroutines joined within the deadline.
func (iface *Interface) Stop(timeout time.Duration) bool {
	if iface.cancel != nil {
		iface.cancel()
	}
	done := make(chan struct{})
	go func() {
		iface.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		if iface.log != nil {
			iface.log.Warn("sensors: goroutines did not join within timeout, forcing detach")
		}
		return false
	}
}

// pollLoop runs one sensor's read-retry-backoff cycle forever until ctx is
// cancelled.
func (iface *Interface) pollLoop(ctx context.Context, r Reader) {
	defer iface.wg.Done()
	ticker := time.NewTicker(iface.cfg.PollInterval)
	defer ticker.Stop()

	iface.pollOnce(ctx, r)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			iface.pollOnce(ctx, r)
		}
	}
}

// pollOnce performs one read cycle: an initial attempt plus up to
// cfg.MaxRetries retries with exponential backoff, per spec.md §4.2.
func (iface *Interface) pollOnce(ctx context.Context, r Reader) {
	name := r.Name()
	var lastErr error

	for attempt := 0; attempt <= iface.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, iface.cfg.RetryBaseDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		readCtx, cancel := context.WithTimeout(ctx, r.Timeout())
		start := time.Now()
		val, err := r.Read(readCtx)
		cancel()

		if iface.metrics != nil {
			iface.metrics.SensorReadLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}

		if err == nil {
			iface.recordSuccess(name, val)
			return
		}
		lastErr = err
	}

	iface.recordFailure(name, lastErr, r.Bus())
}

// backoffDelay implements delay = base * 2^min(attempt-1, 5), capped at 2s.
func backoffDelay(attempt int, base time.Duration) time.Duration {
	shift := attempt - 1
	if shift > 5 {
		shift = 5
	}
	if shift < 0 {
		shift = 0
	}
	d := base * time.Duration(1<<uint(shift))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

func (iface *Interface) recordSuccess(name string, val any) {
	iface.mu.Lock()
	h := iface.health[name]
	h.ConsecutiveFailures = 0
	h.Working = true
	h.LastSuccess = time.Now()
	iface.latest[name] = Reading{SensorName: name, Value: val, Timestamp: h.LastSuccess, Status: StatusOK}
	iface.mu.Unlock()

	iface.mu.Lock()
	delete(iface.requiredSince, name)
	iface.mu.Unlock()
}

func (iface *Interface) recordFailure(name string, err error, bus BusKind) {
	iface.mu.Lock()
	h := iface.health[name]
	h.ConsecutiveFailures++
	h.TotalFailures++
	if err != nil {
		h.LastError = err.Error()
	}
	h.Working = h.ConsecutiveFailures < uint32(iface.cfg.FailureThreshold)
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	r := Reading{SensorName: name, Timestamp: time.Now(), Status: StatusFailed, Error: errMsg}
	if prev := iface.latest[name]; prev.Value != nil {
		// Keep the last good value and its timestamp, flagged stale, so
		// fuse can reuse it until FreshnessBudget expires.
		r.Value, r.Timestamp, r.Status = prev.Value, prev.Timestamp, StatusStale
	}
	iface.latest[name] = r

	isRequired := iface.required[name]
	if isRequired {
		if _, ok := iface.requiredSince[name]; !ok {
			iface.requiredSince[name] = time.Now()
		}
	}
	consecutive := h.ConsecutiveFailures
	iface.mu.Unlock()

	if iface.metrics != nil {
		iface.metrics.SensorReadFailuresTotal.WithLabelValues(name).Inc()
	}
	if iface.log != nil {
		lvl := iface.log.Warn
		if consecutive >= uint32(iface.cfg.FailureThreshold) {
			lvl = iface.log.Error
		}
		lvl("sensor read exhausted retries", zap.String("sensor", name), zap.Uint32("consecutive_failures", consecutive), zap.Error(err))
	}

	if bus == BusI2C && int(consecutive) >= iface.cfg.BusRecoveryFailureThreshold {
		iface.maybeRecoverBus()
	}
}

// maybeRecoverBus issues an I2C bus reset, rate-limited by the bus itself
// (spec.md §4.2: one attempt per 30s).
func (iface *Interface) maybeRecoverBus() {
	if iface.i2c == nil {
		return
	}
	if err := iface.i2c.Reset(); err != nil {
		if iface.log != nil {
			iface.log.Debug("sensors: bus recovery skipped or failed", zap.Error(err))
		}
	}
}

// fusionLoop composes and publishes a complete Snapshot at the configured
// cadence, per spec.md §4.2's fusion aggregator.
func (iface *Interface) fusionLoop(ctx context.Context) {
	defer iface.wg.Done()
	ticker := time.NewTicker(iface.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			iface.fuseAndPublish()
		}
	}
}

func (iface *Interface) fuseAndPublish() {
	snap := iface.fuse()

	iface.snapMu.Lock()
	iface.snapshot = snap
	iface.snapMu.Unlock()

	if iface.bus != nil {
		iface.bus.Publish(eventbus.Event{Type: eventbus.EventSensorSnapshot, Payload: snap})
	}

	iface.checkRequiredDwell()
}

// fuse composes the latest per-sensor readings into a Snapshot, always
// emitting the complete shape. A reading older than FreshnessBudget is
// downgraded to stale and, past that, the field falls back to the
// sentinel default, per spec.md §4.2.
func (iface *Interface) fuse() Snapshot {
	iface.mu.RLock()
	defer iface.mu.RUnlock()

	snap := sentinelSnapshot()
	snap.Timestamp = time.Now()

	apply := func(name string, onFresh func(any)) {
		r, ok := iface.latest[name]
		if !ok || r.Status == StatusFailed {
			return
		}
		if time.Since(r.Timestamp) > iface.cfg.FreshnessBudget {
			return // too stale even for the last-good fallback
		}
		onFresh(r.Value)
	}

	apply("imu", func(v any) {
		if d, ok := v.(IMUData); ok {
			snap.IMU = d
		}
	})
	apply("tof", func(v any) {
		if d, ok := v.(ToFData); ok {
			snap.ToF = d
		}
	})
	apply("bme280", func(v any) {
		if d, ok := v.(EnvironmentData); ok {
			snap.Environment = d
		}
	})
	apply("ina3221", func(v any) {
		if d, ok := v.(PowerData); ok {
			snap.Power = d
		}
	})
	apply("gps", func(v any) {
		if d, ok := v.(GPSData); ok {
			snap.GPS = d
		}
	})

	return snap
}

// checkRequiredDwell raises a CriticalError event for any required sensor
// that has been continuously failed for longer than RequiredSensorDwell.
func (iface *Interface) checkRequiredDwell() {
	iface.mu.RLock()
	var critical []string
	for name, since := range iface.requiredSince {
		if time.Since(since) > iface.cfg.RequiredSensorDwell {
			critical = append(critical, name)
		}
	}
	iface.mu.RUnlock()

	for _, name := range critical {
		err := mowererrors.New(mowererrors.CodeRequiredSensorDown,
			fmt.Sprintf("required sensor %q down for longer than dwell threshold", name),
			map[string]any{"sensor": name})
		if iface.bus != nil {
			iface.bus.Publish(eventbus.Event{Type: eventbus.EventErrorOccurred, Payload: err})
		}
		if iface.log != nil {
			iface.log.Error("required sensor permanently failed", zap.String("sensor", name))
		}
	}
}

// Latest returns the most recently published Snapshot.
func (iface *Interface) Latest() Snapshot {
	iface.snapMu.RLock()
	defer iface.snapMu.RUnlock()
	return iface.snapshot
}

// Health returns a copy of the current per-sensor health table.
func (iface *Interface) Health() map[string]Health {
	iface.mu.RLock()
	defer iface.mu.RUnlock()
	out := make(map[string]Health, len(iface.health))
	for k, v := range iface.health {
		out[k] = *v
	}
	return out
}

// SetEmergencyStopAsserted records the external emergency-stop input state,
// folded into IsSafeToOperate.
func (iface *Interface) SetEmergencyStopAsserted(asserted bool) {
	iface.estop.Set(asserted)
}

// IsSafeToOperate derives a single safety gate from the latest snapshot and
// sensor health, per spec.md §4.2: IMU tilt over threshold, IMU
// unresponsive, ToF distance below the emergency-stop threshold, battery
// below critical, or the emergency-stop input asserted all flip it false.
func (iface *Interface) IsSafeToOperate() bool {
	if iface.estop.Get() {
		return false
	}

	snap := iface.Latest()

	if math.Abs(snap.IMU.RollDeg) >= iface.cfg.SafetyTiltDegrees || math.Abs(snap.IMU.PitchDeg) >= iface.cfg.SafetyTiltDegrees {
		return false
	}

	iface.mu.RLock()
	imuHealth, ok := iface.health["imu"]
	iface.mu.RUnlock()
	if ok && !imuHealth.LastSuccess.IsZero() && time.Since(imuHealth.LastSuccess) > iface.cfg.SafetyIMUTimeout {
		return false
	}

	if snap.ToF.LeftMM < iface.cfg.SafetyEmergencyStopDistanceMM || snap.ToF.RightMM < iface.cfg.SafetyEmergencyStopDistanceMM {
		return false
	}

	if snap.Power.PercentPB < iface.cfg.SafetyBatteryCriticalPercent {
		return false
	}

	return true
}
