package hardware

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// GPIOLine is a single output-capable GPIO pin. In simulated mode, writes
// are recorded in memory; in hardware mode, they go through the Linux
// sysfs GPIO interface. No third-party GPIO library appears anywhere in
// the retrieved corpus, so this stays on the standard library by
// necessity — see DESIGN.md.
type GPIOLine struct {
	pin       int
	simulated bool
	value     int
}

func newGPIOLine(pin int, simulated bool) (*GPIOLine, error) {
	l := &GPIOLine{pin: pin, simulated: simulated}
	if simulated {
		return l, nil
	}
	path := filepath.Join("/sys/class/gpio", fmt.Sprintf("gpio%d", pin))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile("/sys/class/gpio/export", []byte(strconv.Itoa(pin)), 0o200); err != nil {
			return nil, fmt.Errorf("gpio: export pin %d: %w", pin, err)
		}
	}
	if err := os.WriteFile(filepath.Join(path, "direction"), []byte("out"), 0o200); err != nil {
		return nil, fmt.Errorf("gpio: set direction pin %d: %w", pin, err)
	}
	return l, nil
}

// Set drives the line high (true) or low (false).
func (l *GPIOLine) Set(high bool) error {
	v := 0
	if high {
		v = 1
	}
	l.value = v
	if l.simulated {
		return nil
	}
	path := filepath.Join("/sys/class/gpio", fmt.Sprintf("gpio%d", l.pin), "value")
	return os.WriteFile(path, []byte(strconv.Itoa(v)), 0o200)
}

// Value returns the last value written.
func (l *GPIOLine) Value() int { return l.value }

// BladeDriver owns the blade enable/direction pins and the PWM channel
// under a single lock so enable/disable and PWM updates never interleave,
// per spec.md §5's shared-resource rule.
type BladeDriver struct {
	mu          sync.Mutex
	relay       *GPIOLine
	direction   *GPIOLine
	pwmDutyPct  int
	enabled     bool
	simulated   bool
}

// NewBladeDriver constructs the blade relay and direction lines.
func NewBladeDriver(relayPin, directionPin int, simulated bool) (*BladeDriver, error) {
	relay, err := newGPIOLine(relayPin, simulated)
	if err != nil {
		return nil, fmt.Errorf("blade relay: %w", err)
	}
	direction, err := newGPIOLine(directionPin, simulated)
	if err != nil {
		return nil, fmt.Errorf("blade direction: %w", err)
	}
	return &BladeDriver{relay: relay, direction: direction, simulated: simulated}, nil
}

// Enable turns the blade on at the given PWM duty cycle.
func (b *BladeDriver) Enable(dutyPct int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.relay.Set(true); err != nil {
		return err
	}
	b.pwmDutyPct = dutyPct
	b.enabled = true
	return nil
}

// Disable powers the blade down: direction pin low, PWM to zero, relay
// open. Matches the Hardware Registry's mandatory cleanup() side effect.
func (b *BladeDriver) Disable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pwmDutyPct = 0
	b.enabled = false
	if err := b.direction.Set(false); err != nil {
		return err
	}
	return b.relay.Set(false)
}

// Enabled reports whether the blade is currently spinning.
func (b *BladeDriver) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}
