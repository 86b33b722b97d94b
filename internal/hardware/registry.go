package hardware

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Registry is the Hardware Registry (C1) composition root: it constructs
// every Component in a fixed order, validates that every required one
// came up, and tears everything down in exact reverse order. Handed to
// every other component by reference; never a package-level global, per
// spec.md §9's "process-wide mutable singletons" redesign note.
type Registry struct {
	log         *zap.Logger
	initTimeout time.Duration

	order      []Component
	classes    map[string]Classification
	healthyMap map[string]bool

	I2C *I2CBus
}

// NewRegistry constructs an empty Registry. Components are added via
// Register, then brought up together via Initialize.
func NewRegistry(i2c *I2CBus, initTimeout time.Duration, log *zap.Logger) *Registry {
	return &Registry{
		log:         log,
		initTimeout: initTimeout,
		classes:     make(map[string]Classification),
		healthyMap:  make(map[string]bool),
		I2C:         i2c,
	}
}

// Register adds a component to the bring-up order. Order of registration
// is the order of Initialize calls; Cleanup runs in the reverse order.
func (r *Registry) Register(c Component, class Classification) {
	r.order = append(r.order, c)
	r.classes[c.Name()] = class
}

// Initialize brings up every registered component in registration order.
// A required component's failure aborts startup; an optional component's
// failure is logged and bring-up continues with that capability absent.
func (r *Registry) Initialize(ctx context.Context) error {
	for _, c := range r.order {
		initCtx, cancel := context.WithTimeout(ctx, r.initTimeout)
		err := c.Initialize(initCtx)
		cancel()

		if err != nil {
			if r.classes[c.Name()] == Required {
				return fmt.Errorf("hardware: required component %q failed to initialize: %w", c.Name(), err)
			}
			if r.log != nil {
				r.log.Info("hardware: optional component failed to initialize, continuing without it",
					zap.String("component", c.Name()), zap.Error(err))
			}
			r.healthyMap[c.Name()] = false
			continue
		}
		r.healthyMap[c.Name()] = true
	}
	return nil
}

// Cleanup tears down every registered component in reverse registration
// order, tolerant of partial failure: every component's Cleanup is
// attempted even if an earlier one errors.
func (r *Registry) Cleanup() {
	for i := len(r.order) - 1; i >= 0; i-- {
		c := r.order[i]
		if err := c.Cleanup(); err != nil && r.log != nil {
			r.log.Warn("hardware: component cleanup failed", zap.String("component", c.Name()), zap.Error(err))
		}
	}
}

// Healthy reports whether the named component initialized successfully.
func (r *Registry) Healthy(name string) bool {
	return r.healthyMap[name]
}

// Components returns the registered components in bring-up order, mostly
// for diagnostics.
func (r *Registry) Components() []Component {
	return append([]Component(nil), r.order...)
}
