// Package config provides configuration loading, validation, and hot-reload
// for the mower coordination core.
//
// Configuration file: /etc/mowercore/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Supervisor listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - A valid reloaded config is logged but not applied to the running
//     components; every change, including thresholds, weights and log
//     level, takes effect only after a restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The supervisor does NOT crash on invalid hot-reload.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g. reward weights >= 0, epsilon in [0,1]).
//   - File paths are not checked for being absolute.
//   - Invalid config on startup: supervisor refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime can be overridden at build time via
// -ldflags "-X ..."; otherwise they keep the defaults below.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for the mower coordination core.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1"; Validate rejects any other value.
	SchemaVersion string `yaml:"schema_version"`

	// MowerID is a unique identifier for this robot, recorded in the audit
	// ledger and cross-process bridge frames. Default: hostname.
	MowerID string `yaml:"mower_id"`

	Hardware      HardwareConfig      `yaml:"hardware"`
	Sensors       SensorsConfig       `yaml:"sensors"`
	EventBus      EventBusConfig      `yaml:"event_bus"`
	StateMachine  StateMachineConfig  `yaml:"state_machine"`
	PathPlanner   PathPlannerConfig   `yaml:"path_planner"`
	Avoidance     AvoidanceConfig     `yaml:"avoidance"`
	Bridge        BridgeConfig        `yaml:"bridge"`
	Secrets       SecretsConfig       `yaml:"secrets"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	Supervisor    SupervisorConfig    `yaml:"supervisor"`
}

// HardwareConfig describes GPIO pin assignments and required/optional
// component classification for the hardware registry (C1).
type HardwareConfig struct {
	// GPIO maps logical pin names (blade_relay, drive_left_pwm, ...) to
	// BCM pin numbers. Resolves spec.md's Open Question on pin numbering:
	// pins are configuration, never literals in code.
	GPIO map[string]int `yaml:"gpio"`

	// RequiredComponents must initialize successfully or startup aborts.
	RequiredComponents []string `yaml:"required_components"`

	// OptionalComponents may fail to initialize; failure is logged and the
	// registry continues with that capability unavailable.
	OptionalComponents []string `yaml:"optional_components"`

	// InitTimeout bounds each component's Initialize() call.
	InitTimeout time.Duration `yaml:"init_timeout"`

	// I2CBus is the Linux I2C bus device number (e.g. 1 for /dev/i2c-1).
	I2CBus int `yaml:"i2c_bus"`

	// UseSimulation routes hardware calls to the in-process simulated
	// world instead of real GPIO/I2C/serial devices.
	UseSimulation bool `yaml:"use_simulation"`
}

// SensorsConfig holds polling cadence and retry parameters for C2.
type SensorsConfig struct {
	// PollInterval is the fixed cadence at which the sensor interface
	// aggregates a fused snapshot from all registered sensors.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ReadTimeout is loaded but not used by the sensor interface; each
	// Reader's own Timeout() bounds its Read() calls.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// MaxRetries is the number of retry attempts with exponential backoff
	// before a sensor read is considered failed.
	MaxRetries int `yaml:"max_retries"`

	// RetryBaseDelay is the initial backoff delay; doubled each attempt.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// BusResetCooldown is the minimum time between I2C bus software
	// resets triggered by repeated read failures.
	BusResetCooldown time.Duration `yaml:"bus_reset_cooldown"`

	// FailureThreshold is the number of consecutive failed poll cycles
	// after which a sensor is marked not-working.
	FailureThreshold int `yaml:"failure_threshold"`

	// BusRecoveryFailureThreshold is the number of consecutive failed
	// cycles on an I2C sensor that triggers a bus reset.
	BusRecoveryFailureThreshold int `yaml:"bus_recovery_failure_threshold"`

	// FreshnessBudget bounds how long a stale last-good reading may be
	// reused by the fusion aggregator before it falls back to sentinel
	// defaults.
	FreshnessBudget time.Duration `yaml:"freshness_budget"`

	// RequiredSensorDwell is how long a required sensor may stay failed
	// before a CriticalError event is raised.
	RequiredSensorDwell time.Duration `yaml:"required_sensor_dwell"`

	// SafetyTiltDegrees is the IMU tilt angle (roll or pitch magnitude)
	// above which is_safe_to_operate reports false.
	SafetyTiltDegrees float64 `yaml:"safety_tilt_degrees"`

	// SafetyIMUTimeout is how long the IMU may go unresponsive before
	// is_safe_to_operate reports false.
	SafetyIMUTimeout time.Duration `yaml:"safety_imu_timeout"`

	// SafetyEmergencyStopDistanceMM is the ToF distance below which
	// is_safe_to_operate reports false.
	SafetyEmergencyStopDistanceMM float64 `yaml:"safety_emergency_stop_distance_mm"`

	// SafetyBatteryCriticalPercent is the battery level below which
	// is_safe_to_operate reports false.
	SafetyBatteryCriticalPercent float64 `yaml:"safety_battery_critical_percent"`
}

// EventBusConfig holds queue sizing for C3.
type EventBusConfig struct {
	// QueueSize is the bounded channel depth per subscriber. If full,
	// new events are dropped and the drop counter is incremented.
	QueueSize int `yaml:"queue_size"`

	// Workers is validated to lie in [1, 32] but is not passed to the bus;
	// the bus starts no workers, and each subscriber drains the channel
	// returned by Subscribe itself.
	Workers int `yaml:"workers"`

	// CriticalEventTypes are dispatched synchronously, bypassing the
	// queue, per spec.md §3's "critical events" fast path.
	CriticalEventTypes []string `yaml:"critical_event_types"`
}

// StateMachineConfig holds C4 audit trail sizing.
type StateMachineConfig struct {
	// AuditTrailSize is the bounded ring buffer capacity for transition
	// history.
	AuditTrailSize int `yaml:"audit_trail_size"`
}

// PathPlannerConfig holds C5 geometry and learning parameters.
type PathPlannerConfig struct {
	// StripeWidth is the mower cutting width in meters, used to compute
	// parallel-stripe and spiral offsets.
	StripeWidth float64 `yaml:"stripe_width"`

	// OverlapRatio is the fractional overlap between adjacent passes.
	OverlapRatio float64 `yaml:"overlap_ratio"`

	// SessionTimeBudget is the planned wall-clock duration of one mowing
	// session, the denominator of the reward formula's traversal-time term.
	SessionTimeBudget time.Duration `yaml:"session_time_budget"`

	// Selector configures the tabular Q-learning pattern selector.
	Selector PatternSelectorConfig `yaml:"selector"`
}

// PatternSelectorConfig configures the ε-greedy Q-learning coverage-pattern
// selector. Resolves spec.md §9's Open Question on reward weighting: the
// weights are configuration with the spec-shown defaults, not literals.
type PatternSelectorConfig struct {
	// Epsilon is the exploration probability.
	Epsilon float64 `yaml:"epsilon"`

	// EpsilonDecay multiplies Epsilon after each completed session.
	EpsilonDecay float64 `yaml:"epsilon_decay"`

	// EpsilonMin is the floor Epsilon never decays below.
	EpsilonMin float64 `yaml:"epsilon_min"`

	// LearningRate is α in the Q-learning update rule.
	LearningRate float64 `yaml:"learning_rate"`

	// DiscountFactor is validated to lie in [0, 1] but is not used: the
	// selector's update rule Q += α·(r − Q) has no discount term.
	DiscountFactor float64 `yaml:"discount_factor"`

	// WeightCoverage, WeightTime, WeightObstacles are w_c, w_t, w_o in the
	// reward formula R = w_c*coverage + w_t*(1 - time/budget) - w_o*collisions.
	WeightCoverage  float64 `yaml:"weight_coverage"`
	WeightTime      float64 `yaml:"weight_time"`
	WeightObstacles float64 `yaml:"weight_obstacles"`

	// QTablePath is where the learned Q-table is persisted between runs.
	QTablePath string `yaml:"q_table_path"`
}

// AvoidanceConfig holds C6 escalation and strategy parameters.
type AvoidanceConfig struct {
	// StrikesBeforeStuck is the number of consecutive failed avoidance
	// attempts before the mower escalates to the Stuck state.
	StrikesBeforeStuck int `yaml:"strikes_before_stuck"`

	// ReactionDistanceMeters is validated to be > 0 but is not read by
	// avoidance.Evaluate, whose ToF trigger distance is a fixed constant.
	ReactionDistanceMeters float64 `yaml:"reaction_distance_meters"`

	// BackupDurationSeconds is loaded but not used; maneuver execution is
	// outside the avoidance package.
	BackupDurationSeconds float64 `yaml:"backup_duration_seconds"`
}

// BridgeConfig holds C8 cross-process exchange parameters. Resolves
// spec.md §9's Open Question coupling the bridge directory to the
// snapshot directory: both files live under BridgeDir, and this process
// is the sole writer; any UI process only reads.
type BridgeConfig struct {
	// BridgeDir is the directory containing the status frame and camera
	// frame files, exchanged via atomic write-tmp/fsync/rename.
	BridgeDir string `yaml:"bridge_dir"`

	// StaleThreshold is the age beyond which a status frame is considered
	// stale by a reading UI process.
	StaleThreshold time.Duration `yaml:"stale_threshold"`

	// WriteInterval is how often a fresh status frame is published.
	WriteInterval time.Duration `yaml:"write_interval"`
}

// SecretsConfig holds C9 secure storage parameters.
type SecretsConfig struct {
	// StorePath is the path to the encrypted secrets file.
	StorePath string `yaml:"store_path"`

	// MasterKeyPath is where a generated master key is persisted (0600)
	// if MOWER_MASTER_KEY is not set in the environment.
	MasterKeyPath string `yaml:"master_key_path"`
}

// StorageConfig holds BoltDB parameters for the audit ledger.
type StorageConfig struct {
	// DBPath is the absolute path to the BoltDB file.
	DBPath string `yaml:"db_path"`

	// RetentionDays is the ledger retention period.
	RetentionDays int `yaml:"retention_days"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	LogFormat string `yaml:"log_format"`
}

// SupervisorConfig holds C7 process lifecycle parameters.
type SupervisorConfig struct {
	// PIDFile enforces single-instance operation.
	PIDFile string `yaml:"pid_file"`

	// ShutdownTimeout bounds graceful shutdown before a forced detach.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		MowerID:       hostname,
		Hardware: HardwareConfig{
			GPIO: map[string]int{
				"blade_relay":     17,
				"drive_left_pwm":  12,
				"drive_right_pwm": 13,
				"estop_input":     27,
			},
			RequiredComponents: []string{"drive_motors", "blade_relay", "imu"},
			OptionalComponents: []string{"gps", "camera", "tof_left", "tof_right"},
			InitTimeout:        5 * time.Second,
			I2CBus:             1,
			UseSimulation:      false,
		},
		Sensors: SensorsConfig{
			PollInterval:                  100 * time.Millisecond,
			ReadTimeout:                   250 * time.Millisecond,
			MaxRetries:                    5,
			RetryBaseDelay:                20 * time.Millisecond,
			BusResetCooldown:              30 * time.Second,
			FailureThreshold:              5,
			BusRecoveryFailureThreshold:   3,
			FreshnessBudget:               5 * time.Second,
			RequiredSensorDwell:           10 * time.Second,
			SafetyTiltDegrees:             35.0,
			SafetyIMUTimeout:              2 * time.Second,
			SafetyEmergencyStopDistanceMM: 150.0,
			SafetyBatteryCriticalPercent:  8.0,
		},
		EventBus: EventBusConfig{
			QueueSize:          1000,
			Workers:            2,
			CriticalEventTypes: []string{"EmergencyStop", "ObstacleDetected", "ErrorOccurred"},
		},
		StateMachine: StateMachineConfig{
			AuditTrailSize: 256,
		},
		PathPlanner: PathPlannerConfig{
			StripeWidth:       0.3,
			OverlapRatio:      0.1,
			SessionTimeBudget: 45 * time.Minute,
			Selector: PatternSelectorConfig{
				Epsilon:         0.2,
				EpsilonDecay:    0.97,
				EpsilonMin:      0.02,
				LearningRate:    0.1,
				DiscountFactor:  0.9,
				WeightCoverage:  1.0,
				WeightTime:      0.05,
				WeightObstacles: 0.5,
				QTablePath:      "/var/lib/mowercore/qtable.json",
			},
		},
		Avoidance: AvoidanceConfig{
			StrikesBeforeStuck:     3,
			ReactionDistanceMeters: 0.4,
			BackupDurationSeconds:  1.5,
		},
		Bridge: BridgeConfig{
			BridgeDir:      "/run/mowercore/bridge",
			StaleThreshold: 3 * time.Second,
			WriteInterval:  500 * time.Millisecond,
		},
		Secrets: SecretsConfig{
			StorePath:     "/var/lib/mowercore/secrets.enc",
			MasterKeyPath: "/var/lib/mowercore/.master_key",
		},
		Storage: StorageConfig{
			DBPath:        DefaultDBPath,
			RetentionDays: 30,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Supervisor: SupervisorConfig{
			PIDFile:         "/run/mowercore/mowercore.pid",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// DefaultDBPath mirrors the storage package constant for use in config defaults.
const DefaultDBPath = "/var/lib/mowercore/mowercore.db"

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.MowerID == "" {
		errs = append(errs, "mower_id must not be empty")
	}
	if cfg.Hardware.InitTimeout < time.Second {
		errs = append(errs, fmt.Sprintf("hardware.init_timeout must be >= 1s, got %s", cfg.Hardware.InitTimeout))
	}
	if len(cfg.Hardware.RequiredComponents) == 0 {
		errs = append(errs, "hardware.required_components must not be empty")
	}
	if cfg.Sensors.PollInterval < 10*time.Millisecond {
		errs = append(errs, fmt.Sprintf("sensors.poll_interval must be >= 10ms, got %s", cfg.Sensors.PollInterval))
	}
	if cfg.Sensors.MaxRetries < 0 || cfg.Sensors.MaxRetries > 10 {
		errs = append(errs, fmt.Sprintf("sensors.max_retries must be in [0, 10], got %d", cfg.Sensors.MaxRetries))
	}
	if cfg.Sensors.FailureThreshold < 1 {
		errs = append(errs, fmt.Sprintf("sensors.failure_threshold must be >= 1, got %d", cfg.Sensors.FailureThreshold))
	}
	if cfg.Sensors.FreshnessBudget <= 0 {
		errs = append(errs, "sensors.freshness_budget must be > 0")
	}
	if cfg.Sensors.SafetyEmergencyStopDistanceMM <= 0 {
		errs = append(errs, "sensors.safety_emergency_stop_distance_mm must be > 0")
	}
	if cfg.EventBus.QueueSize < 16 {
		errs = append(errs, fmt.Sprintf("event_bus.queue_size must be >= 16, got %d", cfg.EventBus.QueueSize))
	}
	if cfg.EventBus.Workers < 1 || cfg.EventBus.Workers > 32 {
		errs = append(errs, fmt.Sprintf("event_bus.workers must be in [1, 32], got %d", cfg.EventBus.Workers))
	}
	if cfg.StateMachine.AuditTrailSize < 16 {
		errs = append(errs, fmt.Sprintf("state_machine.audit_trail_size must be >= 16, got %d", cfg.StateMachine.AuditTrailSize))
	}
	if cfg.PathPlanner.StripeWidth <= 0 {
		errs = append(errs, fmt.Sprintf("path_planner.stripe_width must be > 0, got %f", cfg.PathPlanner.StripeWidth))
	}
	if cfg.PathPlanner.OverlapRatio < 0 || cfg.PathPlanner.OverlapRatio >= 1 {
		errs = append(errs, fmt.Sprintf("path_planner.overlap_ratio must be in [0, 1), got %f", cfg.PathPlanner.OverlapRatio))
	}
	if cfg.PathPlanner.SessionTimeBudget <= 0 {
		errs = append(errs, fmt.Sprintf("path_planner.session_time_budget must be > 0, got %s", cfg.PathPlanner.SessionTimeBudget))
	}
	sel := cfg.PathPlanner.Selector
	if sel.Epsilon < 0 || sel.Epsilon > 1 {
		errs = append(errs, fmt.Sprintf("path_planner.selector.epsilon must be in [0, 1], got %f", sel.Epsilon))
	}
	if sel.LearningRate <= 0 || sel.LearningRate > 1 {
		errs = append(errs, fmt.Sprintf("path_planner.selector.learning_rate must be in (0, 1], got %f", sel.LearningRate))
	}
	if sel.DiscountFactor < 0 || sel.DiscountFactor > 1 {
		errs = append(errs, fmt.Sprintf("path_planner.selector.discount_factor must be in [0, 1], got %f", sel.DiscountFactor))
	}
	if sel.WeightCoverage < 0 || sel.WeightTime < 0 || sel.WeightObstacles < 0 {
		errs = append(errs, "path_planner.selector reward weights must all be >= 0")
	}
	if cfg.Avoidance.StrikesBeforeStuck < 1 {
		errs = append(errs, fmt.Sprintf("avoidance.strikes_before_stuck must be >= 1, got %d", cfg.Avoidance.StrikesBeforeStuck))
	}
	if cfg.Avoidance.ReactionDistanceMeters <= 0 {
		errs = append(errs, fmt.Sprintf("avoidance.reaction_distance_meters must be > 0, got %f", cfg.Avoidance.ReactionDistanceMeters))
	}
	if cfg.Bridge.BridgeDir == "" {
		errs = append(errs, "bridge.bridge_dir must not be empty")
	}
	if cfg.Bridge.StaleThreshold < cfg.Bridge.WriteInterval {
		errs = append(errs, "bridge.stale_threshold must be >= bridge.write_interval")
	}
	if cfg.Secrets.StorePath == "" {
		errs = append(errs, "secrets.store_path must not be empty")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	if cfg.Storage.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("storage.retention_days must be >= 1, got %d", cfg.Storage.RetentionDays))
	}
	if cfg.Supervisor.ShutdownTimeout < time.Second {
		errs = append(errs, fmt.Sprintf("supervisor.shutdown_timeout must be >= 1s, got %s", cfg.Supervisor.ShutdownTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
