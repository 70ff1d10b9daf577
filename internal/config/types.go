package config

import "time"

// Config represents the complete busdispatch configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	State    StateConfig    `yaml:"state"`
	Fleet    FleetConfig    `yaml:"fleet"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	API      APIConfig      `yaml:"api,omitempty"`

	// SourcePath is the file the config was loaded from, empty for defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name" validate:"required"`
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// FleetConfig is the shape of the bus pool.
type FleetConfig struct {
	// UnitCapacity is the number of seats per bus.
	UnitCapacity int `yaml:"unit_capacity" validate:"gt=0"`
	// UnitCeiling is the number of buses.
	UnitCeiling int `yaml:"unit_ceiling" validate:"gt=0"`
	// DayWorkerCeiling caps workers dispatched in one day; 0 disables it.
	DayWorkerCeiling int `yaml:"day_worker_ceiling" validate:"gte=0"`
}

// DispatchConfig tunes how units are run and joined.
type DispatchConfig struct {
	JoinOrder   string        `yaml:"join_order" validate:"oneof=spawn completion"`
	JoinTimeout time.Duration `yaml:"join_timeout" validate:"gte=0"`
	// MaxLiveUnits bounds concurrently running units across all runs; 0 is unbounded.
	MaxLiveUnits  int         `yaml:"max_live_units" validate:"gte=0"`
	DepartureHook *HookConfig `yaml:"departure_hook,omitempty"`
}

// HookConfig configures the external departure command.
type HookConfig struct {
	Command string        `yaml:"command" validate:"required"`
	Args    []string      `yaml:"args,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" validate:"gte=0"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen" validate:"required_if=Enabled true"`
	APIKey  string `yaml:"api_key" validate:"required_if=Enabled true"`
}

// Defaults returns the reference configuration: two buses of five seats
// and at most ten workers a day.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "busdispatch",
			LogLevel: "info",
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		Fleet: FleetConfig{
			UnitCapacity:     5,
			UnitCeiling:      2,
			DayWorkerCeiling: 10,
		},
		Dispatch: DispatchConfig{
			JoinOrder: "spawn",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
