package demoserver

import (
	"time"

	"github.com/raysh454/scanflow/internal/model"
)

// Config holds configuration for the demo backend.
type Config struct {
	// Port is the port on which the demo backend listens.
	Port int

	// StepInterval is how long each requested module takes to complete.
	StepInterval time.Duration

	// Credits is the starting balance of any logged-in caller.
	Credits int

	// Premium maps module codes to their credit cost. Modules not listed
	// are basic.
	Premium map[model.Module]int

	// FailModules always end in failed, to demonstrate partial failures.
	FailModules []model.Module
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:         9999,
		StepInterval: 2 * time.Second,
		Credits:      10,
		Premium: map[model.Module]int{
			model.ModuleAIAnalysis: 5,
			model.ModuleDeepScan:   3,
		},
	}
}
