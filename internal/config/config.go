// Package config reads the handful of environment-supplied knobs the
// kernel needs at boot, the Go analogue of the source's build-time
// option_env!/env! macros.
package config

import (
	"os"
)

// Config holds boot-time settings.
type Config struct {
	// LogLevel is one of off, error, warn, info, debug, trace.
	LogLevel string
	// EntryName names the init-process file inside the filesystem image.
	EntryName string
}

// Default matches the source's fallback when LOG/ENTRY are unset.
func Default() Config {
	return Config{
		LogLevel:  "off",
		EntryName: "initproc",
	}
}

// Load reads LOG and ENTRY from the process environment, falling back to
// Default for anything unset.
func Load() Config {
	c := Default()
	if v := os.Getenv("LOG"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ENTRY"); v != "" {
		c.EntryName = v
	}
	return c
}
