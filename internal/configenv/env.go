// Package configenv provides generalized environment-variable readers for
// building a Config from code without a YAML file, grounded on the
// teacher's per-type os.LookupEnv/strconv helpers (internal/config/env.go),
// keeping one small reader function per type.
package configenv

import (
	"strconv"
	"strings"
	"time"

	"os"

	"github.com/threadctl/threadctl/internal/log"
)

var logger = log.WithComponent("configenv")

// String reads key from the environment, or returns fallback if unset or
// empty.
func String(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// Int reads key as an integer, falling back (and logging a warning) on
// an unset, empty, or unparsable value.
func Int(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
		return fallback
	}
	return n
}

// Float reads key as a float64, falling back on an unset, empty, or
// unparsable value.
func Float(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid float, using default")
		return fallback
	}
	return f
}

// Duration reads key in Go duration syntax (e.g. "5s"), falling back on
// an unset, empty, or unparsable value.
func Duration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
		return fallback
	}
	return d
}

// Bool accepts "true"/"false"/"1"/"0"/"yes"/"no" (case-insensitive),
// falling back on an unset, empty, or unrecognized value.
func Bool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid boolean, using default")
		return fallback
	}
}
