// Package envconfig reads model and runtime settings from SEQ2SEQ_* environment
// variables. Accessors are closures so that tests can change the environment
// between calls.
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

var (
	// DModel is the model width. Configurable via SEQ2SEQ_D_MODEL.
	DModel = Uint("SEQ2SEQ_D_MODEL", 512)
	// Layers is the number of encoder and decoder blocks. Configurable via SEQ2SEQ_LAYERS.
	Layers = Uint("SEQ2SEQ_LAYERS", 6)
	// Heads is the number of attention heads. Configurable via SEQ2SEQ_HEADS.
	Heads = Uint("SEQ2SEQ_HEADS", 8)
	// FeedForward is the hidden width of the feed-forward sublayer. Configurable via SEQ2SEQ_D_FF.
	FeedForward = Uint("SEQ2SEQ_D_FF", 2048)
	// Dropout is the dropout rate. Configurable via SEQ2SEQ_DROPOUT.
	Dropout = Float("SEQ2SEQ_DROPOUT", 0.1)
	// Seed drives parameter initialization. Configurable via SEQ2SEQ_SEED.
	Seed = Uint64("SEQ2SEQ_SEED", 0)
	// Train keeps dropout active during inspection runs. Configurable via SEQ2SEQ_TRAIN.
	Train = Bool("SEQ2SEQ_TRAIN")
)

// LogLevel returns the log level for the application.
// Values are 0 or false INFO (default), 1 or true DEBUG.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("SEQ2SEQ_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

// Var returns an environment variable stripped of leading and trailing quotes or spaces
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// Bool returns a reader for a boolean variable that is false when unset.
func Bool(k string) func() bool {
	return func() bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return false
	}
}

// Uint returns a reader for an unsigned variable with a default.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// Float returns a reader for a floating point variable with a default.
func Float(key string, defaultValue float64) func() float64 {
	return func() float64 {
		if s := Var(key); s != "" {
			if f, err := strconv.ParseFloat(s, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return f
			}
		}
		return defaultValue
	}
}

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap lists every recognized variable with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"SEQ2SEQ_DEBUG":   {"SEQ2SEQ_DEBUG", LogLevel(), "Show additional debug information (e.g. SEQ2SEQ_DEBUG=1)"},
		"SEQ2SEQ_D_MODEL": {"SEQ2SEQ_D_MODEL", DModel(), "Model width"},
		"SEQ2SEQ_LAYERS":  {"SEQ2SEQ_LAYERS", Layers(), "Number of encoder and decoder blocks"},
		"SEQ2SEQ_HEADS":   {"SEQ2SEQ_HEADS", Heads(), "Number of attention heads"},
		"SEQ2SEQ_D_FF":    {"SEQ2SEQ_D_FF", FeedForward(), "Feed-forward hidden width"},
		"SEQ2SEQ_DROPOUT": {"SEQ2SEQ_DROPOUT", Dropout(), "Dropout rate"},
		"SEQ2SEQ_SEED":    {"SEQ2SEQ_SEED", Seed(), "Initialization seed"},
		"SEQ2SEQ_TRAIN":   {"SEQ2SEQ_TRAIN", Train(), "Run forward passes in training mode"},
	}
}

// Values returns the current settings as strings.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
