package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultLogLevel controls verbosity for service logs.
	DefaultLogLevel = "info"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Stdout mirrors every line to standard output. The terminal node turns
	// it off because it owns the screen.
	Stdout bool
}

// Preload reads KEY=VALUE pairs from the given dotenv files (".env" when none
// are named) into the process environment. Variables that are already set
// win, and missing files are skipped.
func Preload(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// env collects typed lookups and remembers every invalid override so a
// loader can report them together.
type env struct {
	problems []string
}

func (e *env) string(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func (e *env) list(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}

func (e *env) intAtLeast(key string, fallback, floor int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < floor {
		qualifier := "a positive"
		if floor == 0 {
			qualifier = "a non-negative"
		}
		e.problems = append(e.problems, fmt.Sprintf("%s must be %s integer, got %q", key, qualifier, raw))
		return fallback
	}
	return value
}

func (e *env) positiveInt64(key string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		e.problems = append(e.problems, fmt.Sprintf("%s must be a positive integer, got %q", key, raw))
		return fallback
	}
	return value
}

func (e *env) positiveFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(value > 0) || math.IsInf(value, 1) {
		e.problems = append(e.problems, fmt.Sprintf("%s must be a positive number, got %q", key, raw))
		return fallback
	}
	return value
}

func (e *env) positiveDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		e.problems = append(e.problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return fallback
	}
	return duration
}

func (e *env) bool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s must be a boolean value, got %q", key, raw))
		return fallback
	}
	return value
}

func (e *env) oneOf(key, fallback string, allowed ...string) string {
	value := strings.ToLower(e.string(key, fallback))
	for _, candidate := range allowed {
		if value == candidate {
			return value
		}
	}
	e.problems = append(e.problems, fmt.Sprintf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value))
	return fallback
}

func (e *env) logging(defaultPath string, defaultStdout bool) LoggingConfig {
	return LoggingConfig{
		Level:      e.string("SYNC_LOG_LEVEL", DefaultLogLevel),
		Path:       e.string("SYNC_LOG_PATH", defaultPath),
		MaxSizeMB:  e.intAtLeast("SYNC_LOG_MAX_SIZE_MB", DefaultLogMaxSizeMB, 1),
		MaxBackups: e.intAtLeast("SYNC_LOG_MAX_BACKUPS", DefaultLogMaxBackups, 0),
		MaxAgeDays: e.intAtLeast("SYNC_LOG_MAX_AGE_DAYS", DefaultLogMaxAgeDays, 0),
		Compress:   e.bool("SYNC_LOG_COMPRESS", DefaultLogCompress),
		Stdout:     e.bool("SYNC_LOG_STDOUT", defaultStdout),
	}
}

func (e *env) err() error {
	if len(e.problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(e.problems, "; "))
}
