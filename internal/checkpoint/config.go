package checkpoint

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultName is the identity used when no checkpoint name is configured.
// Other names must not start with it.
const DefaultName = "StrataCheckpoint"

// DefaultDebounce is the wait after a log-triggered checkpoint that absorbs a
// signal raised while the checkpoint was running.
const DefaultDebounce = time.Millisecond

var (
	// ErrInMemoryCheckpoint is returned when checkpoint triggers are
	// configured for an in-memory engine.
	ErrInMemoryCheckpoint = errors.New("checkpoint: in-memory configuration incompatible with checkpoints")

	// ErrInvalidName is returned for checkpoint names that are reserved or
	// contain characters outside [A-Za-z0-9_.-].
	ErrInvalidName = errors.New("checkpoint: invalid checkpoint name")
)

// Config selects the checkpoint triggers. Wait and LogSize both zero means
// no background checkpoints.
type Config struct {
	// Wait is the interval between timed checkpoints; 0 disables the timer.
	Wait time.Duration
	// LogSize is the journal byte count that triggers a checkpoint; 0
	// disables the log trigger.
	LogSize int64
	// Name is passed to the checkpoint operation. Empty or DefaultName
	// selects the default identity.
	Name string
	// Debounce applies after log-triggered checkpoints. Zero selects
	// DefaultDebounce; negative disables it.
	Debounce time.Duration
	// InMemory reports whether the engine has no durable storage.
	InMemory bool
	// LogEnabled reports whether the journal is on; the log trigger is
	// ignored without it.
	LogEnabled bool
}

// ValidateName returns the effective checkpoint name. Empty names and the
// default identity resolve to DefaultName.
func ValidateName(name string) (string, error) {
	if name == "" || name == DefaultName {
		return DefaultName, nil
	}
	if strings.HasPrefix(name, DefaultName) {
		return "", fmt.Errorf("%w: %q uses the reserved prefix %q", ErrInvalidName, name, DefaultName)
	}
	if name == "all" {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '.', r == '-':
		default:
			return "", fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, r)
		}
	}
	return name, nil
}
