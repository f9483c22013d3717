package lift

import (
	"time"

	"github.com/pkg/errors"
)

// MisalignedPolicy specifies how jumps into the middle of a decoded machine
// instruction are handled.
type MisalignedPolicy string

// Misaligned jump policies.
const (
	// MisalignedOverlap lifts a new block at the jump target, overlapping the
	// block containing the target.
	MisalignedOverlap MisalignedPolicy = "overlap"
	// MisalignedFail fails the lift with ErrMisalignedJump.
	MisalignedFail MisalignedPolicy = "fail"
)

// Config is the configuration of a lifter.
type Config struct {
	// Time slice after which lifting tasks yield their worker slot.
	TimeSlice time.Duration
	// Number of worker slots; GOMAXPROCS if not positive.
	Workers int
	// Maximum depth of the expression trees used to coerce jump targets and
	// conditions to constants.
	MaxCoerceDepth int
	// Handling of jumps into the middle of decoded instructions.
	Misaligned MisalignedPolicy
	// Maximum number of blocks per routine; unbounded if not positive.
	MaxBlocks int
}

// Default configuration values.
const (
	DefaultTimeSlice      = 10 * time.Millisecond
	DefaultMaxCoerceDepth = 16
	DefaultMaxBlocks      = 1 << 16
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		TimeSlice:      DefaultTimeSlice,
		MaxCoerceDepth: DefaultMaxCoerceDepth,
		Misaligned:     MisalignedOverlap,
		MaxBlocks:      DefaultMaxBlocks,
	}
}

// Validate checks the configuration.
func (cfg *Config) Validate() error {
	switch cfg.Misaligned {
	case "", MisalignedOverlap, MisalignedFail:
	default:
		return errors.Errorf("invalid misaligned jump policy %q; expected %q or %q", cfg.Misaligned, MisalignedOverlap, MisalignedFail)
	}
	if cfg.TimeSlice < 0 {
		return errors.Errorf("invalid time slice %v", cfg.TimeSlice)
	}
	if cfg.MaxCoerceDepth < 0 {
		return errors.Errorf("invalid coercion depth %d", cfg.MaxCoerceDepth)
	}
	return nil
}

func (cfg *Config) setDefaults() {
	if cfg.Misaligned == "" {
		cfg.Misaligned = MisalignedOverlap
	}
	if cfg.MaxCoerceDepth == 0 {
		cfg.MaxCoerceDepth = DefaultMaxCoerceDepth
	}
}
