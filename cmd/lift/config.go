package main

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/mewmew/lifter/lift"
)

// Config is the configuration of the lift tool, read from a TOML file and
// overridden by command line flags.
type Config struct {
	// Architecture of the lifted code; defaults to the architecture of the
	// binary.
	Arch string `toml:"arch" json:"arch,omitempty" jsonschema:"title=Architecture,description=Architecture of the lifted code,enum=x86,enum=x86_64,enum=arm64"`
	// Output LLVM IR assembly instead of IR.
	LLVM bool `toml:"llvm" json:"llvm,omitempty" jsonschema:"title=LLVM,description=Output LLVM IR assembly"`
	// Path to JSON file listing function addresses to lift.
	Entries string `toml:"entries" json:"entries,omitempty" jsonschema:"title=Entries,description=JSON file listing function addresses to lift"`
	// Number of concurrent lift tasks; 0 for the number of CPUs.
	Workers int `toml:"workers" json:"workers,omitempty" jsonschema:"title=Workers,description=Number of concurrent lift tasks,minimum=0"`
	// Time slice of lift tasks, as a duration string (e.g. "10ms").
	TimeSlice string `toml:"time_slice" json:"time_slice,omitempty" jsonschema:"title=Time Slice,description=Time slice of lift tasks,example=10ms"`
	// Maximum depth of expressions evaluated to resolve branch targets.
	MaxCoerceDepth int `toml:"max_coerce_depth" json:"max_coerce_depth,omitempty" jsonschema:"title=Max Coerce Depth,description=Maximum depth of expressions evaluated to resolve branch targets,minimum=0"`
	// Maximum number of blocks per lifted function.
	MaxBlocks int `toml:"max_blocks" json:"max_blocks,omitempty" jsonschema:"title=Max Blocks,description=Maximum number of blocks per lifted function,minimum=0"`
	// Handling of jumps into the middle of decoded instructions.
	Misaligned string `toml:"misaligned" json:"misaligned,omitempty" jsonschema:"title=Misaligned Jumps,description=Handling of jumps into the middle of decoded instructions,enum=overlap,enum=fail"`
}

// loadConfig loads the TOML configuration file at the given path. Unknown keys
// are rejected.
func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	cfg := &Config{}
	dec := toml.NewDecoder(f).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "unable to parse config file %q", path)
	}
	return cfg, nil
}

// addFlags adds the command line flags overriding cfg to fs.
func (cfg *Config) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&cfg.Arch, "arch", "a", cfg.Arch, "architecture of the lifted code")
	fs.BoolVar(&cfg.LLVM, "llvm", cfg.LLVM, "output LLVM IR assembly")
	fs.StringVar(&cfg.Entries, "entries", cfg.Entries, "JSON file listing function addresses to lift")
	fs.IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "number of concurrent lift tasks")
	fs.StringVar(&cfg.TimeSlice, "time-slice", cfg.TimeSlice, "time slice of lift tasks")
	fs.IntVar(&cfg.MaxCoerceDepth, "max-coerce-depth", cfg.MaxCoerceDepth, "maximum depth of expressions evaluated to resolve branch targets")
	fs.IntVar(&cfg.MaxBlocks, "max-blocks", cfg.MaxBlocks, "maximum number of blocks per lifted function")
	fs.StringVar(&cfg.Misaligned, "misaligned", cfg.Misaligned, `handling of jumps into decoded instructions ("overlap" or "fail")`)
}

// merge overrides the settings of cfg with the flags of fs explicitly set on
// the command line.
func (cfg *Config) merge(fs *pflag.FlagSet, flags *Config) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "arch":
			cfg.Arch = flags.Arch
		case "llvm":
			cfg.LLVM = flags.LLVM
		case "entries":
			cfg.Entries = flags.Entries
		case "workers":
			cfg.Workers = flags.Workers
		case "time-slice":
			cfg.TimeSlice = flags.TimeSlice
		case "max-coerce-depth":
			cfg.MaxCoerceDepth = flags.MaxCoerceDepth
		case "max-blocks":
			cfg.MaxBlocks = flags.MaxBlocks
		case "misaligned":
			cfg.Misaligned = flags.Misaligned
		}
	})
}

// liftConfig returns the lifter configuration of cfg.
func (cfg *Config) liftConfig() (lift.Config, error) {
	c := lift.DefaultConfig()
	if cfg.Workers != 0 {
		c.Workers = cfg.Workers
	}
	if cfg.TimeSlice != "" {
		d, err := time.ParseDuration(cfg.TimeSlice)
		if err != nil {
			return lift.Config{}, errors.Wrapf(err, "invalid time slice %q", cfg.TimeSlice)
		}
		c.TimeSlice = d
	}
	if cfg.MaxCoerceDepth != 0 {
		c.MaxCoerceDepth = cfg.MaxCoerceDepth
	}
	if cfg.MaxBlocks != 0 {
		c.MaxBlocks = cfg.MaxBlocks
	}
	if cfg.Misaligned != "" {
		c.Misaligned = lift.MisalignedPolicy(cfg.Misaligned)
	}
	if err := c.Validate(); err != nil {
		return lift.Config{}, errors.WithStack(err)
	}
	return c, nil
}
