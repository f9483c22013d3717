package main

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mewmew/lifter/arch"
	"github.com/mewmew/lifter/arch/arm64"
	"github.com/mewmew/lifter/arch/x86"
	"github.com/mewmew/lifter/bin"
	"github.com/mewmew/lifter/ir"
	"github.com/mewmew/lifter/lift"
	"github.com/mewmew/lifter/lower"
)

func newRootCmd() *cobra.Command {
	var (
		// Settings specified on the command line.
		flags Config
		// Path to TOML configuration file.
		cfgPath string
		// quiet specifies whether to suppress non-error messages.
		quiet bool
		debug bool
	)
	cmd := &cobra.Command{
		Use:   "lift [flags] <binary> [addr...]",
		Short: "Lift functions of binary executables",
		Long: `Lift decodes the functions of a binary executable and translates them into an
architecture-neutral IR, or into LLVM IR assembly.`,
		Example: `
# Lift the entry point of an executable
lift /path/to/binary

# Lift two functions to LLVM IR
lift --llvm /path/to/binary 0x401000 0x401200

# Lift a raw blob of x86-64 code
lift -a x86_64 code.bin 0
  `,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if quiet {
				lift.SetLogOutput(io.Discard)
				lower.SetLogOutput(io.Discard)
				x86.SetLogOutput(io.Discard)
				arm64.SetLogOutput(io.Discard)
			}
			if debug {
				logger.SetLevel(log.DebugLevel)
			}
			cfg := &Config{}
			if cfgPath != "" {
				var err error
				if cfg, err = loadConfig(cfgPath); err != nil {
					return errors.WithStack(err)
				}
			}
			cfg.merge(cmd.Flags(), &flags)
			if err := run(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], args[1:]); err != nil {
				logger.Debugf("%+v", err)
				return err
			}
			return nil
		},
	}
	flags.addFlags(cmd.Flags())
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "TOML configuration file")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error messages")
	cmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug")
	cmd.AddCommand(newSchemaCmd())
	return cmd
}

// run lifts the functions at the given addresses of the binary executable,
// and writes the lifted IR or LLVM IR assembly to w.
func run(ctx context.Context, w io.Writer, cfg *Config, binPath string, addrs []string) error {
	img, err := bin.Open(binPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer img.Close()
	archName := cfg.Arch
	if archName == "" {
		archName = img.Arch
	}
	if archName == "" {
		return errors.Errorf("unable to detect architecture of %q; specify one of %q with --arch", binPath, arch.Names())
	}
	a, err := arch.Lookup(archName)
	if err != nil {
		return errors.WithStack(err)
	}
	rvas, err := entryRVAs(img, cfg.Entries, addrs)
	if err != nil {
		return errors.WithStack(err)
	}
	liftCfg, err := cfg.liftConfig()
	if err != nil {
		return errors.WithStack(err)
	}

	// Lift functions concurrently.
	l := lift.New(img, liftCfg, jumpLogger{})
	defer l.Wait()
	routines := make([]*ir.Routine, len(rvas))
	g, ctx := errgroup.WithContext(ctx)
	for i, rva := range rvas {
		g.Go(func() error {
			r, err := l.Lift(ctx, rva, a)
			if err != nil {
				return errors.Wrapf(err, "unable to lift function at %v", img.Base+bin.Addr(rva))
			}
			logger.Info("lifted function", "addr", img.Base+bin.Addr(rva), "blocks", r.Len(), "instructions", r.NumInstructions())
			routines[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if !cfg.LLVM {
		for i, r := range routines {
			if i != 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintln(w, r)
		}
		return nil
	}
	lw := lower.New()
	lw.Names = func(rva uint64) (string, bool) {
		return img.SymbolName(bin.Addr(rva))
	}
	for _, r := range routines {
		if _, err := lw.Lower(r); err != nil {
			return errors.WithStack(err)
		}
	}
	fmt.Fprintln(w, lw.Module)
	return nil
}

// jumpLogger reports jumps left unresolved by the lifter.
type jumpLogger struct{}

func (jumpLogger) OnUnresolvedJump(m *lift.Method, jump *ir.Instruction) {
	logger.Debug("unresolved jump", "function", m, "rva", fmt.Sprintf("0x%X", jump.IP))
}
