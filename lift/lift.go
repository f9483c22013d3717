// Package lift implements the lifting pipeline, which recursively decodes the
// machine code of a function into basic blocks of IR and resolves its control
// flow.
//
// Lifting is done in RVA space; the addresses of decoded instructions, blocks
// and jump targets are all relative to the image base.
package lift

import (
	"context"
	"io"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"

	"github.com/mewmew/lifter/arch"
	"github.com/mewmew/lifter/ir"
	"github.com/mewmew/lifter/sched"
)

var (
	// dbg is a logger which logs debug messages with "lift:" prefix to standard
	// error.
	dbg = log.New(os.Stderr, term.MagentaBold("lift:")+" ", 0)
	// warn is a logger which logs warning messages with "warning:" prefix to
	// standard error.
	warn = log.New(os.Stderr, term.RedBold("warning:")+" ", 0)
)

// SetLogOutput sets the output destination of debug and warning messages.
func SetLogOutput(w io.Writer) {
	dbg.SetOutput(w)
	warn.SetOutput(w)
}

var (
	// ErrOutOfBounds is returned when a jump target is not mapped by the
	// image.
	ErrOutOfBounds = errors.New("address out of image bounds")
	// ErrMisalignedJump is returned for jumps into the middle of a decoded
	// instruction when Config.Misaligned is MisalignedFail.
	ErrMisalignedJump = errors.New("misaligned jump")
	// ErrFailed is returned when a routine exceeds Config.MaxBlocks, and by
	// waits on phases published without a routine.
	ErrFailed = errors.New("lift failed")
	// ErrCanceled is returned when the lift of a method is canceled.
	ErrCanceled = sched.ErrCanceled
	// ErrInvalidPhase is returned for phases other than the lifting phases.
	ErrInvalidPhase = errors.New("invalid phase")
)

// Image is the executable image lifted from.
type Image interface {
	// Slice returns the bytes mapped at the given RVA up to the end of the
	// containing section; the slice is empty if rva is not mapped.
	Slice(rva uint64) []byte
}

// Resolver is notified of unconditional jumps whose target could not be
// resolved to a constant address. The resolver is invoked from the lifting
// task, while the routine of the method is under construction; it may inspect
// the jump but must not lift or wait on other methods.
type Resolver interface {
	OnUnresolvedJump(m *Method, jump *ir.Instruction)
}

// Lifter lifts the functions of an image, keeping one method per lifted entry
// point.
type Lifter struct {
	img      Image
	cfg      Config
	pool     *sched.Pool
	resolver Resolver

	// mu guards methods; the transition of a method phase to in-progress is
	// made while holding mu.
	mu      sync.RWMutex
	methods map[methodKey]*Method
}

type methodKey struct {
	rva  uint64
	arch ir.ArchID
}

// New returns a new lifter of the given image. The resolver is optional.
func New(img Image, cfg Config, resolver Resolver) *Lifter {
	cfg.setDefaults()
	return &Lifter{
		img:      img,
		cfg:      cfg,
		pool:     sched.NewPool(cfg.Workers, cfg.TimeSlice),
		resolver: resolver,
		methods:  make(map[methodKey]*Method),
	}
}

// Config returns the configuration of the lifter.
func (l *Lifter) Config() Config {
	return l.cfg
}

// Method returns the method of the function at the given RVA lifted as the
// architecture a, creating it if not present.
func (l *Lifter) Method(rva uint64, a arch.Architecture) *Method {
	key := methodKey{rva: rva, arch: a.ID()}
	l.mu.RLock()
	m, ok := l.methods[key]
	l.mu.RUnlock()
	if ok {
		return m
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.method(key, a)
}

// method returns the method of the given key, creating it if not present. The
// caller must hold l.mu for writing.
func (l *Lifter) method(key methodKey, a arch.Architecture) *Method {
	if m, ok := l.methods[key]; ok {
		return m
	}
	m := newMethod(l, key.rva, a)
	l.methods[key] = m
	return m
}

// Methods returns the methods of the lifter sorted by RVA.
func (l *Lifter) Methods() []*Method {
	l.mu.RLock()
	ms := make([]*Method, 0, len(l.methods))
	for _, m := range l.methods {
		ms = append(ms, m)
	}
	l.mu.RUnlock()
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].RVA != ms[j].RVA {
			return ms[i].RVA < ms[j].RVA
		}
		return ms[i].Arch.ID() < ms[j].Arch.ID()
	})
	return ms
}

// Lift lifts the function at the given RVA as the architecture a, and returns
// its routine. Repeated lifts of the same function return the same routine.
func (l *Lifter) Lift(ctx context.Context, rva uint64, a arch.Architecture) (*ir.Routine, error) {
	return l.LiftAsync(ctx, rva, a).Wait(ctx)
}

// LiftAsync starts the lift of the function at the given RVA as the
// architecture a on the worker pool of the lifter. A lift of the function
// already in progress or completed is joined instead of lifting again.
func (l *Lifter) LiftAsync(ctx context.Context, rva uint64, a arch.Architecture) *sched.Future[*ir.Routine] {
	key := methodKey{rva: rva, arch: a.ID()}
	l.mu.Lock()
	m := l.method(key, a)
	started := m.begin(PhaseLift)
	l.mu.Unlock()
	if !started {
		return sched.Go(ctx, l.pool, func(t *sched.Task) (r *ir.Routine, err error) {
			if err := t.Block(func() { r, err = m.Wait(ctx, PhaseLift) }); err != nil {
				return nil, err
			}
			return r, err
		})
	}
	f := sched.Go(ctx, l.pool, func(t *sched.Task) (*ir.Routine, error) {
		return l.liftMethod(t, m)
	})
	// Publish even if the task is canceled before it gets a worker slot.
	go func() {
		<-f.Done()
		r, err := f.Wait(context.Background())
		m.publish(PhaseLift, r, err)
	}()
	return f
}

// Wait blocks until every lift started by the lifter has finished.
func (l *Lifter) Wait() {
	l.pool.Wait()
}

// liftMethod lifts the routine of the method m.
func (l *Lifter) liftMethod(t *sched.Task, m *Method) (*ir.Routine, error) {
	dbg.Printf("lifting function at 0x%X (%s)", m.RVA, m.Arch.Name())
	f := &funcLifter{
		l:      l,
		t:      t,
		m:      m,
		r:      ir.NewRoutine(m.RVA, m.Arch.ID()),
		bounds: make(map[*ir.BasicBlock][]uint64),
	}
	if _, err := f.liftBlock(m.RVA); err != nil {
		return nil, errors.WithMessagef(err, "unable to lift function at 0x%X", m.RVA)
	}
	f.r.TopologicalSort()
	f.r.Renumber()
	if debugChecks {
		if err := f.r.Validate(); err != nil {
			panic(errors.Wrapf(err, "invalid routine of function at 0x%X", m.RVA))
		}
	}
	dbg.Printf("lifted function at 0x%X: %d blocks, %d instructions", m.RVA, f.r.Len(), f.r.NumInstructions())
	return f.r, nil
}
