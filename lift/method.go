package lift

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/mewmew/lifter/arch"
	"github.com/mewmew/lifter/ir"
)

// Phase is a stage of progressively refined IR of a method.
type Phase uint8

// Lifting phases.
const (
	// PhaseLift is the IR as produced by the lifting pipeline.
	PhaseLift Phase = iota
	// PhaseSSA is the IR after promotion of registers to SSA values.
	PhaseSSA
	// PhaseOptimized is the IR after optimization.
	PhaseOptimized

	numPhases
)

var phaseNames = [...]string{
	PhaseLift:      "lift",
	PhaseSSA:       "ssa",
	PhaseOptimized: "optimized",
}

func (p Phase) String() string {
	if p < numPhases {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase%d", uint8(p))
}

func (p Phase) mask() uint32 { return 1 << p }

func (p Phase) check() error {
	if p >= numPhases {
		return errors.Wrapf(ErrInvalidPhase, "phase %v", p)
	}
	return nil
}

// Method is the analysis unit of a function lifted as a given architecture. A
// method holds one routine per completed phase.
//
// Each phase goes from absent to in-progress to either complete or failed.
// Completion is observed lock-free through atomic phase masks, and waiters
// block on a per-phase channel closed on completion.
type Method struct {
	// Entry point (RVA) of the function.
	RVA uint64
	// Architecture of the entry point.
	Arch arch.Architecture

	lifter *Lifter
	// Phases in progress or completed.
	started atomic.Uint32
	// Phases claimed for publication.
	published atomic.Uint32
	// Phases completed, successfully or not.
	done atomic.Uint32
	// Phases failed.
	failed atomic.Uint32
	// Per phase channel closed on completion.
	ready [numPhases]chan struct{}
	// Per phase routine and error; written once before the phase is marked
	// done.
	routines [numPhases]*ir.Routine
	errs     [numPhases]error
}

func newMethod(l *Lifter, rva uint64, a arch.Architecture) *Method {
	m := &Method{RVA: rva, Arch: a, lifter: l}
	for i := range m.ready {
		m.ready[i] = make(chan struct{})
	}
	return m
}

// setBit atomically sets bit in mask, and reports whether it was clear.
func setBit(mask *atomic.Uint32, bit uint32) bool {
	for {
		old := mask.Load()
		if old&bit != 0 {
			return false
		}
		if mask.CompareAndSwap(old, old|bit) {
			return true
		}
	}
}

// begin marks the phase as in progress, and reports whether the caller is the
// one to produce it. The caller must hold the lock of the lifter.
func (m *Method) begin(phase Phase) bool {
	return setBit(&m.started, phase.mask())
}

// publish completes the phase with the given routine, or marks it failed if
// err is non-nil, and wakes all waiters of the phase. It reports false if the
// phase was already published.
func (m *Method) publish(phase Phase, r *ir.Routine, err error) bool {
	if !setBit(&m.published, phase.mask()) {
		return false
	}
	if err == nil && r == nil {
		err = errors.Wrapf(ErrFailed, "phase %v of function at 0x%X published without routine", phase, m.RVA)
	}
	if err != nil {
		r = nil
		m.failed.Or(phase.mask())
	}
	m.routines[phase] = r
	m.errs[phase] = err
	m.done.Or(phase.mask())
	close(m.ready[phase])
	return true
}

// Begin claims the production of the given phase for an external pass. It
// reports false if the phase is already in progress or completed. A claimed
// phase must be completed with Publish.
func (m *Method) Begin(phase Phase) (bool, error) {
	if err := phase.check(); err != nil {
		return false, err
	}
	m.lifter.mu.Lock()
	defer m.lifter.mu.Unlock()
	return m.begin(phase), nil
}

// Publish completes a phase claimed with Begin. A non-nil err marks the phase
// failed; the routine is discarded in that case.
func (m *Method) Publish(phase Phase, r *ir.Routine, err error) error {
	if err := phase.check(); err != nil {
		return err
	}
	if m.started.Load()&phase.mask() == 0 {
		return errors.Errorf("publishing phase %v of function at 0x%X before it was begun", phase, m.RVA)
	}
	if !m.publish(phase, r, err) {
		return errors.Errorf("phase %v of function at 0x%X already published", phase, m.RVA)
	}
	return nil
}

// Done reports whether the given phase has completed, successfully or not.
func (m *Method) Done(phase Phase) bool {
	return m.done.Load()&phase.mask() != 0
}

// Failed reports whether the given phase has completed without a routine.
func (m *Method) Failed(phase Phase) bool {
	return m.failed.Load()&phase.mask() != 0
}

// Routine returns the routine of the given phase, or nil if the phase is not
// complete or failed.
func (m *Method) Routine(phase Phase) *ir.Routine {
	if phase >= numPhases || m.done.Load()&phase.mask() == 0 {
		return nil
	}
	return m.routines[phase]
}

// Wait blocks until the given phase has completed or ctx is done, and returns
// the routine of the phase.
func (m *Method) Wait(ctx context.Context, phase Phase) (*ir.Routine, error) {
	if err := phase.check(); err != nil {
		return nil, err
	}
	select {
	case <-m.ready[phase]:
		return m.routines[phase], m.errs[phase]
	case <-ctx.Done():
		return nil, errors.Wrap(ErrCanceled, ctx.Err().Error())
	}
}

// String returns a short description of the method.
func (m *Method) String() string {
	return fmt.Sprintf("%s:0x%X", m.Arch.Name(), m.RVA)
}
