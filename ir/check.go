//go:build !release

package ir

// debugChecks enables the structural invariant checks of the IR. Violations
// are defects of the lifter or optimizer and panic. Build with the release tag
// to skip the checks.
const debugChecks = true
