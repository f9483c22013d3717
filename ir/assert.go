package ir

import (
	"github.com/pkg/errors"
)

// assert panics with the given message if cond is false and invariant checks
// are enabled.
func assert(cond bool, format string, args ...interface{}) {
	if debugChecks && !cond {
		panic(errors.Errorf(format, args...))
	}
}

// check panics with err if err is non-nil and invariant checks are enabled.
func check(err error) {
	if debugChecks && err != nil {
		panic(err)
	}
}
