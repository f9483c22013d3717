//go:build !release

package lift

// debugChecks enables validation of lifted routines before they are
// published.
const debugChecks = true
