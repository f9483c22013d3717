//go:build release

package lift

const debugChecks = false
