//go:build release

package ir

const debugChecks = false
