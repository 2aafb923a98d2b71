//go:build !(goexperiment.simd && amd64)

// Package accel's scan/parse implementation requires
// goexperiment.simd && amd64; on every other build this file alone
// satisfies the package so callers (router's capability probe, the
// worker's backend dispatch) can reference accel.Available() on any
// platform without build-tag gymnastics of their own.
package accel

// Available reports whether this build links the accelerated scan/parse
// path. Always false here; see available_simd.go for the matching build.
func Available() bool { return false }
