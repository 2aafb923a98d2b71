//go:build goexperiment.simd && amd64

package accel

// Available reports whether this build links the accelerated scan/parse
// path at all (the goexperiment.simd && amd64 build tag matched).
// Whether the faster AVX-512 dispatch within it is actually taken at
// runtime is a separate question; see HasAVX512.
func Available() bool { return true }
