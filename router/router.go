// Package router selects and orders (backend, context) combinations
// for a parse, filtered to what the environment and request actually
// support. New code — no pack repo has a multi-backend planner — but
// built in the teacher's style: small value types as int enums with
// String() methods, the same shape as the teacher's own internal
// event-kind enums.
package router

import (
	"strings"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sys/cpu"

	"github.com/csvengine/csvengine/accel"
	"github.com/csvengine/csvengine/internal/csverr"
)

// Backend is an execution engine for the lexer/assembler pipeline.
type Backend int

const (
	// BackendCode is the pure-Go lexer/assembler pipeline. Always
	// available, compatible with every option combination.
	BackendCode Backend = iota
	// BackendCompiled runs the accel package's scan+parse path
	// in-process. Requires this build to link accel at all
	// (Capabilities.AcceleratorLoaded) and the UTF-8/single-byte-
	// delimiter/"-quotation/non-array envelope accel.ScanAndParse
	// documents.
	BackendCompiled
	// BackendCompiledAccel is BackendCompiled with the AVX-512
	// dispatch confirmed present (Capabilities.HasAVX512), the
	// teacher's actual accelerated path rather than its scalar
	// fallback.
	BackendCompiledAccel
)

func (b Backend) String() string {
	switch b {
	case BackendCode:
		return "code"
	case BackendCompiled:
		return "compiled"
	case BackendCompiledAccel:
		return "compiled-accel"
	default:
		return "unknown"
	}
}

// Context is where a backend runs.
type Context int

const (
	// ContextMain runs inline on the caller's goroutine.
	ContextMain Context = iota
	// ContextWorkerStreamTransfer runs in a worker.Session with the
	// input io.Reader moved by reference (no copy); only eligible for
	// streamed input.
	ContextWorkerStreamTransfer
	// ContextWorkerMessage runs in a worker.Session with input chunks
	// copied across the channel; only eligible for non-streamed input.
	ContextWorkerMessage
)

func (c Context) String() string {
	switch c {
	case ContextMain:
		return "main"
	case ContextWorkerStreamTransfer:
		return "worker-stream-transfer"
	case ContextWorkerMessage:
		return "worker-message"
	default:
		return "unknown"
	}
}

// Hint is the caller's optimization preference.
type Hint int

const (
	// HintBalanced is the default.
	HintBalanced Hint = iota
	HintSpeed
	HintMemory
	HintResponsive
)

func (h Hint) String() string {
	switch h {
	case HintBalanced:
		return "balanced"
	case HintSpeed:
		return "speed"
	case HintMemory:
		return "memory"
	case HintResponsive:
		return "responsive"
	default:
		return "unknown"
	}
}

// Candidate is one (backend, context) combination in a plan.
type Candidate struct {
	Backend Backend
	Context Context
}

// Capabilities generalizes the teacher's single useAVX512 boolean into
// a queryable struct. Grounded on simd_scanner.go's init() CPU probe
// (HasAVX512) and on raceordie690-simdcsv's SupportedCPU()+cpuid-based
// fallback-to-encoding/csv branch in ReadAll (HasAVX2, via
// klauspost/cpuid/v2 here rather than that repo's direct cpuid calls).
type Capabilities struct {
	HasAVX512         bool
	HasAVX2           bool
	AcceleratorLoaded bool // this build links the accel package (its build tag matched)
}

// DetectCapabilities probes the running environment. This is a
// distinct call site from accel's own internal AVX-512 gate: accel's
// check is a package-private precondition for executing a
// SIGILL-unsafe instruction; this one is the public capability query
// Plan filters candidates against, and runs even when accel isn't
// linked at all.
func DetectCapabilities() Capabilities {
	return Capabilities{
		HasAVX512:         cpu.X86.HasAVX512F && cpu.X86.HasAVX512BW && cpu.X86.HasAVX512VL,
		HasAVX2:           cpuid.CPU.Has(cpuid.AVX2),
		AcceleratorLoaded: accel.Available(),
	}
}

// Options describes the request Plan filters backends/contexts
// against. Zero value behaves as the most permissive object-output,
// comma-delimited, non-streaming, non-strict request.
type Options struct {
	ArrayOutput bool   // outputFormat=array; BackendCompiled/BackendCompiledAccel require object output
	Charset     string // default "utf-8"; compiled backends require utf-8
	Delimiter   string // default ","; compiled backends require exactly one byte
	Quotation   string // default `"`; compiled backends require exactly `"`
	Streaming   bool   // whether the input is a stream (gates worker-stream-transfer/-message)
	Strict      bool   // disables fallback; Plan still returns the full filtered order, the facade enforces strict

	// DisabledBackends/DisabledContexts let configuration opt a
	// combination out regardless of environment support.
	DisabledBackends []Backend
	DisabledContexts []Context
}

// FallbackEvent is delivered to the facade's Options.FallbackObserver
// whenever the facade (not Plan itself — Plan only orders candidates)
// falls back from its first choice to a later one. Plan returns the
// full ordered, filtered list; the facade walking that list is what
// actually produces fallback events, so this type lives here only as
// the shared vocabulary between the two.
type FallbackEvent struct {
	Requested Candidate
	Actual    Candidate
	Reason    string
}

// FallbackObserver is called once per non-strict fallback.
type FallbackObserver func(FallbackEvent)

var backendPriority = map[Hint][]Backend{
	HintSpeed:      {BackendCompiledAccel, BackendCompiled, BackendCode},
	HintMemory:     {BackendCode, BackendCompiled, BackendCompiledAccel},
	HintBalanced:   {BackendCompiled, BackendCompiledAccel, BackendCode},
	HintResponsive: {BackendCode, BackendCompiled, BackendCompiledAccel},
}

var contextPriority = map[Hint][]Context{
	HintSpeed:      {ContextMain, ContextWorkerStreamTransfer, ContextWorkerMessage},
	HintMemory:     {ContextMain, ContextWorkerStreamTransfer, ContextWorkerMessage},
	HintBalanced:   {ContextWorkerStreamTransfer, ContextWorkerMessage, ContextMain},
	HintResponsive: {ContextWorkerStreamTransfer, ContextWorkerMessage, ContextMain},
}

// Plan returns the ordered, filtered (backend, context) combinations
// for hint/caps/opts, highest priority first. It never itself falls
// back or errors for an empty result in non-strict mode — that
// decision belongs to the facade, which knows whether Options.Strict
// is set (an empty plan in strict mode is the facade's cue to return
// EngineUnavailableError; Plan surfaces an error only when hint itself
// is unrecognized).
func Plan(hint Hint, caps Capabilities, opts Options) ([]Candidate, error) {
	backends, ok := backendPriority[hint]
	if !ok {
		return nil, &csverr.EngineUnavailableError{
			Requested: hint.String(),
			Reason:    "unrecognized optimization hint",
		}
	}
	contexts := contextPriority[hint]

	var plan []Candidate
	for _, b := range backends {
		if !backendEligible(b, caps, opts) {
			continue
		}
		for _, c := range contexts {
			if !contextEligible(c, opts) {
				continue
			}
			plan = append(plan, Candidate{Backend: b, Context: c})
		}
	}
	return plan, nil
}

func backendEligible(b Backend, caps Capabilities, opts Options) bool {
	if contains(opts.DisabledBackends, b) {
		return false
	}
	switch b {
	case BackendCode:
		return true
	case BackendCompiled:
		return caps.AcceleratorLoaded && compiledEnvelopeOK(opts)
	case BackendCompiledAccel:
		return caps.AcceleratorLoaded && caps.HasAVX512 && compiledEnvelopeOK(opts)
	default:
		return false
	}
}

// compiledEnvelopeOK is accel.ScanAndParse's compatibility envelope:
// UTF-8 charset, a single-byte delimiter, '"' quotation, and
// non-array output.
func compiledEnvelopeOK(opts Options) bool {
	if opts.ArrayOutput {
		return false
	}
	charset := opts.Charset
	if charset == "" {
		charset = "utf-8"
	}
	if !strings.EqualFold(charset, "utf-8") && !strings.EqualFold(charset, "utf8") {
		return false
	}
	delim := opts.Delimiter
	if delim == "" {
		delim = ","
	}
	if len(delim) != 1 {
		return false
	}
	quote := opts.Quotation
	if quote == "" {
		quote = `"`
	}
	return quote == `"`
}

func contextEligible(c Context, opts Options) bool {
	if contains(opts.DisabledContexts, c) {
		return false
	}
	switch c {
	case ContextMain:
		return true
	case ContextWorkerStreamTransfer:
		return opts.Streaming
	case ContextWorkerMessage:
		return !opts.Streaming
	default:
		return false
	}
}

func contains[T comparable](s []T, v T) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
