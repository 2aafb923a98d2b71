// Package csvengine is the parser facade: a single Options struct and
// four entry points (ParseString, Parse, ParseAsync, ParseToStream)
// over the lexer/assembler/binfront/router/worker/accel packages,
// mirroring the teacher's own Reader/ReadAll dual shape extended to
// the synchronous-array, lazy-iterator, async-channel, and
// backpressured-stream shapes this engine's callers need.
package csvengine

import (
	"context"
	"io"
	"iter"

	"github.com/csvengine/csvengine/assembler"
	"github.com/csvengine/csvengine/binfront"
	"github.com/csvengine/csvengine/internal/csverr"
	"github.com/csvengine/csvengine/lexer"
	"github.com/csvengine/csvengine/router"
	"github.com/csvengine/csvengine/worker"
)

// Record is one assembled row, handed through unchanged from the
// assembler.
type Record = assembler.Record

// OutputFormat, Strategy, and DecompressionFormat are re-exported so
// callers configure Options without importing the component packages
// directly.
type (
	OutputFormat        = assembler.OutputFormat
	Strategy            = assembler.Strategy
	DecompressionFormat = binfront.Decompression
)

// Re-exported OutputFormat/Strategy/Decompression values, so a caller
// only ever imports this package.
const (
	Object = assembler.Object
	Array  = assembler.Array

	Fill     = assembler.Fill
	Strict   = assembler.Strict
	Truncate = assembler.Truncate
	Keep     = assembler.Keep
	Sparse   = assembler.Sparse

	NoDecompression = binfront.NoDecompression
	Gzip            = binfront.Gzip
	Flate           = binfront.Flate
)

// Infinite disables a size guard (MaxBufferSize, MaxFieldSize,
// MaxBinarySize). MaxFieldCount uses its own assembler.Infinite, which
// has the same value; both are exposed for parity with spec.md's
// per-field sentinel naming.
const Infinite = lexer.Infinite

// Options aggregates every knob spec.md §3/§6 names, across the
// lexer/assembler/binfront/router layers. Grounded on the teacher's
// ReaderOptions/extendedOptions split: Options is the public knob set,
// and toLexerOptions/toAssemblerOptions/toBinfrontOptions/toRouterOptions
// below are its internal normalized forms per downstream package.
type Options struct {
	Delimiter, Quotation string

	// Header: nil means infer from the first row; non-nil (including
	// an empty slice) means an explicit header is bound up front.
	Header         []string
	SkipEmptyLines bool

	OutputFormat        OutputFormat
	ColumnCountStrategy Strategy
	IncludeHeader       bool

	MaxBufferSize, MaxFieldSize int64 // Infinite disables
	MaxFieldCount               int   // assembler.Infinite disables

	MaxBinarySize int64 // Infinite disables
	Charset       string
	IgnoreBOM     bool
	Fatal         bool
	Decompression DecompressionFormat

	Source        string
	TrackLocation bool
	Signal        <-chan struct{}

	OptimizationHint router.Hint
	Strict           bool

	// FallbackObserver, if set, is called once per non-strict
	// fallback away from the router's first-choice candidate.
	FallbackObserver router.FallbackObserver

	// ChunkSize bounds how many bytes the worker-driven entry points
	// (ParseAsync, ParseToStream, ParseBytesStreaming) read per
	// streaming iteration from the text to lex; ParseString and Parse
	// take their input whole and ignore it. Zero means
	// worker.DefaultChunkSize.
	ChunkSize int
}

// DefaultOptions returns spec.md §3's defaults, composed from the
// component packages' own DefaultOptions so a default here always
// tracks a default changed downstream.
func DefaultOptions() Options {
	lx := lexer.DefaultOptions()
	asm := assembler.DefaultOptions()
	bf := binfront.DefaultOptions()
	return Options{
		Delimiter:           lx.Delimiter,
		Quotation:           lx.Quotation,
		OutputFormat:        asm.OutputFormat,
		ColumnCountStrategy: asm.ColumnCountStrategy,
		MaxBufferSize:       lx.MaxBufferSize,
		MaxFieldSize:        lx.MaxFieldSize,
		MaxFieldCount:       asm.MaxFieldCount,
		MaxBinarySize:       bf.MaxBinarySize,
		Charset:             bf.Charset,
		Decompression:       bf.Decompression,
		OptimizationHint:    router.HintBalanced,
	}
}

func (o Options) toLexerOptions() lexer.Options {
	return lexer.Options{
		Delimiter:     o.Delimiter,
		Quotation:     o.Quotation,
		Source:        o.Source,
		TrackLocation: o.TrackLocation,
		MaxBufferSize: o.MaxBufferSize,
		MaxFieldSize:  o.MaxFieldSize,
		Signal:        o.Signal,
	}
}

func (o Options) toAssemblerOptions() assembler.Options {
	return assembler.Options{
		Header:              o.Header,
		OutputFormat:        o.OutputFormat,
		ColumnCountStrategy: o.ColumnCountStrategy,
		IncludeHeader:       o.IncludeHeader,
		SkipEmptyLines:      o.SkipEmptyLines,
		Source:              o.Source,
		MaxFieldCount:       o.MaxFieldCount,
	}
}

func (o Options) toBinfrontOptions() binfront.Options {
	return binfront.Options{
		MaxBinarySize: o.MaxBinarySize,
		Charset:       o.Charset,
		IgnoreBOM:     o.IgnoreBOM,
		Fatal:         o.Fatal,
		Decompression: o.Decompression,
	}
}

func (o Options) toRouterOptions(streaming bool) router.Options {
	return router.Options{
		ArrayOutput: o.OutputFormat == assembler.Array,
		Charset:     o.Charset,
		Delimiter:   o.Delimiter,
		Quotation:   o.Quotation,
		Streaming:   streaming,
		Strict:      o.Strict,
	}
}

func (o Options) toWorkerOptions() worker.Options {
	return worker.Options{
		Lexer:     o.toLexerOptions(),
		Assembler: o.toAssemblerOptions(),
		ChunkSize: o.ChunkSize,
	}
}

// plan resolves Options to an ordered, filtered candidate list and
// picks the first one, honoring Strict. It reports nothing to
// Options.FallbackObserver; parseBuffer does that when a compiled
// backend fails.
func plan(opts Options, streaming bool) (router.Candidate, error) {
	caps := router.DetectCapabilities()
	candidates, err := router.Plan(opts.OptimizationHint, caps, opts.toRouterOptions(streaming))
	if err != nil {
		return router.Candidate{}, err
	}
	if len(candidates) == 0 {
		if opts.Strict {
			return router.Candidate{}, &csverr.EngineUnavailableError{
				Requested: opts.OptimizationHint.String(),
				Reason:    "no backend/context combination satisfies the requested options",
			}
		}
		return router.Candidate{Backend: router.BackendCode, Context: router.ContextMain}, nil
	}
	// candidates[0] is already filtered against this build's actual
	// capabilities (router.DetectCapabilities reads accel.Available()
	// itself), so no further build-linkage check is needed here.
	return candidates[0], nil
}

// decodeInput runs opts' binfront stage over r, shared by every entry
// point that accepts an io.Reader (Parse, ParseAsync, and the
// Reader façade).
func decodeInput(r io.Reader, opts Options) (io.Reader, error) {
	return binfront.Decode(r, opts.toBinfrontOptions())
}

// lexAndAssemble runs the code backend over a complete in-memory
// buffer.
func lexAndAssemble(buf []byte, opts Options) ([]Record, error) {
	lx := lexer.New(opts.toLexerOptions())
	tokens, err := lx.Lex(buf, false)
	if err != nil {
		return nil, err
	}
	return assembleTokens(tokens, opts)
}

func assembleTokens(tokens []lexer.Token, opts Options) ([]Record, error) {
	asm := assembler.New(opts.toAssemblerOptions())
	return asm.Assemble(tokens, false)
}

func delimiterByte(delim string) (byte, bool) {
	if delim == "" {
		return ',', true
	}
	if len(delim) != 1 {
		return 0, false
	}
	return delim[0], true
}

func quotationByte(quote string) (byte, bool) {
	if quote == "" {
		return '"', true
	}
	if len(quote) != 1 {
		return 0, false
	}
	return quote[0], true
}

// parseBuffer runs the candidate chosen by plan over a complete
// in-memory buffer, falling back to the code backend if the compiled
// path rejects the buffer for a reason Plan's static filtering
// couldn't catch (Options fields are resolved to bytes here, not at
// Plan time).
func parseBuffer(buf []byte, opts Options) ([]Record, error) {
	chosen, err := plan(opts, false)
	if err != nil {
		return nil, err
	}
	if chosen.Backend == router.BackendCode {
		return lexAndAssemble(buf, opts)
	}

	sep, ok1 := delimiterByte(opts.Delimiter)
	quote, ok2 := quotationByte(opts.Quotation)
	if !ok1 || !ok2 {
		if opts.Strict {
			return nil, &csverr.EngineUnavailableError{Requested: chosen.Backend.String(), Reason: "delimiter/quotation incompatible with compiled backend"}
		}
		return lexAndAssemble(buf, opts)
	}

	tokens, err := compiledScanAndParse(buf, sep, quote)
	if err != nil {
		if opts.Strict {
			return nil, err
		}
		if opts.FallbackObserver != nil {
			opts.FallbackObserver(router.FallbackEvent{
				Requested: chosen,
				Actual:    router.Candidate{Backend: router.BackendCode, Context: chosen.Context},
				Reason:    err.Error(),
			})
		}
		return lexAndAssemble(buf, opts)
	}
	return assembleTokens(tokens, opts)
}

// ParseString parses a complete in-memory string in one call — the
// synchronous-array shape.
func ParseString(s string, opts Options) ([]Record, error) {
	return parseBuffer([]byte(s), opts)
}

// Parse decodes r through the binary front-end, then parses its
// content and yields one Record at a time as a Go 1.23 range-over-func
// iterator — the lazy pull-iterator shape. Iteration stops at the
// first error, which is delivered as the final (Record{}, err) pair;
// a consumer that breaks the range early simply stops pulling, with
// no further work done.
func Parse(r io.Reader, opts Options) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		decoded, err := decodeInput(r, opts)
		if err != nil {
			yield(Record{}, err)
			return
		}
		buf, err := io.ReadAll(decoded)
		if err != nil {
			yield(Record{}, err)
			return
		}
		records, err := parseBuffer(buf, opts)
		if err != nil {
			yield(Record{}, err)
			return
		}
		for _, rec := range records {
			if cancelled(opts.Signal) {
				yield(Record{}, csverr.ErrCancelled)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Result is one message from ParseAsync's channel.
type Result struct {
	Record Record
	Err    error
}

// ParseAsync decodes r through the binary front-end, then drives the
// parse on a worker.Session and streams Records back over a buffered
// channel — the async pull-iterator shape. The channel is closed when
// the parse ends: a failure is delivered as one final Result with Err
// set, while a successful parse sends no terminal Result.
func ParseAsync(ctx context.Context, r io.Reader, opts Options) <-chan Result {
	out := make(chan Result, 16)
	go func() {
		defer close(out)

		decoded, err := decodeInput(r, opts)
		if err != nil {
			out <- Result{Err: err}
			return
		}

		sess := worker.Start(ctx)
		defer sess.Close()

		cmd := worker.CmdParseBinaryStream
		events, err := sess.Submit(cmd, decoded, opts.toWorkerOptions())
		if err != nil {
			out <- Result{Err: err}
			return
		}
		for ev := range events {
			if ev.Err != nil {
				out <- Result{Err: ev.Err}
				return
			}
			if ev.Done {
				return
			}
			if ev.Record != nil {
				out <- Result{Record: *ev.Record}
			}
		}
	}()
	return out
}

// RecordWriter receives records from ParseToStream. WriteRecord may
// block to apply backpressure; a non-nil error aborts the parse and is
// returned from ParseToStream.
type RecordWriter interface {
	WriteRecord(Record) error
}

// ParseToStream drives a parse via ParseAsync and writes each Record
// to w in order, stopping at the first error from either side.
func ParseToStream(ctx context.Context, r io.Reader, w RecordWriter, opts Options) error {
	for res := range ParseAsync(ctx, r, opts) {
		if res.Err != nil {
			return res.Err
		}
		if err := w.WriteRecord(res.Record); err != nil {
			return err
		}
	}
	return nil
}

func cancelled(signal <-chan struct{}) bool {
	if signal == nil {
		return false
	}
	select {
	case <-signal:
		return true
	default:
		return false
	}
}
