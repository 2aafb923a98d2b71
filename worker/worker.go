// Package worker runs a lexer/assembler pipeline on a background
// goroutine and reports progress over a channel, so a caller can move
// parsing off its own goroutine without reimplementing the pipeline.
//
// The read loop that turns an io.Reader into a sequence of byte chunks
// is grounded on raceordie690-simdcsv's readAllStreaming: a buffered
// reader goroutine pushing chunkIn values onto a channel for a
// downstream stage to consume. Unlike that reader, a Session's
// downstream stage is the single sequential lexer/assembler pipeline,
// not a pool of parallel chunk workers — the concurrency model this
// package implements keeps the core pipeline strictly sequential
// (lexing and assembling one chunk fully before starting the next)
// and uses the worker goroutine only to relocate that pipeline off the
// caller, never to parallelize it. A worker session's out-of-order
// reassembly is therefore unnecessary here: a single goroutine reading
// a single channel already preserves submission order.
package worker

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/csvengine/csvengine/assembler"
	"github.com/csvengine/csvengine/internal/csverr"
	"github.com/csvengine/csvengine/lexer"
)

// Command selects the shape of the payload Submit expects.
type Command int

const (
	// CmdParseString parses a payload of type string in one shot.
	CmdParseString Command = iota
	// CmdParseBinary parses a payload of type []byte in one shot.
	CmdParseBinary
	// CmdParseStringStream parses a payload of type io.Reader, read
	// incrementally, the Reader transferred by reference into the
	// worker goroutine rather than copied.
	CmdParseStringStream
	// CmdParseBinaryStream is CmdParseStringStream's binary-input
	// counterpart; the two share an implementation since the pipeline
	// below the io.Reader boundary is byte-oriented either way.
	CmdParseBinaryStream
)

func (c Command) String() string {
	switch c {
	case CmdParseString:
		return "parseString"
	case CmdParseBinary:
		return "parseBinary"
	case CmdParseStringStream:
		return "parseStringStream"
	case CmdParseBinaryStream:
		return "parseBinaryStream"
	default:
		return "unknown"
	}
}

// DefaultChunkSize is how many bytes runStream reads per iteration
// when no Options.ChunkSize is given.
const DefaultChunkSize = 64 * 1024

// Options configures a single Submit call's pipeline.
type Options struct {
	Lexer     lexer.Options
	Assembler assembler.Options
	// ChunkSize bounds how many bytes are read from the stream payload
	// per iteration. Zero means DefaultChunkSize. Ignored for the
	// non-streaming commands, which consume their payload whole.
	ChunkSize int
}

// DefaultOptions returns lexer.DefaultOptions and
// assembler.DefaultOptions paired with DefaultChunkSize.
func DefaultOptions() Options {
	return Options{
		Lexer:     lexer.DefaultOptions(),
		Assembler: assembler.DefaultOptions(),
		ChunkSize: DefaultChunkSize,
	}
}

// Event is one message in a Submit response: a record, or a terminal
// Done, or a terminal Err — never more than one of the three set on a
// sent Event, and never a message after the terminal one.
type Event struct {
	Record *assembler.Record
	Done   bool
	Err    error
}

// Session owns one cancellation scope; every Submit call started
// through it observes the same Context and is cancelled together when
// the Session's Context is cancelled or Close is called.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	nextID atomic.Int64
}

// Start begins a Session bound to ctx. Cancelling ctx (or calling
// (*Session).Close) stops every in-flight Submit within one record
// boundary, per the signal-propagated cancellation contract.
func Start(ctx context.Context) *Session {
	cctx, cancel := context.WithCancel(ctx)
	return &Session{ctx: cctx, cancel: cancel}
}

// Close cancels every in-flight and future Submit call on s.
func (s *Session) Close() {
	s.cancel()
}

// Submit starts cmd against payload and returns the channel of
// resulting Events. payload must match cmd: string for
// CmdParseString, []byte for CmdParseBinary, io.Reader for the two
// streaming commands. The returned channel receives zero or more
// Events with Record set, then exactly one Event with either Done or
// Err set, then is closed.
func (s *Session) Submit(cmd Command, payload any, opts Options) (<-chan Event, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	id := s.nextID.Add(1)
	events := make(chan Event, 16)

	switch cmd {
	case CmdParseString:
		str, ok := payload.(string)
		if !ok {
			return nil, &csverr.EngineUnavailableError{Requested: cmd.String(), Reason: "payload must be a string"}
		}
		go s.runBuffer(id, []byte(str), opts, events)
	case CmdParseBinary:
		buf, ok := payload.([]byte)
		if !ok {
			return nil, &csverr.EngineUnavailableError{Requested: cmd.String(), Reason: "payload must be []byte"}
		}
		go s.runBuffer(id, buf, opts, events)
	case CmdParseStringStream, CmdParseBinaryStream:
		r, ok := payload.(io.Reader)
		if !ok {
			return nil, &csverr.EngineUnavailableError{Requested: cmd.String(), Reason: "payload must be an io.Reader"}
		}
		go s.runStream(id, r, opts, events)
	default:
		return nil, &csverr.EngineUnavailableError{Requested: cmd.String(), Reason: "unrecognized command"}
	}

	return events, nil
}

// runBuffer lexes and assembles a complete in-memory payload in one
// pass. Grounded on the facade's toArraySync shape, run off the
// caller's goroutine.
func (s *Session) runBuffer(id int64, buf []byte, opts Options, events chan<- Event) {
	defer close(events)

	lx := lexer.New(opts.Lexer)
	asm := assembler.New(opts.Assembler)

	tokens, err := lx.Lex(buf, false)
	if err != nil {
		events <- Event{Err: err}
		return
	}
	if s.cancelled() {
		events <- Event{Err: csverr.ErrCancelled}
		return
	}
	records, err := asm.Assemble(tokens, false)
	if err != nil {
		events <- Event{Err: err}
		return
	}
	if s.emitRecords(records, events) {
		events <- Event{Done: true}
	}
}

// runStream reads r in Options.ChunkSize pieces, feeding each piece
// through the lexer/assembler pair with stream=true, flushing with a
// final empty, stream=false call once r is exhausted. This mirrors
// readAllStreaming's buffered-read loop (a fixed-size buffer refilled
// in a loop, the last read distinguished by io.EOF) without that
// function's chunk-to-worker fan-out: the lexer/assembler pair here is
// a single instance threaded sequentially across reads, since both
// types are explicitly stateful across streamed calls.
func (s *Session) runStream(id int64, r io.Reader, opts Options, events chan<- Event) {
	defer close(events)

	lx := lexer.New(opts.Lexer)
	asm := assembler.New(opts.Assembler)
	chunk := make([]byte, opts.ChunkSize)

	for {
		if s.cancelled() {
			events <- Event{Err: csverr.ErrCancelled}
			return
		}

		n, readErr := r.Read(chunk)
		if s.cancelled() {
			events <- Event{Err: csverr.ErrCancelled}
			return
		}
		if n > 0 {
			tokens, err := lx.Lex(chunk[:n], true)
			if err != nil {
				events <- Event{Err: err}
				return
			}
			records, err := asm.Assemble(tokens, true)
			if err != nil {
				events <- Event{Err: err}
				return
			}
			if !s.emitRecords(records, events) {
				return
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			events <- Event{Err: readErr}
			return
		}
	}

	tokens, err := lx.Lex(nil, false)
	if err != nil {
		events <- Event{Err: err}
		return
	}
	records, err := asm.Assemble(tokens, false)
	if err != nil {
		events <- Event{Err: err}
		return
	}
	if s.emitRecords(records, events) {
		events <- Event{Done: true}
	}
}

// emitRecords sends one Event per record, checking for cancellation
// before each send (the per-record boundary the cancellation
// semantics call for). Returns false if cancellation was observed, in
// which case it has already sent the terminal Err event itself.
func (s *Session) emitRecords(records []assembler.Record, events chan<- Event) bool {
	for i := range records {
		if s.cancelled() {
			events <- Event{Err: csverr.ErrCancelled}
			return false
		}
		rec := records[i]
		events <- Event{Record: &rec}
	}
	return true
}

func (s *Session) cancelled() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}
