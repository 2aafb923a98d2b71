// Package assembler composes lexer tokens into header-bound records
// under a selectable column-count reconciliation strategy. Grounded on
// the teacher's record_builder.go (row-buffer "take" semantics at
// record completion) and field_parser.go's parseResultPool discipline,
// lifted into internal/pool and reused here for the per-row buffer
// instead of a per-parse result.
package assembler

import (
	"github.com/csvengine/csvengine/internal/csverr"
	"github.com/csvengine/csvengine/internal/pool"
	"github.com/csvengine/csvengine/lexer"
)

// OutputFormat selects array or object record shape.
type OutputFormat int

const (
	// Object builds map[string]string records bound to the header.
	Object OutputFormat = iota
	// Array builds []string records in field order.
	Array
)

func (f OutputFormat) String() string {
	switch f {
	case Object:
		return "Object"
	case Array:
		return "Array"
	default:
		return "unknown"
	}
}

// Strategy is a column-count reconciliation policy.
type Strategy int

const (
	// Fill pads short rows with empty strings and truncates long ones.
	// It is the default.
	Fill Strategy = iota
	// Strict raises a ParseError on any row whose length differs from
	// the header.
	Strict
	// Truncate drops trailing columns from long rows and passes short
	// rows through unpadded.
	Truncate
	// Keep passes every row through unchanged. Array output only.
	Keep
	// Sparse pads short rows with the AbsentField marker and truncates
	// long ones. Array output only.
	Sparse
)

func (s Strategy) String() string {
	switch s {
	case Fill:
		return "Fill"
	case Strict:
		return "Strict"
	case Truncate:
		return "Truncate"
	case Keep:
		return "Keep"
	case Sparse:
		return "Sparse"
	default:
		return "unknown"
	}
}

// AbsentField is the distinguished marker Sparse pads missing array
// positions with. Go array-of-string records can't carry a typed
// absent value without widening every record to an interface slice,
// so a reserved string (rather than a typed sentinel such as a
// package-level *struct{}) stands in for it; chosen unlikely enough
// to collide with real field content that callers can treat equality
// against it as the absence check.
const AbsentField = "\x00csvengine:absent-field\x00"

// Infinite disables MaxFieldCount when passed for that option.
const Infinite int = -1

// Options configures an Assembler. Zero value is not directly usable;
// construct via DefaultOptions and override.
type Options struct {
	// Header, if non-nil, is bound immediately and the first input row
	// is treated as data, not header. A non-nil empty slice denotes
	// explicit headerless array-mode output (legal only with
	// OutputFormat=Array and ColumnCountStrategy=Keep). Nil means
	// "infer the header from the first completed row."
	Header []string

	OutputFormat        OutputFormat
	ColumnCountStrategy Strategy
	IncludeHeader       bool // array form only: emit the bound header row as data
	SkipEmptyLines      bool
	Source              string // label used in error messages
	MaxFieldCount       int    // default ~10000; Infinite disables
}

// DefaultOptions returns the spec defaults.
func DefaultOptions() Options {
	return Options{
		OutputFormat:        Object,
		ColumnCountStrategy: Fill,
		MaxFieldCount:       10_000,
	}
}

// Record is one assembled row. Exactly one of Object or Fields is set,
// depending on the Assembler's OutputFormat.
type Record struct {
	Object []string          // array form, or nil
	Fields map[string]string // object form, or nil
	Header []string          // bound header, shared across records of one parse
}

type strategyFunc func(row, header []string, rowNum int, source string) ([]string, error)

// Assembler turns a token stream into records. Construct with New;
// state (header binding, the in-progress row buffer, row number) is
// retained across streaming Assemble calls.
type Assembler struct {
	opts Options

	header      []string
	headerBound bool
	validated   bool

	rowBuffer        []string
	fieldIndex       int
	rowHasAnyContent bool
	rowNumber        int

	strategyFn strategyFunc
	pool       *pool.StringSlicePool
}

// New constructs an Assembler. Header validation and the
// output-format/strategy compatibility check are deferred to the
// first Assemble call, since New has no error return and an explicit
// Options.Header must still surface ParseError through the same path
// an inferred one would.
func New(opts Options) *Assembler {
	if opts.MaxFieldCount == 0 {
		opts.MaxFieldCount = 10_000
	}
	a := &Assembler{
		opts:      opts,
		rowNumber: 1,
		pool:      pool.NewStringSlicePool(8),
	}
	a.rowBuffer = a.pool.Get()
	a.strategyFn = strategyFor(opts.ColumnCountStrategy)
	if opts.Header != nil {
		a.header = opts.Header
		a.headerBound = true
	}
	return a
}

// Assemble consumes tokens and returns the records they complete.
// With stream=true, a row left unterminated by the final token simply
// waits for the next call; every row the lexer itself terminates
// (Field/Record/EOF all carry that information on the token) is
// assembled immediately regardless of stream, since the lexer's own
// flush contract guarantees the last token of a completed parse always
// closes the final row. stream is accepted for symmetry with Lex and
// to let a terminal call with a nil token slice force header-binding
// validation to run even when no data ever arrived.
func (a *Assembler) Assemble(tokens []lexer.Token, stream bool) ([]Record, error) {
	if !a.validated {
		if err := validateOptions(a.opts); err != nil {
			return nil, err
		}
		if a.headerBound {
			if err := validateHeader(a.header, a.opts); err != nil {
				return nil, err
			}
		}
		a.validated = true
	}

	var records []Record
	for _, tok := range tokens {
		if err := a.appendToken(tok, &records); err != nil {
			return records, err
		}
	}
	return records, nil
}

func (a *Assembler) appendToken(tok lexer.Token, records *[]Record) error {
	if a.opts.MaxFieldCount >= 0 && a.fieldIndex >= a.opts.MaxFieldCount {
		return &csverr.RangeError{
			Kind:      csverr.KindFieldCount,
			Attempted: int64(a.fieldIndex + 1),
			Limit:     int64(a.opts.MaxFieldCount),
		}
	}

	if a.fieldIndex < len(a.rowBuffer) {
		a.rowBuffer[a.fieldIndex] = tok.Value
	} else {
		a.rowBuffer = append(a.rowBuffer, tok.Value)
	}
	a.fieldIndex++

	if tok.Delimiter == lexer.Field {
		a.rowHasAnyContent = true
		return nil
	}
	if tok.Value != "" {
		a.rowHasAnyContent = true
	}
	return a.completeRow(records)
}

// completeRow handles a Record- or EOF-terminated row: header binding
// on the first row (when no explicit header was supplied), the
// skip/empty-record decision for all-empty rows, or strategy
// reconciliation followed by record construction.
func (a *Assembler) completeRow(records *[]Record) error {
	row := a.rowBuffer[:a.fieldIndex]
	rowNum := a.rowNumber
	a.rowNumber++

	if !a.headerBound {
		header := append([]string(nil), row...)
		if err := validateHeader(header, a.opts); err != nil {
			a.resetRow()
			return err
		}
		a.header = header
		a.headerBound = true
		if a.opts.IncludeHeader && a.opts.OutputFormat == Array {
			*records = append(*records, buildRecord(header, a.header, a.opts.OutputFormat))
		}
		a.resetRow()
		return nil
	}

	if !a.rowHasAnyContent {
		a.resetRow()
		if a.opts.SkipEmptyLines {
			return nil
		}
		empty := make([]string, len(a.header))
		*records = append(*records, buildRecord(empty, a.header, a.opts.OutputFormat))
		return nil
	}

	out, err := a.strategyFn(row, a.header, rowNum, a.opts.Source)
	if err != nil {
		a.resetRow()
		return err
	}
	*records = append(*records, buildRecord(out, a.header, a.opts.OutputFormat))
	a.resetRow()
	return nil
}

// resetRow takes the current row buffer (its contents have already
// been copied into whatever record or header it completed) and
// replaces it with a pooled one for the next row.
func (a *Assembler) resetRow() {
	a.pool.Put(a.rowBuffer[:0])
	a.rowBuffer = a.pool.Get()
	a.fieldIndex = 0
	a.rowHasAnyContent = false
}

// buildRecord copies row (which may alias pooled storage the caller
// is about to reclaim) into a freshly owned Record.
func buildRecord(row, header []string, format OutputFormat) Record {
	rec := Record{Header: header}
	if format == Array {
		rec.Object = append([]string(nil), row...)
		return rec
	}
	fields := make(map[string]string, len(header))
	for i, key := range header {
		if key == "" {
			// Empty-keyed header positions are silently dropped in
			// object form; there is no name to store the value under.
			continue
		}
		if i < len(row) {
			fields[key] = row[i]
		} else {
			fields[key] = ""
		}
	}
	rec.Fields = fields
	return rec
}

func validateOptions(opts Options) error {
	if opts.OutputFormat == Object && (opts.ColumnCountStrategy == Keep || opts.ColumnCountStrategy == Sparse) {
		return &csverr.ParseError{Source: opts.Source, Err: csverr.ErrInvalidStrategy}
	}
	return nil
}

func validateHeader(header []string, opts Options) error {
	seen := make(map[string]struct{}, len(header))
	for _, name := range header {
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			return &csverr.ParseError{Source: opts.Source, Err: csverr.ErrDuplicateHeader}
		}
		seen[name] = struct{}{}
	}
	if opts.OutputFormat == Object && len(header) == 0 {
		return &csverr.ParseError{Source: opts.Source, Err: csverr.ErrEmptyHeader}
	}
	if opts.OutputFormat == Array && len(header) == 0 && opts.ColumnCountStrategy != Keep {
		return &csverr.ParseError{Source: opts.Source, Err: csverr.ErrInvalidStrategy}
	}
	return nil
}

func strategyFor(s Strategy) strategyFunc {
	switch s {
	case Strict:
		return strictStrategy
	case Truncate:
		return truncateStrategy
	case Keep:
		return keepStrategy
	case Sparse:
		return sparseStrategy
	default:
		return fillStrategy
	}
}

func fillStrategy(row, header []string, _ int, _ string) ([]string, error) {
	h := len(header)
	switch {
	case len(row) == h:
		return row, nil
	case len(row) < h:
		out := make([]string, h)
		copy(out, row)
		return out, nil
	default:
		return row[:h], nil
	}
}

func strictStrategy(row, header []string, rowNum int, source string) ([]string, error) {
	if len(row) != len(header) {
		return nil, &csverr.ParseError{Source: source, Row: rowNum, Err: csverr.ErrColumnCount}
	}
	return row, nil
}

func truncateStrategy(row, header []string, _ int, _ string) ([]string, error) {
	if len(row) > len(header) {
		return row[:len(header)], nil
	}
	return row, nil
}

func keepStrategy(row, _ []string, _ int, _ string) ([]string, error) {
	return row, nil
}

func sparseStrategy(row, header []string, _ int, _ string) ([]string, error) {
	h := len(header)
	switch {
	case len(row) == h:
		return row, nil
	case len(row) < h:
		out := make([]string, h)
		copy(out, row)
		for i := len(row); i < h; i++ {
			out[i] = AbsentField
		}
		return out, nil
	default:
		return row[:h], nil
	}
}
