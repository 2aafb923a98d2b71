//go:build goexperiment.simd && amd64

package csvengine

import (
	"fmt"
	"strings"
	"testing"
)

// Benchmarks comparing the code backend against the compiled/accel
// backend over the same inputs, grounded on the teacher's
// BenchmarkReadAll_*_Stdlib / BenchmarkReadAll_*_SIMD pairs
// (benchmark_test.go) — generalized from "stdlib csv vs simdcsv" to
// "code backend vs accel backend" within this module's own router.

func generateSimpleCSV(rows, cols int) []byte {
	var b strings.Builder
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "field%d_%d", r, c)
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func generateQuotedCSV(rows, cols int) []byte {
	var b strings.Builder
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, `"field,%d_%d"`, r, c)
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// compiledParse runs the accel-backed path directly: ScanAndParse
// produces tokens the same way the code backend's lexer does, so the
// rest of the pipeline (assembleTokens) is shared between both sides
// of this comparison — only the tokenizing stage differs.
func compiledParse(buf []byte, opts Options) ([]Record, error) {
	tokens, err := compiledScanAndParse(buf, ',', '"')
	if err != nil {
		return nil, err
	}
	return assembleTokens(tokens, opts)
}

func BenchmarkParseBuffer_Simple_10K_Code(b *testing.B) {
	data := generateSimpleCSV(10000, 10)
	opts := DefaultOptions()
	b.SetBytes(int64(len(data)))
	for b.Loop() {
		_, _ = lexAndAssemble(data, opts)
	}
}

func BenchmarkParseBuffer_Simple_10K_Compiled(b *testing.B) {
	data := generateSimpleCSV(10000, 10)
	opts := DefaultOptions()
	b.SetBytes(int64(len(data)))
	for b.Loop() {
		_, _ = compiledParse(data, opts)
	}
}

func BenchmarkParseBuffer_Quoted_10K_Code(b *testing.B) {
	data := generateQuotedCSV(10000, 10)
	opts := DefaultOptions()
	b.SetBytes(int64(len(data)))
	for b.Loop() {
		_, _ = lexAndAssemble(data, opts)
	}
}

func BenchmarkParseBuffer_Quoted_10K_Compiled(b *testing.B) {
	data := generateQuotedCSV(10000, 10)
	opts := DefaultOptions()
	b.SetBytes(int64(len(data)))
	for b.Loop() {
		_, _ = compiledParse(data, opts)
	}
}

func BenchmarkParseBuffer_Simple_100K_Code(b *testing.B) {
	data := generateSimpleCSV(100000, 10)
	opts := DefaultOptions()
	b.SetBytes(int64(len(data)))
	for b.Loop() {
		_, _ = lexAndAssemble(data, opts)
	}
}

func BenchmarkParseBuffer_Simple_100K_Compiled(b *testing.B) {
	data := generateSimpleCSV(100000, 10)
	opts := DefaultOptions()
	b.SetBytes(int64(len(data)))
	for b.Loop() {
		_, _ = compiledParse(data, opts)
	}
}
