package binfront

import (
	"bytes"
	"io"
	"testing"
	"unicode/utf8"
)

// FuzzDecode_NeverPanicsAndRoundTripsValidUTF8 throws arbitrary bytes
// at Decode under the default options (UTF-8, BOM stripped, lenient)
// and checks three things: Decode never panics or returns an error for
// default/lenient options, its output is valid UTF-8, and valid,
// BOM-free UTF-8 input passes through byte-for-byte. Grounded on oleg578-swiftcsv's
// FuzzReaderConsistency shape (arbitrary input, compare an invariant
// across the transformation) applied to binfront's decode pipeline
// instead of the lexer's reader.
func FuzzDecode_NeverPanicsAndRoundTripsValidUTF8(f *testing.F) {
	seeds := []string{
		"",
		"a,b,c\n1,2,3\n",
		"\xEF\xBB\xBFa,b\n",
		"\xFF\xFEa,b\n",
		"plain ascii",
		"\xc3\xa9\xc3\xa8", // valid multi-byte UTF-8
	}
	for _, seed := range seeds {
		f.Add([]byte(seed))
	}

	f.Fuzz(func(t *testing.T, input []byte) {
		if len(input) > 1<<16 {
			t.Skip()
		}

		r, err := Decode(bytes.NewReader(input), DefaultOptions())
		if err != nil {
			t.Fatalf("Decode error under default (lenient) options: %v", err)
		}
		out, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("reading decoded output: %v", err)
		}

		if !utf8.Valid(out) {
			t.Fatalf("Decode produced invalid UTF-8 for input %q: %q", input, out)
		}

		if utf8.Valid(input) && !hasKnownBOM(input) {
			if !bytes.Equal(out, input) {
				t.Fatalf("BOM-free valid UTF-8 input was altered: in=%q out=%q", input, out)
			}
		}
	})
}

func hasKnownBOM(b []byte) bool {
	for _, bom := range [][]byte{bomUTF32LE, bomUTF32BE, bomUTF8, bomUTF16LE, bomUTF16BE} {
		if bytes.HasPrefix(b, bom) {
			return true
		}
	}
	return false
}
