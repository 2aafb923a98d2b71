package lexer

import "testing"

// FuzzLex_ChunkedMatchesOneShot checks the invariant a re-entrant,
// chunk-boundary-tolerant scanner must hold: feeding the same bytes in
// one call or split across arbitrarily many small Lex calls must
// produce the same token sequence, grounded on oleg578-swiftcsv's
// FuzzReaderConsistency (manual vs ReuseRecord vs ReadAll must agree)
// generalized here to one-shot vs streamed chunking.
func FuzzLex_ChunkedMatchesOneShot(f *testing.F) {
	seeds := []string{
		"",
		"a,b,c\n",
		"a,\"b,b\",c\n",
		"a,\"b\nc\",d\n",
		"\"unterminated",
		"a\"b,c\n",
		"one\r\ntwo\r\n",
		"trailing,newline\n",
		`"a""b",c`,
		"a,b\r",
	}
	for _, seed := range seeds {
		f.Add(seed, 1)
		f.Add(seed, 3)
	}

	f.Fuzz(func(t *testing.T, input string, chunkSize int) {
		if len(input) > 1<<12 {
			t.Skip()
		}
		if chunkSize <= 0 {
			chunkSize = 1
		}
		if chunkSize > 8 {
			chunkSize = chunkSize%8 + 1
		}

		oneShot, errOneShot := lexAll([]byte(input), chunkSize, false)
		chunked, errChunked := lexAll([]byte(input), chunkSize, true)

		if (errOneShot == nil) != (errChunked == nil) {
			t.Fatalf("error presence mismatch: oneShot=%v chunked=%v input=%q chunkSize=%d", errOneShot, errChunked, input, chunkSize)
		}
		if errOneShot != nil {
			return
		}
		if !tokensEqual(oneShot, chunked) {
			t.Fatalf("token mismatch:\noneShot=%+v\nchunked=%+v\ninput=%q chunkSize=%d", oneShot, chunked, input, chunkSize)
		}
	})
}

// lexAll drives a Lexer either with the whole input in a single Lex
// call (split=false) or split into chunkSize-byte pieces across
// successive streamed Lex calls, followed by a final flush.
func lexAll(input []byte, chunkSize int, split bool) ([]Token, error) {
	lx := New(DefaultOptions())
	var tokens []Token

	if !split {
		toks, err := lx.Lex(input, false)
		return toks, err
	}

	for i := 0; i < len(input); i += chunkSize {
		end := i + chunkSize
		if end > len(input) {
			end = len(input)
		}
		toks, err := lx.Lex(input[i:end], true)
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, toks...)
	}
	toks, err := lx.Lex(nil, false)
	if err != nil {
		return tokens, err
	}
	tokens = append(tokens, toks...)
	return tokens, nil
}

func tokensEqual(a, b []Token) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Value != b[i].Value || a[i].Delimiter != b[i].Delimiter {
			return false
		}
	}
	return true
}
