//go:build goexperiment.simd && amd64

package accel

import (
	"github.com/csvengine/csvengine/internal/csverr"
	"github.com/csvengine/csvengine/lexer"
)

// Tokens is the result of ScanAndParse: one lexer.Token per field,
// shaped identically to what lexer.Lex would produce for the same
// input (the router's backend-equivalence requirement), minus
// Location — the SIMD scan/parse layer doesn't track per-field
// line/column positions, only byte offsets into the whole buffer.
type Tokens = []lexer.Token

// ScanAndParse runs the compiled scan+parse path over a complete
// buffer and emits it as lexer.Token values, so this backend plugs in
// underneath the lexer/assembler split instead of bypassing it.
// ScanBuffer/ParseBuffer hardcode the quotation byte to '"'
// internally; a caller-requested quote other than '"' falls outside
// this backend's compatibility envelope (the router's Plan must
// filter this backend out before it ever reaches here).
//
// Quote-pairing validity is not re-checked here: the scanner's quote
// mask is itself the authoritative source of which regions are
// "inside quotes", so a malformed quote produces a different mask
// rather than a distinct validation error at this layer, mirroring
// ParseBuffer's own no-error contract. The csvengine.Reader façade
// adds no per-field quote validation either; its LazyQuotes field has
// no effect.
func ScanAndParse(buf []byte, sep byte, quote byte) (Tokens, error) {
	if quote != '"' {
		return nil, &csverr.EngineUnavailableError{
			Requested: "accel.ScanAndParse",
			Reason:    `quotation must be "`,
		}
	}
	if len(buf) == 0 {
		return nil, nil
	}

	sr := ScanBuffer(buf, sep)
	pr := ParseBuffer(buf, sr)
	defer pr.Release()
	ReleaseScanResult(sr)

	endsWithTerminator := buf[len(buf)-1] == '\n' || buf[len(buf)-1] == '\r'
	tokens := make([]lexer.Token, 0, len(pr.Fields))
	for ri, row := range pr.Rows {
		lastRow := ri == len(pr.Rows)-1
		for i := 0; i < row.FieldCount; i++ {
			fieldIdx := row.FirstField + i
			if fieldIdx >= len(pr.Fields) {
				break
			}
			field := pr.Fields[fieldIdx]
			kind := lexer.Field
			if i == row.FieldCount-1 {
				if lastRow && !endsWithTerminator {
					kind = lexer.EOF
				} else {
					kind = lexer.Record
				}
			}
			tokens = append(tokens, lexer.Token{Value: fieldContent(buf, field), Delimiter: kind})
		}
	}
	return tokens, nil
}

func fieldContent(buf []byte, field FieldInfo) string {
	content := rawFieldBytes(buf, field)
	if !field.NeedsUnescape() {
		return string(content)
	}
	out := make([]byte, 0, len(content))
	for i := 0; i < len(content); i++ {
		b := content[i]
		switch {
		case b == '"' && i+1 < len(content) && content[i+1] == '"':
			out = append(out, '"')
			i++
		case b == '\r' && i+1 < len(content) && content[i+1] == '\n':
			out = append(out, '\n')
			i++
		default:
			out = append(out, b)
		}
	}
	return string(out)
}

func rawFieldBytes(buf []byte, field FieldInfo) []byte {
	if field.Length() == 0 {
		return nil
	}
	end := field.Start() + field.Length()
	bufLen := uint32(len(buf))
	if end > bufLen {
		end = bufLen
	}
	if field.Start() >= bufLen {
		return nil
	}
	return buf[field.Start():end]
}
