//go:build goexperiment.simd && amd64

package csvengine

import (
	"github.com/csvengine/csvengine/accel"
	"github.com/csvengine/csvengine/lexer"
)

// compiledScanAndParse delegates to the accelerated backend. Only
// reachable when router.Plan has already chosen BackendCompiled or
// BackendCompiledAccel, which itself requires accel.Available() —
// true only under this same build tag, so this call never fails for
// "not linked" reasons, only for a genuinely incompatible quotation
// byte (which router's envelope filtering should already have
// excluded upstream).
func compiledScanAndParse(buf []byte, sep, quote byte) ([]lexer.Token, error) {
	return accel.ScanAndParse(buf, sep, quote)
}
