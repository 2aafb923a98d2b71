//go:build !(goexperiment.simd && amd64)

package csvengine

import (
	"github.com/csvengine/csvengine/internal/csverr"
	"github.com/csvengine/csvengine/lexer"
)

// compiledScanAndParse is unreachable on this build in practice:
// router.Plan only ever chooses BackendCompiled/BackendCompiledAccel
// when router.Capabilities.AcceleratorLoaded is true, and that flag is
// accel.Available(), which is false whenever this file (rather than
// compiled_exec_simd.go) is the one compiled in. This stub exists so
// the call site in parseBuffer compiles on every platform.
func compiledScanAndParse(buf []byte, sep, quote byte) ([]lexer.Token, error) {
	return nil, &csverr.EngineUnavailableError{
		Requested: "compiled backend",
		Reason:    "accel package not linked in this build",
	}
}
