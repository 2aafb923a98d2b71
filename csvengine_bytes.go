package csvengine

import (
	"bytes"
	"context"

	"github.com/csvengine/csvengine/worker"
)

// ParseBytes parses a byte slice the caller already holds, skipping
// the binfront byte-stream path entirely — for callers who already
// know their input is UTF-8 text needing no decompression and want to
// avoid binfront's size-guard/charset/BOM pass over bytes that don't
// need it. Grounded on the teacher's parse.go ParseBytes, rebuilt here
// over parseBuffer, which runs the accelerated scanner only when plan
// selects a compiled backend, so the same entry point works on every
// build, not only goexperiment.simd && amd64 ones.
func ParseBytes(data []byte, opts Options) ([]Record, error) {
	return parseBuffer(data, opts)
}

// ParseBytesStreaming is ParseBytes' async counterpart: it drives data
// through a worker.Session directly (again bypassing binfront) and
// streams Records back over a channel, mirroring ParseAsync's channel
// contract.
func ParseBytesStreaming(ctx context.Context, data []byte, opts Options) <-chan Result {
	out := make(chan Result, 16)
	go func() {
		defer close(out)

		sess := worker.Start(ctx)
		defer sess.Close()

		events, err := sess.Submit(worker.CmdParseBinaryStream, bytes.NewReader(data), opts.toWorkerOptions())
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
