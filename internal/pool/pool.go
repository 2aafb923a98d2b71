// Package pool provides the reusable-buffer sync.Pool discipline
// used by the assembler: a row's backing storage is drawn
// from a pool, "taken" when the row is emitted, and replaced with a
// fresh or pooled buffer. Grounded on the teacher's parseResultPool
// (field_parser.go) and its reset/release pair.
package pool

import "sync"

// BytesPool hands out reusable []byte buffers.
type BytesPool struct {
	p sync.Pool
}

// NewBytesPool creates a pool whose buffers start at the given capacity.
func NewBytesPool(initialCap int) *BytesPool {
	return &BytesPool{
		p: sync.Pool{
			New: func() any {
				return make([]byte, 0, initialCap)
			},
		},
	}
}

// Get returns a zero-length buffer with leftover capacity from a prior Put.
func (bp *BytesPool) Get() []byte {
	return bp.p.Get().([]byte)[:0]
}

// Put returns buf to the pool for reuse. The caller must not use buf afterwards.
func (bp *BytesPool) Put(buf []byte) {
	bp.p.Put(buf) //nolint:staticcheck // intentional: pool of slices, not pointers
}

// StringSlicePool hands out reusable []string buffers (one per record row).
type StringSlicePool struct {
	p sync.Pool
}

// NewStringSlicePool creates a pool whose slices start at the given capacity.
func NewStringSlicePool(initialCap int) *StringSlicePool {
	return &StringSlicePool{
		p: sync.Pool{
			New: func() any {
				return make([]string, 0, initialCap)
			},
		},
	}
}

// Get returns a zero-length []string with leftover capacity.
func (sp *StringSlicePool) Get() []string {
	return sp.p.Get().([]string)[:0]
}

// Put returns s to the pool. The caller must not use s afterwards, and
// must not call Put on a slice that was handed to an emitted record's
// caller (emitted records own independent storage; see assembler).
func (sp *StringSlicePool) Put(s []string) {
	sp.p.Put(s) //nolint:staticcheck
}
