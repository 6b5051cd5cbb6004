// Package gpuprim provides the shared building blocks used by
// gogpu/gpuscan's data-parallel GPU primitives: scan, radixsort, findruns
// and permute.
//
// # Architecture
//
// Every primitive in this module is written directly against
// github.com/gogpu/wgpu/hal, the same object-oriented compute-dispatch
// surface (Device, Queue, CommandEncoder, ComputePassEncoder) used for
// real, non-stubbed GPU compute dispatch elsewhere in the gogpu ecosystem.
// gpuprim itself holds no device logic; it defines the element-kind enum,
// the runtime-checked value-type descriptor, the shared sentinel errors,
// and the package-wide logger.
//
//	scan        single-pass prefix scan, decoupled look-back
//	dispatch    indirect dispatch-record generation
//	countbuf    the polymorphic Count operand
//	radixsort   histogram / offsets / scatter / orchestrator
//	findruns    mark / scan / collect / resolve run detection
//	permute     gather-by / scatter-by
//
// # Resource model
//
// Every primitive owns its GPU-side scratch buffers (status words, atomic
// counters) and clears them before each Encode call rather than reusing
// their contents, so that the decoupled look-back state machine starts
// from EMPTY on every dispatch. Scratch buffers grow monotonically as
// larger element counts are encoded; they are never shrunk.
package gpuprim
