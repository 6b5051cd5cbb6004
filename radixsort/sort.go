// Package radixsort implements an LSD radix sort over a GPU command
// stream: a histogram pass counts every digit of every pass in one
// dispatch, a prefix-sum pass turns each digit's count into a bucket
// offset, and one stable scatter pass per radix digit moves elements
// into place using decoupled look-back to resolve a global offset from
// each workgroup's local digit counts.
package radixsort

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/countbuf"
	"github.com/gogpu/gpuscan/gpuprim"
	"github.com/gogpu/gpuscan/internal/gpuexec"
)

// RadixSortInput describes one Encode call's operands. Keys are sorted
// in place: after an even number of passes (always true here) the
// sorted result lands back in Keys.
type RadixSortInput struct {
	Keys hal.Buffer
	Len  uint32
	// Count, if non-nil, is a GPU-computed element count bound directly
	// to the kernels; Encode then generates its dispatch records instead
	// of computing workgroup counts on the host. Len is still required,
	// as an upper bound used to size internal buffers.
	Count hal.Buffer
}

// RadixSort is a compiled radix-sort pipeline for one element kind. It
// supports both a full 32-bit sort (Encode, 4 passes of 8 bits) and a
// 16-bit sort (EncodeHalfPrecision, 2 passes) for callers who know their
// keys fit in the low 16 bits, e.g. already-bucketed digit counts.
type RadixSort struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue
	kind   gpuprim.ElementKind

	generator *generateDispatches

	histogramFull *bucketHistogram
	histogramHalf *bucketHistogram
	offsets       *globalBucketOffsets
	scatterFull   [radixGroupsFull]*bucketScatter
	scatterHalf   [radixGroupsHalf]*bucketScatter

	histogramBufFull hal.Buffer
	histogramBufHalf hal.Buffer

	tempKeys    hal.Buffer
	tempKeysLen uint32

	segmentSizes            hal.Buffer
	histogramDispatchRecord hal.Buffer
	scatterDispatchRecord   hal.Buffer
	ownedCount              countbuf.Count
}

// InitRadixSort compiles a radix-sort pipeline for kind.
func InitRadixSort(device hal.Device, queue hal.Queue, kind gpuprim.ElementKind) (*RadixSort, error) {
	if device == nil {
		return nil, gpuprim.ErrDeviceNil
	}

	s := &RadixSort{device: device, queue: queue, kind: kind}

	var err error
	s.generator, err = initGenerateDispatches(device)
	if err != nil {
		return nil, fmt.Errorf("radixsort: %w", err)
	}

	s.histogramFull, err = initBucketHistogram(device, kind, radixGroupsFull)
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("radixsort: %w", err)
	}
	s.histogramHalf, err = initBucketHistogram(device, kind, radixGroupsHalf)
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("radixsort: %w", err)
	}

	s.offsets, err = initGlobalBucketOffsets(device)
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("radixsort: %w", err)
	}

	for p := 0; p < radixGroupsFull; p++ {
		s.scatterFull[p], err = initBucketScatter(device, queue, kind, p*radixSize, gpuprim.ValueLayout{}, false)
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("radixsort: %w", err)
		}
	}
	for p := 0; p < radixGroupsHalf; p++ {
		s.scatterHalf[p], err = initBucketScatter(device, queue, kind, p*radixSize, gpuprim.ValueLayout{}, false)
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("radixsort: %w", err)
		}
	}

	s.histogramBufFull, err = gpuexec.CreateBuffer(device, "gpuscan_radixsort_histogram_full", radixGroupsFull*radixDigits*4, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("radixsort: create full histogram buffer: %w", err)
	}
	s.histogramBufHalf, err = gpuexec.CreateBuffer(device, "gpuscan_radixsort_histogram_half", radixGroupsHalf*radixDigits*4, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("radixsort: create half histogram buffer: %w", err)
	}

	s.segmentSizes, err = gpuexec.CreateBuffer(device, "gpuscan_radixsort_segment_sizes", 8, gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("radixsort: create segment sizes uniform: %w", err)
	}
	segBytes := append(uint32ToBytes(histogramSegment), uint32ToBytes(scatterSegment)...)
	queue.WriteBuffer(s.segmentSizes, 0, segBytes)

	s.histogramDispatchRecord, err = gpuexec.CreateBuffer(device, "gpuscan_radixsort_histogram_dispatch", 12, gputypes.BufferUsageStorage|gputypes.BufferUsageIndirect|gputypes.BufferUsageCopyDst)
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("radixsort: create histogram dispatch record: %w", err)
	}
	queue.WriteBuffer(s.histogramDispatchRecord, 0, []byte{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0})

	s.scatterDispatchRecord, err = gpuexec.CreateBuffer(device, "gpuscan_radixsort_scatter_dispatch", 12, gputypes.BufferUsageStorage|gputypes.BufferUsageIndirect|gputypes.BufferUsageCopyDst)
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("radixsort: create scatter dispatch record: %w", err)
	}
	queue.WriteBuffer(s.scatterDispatchRecord, 0, []byte{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0})

	s.ownedCount, err = countbuf.Owned(device, queue, 0)
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("radixsort: create owned count: %w", err)
	}

	gpuprim.Logger().Info("radixsort: pipeline initialized", "kind", kind.String())

	return s, nil
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func (s *RadixSort) ensureTempKeys(elements uint32) error {
	if s.tempKeys != nil && s.tempKeysLen >= elements {
		return nil
	}
	if s.tempKeys != nil {
		s.device.DestroyBuffer(s.tempKeys)
	}
	buf, err := gpuexec.CreateBuffer(s.device, "gpuscan_radixsort_temp_keys", uint64(elements)*4, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return fmt.Errorf("radixsort: grow temp keys: %w", err)
	}
	s.tempKeys = buf
	s.tempKeysLen = elements
	return nil
}

// Encode appends a full 32-bit, 4-pass radix sort to encoder.
func (s *RadixSort) Encode(encoder hal.CommandEncoder, input RadixSortInput) (hal.CommandEncoder, error) {
	return s.encode(encoder, input, radixGroupsFull, s.histogramFull, s.histogramBufFull, s.scatterFull[:])
}

// EncodeHalfPrecision appends a 16-bit, 2-pass radix sort to encoder,
// for keys already known to fit in the low 16 bits.
func (s *RadixSort) EncodeHalfPrecision(encoder hal.CommandEncoder, input RadixSortInput) (hal.CommandEncoder, error) {
	return s.encode(encoder, input, radixGroupsHalf, s.histogramHalf, s.histogramBufHalf, s.scatterHalf[:])
}

func (s *RadixSort) encode(encoder hal.CommandEncoder, input RadixSortInput, groups int, histogram *bucketHistogram, histogramBuf hal.Buffer, scatters []*bucketScatter) (hal.CommandEncoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if input.Len > gpuprim.MaxElementCount {
		return encoder, gpuprim.ErrElementCountExceedsLimit
	}

	dispatchIndirect := input.Count != nil
	count := input.Count
	if !dispatchIndirect {
		s.ownedCount.Update(s.queue, input.Len)
		count = s.ownedCount.Uniform()
	}

	workgroups := gpuexec.CeilDiv(input.Len, histogramSegment)
	if workgroups == 0 {
		workgroups = 1
	}

	if err := s.ensureTempKeys(input.Len); err != nil {
		return encoder, err
	}

	var histogramIndirect, scatterIndirect hal.Buffer
	if dispatchIndirect {
		var err error
		encoder, err = s.generator.encode(encoder, s.segmentSizes, count, s.histogramDispatchRecord, s.scatterDispatchRecord)
		if err != nil {
			return encoder, fmt.Errorf("radixsort: %w", err)
		}
		histogramIndirect = s.histogramDispatchRecord
		scatterIndirect = s.scatterDispatchRecord
	}

	gpuexec.ZeroFill(s.queue, histogramBuf, uint64(groups)*radixDigits*4)

	var err error
	encoder, err = histogram.encode(encoder, count, input.Keys, histogramBuf, workgroups, histogramIndirect)
	if err != nil {
		return encoder, err
	}

	encoder, err = s.offsets.encode(encoder, histogramBuf, groups)
	if err != nil {
		return encoder, err
	}

	src := input.Keys
	dst := s.tempKeys
	for p := 0; p < groups; p++ {
		encoder, err = scatters[p].encode(encoder, scatterArgs{
			count:        count,
			srcKeys:      src,
			dstKeys:      dst,
			histograms:   histogramBuf,
			histogramRow: uint64(p) * radixDigits * 4,
			workgroups:   workgroups,
			indirect:     scatterIndirect,
		})
		if err != nil {
			return encoder, err
		}
		src, dst = dst, src
	}

	return encoder, nil
}

// Destroy releases all GPU resources held by s.
func (s *RadixSort) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generator != nil {
		s.generator.destroy()
	}
	s.ownedCount.Destroy()
	if s.histogramFull != nil {
		s.histogramFull.destroy()
	}
	if s.histogramHalf != nil {
		s.histogramHalf.destroy()
	}
	if s.offsets != nil {
		s.offsets.destroy()
	}
	for _, sc := range s.scatterFull {
		if sc != nil {
			sc.destroy()
		}
	}
	for _, sc := range s.scatterHalf {
		if sc != nil {
			sc.destroy()
		}
	}
	if s.histogramBufFull != nil {
		s.device.DestroyBuffer(s.histogramBufFull)
	}
	if s.histogramBufHalf != nil {
		s.device.DestroyBuffer(s.histogramBufHalf)
	}
	if s.tempKeys != nil {
		s.device.DestroyBuffer(s.tempKeys)
	}
	if s.segmentSizes != nil {
		s.device.DestroyBuffer(s.segmentSizes)
	}
	if s.histogramDispatchRecord != nil {
		s.device.DestroyBuffer(s.histogramDispatchRecord)
	}
	if s.scatterDispatchRecord != nil {
		s.device.DestroyBuffer(s.scatterDispatchRecord)
	}
}
