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

// RadixSortByInput describes one Encode call's operands for a key/value
// sort: Values is permuted the same way as Keys so that pairs stay
// together, but never participates in the comparison.
type RadixSortByInput struct {
	Keys   hal.Buffer
	Values hal.Buffer
	Len    uint32
	Count  hal.Buffer
}

// RadixSortBy is a compiled radix-sort pipeline that carries an
// associated value buffer through the same permutation as the keys,
// for one (element kind, value layout) pair.
type RadixSortBy struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue
	kind   gpuprim.ElementKind
	value  gpuprim.ValueLayout

	generator *generateDispatches

	histogramFull *bucketHistogram
	histogramHalf *bucketHistogram
	offsets       *globalBucketOffsets
	scatterFull   [radixGroupsFull]*bucketScatter
	scatterHalf   [radixGroupsHalf]*bucketScatter

	histogramBufFull hal.Buffer
	histogramBufHalf hal.Buffer

	tempKeys    hal.Buffer
	tempValues  hal.Buffer
	tempLen     uint32

	segmentSizes            hal.Buffer
	histogramDispatchRecord hal.Buffer
	scatterDispatchRecord   hal.Buffer
	ownedCount              countbuf.Count
}

// InitRadixSortBy compiles a key/value radix-sort pipeline for kind and
// the given value layout.
func InitRadixSortBy(device hal.Device, queue hal.Queue, kind gpuprim.ElementKind, value gpuprim.ValueLayout) (*RadixSortBy, error) {
	if device == nil {
		return nil, gpuprim.ErrDeviceNil
	}
	if err := gpuprim.ValidateValueLayout(value); err != nil {
		return nil, err
	}

	s := &RadixSortBy{device: device, queue: queue, kind: kind, value: value}

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
		s.scatterFull[p], err = initBucketScatter(device, queue, kind, p*radixSize, value, true)
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("radixsort: %w", err)
		}
	}
	for p := 0; p < radixGroupsHalf; p++ {
		s.scatterHalf[p], err = initBucketScatter(device, queue, kind, p*radixSize, value, true)
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("radixsort: %w", err)
		}
	}

	s.histogramBufFull, err = gpuexec.CreateBuffer(device, "gpuscan_radixsortby_histogram_full", radixGroupsFull*radixDigits*4, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("radixsort: create full histogram buffer: %w", err)
	}
	s.histogramBufHalf, err = gpuexec.CreateBuffer(device, "gpuscan_radixsortby_histogram_half", radixGroupsHalf*radixDigits*4, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("radixsort: create half histogram buffer: %w", err)
	}

	s.segmentSizes, err = gpuexec.CreateBuffer(device, "gpuscan_radixsortby_segment_sizes", 8, gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("radixsort: create segment sizes uniform: %w", err)
	}
	segBytes := append(uint32ToBytes(histogramSegment), uint32ToBytes(scatterSegment)...)
	queue.WriteBuffer(s.segmentSizes, 0, segBytes)

	s.histogramDispatchRecord, err = gpuexec.CreateBuffer(device, "gpuscan_radixsortby_histogram_dispatch", 12, gputypes.BufferUsageStorage|gputypes.BufferUsageIndirect|gputypes.BufferUsageCopyDst)
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("radixsort: create histogram dispatch record: %w", err)
	}
	queue.WriteBuffer(s.histogramDispatchRecord, 0, []byte{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0})

	s.scatterDispatchRecord, err = gpuexec.CreateBuffer(device, "gpuscan_radixsortby_scatter_dispatch", 12, gputypes.BufferUsageStorage|gputypes.BufferUsageIndirect|gputypes.BufferUsageCopyDst)
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

	gpuprim.Logger().Info("radixsort: key/value pipeline initialized", "kind", kind.String(), "value", value.Name)

	return s, nil
}

func (s *RadixSortBy) ensureTemp(elements uint32) error {
	if s.tempKeys != nil && s.tempLen >= elements {
		return nil
	}
	if s.tempKeys != nil {
		s.device.DestroyBuffer(s.tempKeys)
		s.device.DestroyBuffer(s.tempValues)
	}
	keys, err := gpuexec.CreateBuffer(s.device, "gpuscan_radixsortby_temp_keys", uint64(elements)*4, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return fmt.Errorf("radixsort: grow temp keys: %w", err)
	}
	values, err := gpuexec.CreateBuffer(s.device, "gpuscan_radixsortby_temp_values", uint64(elements)*s.value.Size, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		s.device.DestroyBuffer(keys)
		return fmt.Errorf("radixsort: grow temp values: %w", err)
	}
	s.tempKeys = keys
	s.tempValues = values
	s.tempLen = elements
	return nil
}

// Encode appends a full 32-bit, 4-pass key/value radix sort to encoder.
func (s *RadixSortBy) Encode(encoder hal.CommandEncoder, input RadixSortByInput) (hal.CommandEncoder, error) {
	return s.encode(encoder, input, radixGroupsFull, s.histogramFull, s.histogramBufFull, s.scatterFull[:])
}

// EncodeHalfPrecision appends a 16-bit, 2-pass key/value radix sort to
// encoder, for keys already known to fit in the low 16 bits.
func (s *RadixSortBy) EncodeHalfPrecision(encoder hal.CommandEncoder, input RadixSortByInput) (hal.CommandEncoder, error) {
	return s.encode(encoder, input, radixGroupsHalf, s.histogramHalf, s.histogramBufHalf, s.scatterHalf[:])
}

func (s *RadixSortBy) encode(encoder hal.CommandEncoder, input RadixSortByInput, groups int, histogram *bucketHistogram, histogramBuf hal.Buffer, scatters []*bucketScatter) (hal.CommandEncoder, error) {
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

	if err := s.ensureTemp(input.Len); err != nil {
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

	srcKeys, dstKeys := input.Keys, s.tempKeys
	srcValues, dstValues := input.Values, s.tempValues
	for p := 0; p < groups; p++ {
		encoder, err = scatters[p].encode(encoder, scatterArgs{
			count:        count,
			srcKeys:      srcKeys,
			dstKeys:      dstKeys,
			srcValues:    srcValues,
			dstValues:    dstValues,
			histograms:   histogramBuf,
			histogramRow: uint64(p) * radixDigits * 4,
			workgroups:   workgroups,
			indirect:     scatterIndirect,
		})
		if err != nil {
			return encoder, err
		}
		srcKeys, dstKeys = dstKeys, srcKeys
		srcValues, dstValues = dstValues, srcValues
	}

	return encoder, nil
}

// Destroy releases all GPU resources held by s.
func (s *RadixSortBy) Destroy() {
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
	if s.tempValues != nil {
		s.device.DestroyBuffer(s.tempValues)
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
