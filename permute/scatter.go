package permute

import (
	"sync"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/gpuprim"
)

// ScatterBy computes dst[idx[i]] = src[i] for a fixed (index kind, value
// layout) pair. Exactly the inverse permutation of GatherBy's reads and
// writes: if idx is a permutation, ScatterBy(idx, GatherBy(idx, x)) == x.
type ScatterBy struct {
	mu sync.Mutex

	state     *permuteState
	generator *generator

	indexKind gpuprim.ElementKind
	value     gpuprim.ValueLayout
}

// InitScatterBy compiles a scatter-by pipeline for indexKind and value.
func InitScatterBy(device hal.Device, queue hal.Queue, indexKind gpuprim.ElementKind, value gpuprim.ValueLayout) (*ScatterBy, error) {
	if device == nil {
		return nil, gpuprim.ErrDeviceNil
	}
	if err := validateIndexKind(indexKind); err != nil {
		return nil, err
	}
	if err := gpuprim.ValidateValueLayout(value); err != nil {
		return nil, err
	}

	source := buildSource(scatterTemplate, indexKind, value)
	state, err := initPermuteState(device, queue, "gpuscan_scatter_by", source)
	if err != nil {
		return nil, err
	}
	generator, err := initGenerator(device, queue)
	if err != nil {
		state.destroy()
		return nil, err
	}

	gpuprim.Logger().Info("permute: scatter_by pipeline initialized", "index", indexKind.String(), "value", value.Name)

	return &ScatterBy{state: state, generator: generator, indexKind: indexKind, value: value}, nil
}

// Encode appends the scatter-by kernel to encoder. in.By is the index
// buffer, in.Data the source array and in.Out the destination array.
func (s *ScatterBy) Encode(encoder hal.CommandEncoder, in PermuteInput) (hal.CommandEncoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.encode(encoder, "gpuscan_scatter_by", s.generator, in)
}

// Destroy releases all GPU resources held by s.
func (s *ScatterBy) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generator.destroy()
	s.state.destroy()
}
