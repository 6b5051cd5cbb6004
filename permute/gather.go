package permute

import (
	"sync"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/gpuprim"
)

// GatherBy computes dst[i] = src[idx[i]] for a fixed (index kind, value
// layout) pair. idx, src and dst are all supplied per Encode call; a
// single instance can be reused across many calls as long as the index
// kind and value layout stay the same.
type GatherBy struct {
	mu sync.Mutex

	state     *permuteState
	generator *generator

	indexKind gpuprim.ElementKind
	value     gpuprim.ValueLayout
}

// InitGatherBy compiles a gather-by pipeline for indexKind and value.
func InitGatherBy(device hal.Device, queue hal.Queue, indexKind gpuprim.ElementKind, value gpuprim.ValueLayout) (*GatherBy, error) {
	if device == nil {
		return nil, gpuprim.ErrDeviceNil
	}
	if err := validateIndexKind(indexKind); err != nil {
		return nil, err
	}
	if err := gpuprim.ValidateValueLayout(value); err != nil {
		return nil, err
	}

	source := buildSource(gatherTemplate, indexKind, value)
	state, err := initPermuteState(device, queue, "gpuscan_gather_by", source)
	if err != nil {
		return nil, err
	}
	generator, err := initGenerator(device, queue)
	if err != nil {
		state.destroy()
		return nil, err
	}

	gpuprim.Logger().Info("permute: gather_by pipeline initialized", "index", indexKind.String(), "value", value.Name)

	return &GatherBy{state: state, generator: generator, indexKind: indexKind, value: value}, nil
}

// Encode appends the gather-by kernel to encoder. in.By is the index
// buffer, in.Data the source array and in.Out the destination array.
func (g *GatherBy) Encode(encoder hal.CommandEncoder, in PermuteInput) (hal.CommandEncoder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.encode(encoder, "gpuscan_gather_by", g.generator, in)
}

// Destroy releases all GPU resources held by g.
func (g *GatherBy) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generator.destroy()
	g.state.destroy()
}
