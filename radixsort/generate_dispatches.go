package radixsort

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/internal/gpuexec"
)

//go:embed shaders/generate_dispatches.wgsl
var generateDispatchesSource string

// generateDispatches writes both the histogram and scatter indirect
// dispatch records from one count buffer in a single one-thread launch,
// avoiding a host round trip between the two when the element count is
// only known on the device (e.g. chained after another primitive).
type generateDispatches struct {
	device          hal.Device
	shaderModule    hal.ShaderModule
	bindGroupLayout hal.BindGroupLayout
	pipelineLayout  hal.PipelineLayout
	pipeline        hal.ComputePipeline
}

func initGenerateDispatches(device hal.Device) (*generateDispatches, error) {
	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "gpuscan_radixsort_generate_dispatches",
		Source: hal.ShaderSource{WGSL: generateDispatchesSource},
	})
	if err != nil {
		return nil, fmt.Errorf("radixsort: create generate_dispatches shader: %w", err)
	}

	bgLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "gpuscan_radixsort_generate_dispatches_bgl",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
			{Binding: 3, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("radixsort: create generate_dispatches bind group layout: %w", err)
	}

	pipelineLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "gpuscan_radixsort_generate_dispatches_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		device.DestroyBindGroupLayout(bgLayout)
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("radixsort: create generate_dispatches pipeline layout: %w", err)
	}

	pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "gpuscan_radixsort_generate_dispatches_pipeline",
		Layout: pipelineLayout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		device.DestroyPipelineLayout(pipelineLayout)
		device.DestroyBindGroupLayout(bgLayout)
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("radixsort: create generate_dispatches pipeline: %w", err)
	}

	return &generateDispatches{
		device:          device,
		shaderModule:    module,
		bindGroupLayout: bgLayout,
		pipelineLayout:  pipelineLayout,
		pipeline:        pipeline,
	}, nil
}

func (g *generateDispatches) encode(encoder hal.CommandEncoder, segmentSizes, count, histogramOut, scatterOut hal.Buffer) (hal.CommandEncoder, error) {
	bindGroup, err := g.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "gpuscan_radixsort_generate_dispatches_bg",
		Layout: g.bindGroupLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: segmentSizes.NativeHandle()}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: count.NativeHandle()}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: histogramOut.NativeHandle()}},
			{Binding: 3, Resource: gputypes.BufferBinding{Buffer: scatterOut.NativeHandle()}},
		},
	})
	if err != nil {
		return encoder, fmt.Errorf("radixsort: create generate_dispatches bind group: %w", err)
	}

	if err := gpuexec.EncodeComputePass(encoder, "gpuscan_radixsort_generate_dispatches", g.pipeline, bindGroup, 1, 1, 1); err != nil {
		return encoder, fmt.Errorf("radixsort: encode generate_dispatches: %w", err)
	}
	return encoder, nil
}

func (g *generateDispatches) destroy() {
	g.device.DestroyComputePipeline(g.pipeline)
	g.device.DestroyPipelineLayout(g.pipelineLayout)
	g.device.DestroyBindGroupLayout(g.bindGroupLayout)
	g.device.DestroyShaderModule(g.shaderModule)
}
