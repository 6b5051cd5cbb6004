// Package dispatch generates indirect-dispatch records on the GPU, so a
// caller who only knows an element count on the GPU side (a prior kernel's
// output) can still drive a later kernel's workgroup count without a
// host-device round trip.
package dispatch

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/gpuprim"
	"github.com/gogpu/gpuscan/internal/gpuexec"
)

//go:embed shaders/generate_dispatch.wgsl
var shaderSource string

// GenerateDispatch is a one-thread kernel that writes a single
// DispatchIndirectArgs record computed as max(ceil(n/segmentSize), 1)
// workgroups in X, 1 in Y and Z.
type GenerateDispatch struct {
	device           hal.Device
	bindGroupLayout  hal.BindGroupLayout
	pipelineLayout   hal.PipelineLayout
	pipeline         hal.ComputePipeline
	shaderModule     hal.ShaderModule
}

// Init compiles the generator's shader and pipeline.
func Init(device hal.Device) (*GenerateDispatch, error) {
	if device == nil {
		return nil, gpuprim.ErrDeviceNil
	}

	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "gpuscan_generate_dispatch",
		Source: hal.ShaderSource{WGSL: shaderSource},
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: create shader module: %w", err)
	}

	bgLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "gpuscan_generate_dispatch_bgl",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("dispatch: create bind group layout: %w", err)
	}

	pipelineLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "gpuscan_generate_dispatch_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		device.DestroyBindGroupLayout(bgLayout)
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("dispatch: create pipeline layout: %w", err)
	}

	pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "gpuscan_generate_dispatch",
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
		return nil, fmt.Errorf("dispatch: create compute pipeline: %w", err)
	}

	gpuprim.Logger().Info("dispatch: generator initialized")

	return &GenerateDispatch{
		device:          device,
		bindGroupLayout: bgLayout,
		pipelineLayout:  pipelineLayout,
		pipeline:        pipeline,
		shaderModule:    module,
	}, nil
}

// Encode appends the one-thread dispatch-record kernel to encoder. segment
// is a uniform buffer holding the single u32 segment size used to compute
// the workgroup count. out must be a storage buffer large enough for one
// DispatchIndirectArgs (12 bytes) and usable as an indirect-dispatch
// source by the kernel it feeds.
func (g *GenerateDispatch) Encode(encoder hal.CommandEncoder, count, segment, out hal.Buffer) (hal.CommandEncoder, error) {
	bindGroup, err := g.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "gpuscan_generate_dispatch_bg",
		Layout: g.bindGroupLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: count.NativeHandle()}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: segment.NativeHandle()}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: out.NativeHandle()}},
		},
	})
	if err != nil {
		return encoder, fmt.Errorf("dispatch: create bind group: %w", err)
	}

	if err := gpuexec.EncodeComputePass(encoder, "gpuscan_generate_dispatch", g.pipeline, bindGroup, 1, 1, 1); err != nil {
		return encoder, fmt.Errorf("dispatch: encode compute pass: %w", err)
	}
	return encoder, nil
}

// Destroy releases the generator's GPU resources.
func (g *GenerateDispatch) Destroy() {
	g.device.DestroyComputePipeline(g.pipeline)
	g.device.DestroyPipelineLayout(g.pipelineLayout)
	g.device.DestroyBindGroupLayout(g.bindGroupLayout)
	g.device.DestroyShaderModule(g.shaderModule)
}
