package radixsort

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/internal/gpuexec"
)

//go:embed shaders/global_bucket_offsets.wgsl
var globalBucketOffsetsSource string

// globalBucketOffsets converts each row of the digit histogram into an
// exclusive prefix sum in place, one workgroup per radix pass.
type globalBucketOffsets struct {
	device          hal.Device
	shaderModule    hal.ShaderModule
	bindGroupLayout hal.BindGroupLayout
	pipelineLayout  hal.PipelineLayout
	pipeline        hal.ComputePipeline
}

func initGlobalBucketOffsets(device hal.Device) (*globalBucketOffsets, error) {
	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "gpuscan_radixsort_offsets",
		Source: hal.ShaderSource{WGSL: globalBucketOffsetsSource},
	})
	if err != nil {
		return nil, fmt.Errorf("radixsort: create offsets shader: %w", err)
	}

	bgLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "gpuscan_radixsort_offsets_bgl",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("radixsort: create offsets bind group layout: %w", err)
	}

	pipelineLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "gpuscan_radixsort_offsets_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		device.DestroyBindGroupLayout(bgLayout)
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("radixsort: create offsets pipeline layout: %w", err)
	}

	pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "gpuscan_radixsort_offsets",
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
		return nil, fmt.Errorf("radixsort: create offsets pipeline: %w", err)
	}

	return &globalBucketOffsets{
		device:          device,
		shaderModule:    module,
		bindGroupLayout: bgLayout,
		pipelineLayout:  pipelineLayout,
		pipeline:        pipeline,
	}, nil
}

func (o *globalBucketOffsets) encode(encoder hal.CommandEncoder, histograms hal.Buffer, groups int) (hal.CommandEncoder, error) {
	bindGroup, err := o.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "gpuscan_radixsort_offsets_bg",
		Layout: o.bindGroupLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: histograms.NativeHandle()}},
		},
	})
	if err != nil {
		return encoder, fmt.Errorf("radixsort: create offsets bind group: %w", err)
	}

	if err := gpuexec.EncodeComputePass(encoder, "gpuscan_radixsort_offsets", o.pipeline, bindGroup, uint32(groups), 1, 1); err != nil {
		return encoder, fmt.Errorf("radixsort: encode offsets: %w", err)
	}
	return encoder, nil
}

func (o *globalBucketOffsets) destroy() {
	o.device.DestroyComputePipeline(o.pipeline)
	o.device.DestroyPipelineLayout(o.pipelineLayout)
	o.device.DestroyBindGroupLayout(o.bindGroupLayout)
	o.device.DestroyShaderModule(o.shaderModule)
}
