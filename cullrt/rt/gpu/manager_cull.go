package gpu

import (
	"encoding/binary"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/grasscull/cullrt/rt/core"
	"github.com/gekko3d/grasscull/cullrt/rt/shaders"
)

// Byte offsets inside the CullFrame uniform.
const (
	cullFrameViewProjOffset = 0
	cullFramePlanesOffset   = 64
	cullFramePyramidOffset  = 160
	cullFrameMipsOffset     = 168
	cullFrameFlagsOffset    = 172
)

// PackCullFrame lays out the per-frame cull uniform. Without a pyramid the size and
// mip count are zero and the occlusion flag is clear.
func PackCullFrame(ctx *core.FrameContext) []byte {
	buf := make([]byte, CullFrameUniformSize)
	copy(buf[cullFrameViewProjOffset:], mat4ToBytes(ctx.ViewProj))
	planes := ctx.Frustum.Planes()
	for i, p := range planes {
		copy(buf[cullFramePlanesOffset+i*16:], vec4ToBytes(p))
	}
	if ctx.Pyramid != nil {
		size := float32(ctx.Pyramid.Size())
		binary.LittleEndian.PutUint32(buf[cullFramePyramidOffset:], math.Float32bits(size))
		binary.LittleEndian.PutUint32(buf[cullFramePyramidOffset+4:], math.Float32bits(size))
		binary.LittleEndian.PutUint32(buf[cullFrameMipsOffset:], uint32(ctx.Pyramid.MipCount()))
	}
	binary.LittleEndian.PutUint32(buf[cullFrameFlagsOffset:], ctx.CullFlags())
	return buf
}

// PackGroupParams lays out the per-group cull uniform.
func PackGroupParams(instanceCount uint32) []byte {
	buf := make([]byte, GroupParamsSize)
	binary.LittleEndian.PutUint32(buf[0:4], instanceCount)
	return buf
}

func (m *GpuBufferManager) setupCullPipeline() error {
	if m.CullPipeline != nil {
		return nil
	}

	module, err := m.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Cull Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.CullWGSL},
	})
	if err != nil {
		return deviceErr("compile cull shader", err)
	}
	defer module.Release()

	m.CullFrameBGL, err = m.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Cull Frame BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: CullFrameUniformSize,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageCompute,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
		},
	})
	if err != nil {
		return deviceErr("create cull frame layout", err)
	}

	storage := func(binding uint32, t wgpu.BufferBindingType) wgpu.BindGroupLayoutEntry {
		return wgpu.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: t},
		}
	}
	m.CullGroupBGL, err = m.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Cull Group BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: GroupParamsSize,
				},
			},
			storage(1, wgpu.BufferBindingTypeReadOnlyStorage), // instances
			storage(2, wgpu.BufferBindingTypeStorage),         // visible_out
			storage(3, wgpu.BufferBindingTypeStorage),         // counters
			storage(4, wgpu.BufferBindingTypeStorage),         // debug_bounds
		},
	})
	if err != nil {
		return deviceErr("create cull group layout", err)
	}

	m.CullPipeline, err = m.computePipeline("Cull Pipeline", module, shaders.CullEntry, m.CullFrameBGL, m.CullGroupBGL)
	return err
}

// WriteCullFrame uploads the frame uniform and makes sure the frame bind group
// references the current pyramid view.
func (m *GpuBufferManager) WriteCullFrame(ctx *core.FrameContext) error {
	if err := m.setupCullPipeline(); err != nil {
		return err
	}
	recreated, err := m.ensureBuffer("Cull Frame Uniform", &m.CullFrameBuf, PackCullFrame(ctx), wgpu.BufferUsageUniform, 0)
	if err != nil {
		return err
	}

	view, err := m.hizView()
	if err != nil {
		return err
	}
	if recreated || m.cullFrameBG == nil || m.cullFrameBGView != view {
		m.invalidateCullFrameBG()
		m.cullFrameBG, err = m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "Cull Frame BG",
			Layout: m.CullFrameBGL,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: m.CullFrameBuf, Size: wgpu.WholeSize},
				{Binding: 1, TextureView: view},
			},
		})
		if err != nil {
			return deviceErr("create cull frame bind group", err)
		}
		m.cullFrameBGView = view
	}
	return nil
}

// DispatchCull records one group's cull pass. The visible counter is zeroed first;
// empty groups record the clear only.
func (m *GpuBufferManager) DispatchCull(encoder *wgpu.CommandEncoder, g *GpuGroup) error {
	if err := encoder.ClearBuffer(g.CountersBuf, 0, CountersSize); err != nil {
		return deviceErr("clear counters", err)
	}
	groups := core.WorkgroupCount(g.instanceCount)
	if groups == 0 {
		return nil
	}

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(m.CullPipeline)
	pass.SetBindGroup(0, m.cullFrameBG, nil)
	pass.SetBindGroup(1, g.cullBG, nil)
	pass.DispatchWorkgroups(groups, 1, 1)
	if err := pass.End(); err != nil {
		return deviceErr("end cull pass", err)
	}
	return nil
}

func (m *GpuBufferManager) invalidateCullFrameBG() {
	if m.cullFrameBG != nil {
		m.cullFrameBG.Release()
		m.cullFrameBG = nil
	}
	m.cullFrameBGView = nil
}

func (m *GpuBufferManager) releaseCull() {
	m.invalidateCullFrameBG()
	if m.CullPipeline != nil {
		m.CullPipeline.Release()
		m.CullPipeline = nil
	}
	for _, l := range []*wgpu.BindGroupLayout{m.CullFrameBGL, m.CullGroupBGL, m.HiZCopyBGL, m.HiZDownBGL} {
		if l != nil {
			l.Release()
		}
	}
	m.CullFrameBGL, m.CullGroupBGL, m.HiZCopyBGL, m.HiZDownBGL = nil, nil, nil, nil
	for _, p := range []*wgpu.ComputePipeline{m.HiZCopyPipeline, m.HiZDownPipeline} {
		if p != nil {
			p.Release()
		}
	}
	m.HiZCopyPipeline, m.HiZDownPipeline = nil, nil
}
