package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/grasscull"
	"github.com/gekko3d/grasscull/cullrt/rt/core"
	"github.com/gekko3d/grasscull/cullrt/rt/shaders"
)

// Pyramid is the handle published to the cull pass once the mip chain is recorded.
type Pyramid struct {
	size uint32
	mips int
}

func (p *Pyramid) Size() uint32  { return p.size }
func (p *Pyramid) MipCount() int { return p.mips }

var _ core.PyramidHandle = (*Pyramid)(nil)

// SetupPyramid (re)creates the size×size R32Float pyramid, its per-mip views and the
// two reduction pipelines. Pipelines survive a resize.
func (m *GpuBufferManager) SetupPyramid(size uint32) error {
	m.releasePyramid()

	extents := core.PyramidExtents(size, size)
	if len(extents) == 0 {
		return fmt.Errorf("pyramid size %d: %w: below minimum level", size, grasscull.ErrDevice)
	}
	mips := len(extents)

	var err error
	m.PyramidTexture, err = m.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "HiZ Pyramid",
		Size:          wgpu.Extent3D{Width: size, Height: size, DepthOrArrayLayers: 1},
		MipLevelCount: uint32(mips),
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatR32Float,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageStorageBinding | wgpu.TextureUsageCopySrc,
	})
	if err != nil {
		return deviceErr("create pyramid texture", err)
	}

	m.PyramidView, err = m.PyramidTexture.CreateView(&wgpu.TextureViewDescriptor{
		Label:           "HiZ Pyramid (all mips)",
		Format:          wgpu.TextureFormatR32Float,
		Dimension:       wgpu.TextureViewDimension2D,
		BaseMipLevel:    0,
		MipLevelCount:   uint32(mips),
		BaseArrayLayer:  0,
		ArrayLayerCount: 1,
	})
	if err != nil {
		m.releasePyramid()
		return deviceErr("create pyramid view", err)
	}

	m.PyramidMipViews = make([]*wgpu.TextureView, mips)
	for i := 0; i < mips; i++ {
		m.PyramidMipViews[i], err = m.PyramidTexture.CreateView(&wgpu.TextureViewDescriptor{
			Label:           fmt.Sprintf("HiZ Mip %d", i),
			Format:          wgpu.TextureFormatR32Float,
			Dimension:       wgpu.TextureViewDimension2D,
			BaseMipLevel:    uint32(i),
			MipLevelCount:   1,
			BaseArrayLayer:  0,
			ArrayLayerCount: 1,
		})
		if err != nil {
			m.releasePyramid()
			return deviceErr("create pyramid mip view", err)
		}
	}
	m.PyramidSize = size
	m.PyramidMips = mips

	if err := m.setupHiZPipelines(); err != nil {
		m.releasePyramid()
		return err
	}

	// Level k+1 reads level k; those bind groups never change until the next resize.
	m.hizDownBGs = make([]*wgpu.BindGroup, mips)
	for i := 1; i < mips; i++ {
		m.hizDownBGs[i], err = m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  fmt.Sprintf("HiZ Downsample %d", i),
			Layout: m.HiZDownBGL,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 1, TextureView: m.PyramidMipViews[i-1]},
				{Binding: 2, TextureView: m.PyramidMipViews[i]},
			},
		})
		if err != nil {
			m.releasePyramid()
			return deviceErr("create pyramid bind group", err)
		}
	}

	// Cull frame bind group points at the old view.
	m.invalidateCullFrameBG()
	m.Logger.Debugf("HiZ pyramid %dx%d, %d mips", size, size, mips)
	return nil
}

func (m *GpuBufferManager) setupHiZPipelines() error {
	if m.HiZCopyPipeline != nil && m.HiZDownPipeline != nil {
		return nil
	}

	module, err := m.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "HiZ Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.HiZWGSL},
	})
	if err != nil {
		return deviceErr("compile hiz shader", err)
	}
	defer module.Release()

	storage := wgpu.BindGroupLayoutEntry{
		Binding:    2,
		Visibility: wgpu.ShaderStageCompute,
		StorageTexture: wgpu.StorageTextureBindingLayout{
			Access:        wgpu.StorageTextureAccessWriteOnly,
			Format:        wgpu.TextureFormatR32Float,
			ViewDimension: wgpu.TextureViewDimension2D,
		},
	}

	m.HiZCopyBGL, err = m.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "HiZ Copy BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeDepth,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			storage,
		},
	})
	if err != nil {
		return deviceErr("create hiz copy layout", err)
	}

	m.HiZDownBGL, err = m.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "HiZ Downsample BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageCompute,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			storage,
		},
	})
	if err != nil {
		return deviceErr("create hiz downsample layout", err)
	}

	m.HiZCopyPipeline, err = m.computePipeline("HiZ Copy Pipeline", module, shaders.HiZCopyEntry, m.HiZCopyBGL)
	if err != nil {
		return err
	}
	m.HiZDownPipeline, err = m.computePipeline("HiZ Downsample Pipeline", module, shaders.HiZDownsampleEntry, m.HiZDownBGL)
	return err
}

func (m *GpuBufferManager) computePipeline(label string, module *wgpu.ShaderModule, entry string, bgls ...*wgpu.BindGroupLayout) (*wgpu.ComputePipeline, error) {
	layout, err := m.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + " Layout",
		BindGroupLayouts: bgls,
	})
	if err != nil {
		return nil, deviceErr("create "+label+" layout", err)
	}
	defer layout.Release()

	p, err := m.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label,
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: entry,
		},
	})
	if err != nil {
		return nil, deviceErr("create "+label, err)
	}
	return p, nil
}

// DispatchPyramid records the mip chain build from depthView into encoder. Level 0
// resamples the depth attachment, each further level max-reduces the previous one.
func (m *GpuBufferManager) DispatchPyramid(encoder *wgpu.CommandEncoder, depthView *wgpu.TextureView) (*Pyramid, error) {
	if m.HiZCopyPipeline == nil || m.PyramidTexture == nil {
		return nil, fmt.Errorf("dispatch pyramid: %w: pyramid not set up", grasscull.ErrDevice)
	}
	if depthView == nil {
		return nil, fmt.Errorf("dispatch pyramid: %w: no depth view", grasscull.ErrDevice)
	}

	bg0, err := m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "HiZ Copy",
		Layout: m.HiZCopyBGL,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: depthView},
			{Binding: 2, TextureView: m.PyramidMipViews[0]},
		},
	})
	if err != nil {
		return nil, deviceErr("create hiz copy bind group", err)
	}
	defer bg0.Release()

	extents := core.PyramidExtents(m.PyramidSize, m.PyramidSize)

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(m.HiZCopyPipeline)
	pass.SetBindGroup(0, bg0, nil)
	pass.DispatchWorkgroups(hizGroups(extents[0][0]), hizGroups(extents[0][1]), 1)

	pass.SetPipeline(m.HiZDownPipeline)
	for i := 1; i < m.PyramidMips; i++ {
		pass.SetBindGroup(0, m.hizDownBGs[i], nil)
		pass.DispatchWorkgroups(hizGroups(extents[i][0]), hizGroups(extents[i][1]), 1)
	}
	if err := pass.End(); err != nil {
		return nil, deviceErr("end hiz pass", err)
	}

	return &Pyramid{size: m.PyramidSize, mips: m.PyramidMips}, nil
}

func hizGroups(n uint32) uint32 {
	return (n + shaders.HiZWorkgroup - 1) / shaders.HiZWorkgroup
}

// hizView returns the pyramid view the cull pass binds. Frames without a pyramid
// bind a 1×1 far-depth placeholder; the occlusion flag is off then.
func (m *GpuBufferManager) hizView() (*wgpu.TextureView, error) {
	if m.PyramidView != nil {
		return m.PyramidView, nil
	}
	if m.dummyHiZView != nil {
		return m.dummyHiZView, nil
	}

	var err error
	m.dummyHiZ, err = m.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "HiZ Placeholder",
		Size:          wgpu.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatR32Float,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, deviceErr("create hiz placeholder", err)
	}
	m.dummyHiZView, err = m.dummyHiZ.CreateView(nil)
	if err != nil {
		return nil, deviceErr("create hiz placeholder view", err)
	}
	return m.dummyHiZView, nil
}

func (m *GpuBufferManager) releasePyramid() {
	for _, bg := range m.hizDownBGs {
		if bg != nil {
			bg.Release()
		}
	}
	m.hizDownBGs = nil
	for _, v := range m.PyramidMipViews {
		if v != nil {
			v.Release()
		}
	}
	m.PyramidMipViews = nil
	if m.PyramidView != nil {
		m.PyramidView.Release()
		m.PyramidView = nil
	}
	if m.PyramidTexture != nil {
		m.PyramidTexture.Release()
		m.PyramidTexture = nil
	}
	m.PyramidSize = 0
	m.PyramidMips = 0
}
