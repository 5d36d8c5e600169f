package gpu

import (
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/grasscull/cullrt/rt/shaders"
)

// DepthFormat is the format of the depth attachment the pyramid is built from.
const DepthFormat = wgpu.TextureFormatDepth32Float

// MeshRenderPass draws each group's compacted survivors with one indexed indirect
// draw out of the shared vertex and index buffers.
type MeshRenderPass struct {
	Pipeline  *wgpu.RenderPipeline
	CameraBGL *wgpu.BindGroupLayout
	GroupBGL  *wgpu.BindGroupLayout
	CameraBG  *wgpu.BindGroup
	Device    *wgpu.Device

	cameraBuf *wgpu.Buffer
}

func NewMeshRenderPass(device *wgpu.Device, format wgpu.TextureFormat) (*MeshRenderPass, error) {
	shaderModule, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "InstancedShader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.InstancedWGSL},
	})
	if err != nil {
		return nil, err
	}
	defer shaderModule.Release()

	cameraBgl, err := device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "InstancedCameraBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: CameraUniformSize,
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	groupBgl, err := device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "InstancedGroupBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex,
				Buffer: wgpu.BufferBindingLayout{
					Type: wgpu.BufferBindingTypeReadOnlyStorage,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: MaterialUniformSize,
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	pipelineLayout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{
			cameraBgl,
			groupBgl,
		},
	})
	if err != nil {
		return nil, err
	}
	defer pipelineLayout.Release()

	pipeline, err := device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "InstancedPipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     shaderModule,
			EntryPoint: shaders.VertexEntry,
			Buffers: []wgpu.VertexBufferLayout{
				{
					ArrayStride: VertexStride,
					StepMode:    wgpu.VertexStepModeVertex,
					Attributes: []wgpu.VertexAttribute{
						{
							Format:         wgpu.VertexFormatFloat32x3,
							Offset:         0,
							ShaderLocation: 0,
						},
						{
							Format:         wgpu.VertexFormatFloat32x3,
							Offset:         12,
							ShaderLocation: 1,
						},
					},
				},
			},
		},
		Fragment: &wgpu.FragmentState{
			Module:     shaderModule,
			EntryPoint: shaders.FragmentEntry,
			Targets: []wgpu.ColorTargetState{
				{
					Format:    format,
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:            DepthFormat,
			DepthWriteEnabled: true,
			DepthCompare:      wgpu.CompareFunctionLess,
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, err
	}

	return &MeshRenderPass{
		Pipeline:  pipeline,
		CameraBGL: cameraBgl,
		GroupBGL:  groupBgl,
		Device:    device,
	}, nil
}

// BindCamera (re)creates the camera bind group when the uniform buffer changes.
func (p *MeshRenderPass) BindCamera(cameraBuffer *wgpu.Buffer) error {
	if p.CameraBG != nil && p.cameraBuf == cameraBuffer {
		return nil
	}
	if p.CameraBG != nil {
		p.CameraBG.Release()
	}
	bg, err := p.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "InstancedCameraBG",
		Layout: p.CameraBGL,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: cameraBuffer, Size: CameraUniformSize},
		},
	})
	if err != nil {
		p.CameraBG = nil
		return deviceErr("create camera bind group", err)
	}
	p.CameraBG, p.cameraBuf = bg, cameraBuffer
	return nil
}

// AttachGroup builds the draw bind group of g: its visible buffer and material.
func (p *MeshRenderPass) AttachGroup(g *GpuGroup) error {
	bg, err := p.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "InstancedGroupBG",
		Layout: p.GroupBGL,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: g.OutputBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: g.MaterialBuf, Size: MaterialUniformSize},
		},
	})
	if err != nil {
		return deviceErr("create group draw bind group", err)
	}
	g.drawBG = bg
	return nil
}

// Draw issues one indexed indirect draw per group. Instance counts come from the
// args buffers, never from the host.
func (p *MeshRenderPass) Draw(pass *wgpu.RenderPassEncoder, vertices, indices *wgpu.Buffer, groups []*GpuGroup) {
	if p.CameraBG == nil || vertices == nil || indices == nil {
		return
	}
	pass.SetPipeline(p.Pipeline)
	pass.SetBindGroup(0, p.CameraBG, nil)
	pass.SetVertexBuffer(0, vertices, 0, vertices.GetSize())
	pass.SetIndexBuffer(indices, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
	for _, g := range groups {
		pass.SetBindGroup(1, g.drawBG, nil)
		pass.DrawIndexedIndirect(g.ArgsBuf, 0)
	}
}

func (p *MeshRenderPass) Release() {
	if p.CameraBG != nil {
		p.CameraBG.Release()
		p.CameraBG = nil
	}
	for _, l := range []*wgpu.BindGroupLayout{p.CameraBGL, p.GroupBGL} {
		if l != nil {
			l.Release()
		}
	}
	p.CameraBGL, p.GroupBGL = nil, nil
	if p.Pipeline != nil {
		p.Pipeline.Release()
		p.Pipeline = nil
	}
}
