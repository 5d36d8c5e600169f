package gpu

import (
	"encoding/binary"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/grasscull/cullrt/rt/core"
	"github.com/gekko3d/grasscull/cullrt/rt/shaders"
)

// BoundsRenderPass draws read-back debug bounds as wireframe boxes. One unit cube
// line list is instanced over the box buffer.
type BoundsRenderPass struct {
	Pipeline       *wgpu.RenderPipeline
	CameraBGL      *wgpu.BindGroupLayout
	CameraBG       *wgpu.BindGroup
	VertexBuffer   *wgpu.Buffer
	VertexCount    uint32
	InstanceBuffer *wgpu.Buffer
	InstanceCap    uint32
	InstanceCount  uint32
	Device         *wgpu.Device

	cameraBuf *wgpu.Buffer
}

// UnitCubeLines returns the 12 edges of the -0.5..0.5 cube as 24 line-list points.
func UnitCubeLines() [][3]float32 {
	lo, hi := float32(-0.5), float32(0.5)
	c := func(i int) [3]float32 {
		p := [3]float32{lo, lo, lo}
		for axis := 0; axis < 3; axis++ {
			if i&(1<<axis) != 0 {
				p[axis] = hi
			}
		}
		return p
	}
	var out [][3]float32
	for i := 0; i < 8; i++ {
		for axis := 0; axis < 3; axis++ {
			j := i | 1<<axis
			if j != i {
				out = append(out, c(i), c(j))
			}
		}
	}
	return out
}

func NewBoundsRenderPass(device *wgpu.Device, format wgpu.TextureFormat) (*BoundsRenderPass, error) {
	shaderModule, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "BoundsShader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.BoundsWGSL},
	})
	if err != nil {
		return nil, err
	}
	defer shaderModule.Release()

	bgl, err := device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "BoundsCameraBGL",
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

	pipelineLayout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return nil, err
	}
	defer pipelineLayout.Release()

	pipeline, err := device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "BoundsPipeline",
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     shaderModule,
			EntryPoint: shaders.VertexEntry,
			Buffers: []wgpu.VertexBufferLayout{
				{
					ArrayStride: 12,
					StepMode:    wgpu.VertexStepModeVertex,
					Attributes: []wgpu.VertexAttribute{
						{
							Format:         wgpu.VertexFormatFloat32x3,
							Offset:         0,
							ShaderLocation: 0,
						},
					},
				},
				{
					ArrayStride: core.BoundsStride,
					StepMode:    wgpu.VertexStepModeInstance,
					Attributes: []wgpu.VertexAttribute{
						{
							Format:         wgpu.VertexFormatFloat32x3,
							Offset:         0,
							ShaderLocation: 2,
						},
						{
							Format:         wgpu.VertexFormatFloat32x3,
							Offset:         16,
							ShaderLocation: 3,
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
					Blend: &wgpu.BlendState{
						Color: wgpu.BlendComponent{
							Operation: wgpu.BlendOperationAdd,
							SrcFactor: wgpu.BlendFactorSrcAlpha,
							DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
						},
						Alpha: wgpu.BlendComponent{
							Operation: wgpu.BlendOperationAdd,
							SrcFactor: wgpu.BlendFactorOne,
							DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
						},
					},
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyLineList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		// Boxes are tested against the scene but never occlude it.
		DepthStencil: &wgpu.DepthStencilState{
			Format:            DepthFormat,
			DepthWriteEnabled: false,
			DepthCompare:      wgpu.CompareFunctionLessEqual,
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

	p := &BoundsRenderPass{
		Pipeline:  pipeline,
		CameraBGL: bgl,
		Device:    device,
	}

	verts := UnitCubeLines()
	p.VertexCount = uint32(len(verts))
	vb := make([]byte, len(verts)*12)
	for i, v := range verts {
		for k := 0; k < 3; k++ {
			binary.LittleEndian.PutUint32(vb[i*12+k*4:], math.Float32bits(v[k]))
		}
	}
	p.VertexBuffer, err = device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "BoundsUnitCube",
		Size:  uint64(len(vb)),
		Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	if err := device.GetQueue().WriteBuffer(p.VertexBuffer, 0, vb); err != nil {
		return nil, err
	}
	return p, nil
}

// Update uploads the boxes to draw this frame.
func (p *BoundsRenderPass) Update(queue *wgpu.Queue, boxes []core.AABB) error {
	p.InstanceCount = uint32(len(boxes))
	if len(boxes) == 0 {
		return nil
	}

	n := uint32(len(boxes))
	if p.InstanceBuffer == nil || p.InstanceCap < n {
		if p.InstanceBuffer != nil {
			p.InstanceBuffer.Release()
		}
		p.InstanceCap = n + 128 // Margin
		var err error
		p.InstanceBuffer, err = p.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "BoundsInstanceBuffer",
			Size:  uint64(p.InstanceCap) * core.BoundsStride,
			Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			p.InstanceBuffer, p.InstanceCap, p.InstanceCount = nil, 0, 0
			return deviceErr("create bounds instances", err)
		}
	}

	buf := make([]byte, len(boxes)*core.BoundsStride)
	for i, b := range boxes {
		core.PutBounds(buf[i*core.BoundsStride:], b)
	}
	return queue.WriteBuffer(p.InstanceBuffer, 0, buf)
}

func (p *BoundsRenderPass) BindCamera(cameraBuffer *wgpu.Buffer) error {
	if p.CameraBG != nil && p.cameraBuf == cameraBuffer {
		return nil
	}
	if p.CameraBG != nil {
		p.CameraBG.Release()
	}
	bg, err := p.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "BoundsCameraBG",
		Layout: p.CameraBGL,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: cameraBuffer, Size: CameraUniformSize},
		},
	})
	if err != nil {
		p.CameraBG = nil
		return deviceErr("create bounds camera bind group", err)
	}
	p.CameraBG, p.cameraBuf = bg, cameraBuffer
	return nil
}

func (p *BoundsRenderPass) Draw(pass *wgpu.RenderPassEncoder) {
	if p.InstanceBuffer == nil || p.InstanceCount == 0 || p.CameraBG == nil {
		return
	}
	pass.SetPipeline(p.Pipeline)
	pass.SetBindGroup(0, p.CameraBG, nil)
	pass.SetVertexBuffer(0, p.VertexBuffer, 0, p.VertexBuffer.GetSize())
	pass.SetVertexBuffer(1, p.InstanceBuffer, 0, p.InstanceBuffer.GetSize())
	pass.Draw(p.VertexCount, p.InstanceCount, 0, 0)
}

func (p *BoundsRenderPass) Release() {
	for _, b := range []*wgpu.Buffer{p.VertexBuffer, p.InstanceBuffer} {
		if b != nil {
			b.Release()
		}
	}
	p.VertexBuffer, p.InstanceBuffer = nil, nil
	if p.CameraBG != nil {
		p.CameraBG.Release()
		p.CameraBG = nil
	}
	if p.CameraBGL != nil {
		p.CameraBGL.Release()
		p.CameraBGL = nil
	}
	if p.Pipeline != nil {
		p.Pipeline.Release()
		p.Pipeline = nil
	}
}
