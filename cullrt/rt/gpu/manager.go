package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/grasscull"
	"github.com/go-gl/mathgl/mgl32"
)

// Uniform sizes, matching the WGSL structs.
const (
	CameraUniformSize    = 96  // view_proj, light_dir, bounds_color
	CullFrameUniformSize = 176 // view_proj, planes[6], pyramid_size, mip_count, flags
	GroupParamsSize      = 16
	MaterialUniformSize  = 16
	CountersSize         = 8 // visible, bounds
)

// Vertex layout of the shared mesh buffer: position + normal.
const VertexStride = 24

type GpuBufferManager struct {
	Device *wgpu.Device
	Queue  *wgpu.Queue
	Logger grasscull.Logger

	CameraBuf    *wgpu.Buffer
	CullFrameBuf *wgpu.Buffer

	VertexBuf *wgpu.Buffer
	IndexBuf  *wgpu.Buffer

	// Pyramid
	PyramidTexture  *wgpu.Texture
	PyramidView     *wgpu.TextureView
	PyramidMipViews []*wgpu.TextureView
	PyramidSize     uint32
	PyramidMips     int
	HiZCopyPipeline *wgpu.ComputePipeline
	HiZDownPipeline *wgpu.ComputePipeline
	HiZCopyBGL      *wgpu.BindGroupLayout
	HiZDownBGL      *wgpu.BindGroupLayout
	hizDownBGs      []*wgpu.BindGroup
	dummyHiZ        *wgpu.Texture
	dummyHiZView    *wgpu.TextureView

	// Cull
	CullPipeline    *wgpu.ComputePipeline
	CullFrameBGL    *wgpu.BindGroupLayout
	CullGroupBGL    *wgpu.BindGroupLayout
	cullFrameBG     *wgpu.BindGroup
	cullFrameBGView *wgpu.TextureView
}

func NewGpuBufferManager(device *wgpu.Device, logger grasscull.Logger) *GpuBufferManager {
	return &GpuBufferManager{
		Device: device,
		Queue:  device.GetQueue(),
		Logger: grasscull.OrNop(logger),
	}
}

func deviceErr(what string, err error) error {
	return fmt.Errorf("%s: %w: %v", what, grasscull.ErrDevice, err)
}

// createBuffer allocates a buffer and optionally uploads data into it.
func (m *GpuBufferManager) createBuffer(label string, size uint64, usage wgpu.BufferUsage, data []byte) (*wgpu.Buffer, error) {
	size = alignTo4(size)
	if size == 0 {
		size = 4
	}
	buf, err := m.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             size,
		Usage:            usage,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, deviceErr("create buffer "+label, err)
	}
	if len(data) > 0 {
		if err := m.Queue.WriteBuffer(buf, 0, data); err != nil {
			buf.Release()
			return nil, deviceErr("upload "+label, err)
		}
	}
	return buf, nil
}

// ensureBuffer grows *buf to hold data and uploads it. Returns true when the buffer
// was recreated, so dependent bind groups must be rebuilt.
func (m *GpuBufferManager) ensureBuffer(name string, buf **wgpu.Buffer, data []byte, usage wgpu.BufferUsage, headroom int) (bool, error) {
	neededSize := alignTo4(uint64(len(data) + headroom))

	current := *buf
	if current == nil || current.GetSize() < neededSize {
		if current != nil {
			current.Release()
		}
		newBuf, err := m.createBuffer(name, neededSize, usage|wgpu.BufferUsageCopyDst, nil)
		if err != nil {
			return false, err
		}
		*buf = newBuf
		if len(data) > 0 {
			if err := m.Queue.WriteBuffer(*buf, 0, data); err != nil {
				return true, deviceErr("upload "+name, err)
			}
		}
		return true, nil
	}
	if len(data) > 0 {
		if err := m.Queue.WriteBuffer(*buf, 0, data); err != nil {
			return false, deviceErr("upload "+name, err)
		}
	}
	return false, nil
}

// UploadGeometry replaces the shared vertex and index buffers every prototype mesh
// points into.
func (m *GpuBufferManager) UploadGeometry(vertices []byte, indices []uint32) error {
	if _, err := m.ensureBuffer("Mesh Vertices", &m.VertexBuf, vertices, wgpu.BufferUsageVertex, 0); err != nil {
		return err
	}
	ib := make([]byte, len(indices)*4)
	for i, v := range indices {
		binary.LittleEndian.PutUint32(ib[i*4:], v)
	}
	_, err := m.ensureBuffer("Mesh Indices", &m.IndexBuf, ib, wgpu.BufferUsageIndex, 0)
	return err
}

// UpdateCamera writes the render camera uniform.
func (m *GpuBufferManager) UpdateCamera(viewProj mgl32.Mat4, lightDir mgl32.Vec3, boundsColor mgl32.Vec4) error {
	buf := PackCameraUniform(viewProj, lightDir, boundsColor)
	_, err := m.ensureBuffer("Camera Uniform", &m.CameraBuf, buf, wgpu.BufferUsageUniform, 0)
	return err
}

// PackCameraUniform lays out the Camera struct shared by the mesh and bounds shaders.
func PackCameraUniform(viewProj mgl32.Mat4, lightDir mgl32.Vec3, boundsColor mgl32.Vec4) []byte {
	buf := make([]byte, CameraUniformSize)
	copy(buf[0:64], mat4ToBytes(viewProj))
	copy(buf[64:80], vec3ToBytesPadded(lightDir))
	copy(buf[80:96], vec4ToBytes(boundsColor))
	return buf
}

func (m *GpuBufferManager) Release() {
	for _, b := range []*wgpu.Buffer{m.CameraBuf, m.CullFrameBuf, m.VertexBuf, m.IndexBuf} {
		if b != nil {
			b.Release()
		}
	}
	m.CameraBuf, m.CullFrameBuf, m.VertexBuf, m.IndexBuf = nil, nil, nil, nil
	m.releasePyramid()
	m.releaseCull()
	if m.dummyHiZView != nil {
		m.dummyHiZView.Release()
		m.dummyHiZView = nil
	}
	if m.dummyHiZ != nil {
		m.dummyHiZ.Release()
		m.dummyHiZ = nil
	}
}

func alignTo4(n uint64) uint64 {
	return (n + 3) &^ 3
}

// Helpers
func mat4ToBytes(m mgl32.Mat4) []byte {
	buf := make([]byte, 64)
	for i, v := range m {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func vec3ToBytesPadded(v mgl32.Vec3) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(v[2]))
	return buf
}

func vec4ToBytes(v mgl32.Vec4) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(v[2]))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(v[3]))
	return buf
}
