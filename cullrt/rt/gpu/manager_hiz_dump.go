package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/grasscull/cullrt/rt/core"
)

// hizRowPitch is the bytes per row of a level copy. Buffer copies of textures need
// rows aligned to 256 bytes.
func hizRowPitch(width uint32) uint32 {
	return (width*4 + 255) &^ 255
}

// DecodePyramidLevel unpacks a row-padded R32Float texture copy.
func DecodePyramidLevel(data []byte, width, height uint32) (core.PyramidLevel, error) {
	pitch := hizRowPitch(width)
	if need := uint64(pitch) * uint64(height); uint64(len(data)) < need {
		return core.PyramidLevel{}, fmt.Errorf("pyramid level %dx%d: have %d bytes, need %d", width, height, len(data), need)
	}
	l := core.PyramidLevel{Width: int(width), Height: int(height), Data: make([]float32, width*height)}
	for y := uint32(0); y < height; y++ {
		row := data[y*pitch:]
		for x := uint32(0); x < width; x++ {
			l.Data[y*width+x] = math.Float32frombits(binary.LittleEndian.Uint32(row[x*4:]))
		}
	}
	return l, nil
}

// ReadPyramidLevel copies one mip of the last built pyramid back to the host. It
// submits its own command buffer and blocks until the copy is mapped.
func (m *GpuBufferManager) ReadPyramidLevel(level int) (*core.PyramidLevel, error) {
	if m.PyramidTexture == nil {
		return nil, fmt.Errorf("read pyramid level: no pyramid")
	}
	if level < 0 || level >= m.PyramidMips {
		return nil, fmt.Errorf("pyramid level %d out of range [0,%d)", level, m.PyramidMips)
	}
	ext := core.PyramidExtents(m.PyramidSize, m.PyramidSize)[level]
	w, h := ext[0], ext[1]
	pitch := hizRowPitch(w)
	size := uint64(pitch) * uint64(h)

	staging, err := m.createBuffer("HiZ Readback", size, wgpu.BufferUsageCopyDst|wgpu.BufferUsageMapRead, nil)
	if err != nil {
		return nil, err
	}
	defer staging.Release()

	encoder, err := m.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, deviceErr("create hiz readback encoder", err)
	}
	defer encoder.Release()

	err = encoder.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{
			Texture:  m.PyramidTexture,
			MipLevel: uint32(level),
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		&wgpu.ImageCopyBuffer{
			Buffer: staging,
			Layout: wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  pitch,
				RowsPerImage: h,
			},
		},
		&wgpu.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	)
	if err != nil {
		return nil, deviceErr("copy pyramid level", err)
	}
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, deviceErr("finish hiz readback", err)
	}
	defer cmd.Release()
	m.Queue.Submit(cmd)

	done := false
	status := wgpu.BufferMapAsyncStatusSuccess
	if err := staging.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	}); err != nil {
		return nil, deviceErr("map hiz readback", err)
	}
	for !done {
		m.Device.Poll(true, nil)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("map hiz readback: %v", status)
	}
	defer staging.Unmap()

	l, err := DecodePyramidLevel(staging.GetMappedRange(0, uint(size)), w, h)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
