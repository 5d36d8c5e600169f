package gpu

import (
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/gekko3d/grasscull"
	"github.com/gekko3d/grasscull/cullrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f32At(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

type fakePyramid struct {
	size uint32
	mips int
}

func (p fakePyramid) Size() uint32  { return p.size }
func (p fakePyramid) MipCount() int { return p.mips }

func TestPackCullFrame(t *testing.T) {
	cam := core.NewCameraState()
	cam.Position = mgl32.Vec3{1, 2, 3}
	ctx := &core.FrameContext{
		ViewProj:   cam.ViewProjection(),
		Frustum:    core.FrustumFromPose(cam.Pose(), cam.Projection),
		Pyramid:    fakePyramid{size: 1024, mips: 7},
		Occlusion:  true,
		ShowBounds: true,
	}

	buf := PackCullFrame(ctx)
	require.Len(t, buf, CullFrameUniformSize)

	for i := 0; i < 16; i++ {
		assert.Equal(t, ctx.ViewProj[i], f32At(buf, i*4), "view_proj[%d]", i)
	}
	planes := ctx.Frustum.Planes()
	for p := 0; p < 6; p++ {
		for c := 0; c < 4; c++ {
			assert.Equal(t, planes[p][c], f32At(buf, 64+p*16+c*4), "plane %d.%d", p, c)
		}
	}
	assert.Equal(t, float32(1024), f32At(buf, 160))
	assert.Equal(t, float32(1024), f32At(buf, 164))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[168:]))
	assert.Equal(t, core.CullFlagOcclusion|core.CullFlagShowBounds, binary.LittleEndian.Uint32(buf[172:]))
}

func TestPackCullFrameWithoutPyramid(t *testing.T) {
	ctx := &core.FrameContext{ViewProj: mgl32.Ident4(), Occlusion: true}
	buf := PackCullFrame(ctx)
	assert.Equal(t, float32(0), f32At(buf, 160))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(buf[168:]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(buf[172:]), "occlusion needs a pyramid")
}

func TestPackGroupParamsAndCamera(t *testing.T) {
	gp := PackGroupParams(12345)
	require.Len(t, gp, GroupParamsSize)
	assert.Equal(t, uint32(12345), binary.LittleEndian.Uint32(gp))

	vp := mgl32.Translate3D(1, 2, 3)
	cb := PackCameraUniform(vp, mgl32.Vec3{0, -1, 0}, mgl32.Vec4{1, 0.5, 0, 1})
	require.Len(t, cb, CameraUniformSize)
	assert.Equal(t, float32(1), f32At(cb, 12*4))
	assert.Equal(t, float32(-1), f32At(cb, 68))
	assert.Equal(t, float32(0), f32At(cb, 76), "light_dir padding")
	assert.Equal(t, float32(0.5), f32At(cb, 84))
}

func TestStagingLayout(t *testing.T) {
	l := NewStagingLayout([]uint32{3, 0, 5})
	require.Len(t, l.Slots, 3)

	assert.Equal(t, uint64(0), l.Slots[0].CountersOffset)
	assert.Equal(t, uint64(8), l.Slots[1].CountersOffset)
	assert.Equal(t, uint64(16), l.Slots[2].CountersOffset)
	assert.Equal(t, uint64(24), l.Slots[0].BoundsOffset)
	assert.Equal(t, uint64(24+3*32), l.Slots[1].BoundsOffset)
	assert.Equal(t, l.Slots[1].BoundsOffset, l.Slots[2].BoundsOffset)
	assert.Equal(t, uint64(24+8*32), l.Size)
	for _, s := range l.Slots {
		assert.Zero(t, s.CountersOffset%4)
		assert.Zero(t, s.BoundsOffset%4)
	}
}

func TestStagingDecode(t *testing.T) {
	l := NewStagingLayout([]uint32{2, 3})
	data := make([]byte, l.Size)

	box := func(x float32) core.AABB {
		return core.AABB{Min: mgl32.Vec3{x, 0, 0}, Max: mgl32.Vec3{x + 1, 1, 1}}
	}
	// Group 0 overflowed its capacity, group 1 recorded one box.
	binary.LittleEndian.PutUint32(data[l.Slots[0].CountersOffset+4:], 9)
	binary.LittleEndian.PutUint32(data[l.Slots[1].CountersOffset+4:], 1)
	core.PutBounds(data[l.Slots[0].BoundsOffset:], box(0))
	core.PutBounds(data[l.Slots[0].BoundsOffset+core.BoundsStride:], box(1))
	core.PutBounds(data[l.Slots[1].BoundsOffset:], box(10))

	got := l.Decode(data)
	assert.Equal(t, []core.AABB{box(0), box(1), box(10)}, got)
}

func TestReadbackStateString(t *testing.T) {
	tests := []struct {
		s    readbackState
		want string
	}{
		{readbackIdle, "idle"},
		{readbackCopied, "copied"},
		{readbackMapping, "mapping"},
		{readbackMapped, "mapped"},
		{readbackState(42), "unknown"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.s.String())
	}
}

func TestUnitCubeLines(t *testing.T) {
	pts := UnitCubeLines()
	require.Len(t, pts, 24)

	seen := map[[2][3]float32]bool{}
	for i := 0; i < len(pts); i += 2 {
		a, b := pts[i], pts[i+1]
		diff := 0
		for k := 0; k < 3; k++ {
			assert.Contains(t, []float32{-0.5, 0.5}, a[k])
			if a[k] != b[k] {
				diff++
			}
		}
		assert.Equal(t, 1, diff, "edge %v-%v must run along one axis", a, b)
		assert.False(t, seen[[2][3]float32{a, b}], "duplicate edge")
		seen[[2][3]float32{a, b}] = true
	}
}

func TestHiZGroups(t *testing.T) {
	assert.Equal(t, uint32(128), hizGroups(1024))
	assert.Equal(t, uint32(2), hizGroups(9))
	assert.Equal(t, uint32(1), hizGroups(8))
}

func TestAbortFrameDropsRecording(t *testing.T) {
	mgr := &GpuBufferManager{Logger: grasscull.NewNopLogger()}
	rb := NewBoundsReadback(mgr, grasscull.ReadbackAsync)
	b := &Backend{Manager: mgr, readback: rb, frameBound: true, draws: []*GpuGroup{{}, {}}}

	rb.state = readbackCopied
	b.AbortFrame(&core.FrameContext{})
	assert.Nil(t, b.encoder)
	assert.Empty(t, b.draws)
	assert.False(t, b.frameBound)
	assert.Equal(t, readbackIdle, rb.State(), "unsubmitted copy must not be mapped")

	rb.state = readbackMapping
	b.AbortFrame(&core.FrameContext{})
	assert.Equal(t, readbackMapping, rb.State(), "in-flight mapping completes on its own")
}

func TestHiZRowPitch(t *testing.T) {
	assert.Equal(t, uint32(256), hizRowPitch(1))
	assert.Equal(t, uint32(256), hizRowPitch(64))
	assert.Equal(t, uint32(512), hizRowPitch(65))
	assert.Equal(t, uint32(4096), hizRowPitch(1024))
}

func TestDecodePyramidLevel(t *testing.T) {
	// 3×2 level: rows are padded to 256 bytes.
	data := make([]byte, 2*256)
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			v := float32(y*3+x) / 8
			binary.LittleEndian.PutUint32(data[y*256+x*4:], math.Float32bits(v))
		}
	}
	data[256-4] = 0xff // padding is ignored

	l, err := DecodePyramidLevel(data, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, l.Width)
	assert.Equal(t, 2, l.Height)
	assert.Equal(t, []float32{0, 0.125, 0.25, 0.375, 0.5, 0.625}, l.Data)

	_, err = DecodePyramidLevel(data[:300], 3, 2)
	assert.Error(t, err)
}

func TestDumpPyramidNeedsBuiltPyramid(t *testing.T) {
	b := &Backend{Manager: &GpuBufferManager{Logger: grasscull.NewNopLogger()}}
	assert.ErrorIs(t, b.DumpPyramid(io.Discard, 0), errNoPyramid)

	_, err := b.Manager.ReadPyramidLevel(0)
	assert.ErrorContains(t, err, "no pyramid")
}
