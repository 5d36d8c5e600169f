package core

import (
	"math/rand/v2"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scatterInstances(n int, proto int32, seed uint64) []InstanceRecord {
	rng := rand.New(rand.NewPCG(seed, 7))
	out := make([]InstanceRecord, n)
	local := AABB{Min: mgl32.Vec3{-0.5, 0, -0.5}, Max: mgl32.Vec3{0.5, 1, 0.5}}
	for i := range out {
		tr := NewTransform()
		tr.Position = mgl32.Vec3{rng.Float32()*400 - 200, 0, rng.Float32()*500 - 400}
		tr.Rotation = mgl32.QuatRotate(rng.Float32()*6.28, mgl32.Vec3{0, 1, 0})
		s := 0.5 + rng.Float32()
		tr.Scale = mgl32.Vec3{s, s, s}
		out[i] = tr.Instance(int32(i), proto, local)
	}
	return out
}

func visibleIDs(records []InstanceRecord) []int32 {
	ids := make([]int32, len(records))
	for i := range records {
		ids[i] = records[i].InstanceID
	}
	return ids
}

func TestWorkgroupCount(t *testing.T) {
	tests := []struct {
		n    uint32
		want uint32
	}{
		{0, 0},
		{1, 1},
		{63, 1},
		{64, 1},
		{65, 2},
		{128, 2},
		{200000, 3125},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, WorkgroupCount(tc.n), "n=%d", tc.n)
	}
}

func TestCompactor(t *testing.T) {
	c := NewCompactor[int](3)
	assert.Equal(t, uint32(0), c.Append(10))
	assert.Equal(t, uint32(1), c.Append(11))
	assert.Equal(t, uint32(2), c.Append(12))
	assert.Equal(t, []int{10, 11, 12}, c.Items())
	assert.Panics(t, func() { c.Append(13) })

	c.Reset()
	assert.Equal(t, uint32(0), c.Count())
	assert.Empty(t, c.Items())
}

func TestCPUCullerCompaction(t *testing.T) {
	cam := originCamera()
	cam.Position = mgl32.Vec3{0, 2, 0}
	depth := NewDepthBuffer(256, 256, FarDepth)
	depth.FillRect(0, 96, 64, 256, 0.05)

	params := &CullParams{
		ViewProj:      cam.ViewProjection(),
		Frustum:       FrustumFromPose(cam.Pose(), cam.Projection),
		Pyramid:       BuildDepthPyramid(depth, 256),
		Occlusion:     true,
		CollectBounds: true,
	}
	input := scatterInstances(5000, 1, 42)

	var expected []int32
	counts := map[CullVerdict]int{}
	for i := range input {
		v := params.Test(&input[i])
		counts[v]++
		if v == Visible {
			expected = append(expected, input[i].InstanceID)
		}
	}
	require.NotZero(t, counts[Visible])
	require.NotZero(t, counts[FrustumCulled])
	require.NotZero(t, counts[OcclusionCulled])

	for _, workers := range []int{-1, 4} {
		culler := NewCPUCuller(workers)
		out := NewCompactor[InstanceRecord](len(input))
		bounds := NewCompactor[AABB](len(input))

		k := culler.Cull(params, input, out, bounds)
		assert.Equal(t, uint32(len(expected)), k, "workers=%d", workers)
		assert.ElementsMatch(t, expected, visibleIDs(out.Items()), "workers=%d", workers)
		assert.Equal(t, k, bounds.Count(), "bounds follow survivors")
	}
}

func TestCPUCullerIdempotent(t *testing.T) {
	cam := originCamera()
	params := &CullParams{
		ViewProj:  cam.ViewProjection(),
		Frustum:   FrustumFromPose(cam.Pose(), cam.Projection),
		Pyramid:   BuildDepthPyramid(NewDepthBuffer(128, 128, FarDepth), 128),
		Occlusion: true,
	}
	input := scatterInstances(10000, 1, 3)
	culler := NewCPUCuller(4)
	out := NewCompactor[InstanceRecord](len(input))

	first := culler.Cull(params, input, out, nil)
	firstIDs := visibleIDs(out.Items())
	second := culler.Cull(params, input, out, nil)

	assert.Equal(t, first, second)
	assert.ElementsMatch(t, firstIDs, visibleIDs(out.Items()))
}

func TestCPUCullerBoundsAll(t *testing.T) {
	cam := originCamera()
	params := &CullParams{
		ViewProj:      cam.ViewProjection(),
		Frustum:       FrustumFromPose(cam.Pose(), cam.Projection),
		CollectBounds: true,
		BoundsAll:     true,
	}
	input := scatterInstances(300, 1, 9)
	out := NewCompactor[InstanceRecord](len(input))
	bounds := NewCompactor[AABB](len(input))

	k := NewCPUCuller(-1).Cull(params, input, out, bounds)
	assert.Less(t, k, uint32(len(input)))
	assert.Equal(t, uint32(len(input)), bounds.Count())

	for _, b := range bounds.Items() {
		for i := 0; i < 3; i++ {
			assert.LessOrEqual(t, b.Min[i], b.Max[i])
		}
	}
}

func TestCPUCullerEmptyAndUndersized(t *testing.T) {
	cam := originCamera()
	params := &CullParams{ViewProj: cam.ViewProjection(), Frustum: FrustumFromPose(cam.Pose(), cam.Projection)}
	culler := NewCPUCuller(-1)

	out := NewCompactor[InstanceRecord](0)
	assert.Equal(t, uint32(0), culler.Cull(params, nil, out, nil))

	small := NewCompactor[InstanceRecord](2)
	assert.Panics(t, func() {
		culler.Cull(params, scatterInstances(10, 1, 1), small, nil)
	})
}

func TestIndirectArgs(t *testing.T) {
	args := ArgsForMesh(Mesh{IndexCount: 36, IndexStart: 120, BaseVertex: -4})
	assert.Equal(t, uint32(0), args.InstanceCount)
	assert.Equal(t, uint32(0), args.FirstInstance)

	buf := args.Marshal()
	require.Len(t, buf, IndirectArgsSize)

	PatchInstanceCount(buf, 777)
	got, err := UnmarshalIndirectArgs(buf)
	require.NoError(t, err)
	assert.Equal(t, DrawIndexedIndirectArgs{
		IndexCount:    36,
		InstanceCount: 777,
		FirstIndex:    120,
		BaseVertex:    -4,
	}, got)

	_, err = UnmarshalIndirectArgs(buf[:8])
	assert.Error(t, err)
}

func TestInstancePacking(t *testing.T) {
	input := scatterInstances(3, 5, 11)
	buf := PackInstances(input)
	require.Len(t, buf, 3*InstanceStride)
	assert.Equal(t, input, UnpackInstances(buf))

	b := input[1].WorldAABB()
	bb := make([]byte, 2*BoundsStride)
	PutBounds(bb[BoundsStride:], b)
	got := UnpackBounds(bb, 5)
	require.Len(t, got, 2)
	assert.Equal(t, b, got[1])
}
