package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func occlusionParams(cam *CameraState, depth *DepthBuffer, size uint32) *CullParams {
	return &CullParams{
		ViewProj:  cam.ViewProjection(),
		Frustum:   FrustumFromPose(cam.Pose(), cam.Projection),
		Pyramid:   BuildDepthPyramid(depth, size),
		Occlusion: true,
	}
}

func TestScenarioFarDepthNeverOccludes(t *testing.T) {
	cam := originCamera()
	p := occlusionParams(cam, NewDepthBuffer(1000, 1000, FarDepth), 1024)
	require.Equal(t, 7, p.Pyramid.MipCount())

	r := unitCubeAt(mgl32.Vec3{0, 0, -10})
	assert.Equal(t, Visible, p.Test(&r))

	// Even a box right at the near plane survives an empty depth buffer.
	near := unitCubeAt(mgl32.Vec3{0, 0, -0.7})
	assert.Equal(t, Visible, p.Test(&near))
}

func TestOcclusionConservatism(t *testing.T) {
	cam := originCamera()
	r := unitCubeAt(mgl32.Vec3{0, 0, -10})
	corners := r.WorldCorners()
	rect, ok := ProjectBounds(cam.ViewProjection(), &corners)
	require.True(t, ok)
	require.Greater(t, rect.MinDepth, float32(0))
	require.Less(t, rect.MinDepth, float32(1))

	tests := []struct {
		name  string
		depth float32
		want  CullVerdict
	}{
		{"occluder in front", rect.MinDepth - 1e-4, OcclusionCulled},
		{"occluder at nearest point", rect.MinDepth, Visible},
		{"occluder behind", rect.MinDepth + 1e-4, Visible},
		{"empty", FarDepth, Visible},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := occlusionParams(cam, NewDepthBuffer(512, 512, tc.depth), 512)
			assert.Equal(t, tc.want, p.Test(&r))
		})
	}
}

func TestOcclusionUsesFootprintOnly(t *testing.T) {
	cam := originCamera()
	depth := NewDepthBuffer(512, 512, FarDepth)
	// Near wall over the left half of the screen.
	depth.FillRect(0, 0, 256, 512, 0.01)
	p := occlusionParams(cam, depth, 512)

	left := unitCubeAt(mgl32.Vec3{-3, 0, -10})
	right := unitCubeAt(mgl32.Vec3{3, 0, -10})
	straddling := unitCubeAt(mgl32.Vec3{0, 0, -10})

	assert.Equal(t, OcclusionCulled, p.Test(&left))
	assert.Equal(t, Visible, p.Test(&right))
	assert.Equal(t, Visible, p.Test(&straddling))
}

func TestOcclusionSkippedBehindCameraPlane(t *testing.T) {
	cam := originCamera()
	r := unitCubeAt(mgl32.Vec3{0, 0, 0})
	corners := r.WorldCorners()
	_, ok := ProjectBounds(cam.ViewProjection(), &corners)
	assert.False(t, ok)

	p := occlusionParams(cam, NewDepthBuffer(64, 64, 0), 64)
	assert.Equal(t, Visible, p.Test(&r))
}

func TestOcclusionDisabledOrMissingPyramid(t *testing.T) {
	cam := originCamera()
	r := unitCubeAt(mgl32.Vec3{0, 0, -10})

	p := occlusionParams(cam, NewDepthBuffer(64, 64, 0), 64)
	p.Occlusion = false
	assert.Equal(t, Visible, p.Test(&r))

	p.Occlusion = true
	p.Pyramid = nil
	assert.Equal(t, Visible, p.Test(&r))
}

func TestSelectMipLevel(t *testing.T) {
	rect := func(w, h float32) ScreenRect {
		return ScreenRect{MinUV: mgl32.Vec2{0.25, 0.25}, MaxUV: mgl32.Vec2{0.25 + w, 0.25 + h}}
	}
	tests := []struct {
		name string
		r    ScreenRect
		want int
	}{
		{"sub-texel", rect(0.0005, 0.0005), 0},
		{"10 texels", rect(0.01, 0.002), 4},
		{"exactly 16 texels", rect(16.0/1024, 0), 4},
		{"whole screen", rect(0.8, 0.8), 6},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, SelectMipLevel(tc.r, 1024, 7), tc.name)
	}
	assert.Equal(t, 0, SelectMipLevel(rect(0.5, 0.5), 1024, 0))
}

func TestProjectBoundsFlipsV(t *testing.T) {
	cam := originCamera()
	r := unitCubeAt(mgl32.Vec3{0, 3, -10})
	corners := r.WorldCorners()
	rect, ok := ProjectBounds(cam.ViewProjection(), &corners)
	require.True(t, ok)
	assert.Less(t, rect.MaxUV[1], float32(0.5), "objects above the camera land in the top rows")
	assert.InDelta(t, 0.5, (rect.MinUV[0]+rect.MaxUV[0])/2, 1e-4)
}
