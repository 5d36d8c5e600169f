package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// ClipEpsilon is the smallest clip-space w treated as in front of the camera.
const ClipEpsilon = 1e-5

// ScreenRect is a projected box: a UV rectangle (v down, matching texture rows) and the
// nearest depth of any corner.
type ScreenRect struct {
	MinUV    mgl32.Vec2
	MaxUV    mgl32.Vec2
	MinDepth float32
}

// ProjectBounds projects world-space corners with viewProj. It reports false when a
// corner lies on or behind the camera plane; such a box cannot be occlusion-tested.
func ProjectBounds(viewProj mgl32.Mat4, corners *[8]mgl32.Vec3) (ScreenRect, bool) {
	r := ScreenRect{
		MinUV:    mgl32.Vec2{1, 1},
		MaxUV:    mgl32.Vec2{0, 0},
		MinDepth: 1,
	}
	for i := range corners {
		clip := viewProj.Mul4x1(corners[i].Vec4(1))
		if clip[3] <= ClipEpsilon {
			return ScreenRect{}, false
		}
		inv := 1 / clip[3]
		u := clip[0]*inv*0.5 + 0.5
		v := 0.5 - clip[1]*inv*0.5
		z := clip[2] * inv

		r.MinUV[0] = min(r.MinUV[0], u)
		r.MinUV[1] = min(r.MinUV[1], v)
		r.MaxUV[0] = max(r.MaxUV[0], u)
		r.MaxUV[1] = max(r.MaxUV[1], v)
		r.MinDepth = min(r.MinDepth, z)
	}
	for k := 0; k < 2; k++ {
		r.MinUV[k] = clamp01(r.MinUV[k])
		r.MaxUV[k] = clamp01(r.MaxUV[k])
	}
	return r, true
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}

// SelectMipLevel picks the level whose texels are at least as large as the rect's
// longest side, clamped to the available levels.
func SelectMipLevel(r ScreenRect, size uint32, levels int) int {
	if levels <= 0 {
		return 0
	}
	extent := max(r.MaxUV[0]-r.MinUV[0], r.MaxUV[1]-r.MinUV[1]) * float32(size)
	level := 0
	if extent > 1 {
		level = int(math.Ceil(math.Log2(float64(extent))))
	}
	return min(max(level, 0), levels-1)
}

// texelSpan maps [lo,hi] in UV onto inclusive texel indices of an n-texel axis.
func texelSpan(lo, hi float32, n int) (int, int) {
	a := min(int(lo*float32(n)), n-1)
	b := min(int(hi*float32(n)), n-1)
	return a, b
}

// SampleRect returns the max pyramid depth over the texels the rect covers at level.
func (p *DepthPyramid) SampleRect(r ScreenRect, level int) float32 {
	l := &p.Levels[level]
	x0, x1 := texelSpan(r.MinUV[0], r.MaxUV[0], l.Width)
	y0, y1 := texelSpan(r.MinUV[1], r.MaxUV[1], l.Height)
	return p.MaxOver(level, x0, y0, x1, y1)
}

// Occluded reports whether the box is fully behind the pyramid's recorded depth.
// Boxes crossing the camera plane are never occluded.
func (p *DepthPyramid) Occluded(viewProj mgl32.Mat4, corners *[8]mgl32.Vec3) bool {
	if p == nil || len(p.Levels) == 0 {
		return false
	}
	r, ok := ProjectBounds(viewProj, corners)
	if !ok {
		return false
	}
	level := SelectMipLevel(r, p.size, len(p.Levels))
	return r.MinDepth > p.SampleRect(r, level)
}
