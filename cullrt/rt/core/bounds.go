package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// AABB is an axis-aligned box. Also the layout of one debug bounds entry.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

func (b AABB) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

func (b AABB) Size() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

// BoxCorners returns the 8 corners of center±extents.
func BoxCorners(center, extents mgl32.Vec3) [8]mgl32.Vec3 {
	lo := center.Sub(extents)
	hi := center.Add(extents)
	return [8]mgl32.Vec3{
		{lo[0], lo[1], lo[2]},
		{hi[0], lo[1], lo[2]},
		{lo[0], hi[1], lo[2]},
		{hi[0], hi[1], lo[2]},
		{lo[0], lo[1], hi[2]},
		{hi[0], lo[1], hi[2]},
		{lo[0], hi[1], hi[2]},
		{hi[0], hi[1], hi[2]},
	}
}

// TransformCorners maps object-space corners to world space in place.
func TransformCorners(m mgl32.Mat4, corners *[8]mgl32.Vec3) {
	for i := range corners {
		corners[i] = mgl32.TransformCoordinate(corners[i], m)
	}
}

// EnclosingAABB returns the smallest box containing all corners.
func EnclosingAABB(corners *[8]mgl32.Vec3) AABB {
	inf := float32(math.Inf(1))
	b := AABB{
		Min: mgl32.Vec3{inf, inf, inf},
		Max: mgl32.Vec3{-inf, -inf, -inf},
	}
	for _, c := range corners {
		for k := 0; k < 3; k++ {
			b.Min[k] = min(b.Min[k], c[k])
			b.Max[k] = max(b.Max[k], c[k])
		}
	}
	return b
}
