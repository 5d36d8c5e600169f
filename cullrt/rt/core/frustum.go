package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Plane is n·p + d = 0 with n pointing out of the frustum.
type Plane struct {
	Normal mgl32.Vec3
	D      float32
}

const (
	FrustumLeft = iota
	FrustumRight
	FrustumBottom
	FrustumTop
	FrustumNear
	FrustumFar
)

// Frustum holds the planes in order Left, Right, Bottom, Top, Near, Far.
type Frustum [6]Plane

// PlaneFromNormalPoint builds the plane with normal n passing through p.
func PlaneFromNormalPoint(n, p mgl32.Vec3) Plane {
	return Plane{Normal: n, D: -n.Dot(p)}
}

// PlaneFromPoints builds the plane through a, b, c. The normal is (b-a)×(c-a).
func PlaneFromPoints(a, b, c mgl32.Vec3) Plane {
	return PlaneFromNormalPoint(b.Sub(a).Cross(c.Sub(a)).Normalize(), a)
}

// Distance is positive on the outside.
func (p Plane) Distance(pt mgl32.Vec3) float32 {
	return p.Normal.Dot(pt) + p.D
}

func (p Plane) Outside(pt mgl32.Vec3) bool {
	return p.Distance(pt) > 0
}

// Vec4 packs the plane as (nx, ny, nz, d) for upload.
func (p Plane) Vec4() mgl32.Vec4 {
	return p.Normal.Vec4(p.D)
}

// CameraPose is the world-space frame the frustum is built from.
type CameraPose struct {
	Position mgl32.Vec3
	Forward  mgl32.Vec3
	Right    mgl32.Vec3
	Up       mgl32.Vec3
}

// FarCorners returns the far clip plane corners: left-bottom, right-bottom, left-top, right-top.
func FarCorners(pose CameraPose, proj Projection) [4]mgl32.Vec3 {
	halfFov := float64(mgl32.DegToRad(proj.FovY)) * 0.5
	upLen := proj.Far * float32(math.Tan(halfFov))
	rightLen := upLen * proj.Aspect

	center := pose.Position.Add(pose.Forward.Mul(proj.Far))
	up := pose.Up.Mul(upLen)
	right := pose.Right.Mul(rightLen)

	return [4]mgl32.Vec3{
		center.Sub(up).Sub(right),
		center.Sub(up).Add(right),
		center.Add(up).Sub(right),
		center.Add(up).Add(right),
	}
}

// FrustumFromPose builds the six world-space planes from the camera frame and projection.
// Side planes pass through the camera position and two adjacent far corners, wound so the
// normal points outward in a right-handed frame.
func FrustumFromPose(pose CameraPose, proj Projection) Frustum {
	c := pose.Position
	pts := FarCorners(pose, proj)
	lb, rb, lt, rt := pts[0], pts[1], pts[2], pts[3]

	var f Frustum
	f[FrustumLeft] = PlaneFromPoints(c, lt, lb)
	f[FrustumRight] = PlaneFromPoints(c, rb, rt)
	f[FrustumBottom] = PlaneFromPoints(c, lb, rb)
	f[FrustumTop] = PlaneFromPoints(c, rt, lt)
	f[FrustumNear] = PlaneFromNormalPoint(pose.Forward.Mul(-1), c.Add(pose.Forward.Mul(proj.Near)))
	f[FrustumFar] = PlaneFromNormalPoint(pose.Forward, c.Add(pose.Forward.Mul(proj.Far)))
	return f
}

// CullsCorners reports whether all corners lie outside one and the same plane.
// Each plane's scan stops at the first corner found inside it.
func (f *Frustum) CullsCorners(corners *[8]mgl32.Vec3) bool {
	for i := range f {
		allOutside := true
		for j := range corners {
			if !f[i].Outside(corners[j]) {
				allOutside = false
				break
			}
		}
		if allOutside {
			return true
		}
	}
	return false
}

// ContainsPoint reports whether pt is inside (or on) every plane.
func (f *Frustum) ContainsPoint(pt mgl32.Vec3) bool {
	for i := range f {
		if f[i].Outside(pt) {
			return false
		}
	}
	return true
}

// Planes returns the frustum as packed vec4s in upload order.
func (f *Frustum) Planes() [6]mgl32.Vec4 {
	var out [6]mgl32.Vec4
	for i := range f {
		out[i] = f[i].Vec4()
	}
	return out
}

// FrustumTracker caches the frustum and recomputes it only when the camera pose or
// projection differs from the previous call (exact comparison).
type FrustumTracker struct {
	lastPosition   mgl32.Vec3
	lastRotation   mgl32.Quat
	lastProjection Projection
	frustum        Frustum
	valid          bool
}

// Update returns the current frustum and whether it was recomputed.
func (t *FrustumTracker) Update(cam *CameraState) (Frustum, bool) {
	rot := cam.Rotation()
	if t.valid && t.lastPosition == cam.Position && t.lastRotation == rot && t.lastProjection == cam.Projection {
		return t.frustum, false
	}
	t.lastPosition = cam.Position
	t.lastRotation = rot
	t.lastProjection = cam.Projection
	t.frustum = FrustumFromPose(cam.Pose(), cam.Projection)
	t.valid = true
	return t.frustum, true
}

// Invalidate forces the next Update to recompute.
func (t *FrustumTracker) Invalidate() {
	t.valid = false
}
