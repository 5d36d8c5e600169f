package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Projection holds the perspective parameters. FovY is in degrees.
type Projection struct {
	FovY   float32
	Aspect float32
	Near   float32
	Far    float32
}

// Matrix returns a perspective projection mapping view depth to WebGPU's [0,1] range
// (near -> 0, far -> 1).
func (p Projection) Matrix() mgl32.Mat4 {
	gl := mgl32.Perspective(mgl32.DegToRad(p.FovY), p.Aspect, p.Near, p.Far)
	// z' = 0.5*z + 0.5*w
	remap := mgl32.Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 0.5, 0,
		0, 0, 0.5, 1,
	}
	return remap.Mul4(gl)
}

// CameraState is a Y-up, right-handed fly camera. With zero yaw and pitch it looks down -Z.
type CameraState struct {
	Position    mgl32.Vec3
	Yaw         float32
	Pitch       float32
	Speed       float32
	Sensitivity float32
	Projection  Projection
}

func NewCameraState() *CameraState {
	return &CameraState{
		Position:    mgl32.Vec3{0, 2, 0},
		Speed:       20.0,
		Sensitivity: 0.003,
		Projection: Projection{
			FovY:   60,
			Aspect: 16.0 / 9.0,
			Near:   0.1,
			Far:    1000,
		},
	}
}

// Rotation returns the camera orientation: yaw about +Y, then pitch about the local +X.
func (c *CameraState) Rotation() mgl32.Quat {
	yaw := mgl32.QuatRotate(c.Yaw, mgl32.Vec3{0, 1, 0})
	pitch := mgl32.QuatRotate(c.Pitch, mgl32.Vec3{1, 0, 0})
	return yaw.Mul(pitch).Normalize()
}

func (c *CameraState) GetForward() mgl32.Vec3 {
	cp := float64(c.Pitch)
	cy := float64(c.Yaw)
	return mgl32.Vec3{
		float32(-math.Cos(cp) * math.Sin(cy)),
		float32(math.Sin(cp)),
		float32(-math.Cos(cp) * math.Cos(cy)),
	}
}

func (c *CameraState) GetRight() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Yaw))),
		0,
		float32(-math.Sin(float64(c.Yaw))),
	}
}

func (c *CameraState) GetUp() mgl32.Vec3 {
	return c.GetRight().Cross(c.GetForward()).Normalize()
}

func (c *CameraState) GetViewMatrix() mgl32.Mat4 {
	eye := c.Position
	return mgl32.LookAtV(eye, eye.Add(c.GetForward()), mgl32.Vec3{0, 1, 0})
}

func (c *CameraState) ViewProjection() mgl32.Mat4 {
	return c.Projection.Matrix().Mul4(c.GetViewMatrix())
}

// Pose is the part of the camera the frustum depends on.
func (c *CameraState) Pose() CameraPose {
	return CameraPose{
		Position: c.Position,
		Forward:  c.GetForward(),
		Right:    c.GetRight(),
		Up:       c.GetUp(),
	}
}

// ClampPitch keeps the view away from the poles so LookAt stays well defined.
func (c *CameraState) ClampPitch() {
	const limit = math.Pi/2 - 0.01
	if c.Pitch > limit {
		c.Pitch = limit
	}
	if c.Pitch < -limit {
		c.Pitch = -limit
	}
}

// ExtractFrustum extracts the 6 planes of the frustum from the view-projection matrix.
// Returns planes in order: Left, Right, Bottom, Top, Near, Far, with normals pointing
// out of the volume. Assumes a [0,1] clip depth range.
func ExtractFrustum(vp mgl32.Mat4) Frustum {
	row := func(r int) mgl32.Vec4 {
		return mgl32.Vec4{vp.At(r, 0), vp.At(r, 1), vp.At(r, 2), vp.At(r, 3)}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	// Inside half-spaces (Gribb/Hartmann); negated below so "outside" is positive.
	inside := [6]mgl32.Vec4{
		r3.Add(r0), // left
		r3.Sub(r0), // right
		r3.Add(r1), // bottom
		r3.Sub(r1), // top
		r2,         // near (z >= 0)
		r3.Sub(r2), // far
	}

	var f Frustum
	for i, p := range inside {
		n := mgl32.Vec3{-p[0], -p[1], -p[2]}
		length := n.Len()
		if length > 0 {
			f[i] = Plane{Normal: n.Mul(1 / length), D: -p[3] / length}
		}
	}
	return f
}
