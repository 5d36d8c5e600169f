package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Transform is a TRS placement used to author instance matrices.
type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

func NewTransform() Transform {
	return Transform{
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

func (t Transform) ObjectToWorld() mgl32.Mat4 {
	// M = T * R * S
	translate := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	rotate := t.Rotation.Mat4()
	scale := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())

	return translate.Mul4(rotate).Mul4(scale)
}

// Instance builds a record placing a prototype whose object-space bounds are local.
func (t Transform) Instance(instanceID, prototypeID int32, local AABB) InstanceRecord {
	return InstanceRecord{
		Transform:     t.ObjectToWorld(),
		BoundsCenter:  local.Center(),
		BoundsExtents: local.Size().Mul(0.5),
		InstanceID:    instanceID,
		PrototypeID:   prototypeID,
	}
}
