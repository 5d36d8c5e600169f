package core

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// InstanceRecord is one placed object. Immutable after load.
type InstanceRecord struct {
	Transform     mgl32.Mat4
	BoundsCenter  mgl32.Vec3
	BoundsExtents mgl32.Vec3
	InstanceID    int32
	PrototypeID   int32
}

// Instance struct (96 bytes)
// transform      mat4x4<f32>  0
// bounds_center  vec3<f32>    64
// instance_id    i32          76
// bounds_extents vec3<f32>    80
// prototype_id   i32          92
const InstanceStride = 96

// Bounds struct (32 bytes): min vec3 @0, max vec3 @16.
const BoundsStride = 32

// WorldCorners returns the instance's bounds corners transformed to world space.
func (r *InstanceRecord) WorldCorners() [8]mgl32.Vec3 {
	corners := BoxCorners(r.BoundsCenter, r.BoundsExtents)
	TransformCorners(r.Transform, &corners)
	return corners
}

func (r *InstanceRecord) WorldAABB() AABB {
	corners := r.WorldCorners()
	return EnclosingAABB(&corners)
}

func putF32(buf []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
}

func getF32(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

// PutInstance writes r into buf[0:InstanceStride].
func PutInstance(buf []byte, r *InstanceRecord) {
	_ = buf[InstanceStride-1]
	for i, v := range r.Transform {
		putF32(buf, i*4, v)
	}
	for i := 0; i < 3; i++ {
		putF32(buf, 64+i*4, r.BoundsCenter[i])
		putF32(buf, 80+i*4, r.BoundsExtents[i])
	}
	binary.LittleEndian.PutUint32(buf[76:], uint32(r.InstanceID))
	binary.LittleEndian.PutUint32(buf[92:], uint32(r.PrototypeID))
}

func GetInstance(buf []byte) InstanceRecord {
	_ = buf[InstanceStride-1]
	var r InstanceRecord
	for i := range r.Transform {
		r.Transform[i] = getF32(buf, i*4)
	}
	for i := 0; i < 3; i++ {
		r.BoundsCenter[i] = getF32(buf, 64+i*4)
		r.BoundsExtents[i] = getF32(buf, 80+i*4)
	}
	r.InstanceID = int32(binary.LittleEndian.Uint32(buf[76:]))
	r.PrototypeID = int32(binary.LittleEndian.Uint32(buf[92:]))
	return r
}

// PackInstances serializes records in order.
func PackInstances(records []InstanceRecord) []byte {
	buf := make([]byte, len(records)*InstanceStride)
	for i := range records {
		PutInstance(buf[i*InstanceStride:], &records[i])
	}
	return buf
}

func UnpackInstances(buf []byte) []InstanceRecord {
	n := len(buf) / InstanceStride
	out := make([]InstanceRecord, n)
	for i := range out {
		out[i] = GetInstance(buf[i*InstanceStride:])
	}
	return out
}

func PutBounds(buf []byte, b AABB) {
	_ = buf[BoundsStride-1]
	for i := 0; i < 3; i++ {
		putF32(buf, i*4, b.Min[i])
		putF32(buf, 16+i*4, b.Max[i])
	}
	putF32(buf, 12, 0)
	putF32(buf, 28, 0)
}

// UnpackBounds decodes count entries. It stops early if buf is short.
func UnpackBounds(buf []byte, count int) []AABB {
	if avail := len(buf) / BoundsStride; count > avail {
		count = avail
	}
	out := make([]AABB, count)
	for i := range out {
		off := i * BoundsStride
		for k := 0; k < 3; k++ {
			out[i].Min[k] = getF32(buf, off+k*4)
			out[i].Max[k] = getF32(buf, off+16+k*4)
		}
	}
	return out
}
