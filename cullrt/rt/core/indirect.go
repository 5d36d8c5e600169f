package core

import (
	"encoding/binary"
	"fmt"
)

// DrawIndexedIndirectArgs matches the 5×u32 layout consumed by DrawIndexedIndirect.
type DrawIndexedIndirectArgs struct {
	IndexCount    uint32 // offset 0
	InstanceCount uint32 // offset 4: written on the device after culling
	FirstIndex    uint32 // offset 8
	BaseVertex    int32  // offset 12
	FirstInstance uint32 // offset 16
}

const (
	IndirectArgsSize    = 20
	InstanceCountOffset = 4
)

// ArgsForMesh returns the initial args for a mesh: zero instances, first instance 0.
func ArgsForMesh(m Mesh) DrawIndexedIndirectArgs {
	return DrawIndexedIndirectArgs{
		IndexCount: m.IndexCount,
		FirstIndex: m.IndexStart,
		BaseVertex: m.BaseVertex,
	}
}

func (a *DrawIndexedIndirectArgs) Marshal() []byte {
	buf := make([]byte, IndirectArgsSize)
	binary.LittleEndian.PutUint32(buf[0:4], a.IndexCount)
	binary.LittleEndian.PutUint32(buf[4:8], a.InstanceCount)
	binary.LittleEndian.PutUint32(buf[8:12], a.FirstIndex)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(a.BaseVertex))
	binary.LittleEndian.PutUint32(buf[16:20], a.FirstInstance)
	return buf
}

func UnmarshalIndirectArgs(buf []byte) (DrawIndexedIndirectArgs, error) {
	if len(buf) < IndirectArgsSize {
		return DrawIndexedIndirectArgs{}, fmt.Errorf("indirect args: need %d bytes, got %d", IndirectArgsSize, len(buf))
	}
	return DrawIndexedIndirectArgs{
		IndexCount:    binary.LittleEndian.Uint32(buf[0:4]),
		InstanceCount: binary.LittleEndian.Uint32(buf[4:8]),
		FirstIndex:    binary.LittleEndian.Uint32(buf[8:12]),
		BaseVertex:    int32(binary.LittleEndian.Uint32(buf[12:16])),
		FirstInstance: binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}

// PatchInstanceCount overwrites only the instance count word of a marshaled args block,
// the same 4-byte copy the device performs from the visible counter.
func PatchInstanceCount(args []byte, count uint32) {
	binary.LittleEndian.PutUint32(args[InstanceCountOffset:InstanceCountOffset+4], count)
}
