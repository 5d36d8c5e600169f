package core

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// GroupResources are the buffers one render group exclusively owns: instance input,
// compacted output, visible counter, indirect args and optional debug bounds.
type GroupResources interface {
	ID() uuid.UUID
	// InstanceCount is the input length; Capacity the compacted output size. Equal by
	// construction.
	InstanceCount() uint32
	Capacity() uint32
	Release()
	Released() bool
}

// PyramidHandle is the read-only HiZ pyramid published for one frame's cull passes.
type PyramidHandle interface {
	Size() uint32
	MipCount() int
}

// FrameContext carries the per-frame state every stage reads. The pyramid slot is
// filled by the pyramid stage before any group is culled.
type FrameContext struct {
	Index          uint64
	Camera         *CameraState
	ViewProj       mgl32.Mat4
	Frustum        Frustum
	FrustumChanged bool
	Pyramid        PyramidHandle

	Occlusion  bool
	ShowBounds bool
	BoundsAll  bool
}

// CullFlags packs the per-frame switches as the cull kernel reads them.
func (c *FrameContext) CullFlags() uint32 {
	var f uint32
	if c.Occlusion && c.Pyramid != nil {
		f |= CullFlagOcclusion
	}
	if c.ShowBounds {
		f |= CullFlagShowBounds
	}
	if c.BoundsAll {
		f |= CullFlagBoundsAll
	}
	return f
}

const (
	CullFlagOcclusion uint32 = 1 << iota
	CullFlagShowBounds
	CullFlagBoundsAll
)

// Backend executes the frame stages. Calls within a frame arrive in a fixed order:
// BeginFrame, BuildPyramid (unless skipped), then CullGroup, PatchArgs, DrawGroup per
// group, then EndFrame. Implementations must preserve that order on the device.
type Backend interface {
	AllocateGroup(plan *GroupPlan) (GroupResources, error)
	BeginFrame(ctx *FrameContext) error
	BuildPyramid(ctx *FrameContext) (PyramidHandle, error)
	CullGroup(ctx *FrameContext, g GroupResources) error
	PatchArgs(ctx *FrameContext, g GroupResources) error
	DrawGroup(ctx *FrameContext, g GroupResources) error
	EndFrame(ctx *FrameContext) error
}

// FrameAborter is an optional Backend capability. AbortFrame is called when any stage
// of a frame fails after BeginFrame was entered, and must drop whatever the frame has
// recorded so far.
type FrameAborter interface {
	AbortFrame(ctx *FrameContext)
}

// BoundsReadback is an optional Backend capability that returns the debug bounds to
// the host for visualization. It is never on the draw path.
type BoundsReadback interface {
	// Collect is called after the frame's draws are recorded and before EndFrame.
	Collect(ctx *FrameContext, groups []GroupResources) error
	// Latest returns the newest completed bounds and the frame they were culled in.
	Latest() (bounds []AABB, frame uint64, ok bool)
}
