package core

import (
	"fmt"

	"github.com/google/uuid"
)

// DrawCall is what the CPU backend hands to its sink for each group: the patched args
// and the compacted survivors they describe.
type DrawCall struct {
	GroupID   uuid.UUID
	Args      DrawIndexedIndirectArgs
	Instances []InstanceRecord
}

// DrawSink receives draw calls in group order.
type DrawSink func(DrawCall)

// DepthSource returns the depth image the pyramid is built from, or nil when none is
// available yet (nothing is occluded).
type DepthSource func() *DepthBuffer

type cpuGroup struct {
	id       uuid.UUID
	input    []InstanceRecord
	output   *Compactor[InstanceRecord]
	bounds   *Compactor[AABB]
	args     []byte
	released bool
}

func (g *cpuGroup) ID() uuid.UUID         { return g.id }
func (g *cpuGroup) InstanceCount() uint32 { return uint32(len(g.input)) }
func (g *cpuGroup) Capacity() uint32      { return uint32(g.output.Capacity()) }
func (g *cpuGroup) Released() bool        { return g.released }

func (g *cpuGroup) Release() {
	g.input = nil
	g.output = nil
	g.bounds = nil
	g.args = nil
	g.released = true
}

// Visible returns the survivors of the last cull.
func (g *cpuGroup) Visible() []InstanceRecord { return g.output.Items() }

// CPUBackend runs the frame sequence on the host with the same semantics as the GPU
// kernels. It serves tests and machines without compute support.
type CPUBackend struct {
	culler      *CPUCuller
	depth       DepthSource
	pyramidSize uint32
	pyramid     *DepthPyramid
	sink        DrawSink

	params   CullParams
	bounds   []AABB
	boundsAt uint64
	hasBound bool
}

func NewCPUBackend(culler *CPUCuller, pyramidSize uint32, depth DepthSource) *CPUBackend {
	if culler == nil {
		culler = NewCPUCuller(-1)
	}
	return &CPUBackend{
		culler:      culler,
		depth:       depth,
		pyramidSize: pyramidSize,
	}
}

func (b *CPUBackend) SetDrawSink(s DrawSink) { b.sink = s }

// SetPyramidSize changes the pyramid edge; the next build reallocates it.
func (b *CPUBackend) SetPyramidSize(size uint32) {
	if size != b.pyramidSize {
		b.pyramidSize = size
		b.pyramid = nil
	}
}

// DepthPyramid exposes the last built pyramid for inspection.
func (b *CPUBackend) DepthPyramid() *DepthPyramid { return b.pyramid }

func (b *CPUBackend) AllocateGroup(plan *GroupPlan) (GroupResources, error) {
	n := len(plan.Instances)
	if n == 0 {
		return nil, fmt.Errorf("group %s: %d instances", plan.ID, n)
	}
	args := ArgsForMesh(*plan.Prototype.Mesh)
	g := &cpuGroup{
		id:     plan.ID,
		input:  append([]InstanceRecord(nil), plan.Instances...),
		output: NewCompactor[InstanceRecord](n),
		bounds: NewCompactor[AABB](n),
		args:   args.Marshal(),
	}
	return g, nil
}

func (b *CPUBackend) BeginFrame(ctx *FrameContext) error {
	b.params = CullParams{
		ViewProj:      ctx.ViewProj,
		Frustum:       ctx.Frustum,
		CollectBounds: ctx.ShowBounds,
		BoundsAll:     ctx.BoundsAll,
	}
	return nil
}

func (b *CPUBackend) BuildPyramid(ctx *FrameContext) (PyramidHandle, error) {
	if b.pyramid == nil {
		b.pyramid = NewDepthPyramid(b.pyramidSize)
	}
	src := b.depth
	if src == nil {
		b.pyramid.Clear()
		return b.pyramid, nil
	}
	d := src()
	if d == nil {
		b.pyramid.Clear()
		return b.pyramid, nil
	}
	b.pyramid.Build(d)
	return b.pyramid, nil
}

func (b *CPUBackend) group(res GroupResources) (*cpuGroup, error) {
	g, ok := res.(*cpuGroup)
	if !ok {
		return nil, fmt.Errorf("resources %s not owned by the cpu backend", res.ID())
	}
	if g.released {
		panic(fmt.Sprintf("cpu group %s used after release", g.id))
	}
	return g, nil
}

func (b *CPUBackend) CullGroup(ctx *FrameContext, res GroupResources) error {
	g, err := b.group(res)
	if err != nil {
		return err
	}
	p := b.params
	if pyr, ok := ctx.Pyramid.(*DepthPyramid); ok && ctx.Occlusion {
		p.Pyramid = pyr
		p.Occlusion = true
	}
	b.culler.Cull(&p, g.input, g.output, g.bounds)
	return nil
}

func (b *CPUBackend) PatchArgs(ctx *FrameContext, res GroupResources) error {
	g, err := b.group(res)
	if err != nil {
		return err
	}
	PatchInstanceCount(g.args, g.output.Count())
	return nil
}

func (b *CPUBackend) DrawGroup(ctx *FrameContext, res GroupResources) error {
	g, err := b.group(res)
	if err != nil {
		return err
	}
	if b.sink == nil {
		return nil
	}
	args, err := UnmarshalIndirectArgs(g.args)
	if err != nil {
		return err
	}
	b.sink(DrawCall{GroupID: g.id, Args: args, Instances: g.Visible()})
	return nil
}

func (b *CPUBackend) EndFrame(ctx *FrameContext) error { return nil }

// Collect copies every group's debug bounds. The host path has nothing to wait on, so
// results are available in the same frame.
func (b *CPUBackend) Collect(ctx *FrameContext, groups []GroupResources) error {
	b.bounds = b.bounds[:0]
	for _, res := range groups {
		g, err := b.group(res)
		if err != nil {
			return err
		}
		b.bounds = append(b.bounds, g.bounds.Items()...)
	}
	b.boundsAt = ctx.Index
	b.hasBound = true
	return nil
}

func (b *CPUBackend) Latest() ([]AABB, uint64, bool) {
	return b.bounds, b.boundsAt, b.hasBound
}

// Args returns the current marshaled indirect args of a group.
func (b *CPUBackend) Args(res GroupResources) (DrawIndexedIndirectArgs, error) {
	g, err := b.group(res)
	if err != nil {
		return DrawIndexedIndirectArgs{}, err
	}
	return UnmarshalIndirectArgs(g.args)
}

// Visible returns a group's survivors from the last cull.
func (b *CPUBackend) Visible(res GroupResources) ([]InstanceRecord, error) {
	g, err := b.group(res)
	if err != nil {
		return nil, err
	}
	return g.Visible(), nil
}

var (
	_ Backend        = (*CPUBackend)(nil)
	_ BoundsReadback = (*CPUBackend)(nil)
)
