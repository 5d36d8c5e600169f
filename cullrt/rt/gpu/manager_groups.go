package gpu

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/grasscull/cullrt/rt/core"
	"github.com/google/uuid"
)

var errNoHostCopy = errors.New("group was allocated without a host copy")

// GpuGroup owns the device buffers of one render group. Input and output are sized
// for every instance of the group, so compaction can never overflow.
type GpuGroup struct {
	id            uuid.UUID
	instanceCount uint32
	capacity      uint32
	mesh          core.Mesh

	InputBuf    *wgpu.Buffer // read-only instances
	OutputBuf   *wgpu.Buffer // compacted survivors
	CountersBuf *wgpu.Buffer // visible, bounds
	ArgsBuf     *wgpu.Buffer // DrawIndexedIndirectArgs
	BoundsBuf   *wgpu.Buffer // debug AABBs
	ParamsBuf   *wgpu.Buffer
	MaterialBuf *wgpu.Buffer

	cullBG *wgpu.BindGroup
	drawBG *wgpu.BindGroup

	// Host copy of the input, used when culling runs on the CPU.
	host     []core.InstanceRecord
	visible  *core.Compactor[core.InstanceRecord]
	bounds   *core.Compactor[core.AABB]
	released bool
}

func (g *GpuGroup) ID() uuid.UUID         { return g.id }
func (g *GpuGroup) InstanceCount() uint32 { return g.instanceCount }
func (g *GpuGroup) Capacity() uint32      { return g.capacity }
func (g *GpuGroup) Released() bool        { return g.released }
func (g *GpuGroup) Mesh() core.Mesh       { return g.mesh }

func (g *GpuGroup) Release() {
	if g.released {
		return
	}
	for _, bg := range []*wgpu.BindGroup{g.cullBG, g.drawBG} {
		if bg != nil {
			bg.Release()
		}
	}
	for _, b := range g.buffers() {
		if b != nil {
			b.Release()
		}
	}
	g.cullBG, g.drawBG = nil, nil
	g.InputBuf, g.OutputBuf, g.CountersBuf, g.ArgsBuf = nil, nil, nil, nil
	g.BoundsBuf, g.ParamsBuf, g.MaterialBuf = nil, nil, nil
	g.host = nil
	g.released = true
}

func (g *GpuGroup) buffers() []*wgpu.Buffer {
	return []*wgpu.Buffer{g.InputBuf, g.OutputBuf, g.CountersBuf, g.ArgsBuf, g.BoundsBuf, g.ParamsBuf, g.MaterialBuf}
}

var _ core.GroupResources = (*GpuGroup)(nil)

// CreateGroup allocates and fills every buffer of a group and builds its cull bind
// group. The draw bind group is attached by the mesh pass. Any failure releases what
// was already created.
func (m *GpuBufferManager) CreateGroup(plan *core.GroupPlan, keepHostCopy bool) (*GpuGroup, error) {
	if err := m.setupCullPipeline(); err != nil {
		return nil, err
	}
	n := uint32(len(plan.Instances))
	g := &GpuGroup{
		id:            plan.ID,
		instanceCount: n,
		capacity:      n,
		mesh:          *plan.Prototype.Mesh,
	}
	ok := false
	defer func() {
		if !ok {
			g.Release()
		}
	}()

	label := func(what string) string { return fmt.Sprintf("%s %s", plan.Prototype.Name, what) }
	args := core.ArgsForMesh(g.mesh)

	var err error
	if g.InputBuf, err = m.createBuffer(label("Instances"), uint64(n)*core.InstanceStride,
		wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst, core.PackInstances(plan.Instances)); err != nil {
		return nil, err
	}
	if g.OutputBuf, err = m.createBuffer(label("Visible"), uint64(n)*core.InstanceStride,
		wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst|wgpu.BufferUsageCopySrc, nil); err != nil {
		return nil, err
	}
	if g.CountersBuf, err = m.createBuffer(label("Counters"), CountersSize,
		wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst|wgpu.BufferUsageCopySrc, nil); err != nil {
		return nil, err
	}
	if g.ArgsBuf, err = m.createBuffer(label("Indirect Args"), core.IndirectArgsSize,
		wgpu.BufferUsageIndirect|wgpu.BufferUsageCopyDst|wgpu.BufferUsageCopySrc, args.Marshal()); err != nil {
		return nil, err
	}
	if g.BoundsBuf, err = m.createBuffer(label("Debug Bounds"), uint64(n)*core.BoundsStride,
		wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc, nil); err != nil {
		return nil, err
	}
	if g.ParamsBuf, err = m.createBuffer(label("Group Params"), GroupParamsSize,
		wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst, PackGroupParams(n)); err != nil {
		return nil, err
	}
	if g.MaterialBuf, err = m.createBuffer(label("Material"), MaterialUniformSize,
		wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst, vec4ToBytes(plan.Prototype.Material.Color)); err != nil {
		return nil, err
	}

	g.cullBG, err = m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  label("Cull BG"),
		Layout: m.CullGroupBGL,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: g.ParamsBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: g.InputBuf, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: g.OutputBuf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: g.CountersBuf, Size: wgpu.WholeSize},
			{Binding: 4, Buffer: g.BoundsBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return nil, deviceErr("create cull bind group", err)
	}

	if keepHostCopy {
		g.host = plan.Instances
		g.visible = core.NewCompactor[core.InstanceRecord](int(n))
		g.bounds = core.NewCompactor[core.AABB](int(n))
	}

	if got := g.OutputBuf.GetSize() / core.InstanceStride; got < uint64(n) {
		return nil, fmt.Errorf("visible buffer holds %d of %d instances", got, n)
	}
	ok = true
	return g, nil
}
