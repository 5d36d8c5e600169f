package gpu

import (
	"errors"
	"fmt"
	"io"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/grasscull"
	"github.com/gekko3d/grasscull/cullrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

type Options struct {
	PyramidSize uint32
	Readback    grasscull.ReadbackMode
	// HostCull culls on the CPU worker pool and uploads survivors. There is no host
	// depth, so host culling is frustum only.
	HostCull   bool
	CPUWorkers int

	LightDir    mgl32.Vec3
	BoundsColor mgl32.Vec4
	ClearColor  wgpu.Color
}

func DefaultOptions() Options {
	return Options{
		Readback:    grasscull.ReadbackOff,
		LightDir:    mgl32.Vec3{-0.4, -1, -0.3},
		BoundsColor: mgl32.Vec4{1, 0.85, 0.1, 0.8},
		ClearColor:  wgpu.Color{R: 0.55, G: 0.7, B: 0.9, A: 1},
	}
}

// Backend records every stage of a frame into one command encoder and submits it
// once: pyramid, per-group clear/cull/count copy, optional bounds copy, then a
// single render pass. Queue order provides the barriers between stages.
type Backend struct {
	Manager *GpuBufferManager
	Mesh    *MeshRenderPass
	Bounds  *BoundsRenderPass

	readback *BoundsReadback
	culler   *core.CPUCuller
	opts     Options
	logger   grasscull.Logger

	encoder    *wgpu.CommandEncoder
	colorView  *wgpu.TextureView
	depthView  *wgpu.TextureView
	depthValid bool
	// pyramidBuilt is set once the current pyramid texture holds a reduction.
	pyramidBuilt bool
	frameBound   bool
	draws        []*GpuGroup
	hostParams   core.CullParams
}

func NewBackend(device *wgpu.Device, format wgpu.TextureFormat, opts Options, logger grasscull.Logger) (*Backend, error) {
	logger = grasscull.OrNop(logger)
	b := &Backend{
		Manager: NewGpuBufferManager(device, logger),
		opts:    opts,
		logger:  logger,
	}
	ok := false
	defer func() {
		if !ok {
			b.Release()
		}
	}()

	if err := b.Manager.SetupPyramid(opts.PyramidSize); err != nil {
		return nil, err
	}
	var err error
	if b.Mesh, err = NewMeshRenderPass(device, format); err != nil {
		return nil, deviceErr("create mesh pass", err)
	}
	if b.Bounds, err = NewBoundsRenderPass(device, format); err != nil {
		return nil, deviceErr("create bounds pass", err)
	}
	b.readback = NewBoundsReadback(b.Manager, opts.Readback)
	if opts.HostCull {
		b.culler = core.NewCPUCuller(opts.CPUWorkers)
	}
	ok = true
	return b, nil
}

func (b *Backend) Options() Options { return b.opts }

// UploadGeometry replaces the shared mesh buffers.
func (b *Backend) UploadGeometry(vertices []byte, indices []uint32) error {
	return b.Manager.UploadGeometry(vertices, indices)
}

// SetTarget sets the attachments of the next frame.
func (b *Backend) SetTarget(color, depth *wgpu.TextureView) {
	if depth != b.depthView {
		b.depthValid = false
	}
	b.colorView = color
	b.depthView = depth
}

// Resize recreates the pyramid. The depth attachment holds no scene until the next
// frame renders, so the pyramid stage is skipped until then.
func (b *Backend) Resize(pyramidSize uint32) error {
	b.depthValid = false
	if pyramidSize == b.Manager.PyramidSize {
		return nil
	}
	b.opts.PyramidSize = pyramidSize
	b.pyramidBuilt = false
	return b.Manager.SetupPyramid(pyramidSize)
}

func (b *Backend) AllocateGroup(plan *core.GroupPlan) (core.GroupResources, error) {
	g, err := b.Manager.CreateGroup(plan, b.opts.HostCull)
	if err != nil {
		return nil, err
	}
	if err := b.Mesh.AttachGroup(g); err != nil {
		g.Release()
		return nil, err
	}
	b.logger.Debugf("allocated group %s: %d instances", plan.Prototype.Name, g.InstanceCount())
	return g, nil
}

func (b *Backend) group(res core.GroupResources) *GpuGroup {
	g, ok := res.(*GpuGroup)
	if !ok {
		panic(fmt.Sprintf("foreign group resources %T", res))
	}
	if g.Released() {
		panic(fmt.Sprintf("group %s used after release", g.ID()))
	}
	return g
}

func (b *Backend) BeginFrame(ctx *core.FrameContext) error {
	if b.readback.Mode() == grasscull.ReadbackAsync {
		b.readback.Resolve()
	}

	b.discardEncoder()
	encoder, err := b.Manager.Device.CreateCommandEncoder(nil)
	if err != nil {
		return deviceErr("create frame encoder", err)
	}
	b.encoder = encoder
	b.frameBound = false
	b.draws = b.draws[:0]

	if err := b.Manager.UpdateCamera(ctx.ViewProj, b.opts.LightDir, b.opts.BoundsColor); err != nil {
		return err
	}
	if err := b.Mesh.BindCamera(b.Manager.CameraBuf); err != nil {
		return err
	}
	return b.Bounds.BindCamera(b.Manager.CameraBuf)
}

// BuildPyramid reduces the previous frame's depth. Until a frame has rendered into
// the current depth attachment, and in host-cull mode, it publishes no pyramid and
// occlusion is off for the frame.
func (b *Backend) BuildPyramid(ctx *core.FrameContext) (core.PyramidHandle, error) {
	if b.opts.HostCull || !b.depthValid || b.depthView == nil {
		return nil, nil
	}
	p, err := b.Manager.DispatchPyramid(b.encoder, b.depthView)
	if err != nil {
		return nil, err
	}
	b.pyramidBuilt = true
	return p, nil
}

var errNoPyramid = errors.New("no pyramid has been built yet")

// DumpPyramid writes one pyramid level as a PNG upscaled to the level 0 edge. It
// blocks on the device and must be called between frames.
func (b *Backend) DumpPyramid(w io.Writer, level int) error {
	if b.encoder != nil {
		return fmt.Errorf("dump pyramid: frame in progress")
	}
	if !b.pyramidBuilt {
		return fmt.Errorf("dump pyramid: %w", errNoPyramid)
	}
	l, err := b.Manager.ReadPyramidLevel(level)
	if err != nil {
		return fmt.Errorf("dump pyramid: %w", err)
	}
	return l.WritePNG(w, int(b.Manager.PyramidSize))
}

func (b *Backend) CullGroup(ctx *core.FrameContext, res core.GroupResources) error {
	g := b.group(res)
	if b.opts.HostCull {
		b.hostParams = core.CullParams{
			ViewProj:      ctx.ViewProj,
			Frustum:       ctx.Frustum,
			CollectBounds: ctx.ShowBounds,
			BoundsAll:     ctx.BoundsAll,
		}
		_, err := b.Manager.HostCull(b.culler, &b.hostParams, g)
		return err
	}

	if !b.frameBound {
		if err := b.Manager.WriteCullFrame(ctx); err != nil {
			return err
		}
		b.frameBound = true
	}
	return b.Manager.DispatchCull(b.encoder, g)
}

func (b *Backend) PatchArgs(ctx *core.FrameContext, res core.GroupResources) error {
	g := b.group(res)
	if b.opts.HostCull {
		return nil
	}
	return b.Manager.CopyVisibleCount(b.encoder, g)
}

func (b *Backend) DrawGroup(ctx *core.FrameContext, res core.GroupResources) error {
	b.draws = append(b.draws, b.group(res))
	return nil
}

func (b *Backend) Collect(ctx *core.FrameContext, groups []core.GroupResources) error {
	gs := make([]*GpuGroup, len(groups))
	for i, res := range groups {
		gs[i] = b.group(res)
	}
	return b.readback.Record(b.encoder, gs, ctx.Index)
}

func (b *Backend) Latest() ([]core.AABB, uint64, bool) {
	return b.readback.Latest()
}

func (b *Backend) EndFrame(ctx *core.FrameContext) error {
	encoder := b.encoder
	b.encoder = nil
	if encoder == nil {
		return fmt.Errorf("end frame: %w: no frame in progress", grasscull.ErrDevice)
	}
	defer encoder.Release()

	showBounds := false
	if ctx.ShowBounds {
		if boxes, _, ok := b.readback.Latest(); ok {
			if err := b.Bounds.Update(b.Manager.Queue, boxes); err != nil {
				return deviceErr("upload bounds", err)
			}
			showBounds = true
		}
	}

	if b.colorView != nil && b.depthView != nil {
		pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
			ColorAttachments: []wgpu.RenderPassColorAttachment{
				{
					View:       b.colorView,
					LoadOp:     wgpu.LoadOpClear,
					StoreOp:    wgpu.StoreOpStore,
					ClearValue: b.opts.ClearColor,
				},
			},
			DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
				View:            b.depthView,
				DepthLoadOp:     wgpu.LoadOpClear,
				DepthStoreOp:    wgpu.StoreOpStore, // next frame's pyramid source
				DepthClearValue: core.FarDepth,
			},
		})
		b.Mesh.Draw(pass, b.Manager.VertexBuf, b.Manager.IndexBuf, b.draws)
		if showBounds {
			b.Bounds.Draw(pass)
		}
		if err := pass.End(); err != nil {
			return deviceErr("end render pass", err)
		}
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return deviceErr("finish frame", err)
	}
	defer cmd.Release()
	b.Manager.Queue.Submit(cmd)

	if b.colorView != nil && b.depthView != nil {
		b.depthValid = true
	}
	b.readback.AfterSubmit()
	return nil
}

// AbortFrame drops the commands of a frame that failed before submission.
func (b *Backend) AbortFrame(ctx *core.FrameContext) {
	b.discardEncoder()
	b.draws = b.draws[:0]
	b.frameBound = false
	if b.readback != nil {
		b.readback.Abandon()
	}
}

func (b *Backend) discardEncoder() {
	if b.encoder != nil {
		b.encoder.Release()
		b.encoder = nil
	}
}

func (b *Backend) Release() {
	b.discardEncoder()
	if b.readback != nil {
		b.readback.Release()
	}
	if b.Mesh != nil {
		b.Mesh.Release()
	}
	if b.Bounds != nil {
		b.Bounds.Release()
	}
	b.Manager.Release()
}

var (
	_ core.Backend        = (*Backend)(nil)
	_ core.BoundsReadback = (*Backend)(nil)
	_ core.FrameAborter   = (*Backend)(nil)
)
