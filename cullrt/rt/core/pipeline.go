package core

import (
	"fmt"

	"github.com/gekko3d/grasscull"
)

type PipelineOptions struct {
	Occlusion     bool
	FreezePyramid bool
	ShowBounds    bool
	BoundsAll     bool
}

// Pipeline drives one backend through the per-frame sequence:
// frustum → pyramid → (cull → patch → draw) per group → end.
type Pipeline struct {
	backend  Backend
	registry *Registry
	tracker  FrustumTracker
	pyramid  PyramidHandle
	opts     PipelineOptions
	frame    uint64
	released bool
	logger   grasscull.Logger
}

func NewPipeline(db InstanceDatabase, backend Backend, opts PipelineOptions, logger grasscull.Logger) (*Pipeline, error) {
	logger = grasscull.OrNop(logger)
	reg, err := BuildRegistry(db, backend, logger)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		backend:  backend,
		registry: reg,
		opts:     opts,
		logger:   logger,
	}, nil
}

func (p *Pipeline) Registry() *Registry      { return p.registry }
func (p *Pipeline) Options() PipelineOptions { return p.opts }
func (p *Pipeline) FrameIndex() uint64       { return p.frame }
func (p *Pipeline) Pyramid() PyramidHandle   { return p.pyramid }
func (p *Pipeline) Tracker() *FrustumTracker { return &p.tracker }

func (p *Pipeline) SetOptions(o PipelineOptions) {
	if !o.Occlusion {
		p.pyramid = nil
	}
	p.opts = o
}

// InvalidatePyramid drops the published pyramid, e.g. after a resize. The next frame
// rebuilds it even when frozen.
func (p *Pipeline) InvalidatePyramid() {
	p.pyramid = nil
}

// Frame runs one frame. Device errors are returned wrapped; the pipeline must then be
// released and rebuilt.
func (p *Pipeline) Frame(cam *CameraState) (err error) {
	if p.released {
		return grasscull.ErrReleased
	}

	ctx := &FrameContext{
		Index:      p.frame,
		Camera:     cam,
		ViewProj:   cam.ViewProjection(),
		Occlusion:  p.opts.Occlusion,
		ShowBounds: p.opts.ShowBounds,
		BoundsAll:  p.opts.BoundsAll,
	}
	ctx.Frustum, ctx.FrustumChanged = p.tracker.Update(cam)

	defer func() {
		if err == nil {
			return
		}
		if a, ok := p.backend.(FrameAborter); ok {
			a.AbortFrame(ctx)
		}
	}()

	if err := p.backend.BeginFrame(ctx); err != nil {
		return fmt.Errorf("frame %d: begin: %w", ctx.Index, err)
	}

	if p.opts.Occlusion {
		if p.pyramid == nil || !p.opts.FreezePyramid {
			h, err := p.backend.BuildPyramid(ctx)
			if err != nil {
				return fmt.Errorf("frame %d: build pyramid: %w", ctx.Index, err)
			}
			p.pyramid = h
		}
		ctx.Pyramid = p.pyramid
	}

	groups := p.registry.Groups()
	resources := make([]GroupResources, 0, len(groups))
	for _, g := range groups {
		if g.Released() {
			panic(fmt.Sprintf("%v used after release", g))
		}
		res := g.Resources()
		if err := p.backend.CullGroup(ctx, res); err != nil {
			return fmt.Errorf("frame %d: cull %v: %w", ctx.Index, g, err)
		}
		if err := p.backend.PatchArgs(ctx, res); err != nil {
			return fmt.Errorf("frame %d: patch args %v: %w", ctx.Index, g, err)
		}
		if err := p.backend.DrawGroup(ctx, res); err != nil {
			return fmt.Errorf("frame %d: draw %v: %w", ctx.Index, g, err)
		}
		resources = append(resources, res)
	}

	if p.opts.ShowBounds {
		if rb, ok := p.backend.(BoundsReadback); ok {
			if err := rb.Collect(ctx, resources); err != nil {
				return fmt.Errorf("frame %d: bounds readback: %w", ctx.Index, err)
			}
		}
	}

	if err := p.backend.EndFrame(ctx); err != nil {
		return fmt.Errorf("frame %d: end: %w", ctx.Index, err)
	}
	if ctx.FrustumChanged {
		p.logger.Debugf("frame %d: frustum recomputed", ctx.Index)
	}
	p.frame++
	return nil
}

// Release tears down every group. Further frames fail with ErrReleased.
func (p *Pipeline) Release() {
	if p.released {
		return
	}
	p.registry.Release()
	p.pyramid = nil
	p.released = true
}
