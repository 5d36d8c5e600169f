package core

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/go-gl/mathgl/mgl32"
)

// CullWorkgroupSize is the invocation count of one cull workgroup.
const CullWorkgroupSize = 64

// cpuBatchGroups is how many workgroups one CPU task covers.
const cpuBatchGroups = 32

// WorkgroupCount returns ceil(n/CullWorkgroupSize).
func WorkgroupCount(n uint32) uint32 {
	return (n + CullWorkgroupSize - 1) / CullWorkgroupSize
}

type CullVerdict uint8

const (
	Visible CullVerdict = iota
	FrustumCulled
	OcclusionCulled
)

func (v CullVerdict) String() string {
	switch v {
	case Visible:
		return "visible"
	case FrustumCulled:
		return "frustum"
	case OcclusionCulled:
		return "occluded"
	}
	return fmt.Sprintf("CullVerdict(%d)", uint8(v))
}

// CullParams is the per-frame state shared by every group's cull pass.
type CullParams struct {
	ViewProj  mgl32.Mat4
	Frustum   Frustum
	Pyramid   *DepthPyramid
	Occlusion bool

	// CollectBounds appends world bounds for debug drawing; BoundsAll widens it from
	// survivors to every tested instance.
	CollectBounds bool
	BoundsAll     bool
}

// Test classifies one instance: frustum first, then HiZ occlusion when enabled.
func (p *CullParams) Test(r *InstanceRecord) CullVerdict {
	corners := r.WorldCorners()
	return p.testCorners(&corners)
}

func (p *CullParams) testCorners(corners *[8]mgl32.Vec3) CullVerdict {
	if p.Frustum.CullsCorners(corners) {
		return FrustumCulled
	}
	if p.Occlusion && p.Pyramid.Occluded(p.ViewProj, corners) {
		return OcclusionCulled
	}
	return Visible
}

// Compactor is an append-only array filled concurrently through a fetch-and-add cursor.
// Exceeding the capacity is an invariant violation and panics.
type Compactor[T any] struct {
	items  []T
	cursor atomic.Uint32
}

func NewCompactor[T any](capacity int) *Compactor[T] {
	return &Compactor[T]{items: make([]T, capacity)}
}

func (c *Compactor[T]) Append(v T) uint32 {
	i := c.cursor.Add(1) - 1
	if int(i) >= len(c.items) {
		panic(fmt.Sprintf("compactor overflow: slot %d, capacity %d", i, len(c.items)))
	}
	c.items[i] = v
	return i
}

func (c *Compactor[T]) Reset()        { c.cursor.Store(0) }
func (c *Compactor[T]) Count() uint32 { return c.cursor.Load() }
func (c *Compactor[T]) Capacity() int { return len(c.items) }
func (c *Compactor[T]) Items() []T    { return c.items[:min(int(c.cursor.Load()), len(c.items))] }

// CPUCuller runs the cull kernel on the host, spreading workgroup batches over a
// reusable worker pool. With no pool it runs inline.
type CPUCuller struct {
	pool   worker.DynamicWorkerPool
	taskID int
}

// NewCPUCuller creates a culler with the given number of workers; 0 picks NumCPU-1,
// negative runs inline.
func NewCPUCuller(workers int) *CPUCuller {
	if workers < 0 {
		return &CPUCuller{}
	}
	if workers == 0 {
		workers = max(runtime.NumCPU()-1, 1)
	}
	return &CPUCuller{pool: worker.NewDynamicWorkerPool(workers, 256, 1*time.Second)}
}

// Cull resets the output counters and appends every visible instance of input to out
// (and bounds to bounds, when collected). Returns the survivor count. Output order is
// unspecified.
func (c *CPUCuller) Cull(p *CullParams, input []InstanceRecord, out *Compactor[InstanceRecord], bounds *Compactor[AABB]) uint32 {
	out.Reset()
	if bounds != nil {
		bounds.Reset()
	}
	n := len(input)
	if n == 0 {
		return 0
	}
	if out.Capacity() < n {
		panic(fmt.Sprintf("cull output capacity %d below instance count %d", out.Capacity(), n))
	}
	collect := p.CollectBounds && bounds != nil

	run := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			r := &input[i]
			corners := r.WorldCorners()
			v := p.testCorners(&corners)
			if v == Visible {
				out.Append(*r)
			}
			if collect && (v == Visible || p.BoundsAll) {
				bounds.Append(EnclosingAABB(&corners))
			}
		}
	}

	batch := CullWorkgroupSize * cpuBatchGroups
	if c.pool == nil || n <= batch {
		run(0, n)
		return out.Count()
	}

	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += batch {
		hi := min(lo+batch, n)
		wg.Add(1)
		id := c.taskID
		c.taskID++
		c.pool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer wg.Done()
				run(lo, hi)
				return nil, nil
			},
		})
	}
	wg.Wait()
	return out.Count()
}
