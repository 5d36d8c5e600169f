package gpu

import (
	"encoding/binary"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/grasscull"
	"github.com/gekko3d/grasscull/cullrt/rt/core"
)

type readbackState int

const (
	readbackIdle    readbackState = iota
	readbackCopied                // copy recorded, frame not yet submitted
	readbackMapping               // MapAsync in flight
	readbackMapped                // staging readable
)

func (s readbackState) String() string {
	switch s {
	case readbackIdle:
		return "idle"
	case readbackCopied:
		return "copied"
	case readbackMapping:
		return "mapping"
	case readbackMapped:
		return "mapped"
	}
	return "unknown"
}

// StagingSlot locates one group's counters and bounds inside the staging buffer.
type StagingSlot struct {
	CountersOffset uint64
	BoundsOffset   uint64
	Capacity       uint32
}

// StagingLayout packs every group's counters first, then every group's bounds.
type StagingLayout struct {
	Slots []StagingSlot
	Size  uint64
}

func NewStagingLayout(capacities []uint32) StagingLayout {
	l := StagingLayout{Slots: make([]StagingSlot, len(capacities))}
	off := uint64(len(capacities)) * CountersSize
	for i, c := range capacities {
		l.Slots[i] = StagingSlot{
			CountersOffset: uint64(i) * CountersSize,
			BoundsOffset:   off,
			Capacity:       c,
		}
		off += uint64(c) * core.BoundsStride
	}
	l.Size = off
	return l
}

// Decode reads every group's bounds out of a mapped staging range. Counts above a
// group's capacity are clamped; the kernel drops those writes.
func (l StagingLayout) Decode(data []byte) []core.AABB {
	var out []core.AABB
	for _, s := range l.Slots {
		n := binary.LittleEndian.Uint32(data[s.CountersOffset+4:])
		n = min(n, s.Capacity)
		if n == 0 {
			continue
		}
		out = append(out, core.UnpackBounds(data[s.BoundsOffset:], int(n))...)
	}
	return out
}

// BoundsReadback brings debug bounds back to the host. In async mode the copy is
// recorded into frame N and consumed a few frames later without stalling; sync mode
// waits for the device right after submit.
type BoundsReadback struct {
	mgr    *GpuBufferManager
	mode   grasscull.ReadbackMode
	logger grasscull.Logger

	mu      sync.Mutex
	state   readbackState
	staging *wgpu.Buffer
	layout  StagingLayout
	pending uint64

	latest      []core.AABB
	latestFrame uint64
	hasLatest   bool
}

func NewBoundsReadback(mgr *GpuBufferManager, mode grasscull.ReadbackMode) *BoundsReadback {
	return &BoundsReadback{mgr: mgr, mode: mode, logger: mgr.Logger}
}

func (r *BoundsReadback) Mode() grasscull.ReadbackMode { return r.mode }

func (r *BoundsReadback) State() readbackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Record copies counters and bounds of every group into the staging buffer. It is a
// no-op while a previous readback is still in flight.
func (r *BoundsReadback) Record(encoder *wgpu.CommandEncoder, groups []*GpuGroup, frame uint64) error {
	if r.mode == grasscull.ReadbackOff || len(groups) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != readbackIdle {
		return nil
	}

	caps := make([]uint32, len(groups))
	for i, g := range groups {
		caps[i] = g.Capacity()
	}
	layout := NewStagingLayout(caps)
	if r.staging == nil || r.staging.GetSize() < layout.Size {
		if r.staging != nil {
			r.staging.Release()
		}
		var err error
		r.staging, err = r.mgr.createBuffer("Bounds Readback", layout.Size, wgpu.BufferUsageCopyDst|wgpu.BufferUsageMapRead, nil)
		if err != nil {
			r.staging = nil
			return err
		}
	}

	for i, g := range groups {
		s := layout.Slots[i]
		if err := encoder.CopyBufferToBuffer(g.CountersBuf, 0, r.staging, s.CountersOffset, CountersSize); err != nil {
			return deviceErr("copy counters to staging", err)
		}
		if s.Capacity == 0 {
			continue
		}
		if err := encoder.CopyBufferToBuffer(g.BoundsBuf, 0, r.staging, s.BoundsOffset, uint64(s.Capacity)*core.BoundsStride); err != nil {
			return deviceErr("copy bounds to staging", err)
		}
	}
	r.layout = layout
	r.pending = frame
	r.state = readbackCopied
	return nil
}

// Abandon forgets a copy that was recorded into a frame that never got submitted.
// A mapping already in flight is left to complete.
func (r *BoundsReadback) Abandon() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == readbackCopied {
		r.state = readbackIdle
	}
}

// AfterSubmit starts mapping a copy that was just submitted. In sync mode it also
// blocks until the data is resolved.
func (r *BoundsReadback) AfterSubmit() {
	r.mu.Lock()
	if r.state == readbackCopied {
		r.state = readbackMapping
		r.staging.MapAsync(wgpu.MapModeRead, 0, r.layout.Size, func(status wgpu.BufferMapAsyncStatus) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if status == wgpu.BufferMapAsyncStatusSuccess {
				r.state = readbackMapped
			} else {
				r.logger.Warnf("bounds readback: map failed: %v", status)
				r.state = readbackIdle
			}
		})
	}
	r.mu.Unlock()

	if r.mode == grasscull.ReadbackSync {
		for r.State() == readbackMapping {
			r.mgr.Device.Poll(true, nil)
		}
	}
	r.Resolve()
}

// Resolve consumes a completed mapping, if any.
func (r *BoundsReadback) Resolve() {
	if r.mode == grasscull.ReadbackAsync {
		r.mgr.Device.Poll(false, nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != readbackMapped {
		return
	}
	data := r.staging.GetMappedRange(0, uint(r.layout.Size))
	r.latest = r.layout.Decode(data)
	r.latestFrame = r.pending
	r.hasLatest = true
	r.staging.Unmap()
	r.state = readbackIdle
}

func (r *BoundsReadback) Latest() ([]core.AABB, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest, r.latestFrame, r.hasLatest
}

func (r *BoundsReadback) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.staging != nil {
		if r.state == readbackMapped {
			r.staging.Unmap()
		}
		r.staging.Release()
		r.staging = nil
	}
	r.state = readbackIdle
}
