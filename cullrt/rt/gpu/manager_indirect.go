package gpu

import (
	"encoding/binary"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/grasscull/cullrt/rt/core"
)

// CopyVisibleCount moves the cull pass's visible counter into the instance count
// field of the group's indirect args. Must be recorded after the group's cull pass
// and before any draw that reads ArgsBuf.
func (m *GpuBufferManager) CopyVisibleCount(encoder *wgpu.CommandEncoder, g *GpuGroup) error {
	if err := encoder.CopyBufferToBuffer(g.CountersBuf, 0, g.ArgsBuf, core.InstanceCountOffset, 4); err != nil {
		return deviceErr("copy visible count", err)
	}
	return nil
}

// HostCull culls the group on the CPU and uploads survivors, counters and the
// instance count. The device then draws exactly as it would after a GPU cull.
func (m *GpuBufferManager) HostCull(culler *core.CPUCuller, params *core.CullParams, g *GpuGroup) (uint32, error) {
	if g.visible == nil {
		return 0, fmt.Errorf("host cull %s: %w", g.id, errNoHostCopy)
	}
	var bounds *core.Compactor[core.AABB]
	if params.CollectBounds {
		bounds = g.bounds
	}
	k := culler.Cull(params, g.host, g.visible, bounds)

	if k > 0 {
		if err := m.Queue.WriteBuffer(g.OutputBuf, 0, core.PackInstances(g.visible.Items())); err != nil {
			return 0, deviceErr("upload visible", err)
		}
	}

	counters := make([]byte, CountersSize)
	binary.LittleEndian.PutUint32(counters[0:4], k)
	if bounds != nil {
		nb := bounds.Items()
		binary.LittleEndian.PutUint32(counters[4:8], uint32(len(nb)))
		if len(nb) > 0 {
			bb := make([]byte, len(nb)*core.BoundsStride)
			for i, b := range nb {
				core.PutBounds(bb[i*core.BoundsStride:], b)
			}
			if err := m.Queue.WriteBuffer(g.BoundsBuf, 0, bb); err != nil {
				return 0, deviceErr("upload debug bounds", err)
			}
		}
	}
	if err := m.Queue.WriteBuffer(g.CountersBuf, 0, counters); err != nil {
		return 0, deviceErr("upload counters", err)
	}
	if err := m.Queue.WriteBuffer(g.ArgsBuf, core.InstanceCountOffset, counters[0:4]); err != nil {
		return 0, deviceErr("upload instance count", err)
	}
	return k, nil
}
