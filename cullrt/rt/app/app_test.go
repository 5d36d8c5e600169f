package app

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gekko3d/grasscull"
	"github.com/gekko3d/grasscull/cullrt/rt/core"
	"github.com/gekko3d/grasscull/cullrt/rt/gpu"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemoSceneGeometry(t *testing.T) {
	scene := NewDemoScene(5000, 3)
	require.Zero(t, len(scene.Vertices)%gpu.VertexStride)
	vertexCount := len(scene.Vertices) / gpu.VertexStride

	ids, err := scene.DB.PrototypeIDs()
	require.NoError(t, err)
	assert.Equal(t, []int32{ProtoGrass, ProtoBush, ProtoRock, ProtoTree, ProtoCliff}, ids)

	for _, id := range ids {
		p, ok := scene.DB.Prototype(id)
		require.True(t, ok)
		m := p.Mesh
		require.NotNil(t, m, p.Name)
		require.NotZero(t, m.IndexCount, p.Name)
		require.LessOrEqual(t, int(m.IndexStart+m.IndexCount), len(scene.Indices), p.Name)
		for _, idx := range scene.Indices[m.IndexStart : m.IndexStart+m.IndexCount] {
			assert.Less(t, int(m.BaseVertex)+int(idx), vertexCount, p.Name)
		}
	}
}

func TestDemoSceneNormals(t *testing.T) {
	scene := NewDemoScene(1, 1)
	for off := 0; off < len(scene.Vertices); off += gpu.VertexStride {
		var n mgl32.Vec3
		for k := 0; k < 3; k++ {
			n[k] = math.Float32frombits(binary.LittleEndian.Uint32(scene.Vertices[off+12+k*4:]))
		}
		assert.InDelta(t, 1, n.Len(), 1e-6)
	}
}

func TestDemoSceneInstances(t *testing.T) {
	scene := NewDemoScene(20000, 7)
	records, err := scene.DB.Instances()
	require.NoError(t, err)
	require.Len(t, records, 20000)

	seen := map[int32]bool{}
	for _, r := range records {
		assert.False(t, seen[r.InstanceID], "duplicate instance %d", r.InstanceID)
		seen[r.InstanceID] = true
	}

	plans, skipped, err := core.PlanGroups(scene.DB)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.Len(t, plans, 5)

	again := NewDemoScene(20000, 7)
	other, _ := again.DB.Instances()
	assert.Equal(t, records, other, "same seed, same scene")
}

func TestDemoSceneCullsOnCPU(t *testing.T) {
	scene := NewDemoScene(4000, 11)
	backend := core.NewCPUBackend(core.NewCPUCuller(-1), 128, nil)
	var drawn uint32
	backend.SetDrawSink(func(d core.DrawCall) { drawn += d.Args.InstanceCount })

	p, err := core.NewPipeline(scene.DB, backend, core.PipelineOptions{}, grasscull.NewNopLogger())
	require.NoError(t, err)
	defer p.Release()

	require.NoError(t, p.Frame(core.NewCameraState()))
	assert.NotZero(t, drawn)
	assert.Less(t, int(drawn), p.Registry().TotalInstances())
}

func TestProfiler(t *testing.T) {
	p := NewProfiler()
	clock := time.Unix(0, 0)
	p.now = func() time.Time { return clock }
	p.Smoothing = 0.5

	p.BeginScope("Frame")
	clock = clock.Add(10 * time.Millisecond)
	p.EndScope("Frame")
	p.BeginScope("Frame")
	clock = clock.Add(20 * time.Millisecond)
	p.EndScope("Frame")

	assert.Equal(t, []string{"Frame"}, p.Order)
	assert.Equal(t, 20*time.Millisecond, p.Scopes["Frame"])
	assert.Equal(t, 15*time.Millisecond, p.Average["Frame"])

	p.SetCount("Groups", 5)
	stats := p.GetStatsString()
	assert.Contains(t, stats, "Frame")
	assert.Contains(t, stats, "Groups")

	p.EndScope("missing")
	assert.NotContains(t, p.Scopes, "missing")
}

func TestRenderReturnsRecordedFailure(t *testing.T) {
	a := NewApp(nil, grasscull.DefaultConfig(), nil)
	a.fail(fmt.Errorf("resize: create depth texture: %w", grasscull.ErrDevice))
	a.fail(errors.New("resize pyramid: later"))

	err := a.Render()
	require.ErrorIs(t, err, grasscull.ErrDevice)
	assert.ErrorContains(t, err, "create depth texture")

	// Later resizes are ignored once the app is failing.
	a.Resize(800, 600)
	assert.ErrorIs(t, a.Render(), grasscull.ErrDevice)
}

func TestReleaseDepthWithoutAttachment(t *testing.T) {
	a := NewApp(nil, grasscull.DefaultConfig(), nil)
	a.releaseDepth()
	assert.Nil(t, a.DepthView)
	assert.Nil(t, a.DepthTexture)
	assert.NoError(t, a.setupDepth(0, 600), "an empty framebuffer keeps the old attachment")
}

func TestHandleKeyRequestsHiZDump(t *testing.T) {
	a := NewApp(nil, grasscull.DefaultConfig(), nil)
	a.HandleKey(glfw.KeyH, glfw.Release)
	assert.False(t, a.dumpPending)
	a.HandleKey(glfw.KeyH, glfw.Press)
	assert.True(t, a.dumpPending)

	assert.Equal(t, "hiz.png", a.hizDumpPath())
	a.Settings.HiZDumpPath = "out/level.png"
	assert.Equal(t, "out/level.png", a.hizDumpPath())
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hiz.png")
	level := core.PyramidLevel{Width: 4, Height: 4, Data: make([]float32, 16)}
	require.NoError(t, writeFile(path, func(w io.Writer) error { return level.WritePNG(w, 32) }))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())

	boom := errors.New("no pyramid")
	assert.ErrorIs(t, writeFile(filepath.Join(dir, "b.png"), func(io.Writer) error { return boom }), boom)
	assert.Error(t, writeFile(filepath.Join(dir, "missing", "c.png"), func(io.Writer) error { return nil }))
}
