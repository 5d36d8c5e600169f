package app

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/gekko3d/grasscull"
	"github.com/gekko3d/grasscull/cullrt/rt/core"
	"github.com/gekko3d/grasscull/cullrt/rt/gpu"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
)

type App struct {
	Window   *glfw.Window
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Surface  *wgpu.Surface
	Config   *wgpu.SurfaceConfiguration

	DepthTexture *wgpu.Texture
	DepthView    *wgpu.TextureView

	Backend  *gpu.Backend
	Pipeline *core.Pipeline
	Camera   *core.CameraState
	Profiler *Profiler
	Settings grasscull.Config
	Logger   grasscull.Logger

	LastTime      float64
	MouseCaptured bool
	MouseX        float64
	MouseY        float64

	FrameCount int
	FPS        float64
	FPSTime    float64

	// fatal is the first device error raised outside Render, e.g. from a resize
	// callback. Render returns it so the frame loop stops.
	fatal       error
	dumpPending bool
}

func NewApp(window *glfw.Window, settings grasscull.Config, logger grasscull.Logger) *App {
	cam := core.NewCameraState()
	cam.Projection.FovY = settings.FovY
	cam.Projection.Near = settings.Near
	cam.Projection.Far = settings.Far
	return &App{
		Window:   window,
		Camera:   cam,
		Profiler: NewProfiler(),
		Settings: settings,
		Logger:   grasscull.OrNop(logger),
	}
}

// Init brings up the device and surface, uploads the shared geometry and builds one
// render group per prototype found in db.
func (a *App) Init(db core.InstanceDatabase, vertices []byte, indices []uint32) error {
	a.Instance = wgpu.CreateInstance(nil)
	a.Surface = a.Instance.CreateSurface(GetSurfaceDescriptor(a.Window))

	adapter, err := a.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: a.Surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return err
	}
	a.Adapter = adapter

	a.Device, err = adapter.RequestDevice(nil)
	if err != nil {
		return err
	}
	a.Queue = a.Device.GetQueue()

	width, height := a.Window.GetFramebufferSize()
	caps := a.Surface.GetCapabilities(adapter)
	format := caps.Formats[0]

	a.Config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      format,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	a.Surface.Configure(adapter, a.Device, a.Config)

	if err := a.setupDepth(width, height); err != nil {
		return err
	}
	a.Camera.Projection.Aspect = aspect(width, height)

	opts := gpu.DefaultOptions()
	opts.PyramidSize = a.Settings.ResolvePyramidSize(width, height)
	opts.Readback = a.Settings.Readback
	opts.HostCull = a.Settings.CPUCull
	opts.CPUWorkers = a.Settings.CPUWorkers
	a.Backend, err = gpu.NewBackend(a.Device, format, opts, a.Logger)
	if err != nil {
		return err
	}
	if err := a.Backend.UploadGeometry(vertices, indices); err != nil {
		return err
	}
	if opts.HostCull && a.Settings.Occlusion {
		a.Logger.Warnf("CPU culling has no depth source; occlusion is disabled")
	}

	a.Pipeline, err = core.NewPipeline(db, a.Backend, a.pipelineOptions(), a.Logger)
	if err != nil {
		return err
	}
	reg := a.Pipeline.Registry()
	a.Logger.Infof("%d render groups, %d instances, pyramid %d", len(reg.Groups()), reg.TotalInstances(), opts.PyramidSize)
	for _, s := range reg.Skipped() {
		a.Logger.Debugf("skipped %v", s)
	}

	a.LastTime = glfw.GetTime()
	return nil
}

func aspect(w, h int) float32 {
	if w <= 0 || h <= 0 {
		return 1
	}
	return float32(w) / float32(h)
}

func (a *App) pipelineOptions() core.PipelineOptions {
	return core.PipelineOptions{
		Occlusion:     a.Settings.Occlusion,
		FreezePyramid: a.Settings.FreezePyramid,
		ShowBounds:    a.Settings.ShowBounds,
		BoundsAll:     a.Settings.BoundsAll,
	}
}

// setupDepth (re)creates the depth attachment. It is also sampled by the pyramid
// pass of the following frame.
func (a *App) setupDepth(w, h int) error {
	if w == 0 || h == 0 {
		return nil
	}
	a.releaseDepth()

	var err error
	a.DepthTexture, err = a.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "Depth",
		Size:          wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        gpu.DepthFormat,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding,
		SampleCount:   1,
	})
	if err != nil {
		return fmt.Errorf("create depth texture: %w: %v", grasscull.ErrDevice, err)
	}
	a.DepthView, err = a.DepthTexture.CreateView(nil)
	if err != nil {
		return fmt.Errorf("create depth view: %w: %v", grasscull.ErrDevice, err)
	}
	return nil
}

func (a *App) releaseDepth() {
	if a.DepthView != nil {
		a.DepthView.Release()
		a.DepthView = nil
	}
	if a.DepthTexture != nil {
		a.DepthTexture.Release()
		a.DepthTexture = nil
	}
}

// fail records a fatal error for the next Render. Only the first one is kept.
func (a *App) fail(err error) {
	a.Logger.Errorf("%v", err)
	if a.fatal == nil {
		a.fatal = err
	}
}

// Resize runs from the framebuffer callback. Allocation failures are fatal and
// surface from the next Render.
func (a *App) Resize(w, h int) {
	if w <= 0 || h <= 0 || a.fatal != nil {
		return
	}
	a.Config.Width = uint32(w)
	a.Config.Height = uint32(h)
	a.Surface.Configure(a.Adapter, a.Device, a.Config)
	if err := a.setupDepth(w, h); err != nil {
		a.fail(fmt.Errorf("resize: %w", err))
		return
	}
	a.Camera.Projection.Aspect = aspect(w, h)
	if err := a.Backend.Resize(a.Settings.ResolvePyramidSize(w, h)); err != nil {
		a.fail(fmt.Errorf("resize pyramid: %w", err))
		return
	}
	a.Pipeline.InvalidatePyramid()
}

// Update advances the fly camera and frame statistics.
func (a *App) Update() {
	now := glfw.GetTime()
	dt := float32(now - a.LastTime)
	a.LastTime = now

	a.FrameCount++
	if now-a.FPSTime >= 1 {
		a.FPS = float64(a.FrameCount) / (now - a.FPSTime)
		a.FrameCount = 0
		a.FPSTime = now
		if a.Logger.DebugEnabled() {
			a.Logger.Debugf("%.1f fps\n%s", a.FPS, a.Profiler.GetStatsString())
		}
	}

	var move mgl32.Vec3
	if a.Window.GetKey(glfw.KeyW) == glfw.Press {
		move = move.Add(a.Camera.GetForward())
	}
	if a.Window.GetKey(glfw.KeyS) == glfw.Press {
		move = move.Sub(a.Camera.GetForward())
	}
	if a.Window.GetKey(glfw.KeyD) == glfw.Press {
		move = move.Add(a.Camera.GetRight())
	}
	if a.Window.GetKey(glfw.KeyA) == glfw.Press {
		move = move.Sub(a.Camera.GetRight())
	}
	if a.Window.GetKey(glfw.KeySpace) == glfw.Press {
		move = move.Add(mgl32.Vec3{0, 1, 0})
	}
	if a.Window.GetKey(glfw.KeyLeftControl) == glfw.Press {
		move = move.Sub(mgl32.Vec3{0, 1, 0})
	}
	if move.Len() > 0 {
		speed := a.Camera.Speed
		if a.Window.GetKey(glfw.KeyLeftShift) == glfw.Press {
			speed *= 4
		}
		a.Camera.Position = a.Camera.Position.Add(move.Normalize().Mul(speed * dt))
	}
}

// Look applies a relative mouse motion while the cursor is captured.
func (a *App) Look(dx, dy float64) {
	if !a.MouseCaptured {
		return
	}
	a.Camera.Yaw -= float32(dx) * a.Camera.Sensitivity
	a.Camera.Pitch -= float32(dy) * a.Camera.Sensitivity
	a.Camera.ClampPitch()
}

// HandleKey toggles the culling switches at runtime.
func (a *App) HandleKey(key glfw.Key, action glfw.Action) {
	if action != glfw.Press {
		return
	}
	if key == glfw.KeyH {
		a.RequestHiZDump()
		return
	}
	opts := a.Pipeline.Options()
	switch key {
	case glfw.KeyO:
		opts.Occlusion = !opts.Occlusion
		a.Logger.Infof("occlusion culling: %v", opts.Occlusion)
	case glfw.KeyF:
		opts.FreezePyramid = !opts.FreezePyramid
		a.Logger.Infof("pyramid frozen: %v", opts.FreezePyramid)
	case glfw.KeyB:
		opts.ShowBounds = !opts.ShowBounds
		if opts.ShowBounds && a.Backend.Options().Readback == grasscull.ReadbackOff {
			a.Logger.Warnf("debug bounds are recorded but not drawn: readback is off")
		}
		a.Logger.Infof("debug bounds: %v", opts.ShowBounds)
	case glfw.KeyN:
		opts.BoundsAll = !opts.BoundsAll
		a.Logger.Infof("bounds of every tested instance: %v", opts.BoundsAll)
	default:
		return
	}
	a.Pipeline.SetOptions(opts)
}

// Render runs one frame. Device errors are returned; the caller must tear down.
func (a *App) Render() error {
	if a.fatal != nil {
		return a.fatal
	}
	nextTexture, err := a.Surface.GetCurrentTexture()
	if err != nil {
		a.Logger.Warnf("GetCurrentTexture failed: %v", err)
		return nil
	}
	defer nextTexture.Release()

	view, err := nextTexture.CreateView(nil)
	if err != nil {
		a.Logger.Warnf("CreateView failed: %v", err)
		return nil
	}
	defer view.Release()

	a.Backend.SetTarget(view, a.DepthView)

	a.Profiler.BeginScope("Frame")
	err = a.Pipeline.Frame(a.Camera)
	a.Profiler.EndScope("Frame")
	if err != nil {
		if errors.Is(err, grasscull.ErrDevice) || errors.Is(err, grasscull.ErrReleased) {
			return err
		}
		a.Logger.Errorf("%v", err)
		return nil
	}

	if boxes, frame, ok := a.Backend.Latest(); ok {
		a.Profiler.SetCount("Bounds", len(boxes))
		a.Profiler.SetCount("BoundsFrame", int(frame))
	}
	a.Profiler.SetCount("Groups", len(a.Pipeline.Registry().Groups()))
	a.Profiler.SetCount("Instances", a.Pipeline.Registry().TotalInstances())

	a.Surface.Present()

	if a.dumpPending && a.Pipeline.Pyramid() != nil {
		a.dumpPending = false
		path := a.hizDumpPath()
		err := writeFile(path, func(w io.Writer) error {
			return a.Backend.DumpPyramid(w, a.Settings.HiZDumpLevel)
		})
		if errors.Is(err, grasscull.ErrDevice) {
			return err
		}
		if err != nil {
			a.Logger.Errorf("hiz dump: %v", err)
		} else {
			a.Logger.Infof("wrote HiZ level %d to %s", a.Settings.HiZDumpLevel, path)
		}
	}
	return nil
}

// RequestHiZDump writes a pyramid level to disk after the next frame that builds a
// pyramid.
func (a *App) RequestHiZDump() {
	a.dumpPending = true
	occlusion := a.Settings.Occlusion
	if a.Pipeline != nil {
		occlusion = a.Pipeline.Options().Occlusion
	}
	if !occlusion || a.Settings.CPUCull {
		a.Logger.Warnf("HiZ dump waits for a pyramid; enable occlusion (O) on the GPU culler")
	}
}

func (a *App) hizDumpPath() string {
	if a.Settings.HiZDumpPath != "" {
		return a.Settings.HiZDumpPath
	}
	return "hiz.png"
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (a *App) Release() {
	if a.Pipeline != nil {
		a.Pipeline.Release()
	}
	if a.Backend != nil {
		a.Backend.Release()
	}
	a.releaseDepth()
	if a.Surface != nil {
		a.Surface.Release()
	}
	if a.Device != nil {
		a.Device.Release()
	}
	if a.Adapter != nil {
		a.Adapter.Release()
	}
	if a.Instance != nil {
		a.Instance.Release()
	}
}

func GetSurfaceDescriptor(w *glfw.Window) *wgpu.SurfaceDescriptor {
	return wgpuglfw.GetSurfaceDescriptor(w)
}
