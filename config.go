package grasscull

import (
	"flag"
	"fmt"
	"math/bits"
)

// ReadbackMode selects how debug bounds are brought back to the host.
type ReadbackMode string

const (
	ReadbackOff   ReadbackMode = "off"
	ReadbackSync  ReadbackMode = "sync"
	ReadbackAsync ReadbackMode = "async"
)

func (m *ReadbackMode) String() string { return string(*m) }

func (m *ReadbackMode) Set(v string) error {
	switch ReadbackMode(v) {
	case ReadbackOff, ReadbackSync, ReadbackAsync:
		*m = ReadbackMode(v)
		return nil
	}
	return fmt.Errorf("unknown readback mode %q (want off, sync or async)", v)
}

type Config struct {
	Width  int
	Height int
	Title  string

	FovY float32 // degrees
	Near float32
	Far  float32

	// PyramidSize is the HiZ level 0 edge length. Zero picks the next power of two
	// of the framebuffer's larger side.
	PyramidSize uint32
	Occlusion   bool
	// FreezePyramid stops rebuilding the HiZ pyramid, keeping the last one.
	FreezePyramid bool

	ShowBounds bool
	// BoundsAll records bounds for every tested instance instead of survivors only.
	BoundsAll bool
	Readback  ReadbackMode

	// CPUCull runs culling on the host worker pool instead of the compute kernel.
	CPUCull    bool
	CPUWorkers int

	DatabasePath  string
	DemoInstances int
	DemoSeed      int64

	// HiZDumpPath, when set, writes pyramid level HiZDumpLevel as a PNG once the
	// first pyramid is built. The H key requests the same dump at runtime.
	HiZDumpPath  string
	HiZDumpLevel int

	Debug bool
}

func DefaultConfig() Config {
	return Config{
		Width:         1280,
		Height:        720,
		Title:         "GrassCull",
		FovY:          60,
		Near:          0.1,
		Far:           1000,
		Occlusion:     true,
		Readback:      ReadbackOff,
		CPUWorkers:    0,
		DemoInstances: 200000,
		DemoSeed:      1,
	}
}

// RegisterFlags binds the config fields to fs. Defaults are the current field values.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Width, "width", c.Width, "window width")
	fs.IntVar(&c.Height, "height", c.Height, "window height")
	fs.Func("fov", "vertical field of view in degrees", func(s string) error {
		var v float32
		if _, err := fmt.Sscanf(s, "%g", &v); err != nil {
			return err
		}
		c.FovY = v
		return nil
	})
	fs.Func("far", "far clip distance", func(s string) error {
		var v float32
		if _, err := fmt.Sscanf(s, "%g", &v); err != nil {
			return err
		}
		c.Far = v
		return nil
	})
	fs.Func("pyramid", "HiZ pyramid size (power of two, 0 = auto)", func(s string) error {
		var v uint32
		if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
			return err
		}
		c.PyramidSize = v
		return nil
	})
	fs.BoolVar(&c.Occlusion, "occlusion", c.Occlusion, "enable HiZ occlusion culling")
	fs.BoolVar(&c.FreezePyramid, "freeze", c.FreezePyramid, "stop rebuilding the HiZ pyramid")
	fs.BoolVar(&c.ShowBounds, "bounds", c.ShowBounds, "record per-instance debug bounds")
	fs.BoolVar(&c.BoundsAll, "bounds-all", c.BoundsAll, "record bounds of every tested instance")
	fs.Var(&c.Readback, "readback", "debug bounds readback: off, sync or async")
	fs.BoolVar(&c.CPUCull, "cpu-cull", c.CPUCull, "cull on the CPU worker pool")
	fs.IntVar(&c.CPUWorkers, "cpu-workers", c.CPUWorkers, "CPU culling workers (0 = NumCPU-1)")
	fs.StringVar(&c.DatabasePath, "db", c.DatabasePath, "sqlite instance database (empty = procedural demo)")
	fs.IntVar(&c.DemoInstances, "instances", c.DemoInstances, "procedural demo instance count")
	fs.Int64Var(&c.DemoSeed, "seed", c.DemoSeed, "procedural demo seed")
	fs.StringVar(&c.HiZDumpPath, "dump-hiz", c.HiZDumpPath, "write a HiZ pyramid level to this PNG file")
	fs.IntVar(&c.HiZDumpLevel, "dump-hiz-level", c.HiZDumpLevel, "HiZ pyramid level to dump")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "verbose logging")
}

func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid window size %dx%d", c.Width, c.Height)
	}
	if c.FovY <= 0 || c.FovY >= 180 {
		return fmt.Errorf("invalid fov %g", c.FovY)
	}
	if c.Near <= 0 || c.Far <= c.Near {
		return fmt.Errorf("invalid clip range near=%g far=%g", c.Near, c.Far)
	}
	if c.PyramidSize != 0 {
		if c.PyramidSize < 16 || bits.OnesCount32(c.PyramidSize) != 1 {
			return fmt.Errorf("pyramid size %d must be a power of two >= 16", c.PyramidSize)
		}
	}
	switch c.Readback {
	case ReadbackOff, ReadbackSync, ReadbackAsync:
	default:
		return fmt.Errorf("unknown readback mode %q", c.Readback)
	}
	if c.Readback != ReadbackOff && !c.ShowBounds {
		return fmt.Errorf("readback %q requires -bounds", c.Readback)
	}
	if c.DemoInstances < 0 {
		return fmt.Errorf("negative instance count %d", c.DemoInstances)
	}
	if c.HiZDumpLevel < 0 {
		return fmt.Errorf("negative HiZ dump level %d", c.HiZDumpLevel)
	}
	if c.HiZDumpPath != "" && c.CPUCull {
		return fmt.Errorf("-dump-hiz needs the GPU culler")
	}
	return nil
}

// ResolvePyramidSize returns the configured pyramid size, or the next power of two of
// the larger framebuffer side when unset.
func (c Config) ResolvePyramidSize(fbWidth, fbHeight int) uint32 {
	if c.PyramidSize != 0 {
		return c.PyramidSize
	}
	return NextPowerOfTwo(uint32(max(fbWidth, fbHeight)))
}

func NextPowerOfTwo(v uint32) uint32 {
	if v <= 1 {
		return 1
	}
	return 1 << (32 - bits.LeadingZeros32(v-1))
}
