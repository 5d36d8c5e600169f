package grasscull

import (
	"flag"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"zero width", func(c *Config) { c.Width = 0 }, "window size"},
		{"fov too wide", func(c *Config) { c.FovY = 180 }, "fov"},
		{"far before near", func(c *Config) { c.Far = c.Near }, "clip range"},
		{"zero near", func(c *Config) { c.Near = 0 }, "clip range"},
		{"pyramid not pow2", func(c *Config) { c.PyramidSize = 1000 }, "power of two"},
		{"pyramid too small", func(c *Config) { c.PyramidSize = 8 }, "power of two"},
		{"pyramid ok", func(c *Config) { c.PyramidSize = 1024 }, ""},
		{"unknown readback", func(c *Config) { c.Readback = "later" }, "readback"},
		{"readback without bounds", func(c *Config) { c.Readback = ReadbackAsync }, "requires -bounds"},
		{"readback with bounds", func(c *Config) { c.Readback = ReadbackSync; c.ShowBounds = true }, ""},
		{"negative instances", func(c *Config) { c.DemoInstances = -1 }, "instance count"},
		{"negative dump level", func(c *Config) { c.HiZDumpLevel = -1 }, "dump level"},
		{"dump on cpu culler", func(c *Config) { c.HiZDumpPath = "hiz.png"; c.CPUCull = true }, "GPU culler"},
		{"dump", func(c *Config) { c.HiZDumpPath = "hiz.png"; c.HiZDumpLevel = 2 }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[uint32]uint32{0: 1, 1: 1, 2: 2, 3: 4, 720: 1024, 1024: 1024, 1025: 2048, 1920: 2048}
	for in, want := range cases {
		assert.Equal(t, want, NextPowerOfTwo(in), fmt.Sprintf("NextPowerOfTwo(%d)", in))
	}
}

func TestResolvePyramidSize(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, uint32(2048), c.ResolvePyramidSize(1920, 1080))
	assert.Equal(t, uint32(1024), c.ResolvePyramidSize(600, 1000))

	c.PyramidSize = 512
	assert.Equal(t, uint32(512), c.ResolvePyramidSize(1920, 1080))
}

func TestReadbackModeSet(t *testing.T) {
	var m ReadbackMode
	require.NoError(t, m.Set("async"))
	assert.Equal(t, ReadbackAsync, m)
	assert.Equal(t, "async", m.String())

	assert.Error(t, m.Set("maybe"))
	assert.Equal(t, ReadbackAsync, m, "failed Set keeps the old value")
}

func TestRegisterFlags(t *testing.T) {
	c := DefaultConfig()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	err := fs.Parse([]string{
		"-width", "800", "-fov", "75", "-far", "250", "-pyramid", "512",
		"-occlusion=false", "-bounds", "-readback", "sync", "-cpu-cull",
		"-db", "scene.db", "-instances", "42", "-seed", "9",
		"-dump-hiz", "level.png", "-dump-hiz-level", "3",
	})
	require.NoError(t, err)

	assert.Equal(t, 800, c.Width)
	assert.Equal(t, 720, c.Height)
	assert.Equal(t, float32(75), c.FovY)
	assert.Equal(t, float32(250), c.Far)
	assert.Equal(t, uint32(512), c.PyramidSize)
	assert.False(t, c.Occlusion)
	assert.True(t, c.ShowBounds)
	assert.Equal(t, ReadbackSync, c.Readback)
	assert.True(t, c.CPUCull)
	assert.Equal(t, "level.png", c.HiZDumpPath)
	assert.Equal(t, 3, c.HiZDumpLevel)
	assert.Equal(t, "scene.db", c.DatabasePath)
	assert.Equal(t, 42, c.DemoInstances)
	assert.Equal(t, int64(9), c.DemoSeed)
	assert.ErrorContains(t, c.Validate(), "GPU culler")
	c.CPUCull = false
	assert.NoError(t, c.Validate())

	bad := DefaultConfig()
	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(discard{})
	bad.RegisterFlags(fs)
	assert.Error(t, fs.Parse([]string{"-readback", "never"}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
