package core

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPyramidMipCount(t *testing.T) {
	tests := []struct {
		size uint32
		want int
	}{
		{8, 0},
		{16, 1},
		{32, 2},
		{1024, 7},
		{2048, 8},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, PyramidMipCount(tc.size), "size %d", tc.size)
	}
}

func TestPyramidExtentsHalve(t *testing.T) {
	ext := PyramidExtents(1024, 1024)
	require.Len(t, ext, 7)
	assert.Equal(t, [2]uint32{1024, 1024}, ext[0])
	assert.Equal(t, [2]uint32{16, 16}, ext[6])
	for i := 1; i < len(ext); i++ {
		assert.Equal(t, ext[i-1][0]/2, ext[i][0])
		assert.Equal(t, ext[i-1][1]/2, ext[i][1])
	}
}

func TestBuildDepthPyramidCopiesLevelZero(t *testing.T) {
	src := NewDepthBuffer(20, 20, FarDepth)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			src.Set(x, y, float32(x+y*src.Width)/400)
		}
	}
	p := BuildDepthPyramid(src, 32)
	require.Equal(t, 2, p.MipCount())

	l0 := &p.Levels[0]
	for y := 0; y < l0.Height; y++ {
		for x := 0; x < l0.Width; x++ {
			assert.Equal(t, src.At(x*20/32, y*20/32), l0.At(x, y), "texel %d,%d", x, y)
		}
	}
}

func TestBuildDepthPyramidMaxReduction(t *testing.T) {
	src := NewDepthBuffer(32, 32, 0.5)
	src.Set(3, 3, 0.9)
	src.Set(20, 7, 0.1)
	p := BuildDepthPyramid(src, 32)

	l1 := &p.Levels[1]
	assert.Equal(t, float32(0.9), l1.At(1, 1))
	assert.Equal(t, float32(0.5), l1.At(10, 3), "a nearer texel must not lower the max")
	assert.Equal(t, float32(0.5), l1.At(0, 0))
}

func TestBuildDepthPyramidConservativeWhenSmallerThanSource(t *testing.T) {
	src := NewDepthBuffer(64, 64, 0.2)
	src.FillRect(0, 0, 7, 64, 0.8)
	p := BuildDepthPyramid(src, 16)
	require.Equal(t, 1, p.MipCount())

	l0 := &p.Levels[0]
	for y := 0; y < l0.Height; y++ {
		for x := 0; x < l0.Width; x++ {
			for sy := y * 4; sy < (y+1)*4; sy++ {
				for sx := x * 4; sx < (x+1)*4; sx++ {
					require.GreaterOrEqual(t, l0.At(x, y), src.At(sx, sy))
				}
			}
		}
	}
	// Column 1 covers source columns 4..7, which straddle the far strip.
	assert.Equal(t, float32(0.8), l0.At(1, 5))
	assert.Equal(t, float32(0.2), l0.At(2, 5))
}

func TestDepthPyramidRebuildReusesLevels(t *testing.T) {
	p := NewDepthPyramid(64)
	for _, l := range p.Levels {
		for _, v := range l.Data {
			require.Equal(t, float32(FarDepth), v)
		}
	}
	first := &p.Levels[0].Data[0]

	p.Build(NewDepthBuffer(64, 64, 0.25))
	assert.Same(t, first, &p.Levels[0].Data[0])
	assert.Equal(t, float32(0.25), p.MaxOver(p.MipCount()-1, 0, 0, 7, 7))

	p.Clear()
	assert.Equal(t, float32(FarDepth), p.Levels[0].At(5, 5))
}

func TestDumpLevelPNG(t *testing.T) {
	src := NewDepthBuffer(32, 32, FarDepth)
	src.FillRect(0, 0, 16, 16, 0)
	p := BuildDepthPyramid(src, 32)

	var buf bytes.Buffer
	require.NoError(t, p.DumpLevelPNG(&buf, 1, 128))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())
	assert.Equal(t, 128, img.Bounds().Dy())

	r, _, _, _ := img.At(10, 10).RGBA()
	assert.Equal(t, uint32(0), r, "near quadrant should be black")
	r, _, _, _ = img.At(100, 100).RGBA()
	assert.Equal(t, uint32(0xffff), r, "far quadrant should be white")

	_, err = p.LevelImage(5)
	assert.Error(t, err)
}

func TestPyramidLevelWritePNG(t *testing.T) {
	l := PyramidLevel{Width: 2, Height: 1, Data: []float32{0, 1}}
	var buf bytes.Buffer
	require.NoError(t, l.WritePNG(&buf, 64))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	r, _, _, _ := img.At(5, 40).RGBA()
	assert.Equal(t, uint32(0), r)
	r, _, _, _ = img.At(60, 5).RGBA()
	assert.Equal(t, uint32(0xffff), r)

	assert.Error(t, l.WritePNG(&buf, 0))
	assert.Error(t, NewDepthPyramid(64).DumpLevelPNG(&buf, -1, 64))
}
