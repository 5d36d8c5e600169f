package core

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/draw"
)

// FarDepth is the cleared depth value (WebGPU depth range, non-reversed).
const FarDepth = 1.0

// PyramidMinDim stops the reduction: levels are produced while the height is above it.
const PyramidMinDim = 8

// DepthBuffer is a host-side depth image, row-major, y down.
type DepthBuffer struct {
	Width  int
	Height int
	Data   []float32
}

func NewDepthBuffer(width, height int, fill float32) *DepthBuffer {
	d := &DepthBuffer{Width: width, Height: height, Data: make([]float32, width*height)}
	for i := range d.Data {
		d.Data[i] = fill
	}
	return d
}

func (d *DepthBuffer) At(x, y int) float32 {
	return d.Data[y*d.Width+x]
}

func (d *DepthBuffer) Set(x, y int, v float32) {
	d.Data[y*d.Width+x] = v
}

// FillRect writes v over [x0,x1)×[y0,y1), clipped to the buffer.
func (d *DepthBuffer) FillRect(x0, y0, x1, y1 int, v float32) {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, d.Width), min(y1, d.Height)
	for y := y0; y < y1; y++ {
		row := d.Data[y*d.Width:]
		for x := x0; x < x1; x++ {
			row[x] = v
		}
	}
}

// PyramidExtents lists the level sizes the builder produces for a width×height pyramid:
// halving while the height is above PyramidMinDim.
func PyramidExtents(width, height uint32) [][2]uint32 {
	var out [][2]uint32
	w, h := width, height
	for h > PyramidMinDim {
		out = append(out, [2]uint32{w, h})
		w = max(w/2, 1)
		h /= 2
	}
	return out
}

// PyramidMipCount is the number of levels for a square pyramid of the given size.
func PyramidMipCount(size uint32) int {
	return len(PyramidExtents(size, size))
}

type PyramidLevel struct {
	Width  int
	Height int
	Data   []float32
}

func (l *PyramidLevel) At(x, y int) float32 {
	return l.Data[y*l.Width+x]
}

// DepthPyramid is the host mirror of the HiZ texture: level 0 is the depth image,
// each further level the 2×2 max of the one above.
type DepthPyramid struct {
	size   uint32
	Levels []PyramidLevel
}

func NewDepthPyramid(size uint32) *DepthPyramid {
	p := &DepthPyramid{size: size}
	for _, e := range PyramidExtents(size, size) {
		w, h := int(e[0]), int(e[1])
		p.Levels = append(p.Levels, PyramidLevel{Width: w, Height: h, Data: make([]float32, w*h)})
	}
	p.Clear()
	return p
}

// BuildDepthPyramid allocates a pyramid and fills it from src.
func BuildDepthPyramid(src *DepthBuffer, size uint32) *DepthPyramid {
	p := NewDepthPyramid(size)
	p.Build(src)
	return p
}

func (p *DepthPyramid) Size() uint32  { return p.size }
func (p *DepthPyramid) MipCount() int { return len(p.Levels) }

// Clear resets every level to FarDepth (nothing occludes).
func (p *DepthPyramid) Clear() {
	for i := range p.Levels {
		for j := range p.Levels[i].Data {
			p.Levels[i].Data[j] = FarDepth
		}
	}
}

// Build refills all levels from src, reusing the allocations.
func (p *DepthPyramid) Build(src *DepthBuffer) {
	for k := range p.Levels {
		if k == 0 {
			copyDepth(&p.Levels[0], src)
			continue
		}
		downsampleMax(&p.Levels[k], &p.Levels[k-1])
	}
}

// copyDepth resamples src into dst. Each dst texel takes the max over its source
// footprint; when dst is at least as large as src the footprint is one texel, so the
// value is copied unchanged.
func copyDepth(dst *PyramidLevel, src *DepthBuffer) {
	for y := 0; y < dst.Height; y++ {
		sy0, sy1 := footprint(y, dst.Height, src.Height)
		for x := 0; x < dst.Width; x++ {
			sx0, sx1 := footprint(x, dst.Width, src.Width)
			m := src.At(sx0, sy0)
			for sy := sy0; sy < sy1; sy++ {
				for sx := sx0; sx < sx1; sx++ {
					m = max(m, src.At(sx, sy))
				}
			}
			dst.Data[y*dst.Width+x] = m
		}
	}
}

// footprint maps texel i of an n-texel axis onto [lo,hi) of an m-texel axis.
func footprint(i, n, m int) (int, int) {
	lo := i * m / n
	hi := (i + 1) * m / n
	if hi <= lo {
		hi = lo + 1
	}
	return lo, min(hi, m)
}

// downsampleMax reduces 2×2 footprints of src into dst. An odd trailing row or column
// of src is folded into the last dst texel.
func downsampleMax(dst, src *PyramidLevel) {
	for y := 0; y < dst.Height; y++ {
		sy0 := 2 * y
		sy1 := min(sy0+2, src.Height)
		if y == dst.Height-1 {
			sy1 = src.Height
		}
		for x := 0; x < dst.Width; x++ {
			sx0 := 2 * x
			sx1 := min(sx0+2, src.Width)
			if x == dst.Width-1 {
				sx1 = src.Width
			}
			m := src.At(sx0, sy0)
			for sy := sy0; sy < sy1; sy++ {
				for sx := sx0; sx < sx1; sx++ {
					m = max(m, src.At(sx, sy))
				}
			}
			dst.Data[y*dst.Width+x] = m
		}
	}
}

// MaxOver returns the max depth over the inclusive texel range at level.
func (p *DepthPyramid) MaxOver(level, x0, y0, x1, y1 int) float32 {
	l := &p.Levels[level]
	m := float32(0)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			m = max(m, l.At(x, y))
		}
	}
	return m
}

// Image renders the level as grayscale, near = black, far = white.
func (l *PyramidLevel) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, l.Width, l.Height))
	for y := 0; y < l.Height; y++ {
		for x := 0; x < l.Width; x++ {
			v := min(max(l.At(x, y), 0), 1)
			img.SetGray(x, y, color.Gray{Y: uint8(v*255 + 0.5)})
		}
	}
	return img
}

// WritePNG writes the level upscaled to edge×edge pixels, point-filtered so each
// texel stays a hard block.
func (l *PyramidLevel) WritePNG(w io.Writer, edge int) error {
	if edge <= 0 {
		return fmt.Errorf("invalid dump edge %d", edge)
	}
	src := l.Image()
	dst := image.NewGray(image.Rect(0, 0, edge, edge))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return png.Encode(w, dst)
}

func (p *DepthPyramid) LevelImage(level int) (*image.Gray, error) {
	if level < 0 || level >= len(p.Levels) {
		return nil, fmt.Errorf("pyramid level %d out of range [0,%d)", level, len(p.Levels))
	}
	return p.Levels[level].Image(), nil
}

func (p *DepthPyramid) DumpLevelPNG(w io.Writer, level, edge int) error {
	if level < 0 || level >= len(p.Levels) {
		return fmt.Errorf("pyramid level %d out of range [0,%d)", level, len(p.Levels))
	}
	return p.Levels[level].WritePNG(w, edge)
}
