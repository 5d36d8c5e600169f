package app

import (
	"encoding/binary"
	"math"
	"math/rand/v2"

	"github.com/gekko3d/grasscull/cullrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

// MeshBuilder appends meshes into one shared vertex/index buffer pair. Every mesh
// indexes from its own first vertex, so draws pass it as base vertex.
type MeshBuilder struct {
	vertices []float32 // position, normal
	indices  []uint32
}

func (b *MeshBuilder) VertexCount() int { return len(b.vertices) / 6 }

func (b *MeshBuilder) begin() (uint32, int32) {
	return uint32(len(b.indices)), int32(b.VertexCount())
}

func (b *MeshBuilder) end(start uint32, base int32) *core.Mesh {
	return &core.Mesh{
		IndexCount: uint32(len(b.indices)) - start,
		IndexStart: start,
		BaseVertex: base,
	}
}

func (b *MeshBuilder) quad(base int32, p [4]mgl32.Vec3, n mgl32.Vec3) {
	first := uint32(int32(b.VertexCount()) - base)
	for _, v := range p {
		b.vertices = append(b.vertices, v[0], v[1], v[2], n[0], n[1], n[2])
	}
	b.indices = append(b.indices, first, first+1, first+2, first, first+2, first+3)
}

// AddBox appends an axis-aligned box with per-face normals.
func (b *MeshBuilder) AddBox(min, max mgl32.Vec3) *core.Mesh {
	start, base := b.begin()
	x0, y0, z0 := min[0], min[1], min[2]
	x1, y1, z1 := max[0], max[1], max[2]
	b.quad(base, [4]mgl32.Vec3{{x0, y0, z1}, {x1, y0, z1}, {x1, y1, z1}, {x0, y1, z1}}, mgl32.Vec3{0, 0, 1})
	b.quad(base, [4]mgl32.Vec3{{x1, y0, z0}, {x0, y0, z0}, {x0, y1, z0}, {x1, y1, z0}}, mgl32.Vec3{0, 0, -1})
	b.quad(base, [4]mgl32.Vec3{{x1, y0, z1}, {x1, y0, z0}, {x1, y1, z0}, {x1, y1, z1}}, mgl32.Vec3{1, 0, 0})
	b.quad(base, [4]mgl32.Vec3{{x0, y0, z0}, {x0, y0, z1}, {x0, y1, z1}, {x0, y1, z0}}, mgl32.Vec3{-1, 0, 0})
	b.quad(base, [4]mgl32.Vec3{{x0, y1, z1}, {x1, y1, z1}, {x1, y1, z0}, {x0, y1, z0}}, mgl32.Vec3{0, 1, 0})
	b.quad(base, [4]mgl32.Vec3{{x0, y0, z0}, {x1, y0, z0}, {x1, y0, z1}, {x0, y0, z1}}, mgl32.Vec3{0, -1, 0})
	return b.end(start, base)
}

// AddCross appends two crossed vertical quads, the usual grass card.
func (b *MeshBuilder) AddCross(halfWidth, height float32) *core.Mesh {
	start, base := b.begin()
	w, h := halfWidth, height
	b.quad(base, [4]mgl32.Vec3{{-w, 0, 0}, {w, 0, 0}, {w, h, 0}, {-w, h, 0}}, mgl32.Vec3{0, 0, 1})
	b.quad(base, [4]mgl32.Vec3{{0, 0, -w}, {0, 0, w}, {0, h, w}, {0, h, -w}}, mgl32.Vec3{1, 0, 0})
	return b.end(start, base)
}

// Vertices serializes the vertex stream, VertexStride bytes per vertex.
func (b *MeshBuilder) Vertices() []byte {
	buf := make([]byte, len(b.vertices)*4)
	for i, v := range b.vertices {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func (b *MeshBuilder) Indices() []uint32 { return b.indices }

type demoKind struct {
	proto  core.Prototype
	bounds core.AABB
	weight float32
	scale  [2]float32
}

// Demo prototype IDs.
const (
	ProtoGrass int32 = iota + 1
	ProtoBush
	ProtoRock
	ProtoTree
	ProtoCliff
)

// DemoScene is a procedurally scattered meadow with a few large cliffs that occlude
// whatever lies behind them.
type DemoScene struct {
	DB       *core.MemoryDatabase
	Vertices []byte
	Indices  []uint32
}

func NewDemoScene(instances int, seed int64) *DemoScene {
	var mb MeshBuilder
	mat := func(name string, r, g, b float32) *core.Material {
		return &core.Material{Name: name, Color: mgl32.Vec4{r, g, b, 1}}
	}
	box := func(min, max mgl32.Vec3) core.AABB { return core.AABB{Min: min, Max: max} }

	kinds := []demoKind{
		{
			proto:  core.Prototype{ID: ProtoGrass, Name: "grass", Mesh: mb.AddCross(0.15, 0.8), Material: mat("grass", 0.35, 0.7, 0.2)},
			bounds: box(mgl32.Vec3{-0.15, 0, -0.15}, mgl32.Vec3{0.15, 0.8, 0.15}),
			weight: 0.7,
			scale:  [2]float32{0.6, 1.4},
		},
		{
			proto:  core.Prototype{ID: ProtoBush, Name: "bush", Mesh: mb.AddBox(mgl32.Vec3{-0.6, 0, -0.6}, mgl32.Vec3{0.6, 1, 0.6}), Material: mat("leaves", 0.15, 0.45, 0.15)},
			bounds: box(mgl32.Vec3{-0.6, 0, -0.6}, mgl32.Vec3{0.6, 1, 0.6}),
			weight: 0.15,
			scale:  [2]float32{0.7, 1.5},
		},
		{
			proto:  core.Prototype{ID: ProtoRock, Name: "rock", Mesh: mb.AddBox(mgl32.Vec3{-1, 0, -1}, mgl32.Vec3{1, 0.8, 1}), Material: mat("stone", 0.5, 0.5, 0.48)},
			bounds: box(mgl32.Vec3{-1, 0, -1}, mgl32.Vec3{1, 0.8, 1}),
			weight: 0.1,
			scale:  [2]float32{0.5, 2},
		},
		{
			proto:  core.Prototype{ID: ProtoTree, Name: "tree", Mesh: mb.AddBox(mgl32.Vec3{-0.4, 0, -0.4}, mgl32.Vec3{0.4, 6, 0.4}), Material: mat("bark", 0.4, 0.27, 0.15)},
			bounds: box(mgl32.Vec3{-0.4, 0, -0.4}, mgl32.Vec3{0.4, 6, 0.4}),
			weight: 0.045,
			scale:  [2]float32{0.8, 1.3},
		},
		{
			proto:  core.Prototype{ID: ProtoCliff, Name: "cliff", Mesh: mb.AddBox(mgl32.Vec3{-12, 0, -1.5}, mgl32.Vec3{12, 10, 1.5}), Material: mat("cliff", 0.42, 0.38, 0.34)},
			bounds: box(mgl32.Vec3{-12, 0, -1.5}, mgl32.Vec3{12, 10, 1.5}),
			weight: 0.005,
			scale:  [2]float32{0.8, 1.5},
		},
	}

	db := core.NewMemoryDatabase()
	for _, k := range kinds {
		db.AddPrototype(k.proto)
	}

	rng := rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
	// Roughly constant density: about one object per 2 square units.
	half := float32(math.Sqrt(float64(instances)*2)) / 2

	records := make([]core.InstanceRecord, 0, instances)
	for i := 0; i < instances; i++ {
		k := pickKind(kinds, rng.Float32())
		tr := core.NewTransform()
		tr.Position = mgl32.Vec3{(rng.Float32()*2 - 1) * half, 0, (rng.Float32()*2 - 1) * half}
		tr.Rotation = mgl32.QuatRotate(rng.Float32()*2*math.Pi, mgl32.Vec3{0, 1, 0})
		s := k.scale[0] + rng.Float32()*(k.scale[1]-k.scale[0])
		tr.Scale = mgl32.Vec3{s, s, s}
		records = append(records, tr.Instance(int32(i), k.proto.ID, k.bounds))
	}
	db.Add(records...)

	return &DemoScene{DB: db, Vertices: mb.Vertices(), Indices: mb.Indices()}
}

func pickKind(kinds []demoKind, r float32) *demoKind {
	for i := range kinds {
		if r < kinds[i].weight {
			return &kinds[i]
		}
		r -= kinds[i].weight
	}
	return &kinds[0]
}
