package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gekko3d/grasscull"
	"github.com/gekko3d/grasscull/cullrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PrototypeModel is one prototype row. Mesh and material columns are only meaningful
// when the matching Has flag is set.
type PrototypeModel struct {
	ID   int32 `gorm:"primaryKey;autoIncrement:false"`
	Name string

	HasMesh    bool
	IndexCount uint32
	IndexStart uint32
	BaseVertex int32

	HasMaterial  bool
	MaterialName string
	R, G, B, A   float32
}

// InstanceModel stores the packed GPU instance layout as a blob.
type InstanceModel struct {
	ID          uint  `gorm:"primaryKey"`
	InstanceID  int32 `gorm:"index"`
	PrototypeID int32 `gorm:"index"`
	Record      []byte
}

// GeometryModel holds the shared vertex and index buffers every mesh points into.
type GeometryModel struct {
	Key  string `gorm:"primaryKey"`
	Data []byte
}

const (
	geometryVertices = "vertices"
	geometryIndices  = "indices"
	saveBatchSize    = 1000
)

// SQLiteDatabase is an InstanceDatabase backed by a SQLite file.
type SQLiteDatabase struct {
	DB     *gorm.DB
	logger grasscull.Logger
}

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string, log grasscull.Logger) (*SQLiteDatabase, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open instance database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&PrototypeModel{}, &InstanceModel{}, &GeometryModel{}); err != nil {
		return nil, fmt.Errorf("migrate instance database: %w", err)
	}
	s := &SQLiteDatabase{DB: db, logger: grasscull.OrNop(log)}
	s.logger.Infof("instance database opened: %s", path)
	return s, nil
}

func (s *SQLiteDatabase) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SavePrototypes upserts prototypes.
func (s *SQLiteDatabase) SavePrototypes(protos ...core.Prototype) error {
	for _, p := range protos {
		m := PrototypeModel{ID: p.ID, Name: p.Name}
		if p.Mesh != nil {
			m.HasMesh = true
			m.IndexCount, m.IndexStart, m.BaseVertex = p.Mesh.IndexCount, p.Mesh.IndexStart, p.Mesh.BaseVertex
		}
		if p.Material != nil {
			m.HasMaterial = true
			m.MaterialName = p.Material.Name
			m.R, m.G, m.B, m.A = p.Material.Color[0], p.Material.Color[1], p.Material.Color[2], p.Material.Color[3]
		}
		if err := s.DB.Save(&m).Error; err != nil {
			return fmt.Errorf("save prototype %d: %w", p.ID, err)
		}
	}
	return nil
}

// SaveInstances appends records in one transaction.
func (s *SQLiteDatabase) SaveInstances(records []core.InstanceRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]InstanceModel, len(records))
	for i := range records {
		buf := make([]byte, core.InstanceStride)
		core.PutInstance(buf, &records[i])
		rows[i] = InstanceModel{
			InstanceID:  records[i].InstanceID,
			PrototypeID: records[i].PrototypeID,
			Record:      buf,
		}
	}
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(rows, saveBatchSize).Error; err != nil {
			return fmt.Errorf("save instances: %w", err)
		}
		return nil
	})
}

// SaveGeometry replaces the shared mesh buffers.
func (s *SQLiteDatabase) SaveGeometry(vertices []byte, indices []uint32) error {
	ib := make([]byte, len(indices)*4)
	for i, v := range indices {
		binary.LittleEndian.PutUint32(ib[i*4:], v)
	}
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&GeometryModel{Key: geometryVertices, Data: vertices}).Error; err != nil {
			return err
		}
		return tx.Save(&GeometryModel{Key: geometryIndices, Data: ib}).Error
	})
}

// Geometry loads the shared mesh buffers. ok is false when none were saved.
func (s *SQLiteDatabase) Geometry() (vertices []byte, indices []uint32, ok bool, err error) {
	var rows []GeometryModel
	if err := s.DB.Find(&rows).Error; err != nil {
		return nil, nil, false, fmt.Errorf("load geometry: %w", err)
	}
	var ib []byte
	for _, r := range rows {
		switch r.Key {
		case geometryVertices:
			vertices = r.Data
		case geometryIndices:
			ib = r.Data
		}
	}
	if vertices == nil || ib == nil {
		return nil, nil, false, nil
	}
	indices = make([]uint32, len(ib)/4)
	for i := range indices {
		indices[i] = binary.LittleEndian.Uint32(ib[i*4:])
	}
	return vertices, indices, true, nil
}

func (s *SQLiteDatabase) Instances() ([]core.InstanceRecord, error) {
	var rows []InstanceModel
	if err := s.DB.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load instances: %w", err)
	}
	out := make([]core.InstanceRecord, 0, len(rows))
	for _, r := range rows {
		if len(r.Record) != core.InstanceStride {
			return nil, fmt.Errorf("instance row %d: record is %d bytes, want %d", r.ID, len(r.Record), core.InstanceStride)
		}
		out = append(out, core.GetInstance(r.Record))
	}
	return out, nil
}

// Prototype reports a failed lookup as not found; LoadPrototype returns the error.
func (s *SQLiteDatabase) Prototype(id int32) (core.Prototype, bool) {
	p, ok, err := s.LoadPrototype(id)
	if err != nil {
		s.logger.Warnf("%v", err)
	}
	return p, ok
}

func (s *SQLiteDatabase) LoadPrototype(id int32) (core.Prototype, bool, error) {
	var m PrototypeModel
	if err := s.DB.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.Prototype{}, false, nil
		}
		return core.Prototype{}, false, fmt.Errorf("load prototype %d: %w", id, err)
	}
	p := core.Prototype{ID: m.ID, Name: m.Name}
	if m.HasMesh {
		p.Mesh = &core.Mesh{IndexCount: m.IndexCount, IndexStart: m.IndexStart, BaseVertex: m.BaseVertex}
	}
	if m.HasMaterial {
		p.Material = &core.Material{Name: m.MaterialName, Color: mgl32.Vec4{m.R, m.G, m.B, m.A}}
	}
	return p, true, nil
}

func (s *SQLiteDatabase) PrototypeIDs() ([]int32, error) {
	var ids []int32
	if err := s.DB.Model(&PrototypeModel{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list prototypes: %w", err)
	}
	return ids, nil
}

var (
	_ core.InstanceDatabase = (*SQLiteDatabase)(nil)
	_ core.PrototypeCatalog = (*SQLiteDatabase)(nil)
	_ core.PrototypeLoader  = (*SQLiteDatabase)(nil)
)
