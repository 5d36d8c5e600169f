package core

import (
	"slices"
	"sync"
)

// MemoryDatabase is an in-process InstanceDatabase.
type MemoryDatabase struct {
	mu         sync.RWMutex
	records    []InstanceRecord
	prototypes map[int32]Prototype
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{prototypes: make(map[int32]Prototype)}
}

func (db *MemoryDatabase) AddPrototype(p Prototype) {
	db.mu.Lock()
	db.prototypes[p.ID] = p
	db.mu.Unlock()
}

func (db *MemoryDatabase) Add(records ...InstanceRecord) {
	db.mu.Lock()
	db.records = append(db.records, records...)
	db.mu.Unlock()
}

func (db *MemoryDatabase) Instances() ([]InstanceRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return slices.Clone(db.records), nil
}

func (db *MemoryDatabase) Prototype(id int32) (Prototype, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	p, ok := db.prototypes[id]
	return p, ok
}

func (db *MemoryDatabase) PrototypeIDs() ([]int32, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ids := make([]int32, 0, len(db.prototypes))
	for id := range db.prototypes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

var (
	_ InstanceDatabase = (*MemoryDatabase)(nil)
	_ PrototypeCatalog = (*MemoryDatabase)(nil)
)
