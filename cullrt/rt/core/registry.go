package core

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gekko3d/grasscull"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Mesh locates a prototype's geometry inside the shared vertex/index buffers.
type Mesh struct {
	IndexCount uint32
	IndexStart uint32
	BaseVertex int32
}

// Material is the per-draw shading state of a prototype.
type Material struct {
	Name  string
	Color mgl32.Vec4
}

// Prototype binds a prototype ID to its mesh and material. Either may be missing in a
// broken database; such groups are skipped.
type Prototype struct {
	ID       int32
	Name     string
	Mesh     *Mesh
	Material *Material
}

// InstanceDatabase is the read-only source of placed instances, loaded once.
type InstanceDatabase interface {
	Instances() ([]InstanceRecord, error)
	Prototype(id int32) (Prototype, bool)
}

// PrototypeCatalog is implemented by databases that can list every prototype they
// declare, including ones with no placed instances.
type PrototypeCatalog interface {
	PrototypeIDs() ([]int32, error)
}

// PrototypeLoader is implemented by databases whose prototype lookups can fail. A
// lookup error aborts planning instead of skipping the group.
type PrototypeLoader interface {
	LoadPrototype(id int32) (Prototype, bool, error)
}

func lookupPrototype(db InstanceDatabase, id int32) (Prototype, bool, error) {
	if l, ok := db.(PrototypeLoader); ok {
		return l.LoadPrototype(id)
	}
	p, ok := db.Prototype(id)
	return p, ok, nil
}

// GroupPlan is one resolved render group before any resources exist.
type GroupPlan struct {
	ID        uuid.UUID
	Prototype Prototype
	Instances []InstanceRecord
}

// GroupError ties a configuration error to the prototype it disqualified.
type GroupError struct {
	PrototypeID int32
	Err         error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("prototype %d: %v", e.PrototypeID, e.Err)
}

func (e *GroupError) Unwrap() error { return e.Err }

// PlanGroups buckets instances by prototype and resolves each prototype's bindings.
// Plans come back ordered by ascending prototype ID. Groups that cannot be drawn are
// reported in skipped; err is only set when the database itself fails.
func PlanGroups(db InstanceDatabase) (plans []GroupPlan, skipped []*GroupError, err error) {
	records, err := db.Instances()
	if err != nil {
		return nil, nil, fmt.Errorf("load instances: %w", err)
	}

	byProto := make(map[int32][]InstanceRecord)
	for _, r := range records {
		byProto[r.PrototypeID] = append(byProto[r.PrototypeID], r)
	}
	if cat, ok := db.(PrototypeCatalog); ok {
		ids, err := cat.PrototypeIDs()
		if err != nil {
			return nil, nil, fmt.Errorf("list prototypes: %w", err)
		}
		for _, id := range ids {
			if _, seen := byProto[id]; !seen {
				byProto[id] = nil
			}
		}
	}

	ids := make([]int32, 0, len(byProto))
	for id := range byProto {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		instances := byProto[id]
		proto, ok, err := lookupPrototype(db, id)
		if err != nil {
			return nil, nil, fmt.Errorf("plan prototype %d: %w", id, err)
		}
		switch {
		case len(instances) == 0:
			skipped = append(skipped, &GroupError{PrototypeID: id, Err: grasscull.ErrEmptyGroup})
		case !ok || proto.Mesh == nil || proto.Mesh.IndexCount == 0:
			skipped = append(skipped, &GroupError{PrototypeID: id, Err: grasscull.ErrMissingMesh})
		case proto.Material == nil:
			skipped = append(skipped, &GroupError{PrototypeID: id, Err: grasscull.ErrMissingMaterial})
		default:
			plans = append(plans, GroupPlan{ID: uuid.New(), Prototype: proto, Instances: instances})
		}
	}
	return plans, skipped, nil
}

// RenderGroup is one mesh+material batch drawn with a single indirect call. Input and
// compacted output are sized from the same count at allocation and never resized.
type RenderGroup struct {
	ID            uuid.UUID
	PrototypeID   int32
	Name          string
	Mesh          Mesh
	Material      Material
	InstanceCount uint32

	res GroupResources
}

func (g *RenderGroup) Resources() GroupResources { return g.res }

func (g *RenderGroup) Released() bool { return g.res == nil || g.res.Released() }

func (g *RenderGroup) String() string {
	return fmt.Sprintf("group %s (prototype %d %q, %d instances)", g.ID, g.PrototypeID, g.Name, g.InstanceCount)
}

// Registry owns every render group and their device resources.
type Registry struct {
	groups  []*RenderGroup
	skipped []*GroupError
	logger  grasscull.Logger
}

// BuildRegistry plans groups from db and allocates each through backend. Configuration
// errors skip the affected group; any allocation failure releases what was built and
// is returned.
func BuildRegistry(db InstanceDatabase, backend Backend, logger grasscull.Logger) (*Registry, error) {
	logger = grasscull.OrNop(logger)
	plans, skipped, err := PlanGroups(db)
	if err != nil {
		return nil, err
	}
	r := &Registry{skipped: skipped, logger: logger}
	for _, s := range skipped {
		logger.Warnf("skipping render group: %v", s)
	}

	for i := range plans {
		plan := &plans[i]
		res, err := backend.AllocateGroup(plan)
		if err != nil {
			r.Release()
			return nil, fmt.Errorf("allocate group %s (prototype %d): %w", plan.ID, plan.Prototype.ID, err)
		}
		if res.InstanceCount() != res.Capacity() {
			panic(fmt.Sprintf("group %s: output capacity %d != input length %d", plan.ID, res.Capacity(), res.InstanceCount()))
		}
		r.groups = append(r.groups, &RenderGroup{
			ID:            plan.ID,
			PrototypeID:   plan.Prototype.ID,
			Name:          plan.Prototype.Name,
			Mesh:          *plan.Prototype.Mesh,
			Material:      *plan.Prototype.Material,
			InstanceCount: uint32(len(plan.Instances)),
			res:           res,
		})
	}
	logger.Infof("render registry: %d groups, %d instances, %d skipped", len(r.groups), r.TotalInstances(), len(r.skipped))
	return r, nil
}

// Groups returns the groups in draw order (ascending prototype ID).
func (r *Registry) Groups() []*RenderGroup { return r.groups }

func (r *Registry) Skipped() []*GroupError { return r.skipped }

func (r *Registry) TotalInstances() int {
	n := 0
	for _, g := range r.groups {
		n += int(g.InstanceCount)
	}
	return n
}

// Release frees every group's resources. Safe to call more than once.
func (r *Registry) Release() {
	for _, g := range r.groups {
		if g.res != nil && !g.res.Released() {
			g.res.Release()
		}
	}
}

// SkippedBecause reports whether any skipped group failed with target.
func (r *Registry) SkippedBecause(target error) bool {
	for _, s := range r.skipped {
		if errors.Is(s, target) {
			return true
		}
	}
	return false
}
