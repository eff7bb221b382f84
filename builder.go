package redom

import (
	"encoding/json"

	pkgerrors "github.com/pkg/errors"
)

// RelationPlan collects the directives issued against one relation alias:
// connect adds members, disconnect removes them, delete removes them and
// destroys the target documents when the alias cascades.
type RelationPlan struct {
	Alias  string
	LeftID string
	Add    []string
	Remove []string
	Delete []string
}

// MutationPayload is the planner-ready form of a create: the document,
// its mirrors, relation directives, nested child creates, and per-op
// options.
type MutationPayload struct {
	EntityID         string
	Payload          map[string]any
	Mirrors          []DatetimeMirror
	Relations        []RelationPlan
	Nested           []NestedMutation
	IdempotencyKey   string
	IdempotencyTTL   *int64
	ManagedOverrides []string
}

// NestedMutation is a child create issued under a relation alias of its
// parent.
type NestedMutation struct {
	Alias      string
	Descriptor EntityDescriptor
	Payload    MutationPayload
}

// MutationPatch is the planner-ready form of a partial update.
type MutationPatch struct {
	EntityID           string
	ExpectedVersion    *int64
	StrictVersionCheck *bool
	Operations         []PatchOp
	Relations          []RelationPlan
	Nested             []NestedMutation
	IdempotencyKey     string
	IdempotencyTTL     *int64
}

// CreateBuilder assembles a create payload for T: the entity instance
// plus nested relation directives and per-op options.
type CreateBuilder[T Model] struct {
	entity    T
	id        string
	idemKey   string
	idemTTL   *int64
	overrides []string
	relations map[string]*RelationPlan
	order     []string
	nested    []NestedMutation
}

// NewCreate starts a create payload from an entity instance.
func NewCreate[T Model](entity T) *CreateBuilder[T] {
	return &CreateBuilder[T]{entity: entity, relations: map[string]*RelationPlan{}}
}

// WithID pins the entity id instead of synthesizing one.
func (b *CreateBuilder[T]) WithID(id string) *CreateBuilder[T] {
	b.id = id
	return b
}

// WithIdempotencyKey makes the create replay-safe under the given key.
func (b *CreateBuilder[T]) WithIdempotencyKey(key string) *CreateBuilder[T] {
	b.idemKey = key
	return b
}

// WithIdempotencyTTL overrides the idempotency record retention in
// seconds. Zero keeps the record without expiry.
func (b *CreateBuilder[T]) WithIdempotencyTTL(seconds int64) *CreateBuilder[T] {
	b.idemTTL = &seconds
	return b
}

// Override marks an auto-managed field as caller-supplied, suppressing
// timestamp injection for it.
func (b *CreateBuilder[T]) Override(fields ...string) *CreateBuilder[T] {
	b.overrides = append(b.overrides, fields...)
	return b
}

// Connect adds existing target ids to a relation.
func (b *CreateBuilder[T]) Connect(alias string, ids ...string) *CreateBuilder[T] {
	plan := b.relation(alias)
	plan.Add = append(plan.Add, ids...)
	return b
}

// Disconnect removes target ids from a relation without touching their
// documents.
func (b *CreateBuilder[T]) Disconnect(alias string, ids ...string) *CreateBuilder[T] {
	plan := b.relation(alias)
	plan.Remove = append(plan.Remove, ids...)
	return b
}

// DeleteRelated removes target ids from a relation and deletes their
// documents when the relation cascades.
func (b *CreateBuilder[T]) DeleteRelated(alias string, ids ...string) *CreateBuilder[T] {
	plan := b.relation(alias)
	plan.Delete = append(plan.Delete, ids...)
	return b
}

// CreateChild nests a child create under a relation alias. The child's
// belongs-to link back to the parent is populated by the planner.
func (b *CreateBuilder[T]) CreateChild(alias string, child Model) *CreateBuilder[T] {
	b.nested = append(b.nested, NestedMutation{
		Alias:      alias,
		Descriptor: child.EntityDescriptor(),
		Payload:    MutationPayload{Payload: mustEncodeEntity(child)},
	})
	return b
}

// CreateChildPayload nests an already-built child payload under an alias.
func (b *CreateBuilder[T]) CreateChildPayload(alias string, descriptor EntityDescriptor, payload MutationPayload) *CreateBuilder[T] {
	b.nested = append(b.nested, NestedMutation{Alias: alias, Descriptor: descriptor, Payload: payload})
	return b
}

func (b *CreateBuilder[T]) relation(alias string) *RelationPlan {
	if plan, ok := b.relations[alias]; ok {
		return plan
	}
	plan := &RelationPlan{Alias: alias}
	b.relations[alias] = plan
	b.order = append(b.order, alias)
	return plan
}

func (b *CreateBuilder[T]) build(descriptor *EntityDescriptor) (MutationPayload, error) {
	payload, err := encodeEntity(b.entity)
	if err != nil {
		return MutationPayload{}, err
	}

	entityID := b.id
	if entityID == "" {
		if raw, ok := payload[descriptor.IDField].(string); ok && raw != "" {
			entityID = raw
		}
	}
	if entityID == "" && descriptor.DerivedID == nil {
		entityID = NewEntityID()
	}
	if entityID != "" && descriptor.IDField != "" {
		payload[descriptor.IDField] = entityID
	}

	relations := make([]RelationPlan, 0, len(b.order))
	for _, alias := range b.order {
		relations = append(relations, *b.relations[alias])
	}

	// Child payloads get their own ids now so the parent's relation adds
	// can name them.
	nested := make([]NestedMutation, len(b.nested))
	copy(nested, b.nested)
	for i := range nested {
		child := &nested[i]
		if child.Payload.EntityID == "" {
			if raw, ok := child.Payload.Payload[child.Descriptor.IDField].(string); ok && raw != "" {
				child.Payload.EntityID = raw
			} else if child.Descriptor.DerivedID == nil {
				child.Payload.EntityID = NewEntityID()
				child.Payload.Payload[child.Descriptor.IDField] = child.Payload.EntityID
			}
		}
	}

	return MutationPayload{
		EntityID:         entityID,
		Payload:          payload,
		Relations:        relations,
		Nested:           nested,
		IdempotencyKey:   b.idemKey,
		IdempotencyTTL:   b.idemTTL,
		ManagedOverrides: b.overrides,
	}, nil
}

// PatchBuilder assembles a partial update for the entity with the given
// id.
type PatchBuilder[T Model] struct {
	entityID  string
	expected  *int64
	strict    *bool
	idemKey   string
	idemTTL   *int64
	ops       []PatchOp
	relations map[string]*RelationPlan
	order     []string
	nested    []NestedMutation
}

// NewPatch starts a patch against an entity id.
func NewPatch[T Model](entityID string) *PatchBuilder[T] {
	return &PatchBuilder[T]{entityID: entityID, relations: map[string]*RelationPlan{}}
}

// ExpectedVersion arms the optimistic concurrency guard.
func (b *PatchBuilder[T]) ExpectedVersion(version int64) *PatchBuilder[T] {
	b.expected = &version
	return b
}

// StrictVersionCheck overrides the client-level masking policy for this
// patch: when true, a version conflict is reported even if an idempotency
// key is present.
func (b *PatchBuilder[T]) StrictVersionCheck(strict bool) *PatchBuilder[T] {
	b.strict = &strict
	return b
}

// WithIdempotencyKey makes the patch replay-safe under the given key.
func (b *PatchBuilder[T]) WithIdempotencyKey(key string) *PatchBuilder[T] {
	b.idemKey = key
	return b
}

// WithIdempotencyTTL overrides the idempotency record retention in
// seconds.
func (b *PatchBuilder[T]) WithIdempotencyTTL(seconds int64) *PatchBuilder[T] {
	b.idemTTL = &seconds
	return b
}

// Op appends raw patch operations.
func (b *PatchBuilder[T]) Op(operations ...PatchOp) *PatchBuilder[T] {
	b.ops = append(b.ops, operations...)
	return b
}

// Set assigns a top-level field.
func (b *PatchBuilder[T]) Set(field string, value any) *PatchBuilder[T] {
	return b.Op(Assign("$."+field, value))
}

// Unset deletes a top-level field.
func (b *PatchBuilder[T]) Unset(field string) *PatchBuilder[T] {
	return b.Op(Delete("$." + field))
}

// MergeField structurally merges into a top-level field.
func (b *PatchBuilder[T]) MergeField(field string, value any) *PatchBuilder[T] {
	return b.Op(Merge("$."+field, value))
}

// IncrementField adds amount to a top-level numeric field.
func (b *PatchBuilder[T]) IncrementField(field string, amount float64) *PatchBuilder[T] {
	return b.Op(Increment("$."+field, amount))
}

// Connect adds existing target ids to a relation.
func (b *PatchBuilder[T]) Connect(alias string, ids ...string) *PatchBuilder[T] {
	plan := b.relation(alias)
	plan.Add = append(plan.Add, ids...)
	return b
}

// Disconnect removes target ids from a relation without touching their
// documents.
func (b *PatchBuilder[T]) Disconnect(alias string, ids ...string) *PatchBuilder[T] {
	plan := b.relation(alias)
	plan.Remove = append(plan.Remove, ids...)
	return b
}

// DeleteRelated removes target ids from a relation and deletes their
// documents when the relation cascades.
func (b *PatchBuilder[T]) DeleteRelated(alias string, ids ...string) *PatchBuilder[T] {
	plan := b.relation(alias)
	plan.Delete = append(plan.Delete, ids...)
	return b
}

// CreateChild nests a child create under a relation alias of the patched
// entity.
func (b *PatchBuilder[T]) CreateChild(alias string, child Model) *PatchBuilder[T] {
	b.nested = append(b.nested, NestedMutation{
		Alias:      alias,
		Descriptor: child.EntityDescriptor(),
		Payload:    MutationPayload{Payload: mustEncodeEntity(child)},
	})
	return b
}

func (b *PatchBuilder[T]) relation(alias string) *RelationPlan {
	if plan, ok := b.relations[alias]; ok {
		return plan
	}
	plan := &RelationPlan{Alias: alias}
	b.relations[alias] = plan
	b.order = append(b.order, alias)
	return plan
}

func (b *PatchBuilder[T]) build() (MutationPatch, error) {
	if b.entityID == "" {
		return MutationPatch{}, validationSingle("id", "missing", "entity id must be present")
	}
	relations := make([]RelationPlan, 0, len(b.order))
	for _, alias := range b.order {
		relations = append(relations, *b.relations[alias])
	}
	nested := make([]NestedMutation, len(b.nested))
	copy(nested, b.nested)
	for i := range nested {
		child := &nested[i]
		if child.Payload.EntityID == "" {
			if raw, ok := child.Payload.Payload[child.Descriptor.IDField].(string); ok && raw != "" {
				child.Payload.EntityID = raw
			} else if child.Descriptor.DerivedID == nil {
				child.Payload.EntityID = NewEntityID()
				child.Payload.Payload[child.Descriptor.IDField] = child.Payload.EntityID
			}
		}
	}
	return MutationPatch{
		EntityID:           b.entityID,
		ExpectedVersion:    b.expected,
		StrictVersionCheck: b.strict,
		Operations:         b.ops,
		Relations:          relations,
		Nested:             nested,
		IdempotencyKey:     b.idemKey,
		IdempotencyTTL:     b.idemTTL,
	}, nil
}

// encodeEntity round-trips an entity through JSON into a plain object.
func encodeEntity(entity any) (map[string]any, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "encode entity")
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, pkgerrors.Wrap(err, "decode entity payload")
	}
	return payload, nil
}

func mustEncodeEntity(entity any) map[string]any {
	payload, err := encodeEntity(entity)
	if err != nil {
		panic(err)
	}
	return payload
}
