package redom

import (
	"context"
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// maxCascadeDepth bounds the materialized delete tree. Deeper chains are
// a modeling error, not a workload.
const maxCascadeDepth = 8

// Repo is the typed repository and mutation planner for one entity type.
// It compiles declarative payloads into ordered script invocations; all
// consistency lives in the scripts.
type Repo[T Model] struct {
	client     *Client
	descriptor EntityDescriptor
}

// NewRepo builds a repository for T and registers its descriptor.
func NewRepo[T Model](client *Client) *Repo[T] {
	var zero T
	descriptor := zero.EntityDescriptor()
	RegisterDescriptor(descriptor)
	return &Repo[T]{client: client, descriptor: descriptor}
}

func (r *Repo[T]) Descriptor() EntityDescriptor {
	return r.descriptor
}

func (r *Repo[T]) keyContext() KeyContext {
	return NewKeyContext(r.client.prefix, r.descriptor.Service)
}

// EntityKey returns the document key for an entity id.
func (r *Repo[T]) EntityKey(entityID string) string {
	return r.keyContext().Entity(r.descriptor.Collection, entityID)
}

// RelationKey returns the forward relation set key.
func (r *Repo[T]) RelationKey(alias, leftID string) string {
	return r.keyContext().Relation(alias, leftID)
}

// ReverseRelationKey returns the reverse relation set key.
func (r *Repo[T]) ReverseRelationKey(alias, rightID string) string {
	return r.keyContext().RelationReverse(alias, rightID)
}

// CollectionPattern returns a glob matching every entity in this
// collection. Useful for test cleanup or batch operations.
func (r *Repo[T]) CollectionPattern() string {
	return r.keyContext().CollectionPattern(r.descriptor.Collection)
}

// Get fetches an entity by id, or nil when absent.
func (r *Repo[T]) Get(ctx context.Context, entityID string) (*T, error) {
	key := r.EntityKey(entityID)
	raw, err := r.client.rdb.Do(ctx, "JSON.GET", key).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "get entity")
	}
	var entity T
	if err := json.Unmarshal([]byte(raw), &entity); err != nil {
		return nil, pkgerrors.Wrap(err, "decode entity")
	}
	return &entity, nil
}

// Exists reports whether an entity id is present.
func (r *Repo[T]) Exists(ctx context.Context, entityID string) (bool, error) {
	n, err := r.client.rdb.Exists(ctx, r.EntityKey(entityID)).Result()
	if err != nil {
		return false, pkgerrors.Wrap(err, "exists")
	}
	return n == 1, nil
}

// Count scans the collection keyspace. Unique reservation hashes share
// the collection prefix and are filtered out by their fourth segment.
func (r *Repo[T]) Count(ctx context.Context) (int64, error) {
	pattern := r.CollectionPattern()
	uniquePrefix := r.client.prefix + ":" + r.descriptor.Service + ":" + r.descriptor.Collection + ":unique"

	var cursor uint64
	var total int64
	for {
		keys, next, err := r.client.rdb.Scan(ctx, cursor, pattern, 1024).Result()
		if err != nil {
			return 0, pkgerrors.Wrap(err, "count scan")
		}
		for _, key := range keys {
			if len(key) < len(uniquePrefix) || key[:len(uniquePrefix)] != uniquePrefix {
				total++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return total, nil
}

// CreateResult reports a committed create.
type CreateResult struct {
	ID      string
	Replies []map[string]any
}

// Create compiles and executes a create plan: nested children first, then
// the root document with its relation adds batched into the same script
// invocation, then any cascaded relation deletes.
func (r *Repo[T]) Create(ctx context.Context, builder *CreateBuilder[T]) (CreateResult, error) {
	payload, err := builder.build(&r.descriptor)
	if err != nil {
		return CreateResult{}, err
	}
	return r.createFromPayload(ctx, payload)
}

// CreateIfAbsent fails with AlreadyExistsError instead of replacing an
// existing document.
func (r *Repo[T]) CreateIfAbsent(ctx context.Context, builder *CreateBuilder[T]) (CreateResult, error) {
	payload, err := builder.build(&r.descriptor)
	if err != nil {
		return CreateResult{}, err
	}
	exists, err := r.Exists(ctx, payload.EntityID)
	if err != nil {
		return CreateResult{}, err
	}
	if exists {
		return CreateResult{}, &AlreadyExistsError{EntityID: payload.EntityID}
	}
	return r.createFromPayload(ctx, payload)
}

// CreateMany executes one plan per builder, stopping at the first
// failure and reporting the ids committed so far.
func (r *Repo[T]) CreateMany(ctx context.Context, builders ...*CreateBuilder[T]) ([]CreateResult, error) {
	results := make([]CreateResult, 0, len(builders))
	for _, builder := range builders {
		result, err := r.Create(ctx, builder)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *Repo[T]) createFromPayload(ctx context.Context, payload MutationPayload) (CreateResult, error) {
	plan, entityID, err := r.planCreate(payload, nil)
	if err != nil {
		return CreateResult{}, err
	}
	replies, err := r.client.executor.Execute(ctx, plan)
	if err != nil {
		return CreateResult{}, err
	}
	if len(replies) > 0 {
		if actual, ok := replies[len(replies)-1]["entity_id"].(string); ok && actual != "" {
			entityID = actual
		}
	}
	return CreateResult{ID: entityID, Replies: replies}, nil
}

// planCreate produces the full command sequence for a create payload.
// The returned id reflects derived-id computation.
func (r *Repo[T]) planCreate(payload MutationPayload, expectedVersion *int64) (Plan, string, error) {
	mutation, nestedPlan, pending, entityID, err := r.prepareCreate(payload, expectedVersion)
	if err != nil {
		return Plan{}, "", err
	}

	var plan Plan
	plan.Commands = append(plan.Commands, nestedPlan.Commands...)
	plan.push(Command{UpsertEntity: mutation})
	if err := r.enqueueRelationDeletes(pending, &plan); err != nil {
		return Plan{}, "", err
	}
	return plan, entityID, nil
}

// prepareCreate normalizes a create payload (timestamps, metadata, enum
// shadows, derived id), validates it, compiles nested children into their
// own commands, and builds the root mutation envelope.
func (r *Repo[T]) prepareCreate(payload MutationPayload, expectedVersion *int64) (*EntityMutation, Plan, []pendingRelationDelete, string, error) {
	entityID := payload.EntityID
	doc := payload.Payload
	mirrors := payload.Mirrors

	overrides := map[string]bool{}
	for _, field := range payload.ManagedOverrides {
		overrides[field] = true
	}
	ensureAutoTimestamps(&r.descriptor, doc, &mirrors, overrides)
	ensureMetadata(doc, r.descriptor.SchemaVersion)
	injectEnumTagShadows(&r.descriptor, doc)
	if derived, ok := applyDerivedID(&r.descriptor, doc); ok {
		entityID = derived
	}
	if entityID == "" {
		return nil, Plan{}, nil, "", validationSingle(r.descriptor.IDField, "missing", "entity id must be present")
	}
	if issues := validateEntity(&r.descriptor, doc); issues != nil {
		return nil, Plan{}, nil, "", issues
	}

	nested := payload.Nested
	linkNestedToParent(&r.descriptor, entityID, nested)
	nestedPlan, err := r.planNested(nested)
	if err != nil {
		return nil, Plan{}, nil, "", err
	}
	payload.Relations = append(payload.Relations, nestedMembershipPlans(nested)...)

	keyCtx := r.keyContext()
	mutations, pending, err := relationMutationsFor(&r.descriptor, keyCtx, entityID, payload.Relations)
	if err != nil {
		return nil, Plan{}, nil, "", err
	}

	mutation := &EntityMutation{
		Key:               keyCtx.Entity(r.descriptor.Collection, entityID),
		ExpectedVersion:   expectedVersion,
		IdempotencyKey:    payload.IdempotencyKey,
		IdempotencyTTL:    r.client.idempotencyTTL(payload.IdempotencyKey, payload.IdempotencyTTL),
		PayloadJSON:       jsonString(doc),
		EntityID:          entityID,
		UniqueConstraints: buildUniqueChecks(&r.descriptor, doc),
		Relations:         mutations,
		DatetimeMirrors:   mirrors,
	}
	return mutation, nestedPlan, pending, entityID, nil
}

// planNested compiles nested creates depth-first so grandchildren land
// before children and every child lands before its parent.
func (r *Repo[T]) planNested(nested []NestedMutation) (Plan, error) {
	var plan Plan
	for i := range nested {
		child := &nested[i]

		grandchildren := child.Payload.Nested
		child.Payload.Nested = nil
		linkNestedToParent(&child.Descriptor, child.Payload.EntityID, grandchildren)
		subPlan, err := r.planNested(grandchildren)
		if err != nil {
			return Plan{}, err
		}
		plan.Commands = append(plan.Commands, subPlan.Commands...)

		doc := child.Payload.Payload
		mirrors := child.Payload.Mirrors
		overrides := map[string]bool{}
		for _, field := range child.Payload.ManagedOverrides {
			overrides[field] = true
		}
		ensureAutoTimestamps(&child.Descriptor, doc, &mirrors, overrides)
		ensureMetadata(doc, child.Descriptor.SchemaVersion)
		injectEnumTagShadows(&child.Descriptor, doc)
		entityID := child.Payload.EntityID
		if derived, ok := applyDerivedID(&child.Descriptor, doc); ok {
			entityID = derived
		}
		if entityID == "" {
			return Plan{}, validationSingle(child.Descriptor.IDField, "missing", "entity id must be present")
		}
		child.Payload.EntityID = entityID
		if issues := validateEntity(&child.Descriptor, doc); issues != nil {
			return Plan{}, issues
		}

		keyCtx := NewKeyContext(r.client.prefix, child.Descriptor.Service)
		mutations, pending, err := relationMutationsFor(&child.Descriptor, keyCtx, entityID, child.Payload.Relations)
		if err != nil {
			return Plan{}, err
		}

		plan.push(Command{UpsertEntity: &EntityMutation{
			Key:               keyCtx.Entity(child.Descriptor.Collection, entityID),
			IdempotencyKey:    child.Payload.IdempotencyKey,
			IdempotencyTTL:    r.client.idempotencyTTL(child.Payload.IdempotencyKey, child.Payload.IdempotencyTTL),
			PayloadJSON:       jsonString(doc),
			EntityID:          entityID,
			UniqueConstraints: buildUniqueChecks(&child.Descriptor, doc),
			Relations:         mutations,
			DatetimeMirrors:   mirrors,
		}})
		if err := r.enqueueRelationDeletes(pending, &plan); err != nil {
			return Plan{}, err
		}
	}
	return plan, nil
}

// Patch compiles and executes a partial update.
func (r *Repo[T]) Patch(ctx context.Context, builder *PatchBuilder[T]) ([]map[string]any, error) {
	patch, err := builder.build()
	if err != nil {
		return nil, err
	}
	return r.executePatch(ctx, patch)
}

func (r *Repo[T]) executePatch(ctx context.Context, patch MutationPatch) ([]map[string]any, error) {
	if len(patch.Operations) == 0 && len(patch.Relations) == 0 && len(patch.Nested) == 0 {
		return nil, nil
	}

	operations, err := r.preparePatchOperations(patch.Operations)
	if err != nil {
		return nil, err
	}

	var plan Plan
	if len(patch.Nested) > 0 {
		linkNestedToParent(&r.descriptor, patch.EntityID, patch.Nested)
		nestedPlan, err := r.planNested(patch.Nested)
		if err != nil {
			return nil, err
		}
		plan.Commands = append(plan.Commands, nestedPlan.Commands...)
		patch.Relations = append(patch.Relations, nestedMembershipPlans(patch.Nested)...)
	}

	keyCtx := r.keyContext()
	mutations, pending, err := relationMutationsFor(&r.descriptor, keyCtx, patch.EntityID, patch.Relations)
	if err != nil {
		return nil, err
	}

	plan.push(Command{PatchEntity: &EntityPatch{
		Key:                keyCtx.Entity(r.descriptor.Collection, patch.EntityID),
		EntityID:           patch.EntityID,
		ExpectedVersion:    patch.ExpectedVersion,
		IdempotencyKey:     patch.IdempotencyKey,
		IdempotencyTTL:     r.client.idempotencyTTL(patch.IdempotencyKey, patch.IdempotencyTTL),
		StrictVersionCheck: r.client.strictVersionCheck(patch.StrictVersionCheck),
		Operations:         encodeOperations(operations),
		Relations:          mutations,
		UniqueConstraints:  buildPatchUniqueChecks(&r.descriptor, operations),
	}})
	if err := r.enqueueRelationDeletes(pending, &plan); err != nil {
		return nil, err
	}
	return r.client.executor.Execute(ctx, plan)
}

// PatchValidated fetches the current document, applies the operations in
// memory and validates the result before dispatching the patch.
func (r *Repo[T]) PatchValidated(ctx context.Context, builder *PatchBuilder[T]) ([]map[string]any, error) {
	patch, err := builder.build()
	if err != nil {
		return nil, err
	}
	if len(patch.Operations) > 0 {
		current, err := r.Get(ctx, patch.EntityID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, &NotFoundError{EntityID: patch.EntityID}
		}
		doc, err := encodeEntity(current)
		if err != nil {
			return nil, err
		}
		if err := applyPatchOps(doc, patch.Operations); err != nil {
			return nil, err
		}
		if issues := validateEntity(&r.descriptor, doc); issues != nil {
			return nil, issues
		}
	}
	return r.executePatch(ctx, patch)
}

// preparePatchOperations validates paths against the descriptor, refuses
// id and non-optional deletes, checks assigned values, refreshes
// auto-updated timestamps, and appends enum shadow operations.
func (r *Repo[T]) preparePatchOperations(operations []PatchOp) ([]PatchOp, error) {
	var issues []ValidationIssue
	for _, op := range operations {
		fieldName := fieldFromPath(op.Path)
		field := r.fieldDescriptor(fieldName)
		if field == nil {
			return nil, validationSingle(fieldName, "patch.unknown_field", "field is not defined on entity")
		}
		if field.IsID {
			return nil, validationSingle(fieldName, "patch.immutable_field", "cannot patch identifier field")
		}
		if op.Kind == OpDelete && !field.Optional {
			return nil, validationSingle(fieldName, "patch.non_optional_delete", "field cannot be deleted because it is not optional")
		}
		if op.Kind == OpAssign {
			issues = append(issues, validateFieldValue(field, op.Value)...)
		}
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	prepared := make([]PatchOp, len(operations))
	copy(prepared, operations)

	for i := range r.descriptor.Fields {
		field := &r.descriptor.Fields[i]
		if !field.AutoUpdated {
			continue
		}
		path := "$." + field.Name
		touched := false
		for _, op := range prepared {
			if op.Path == path {
				touched = true
				break
			}
		}
		if touched {
			continue
		}
		now := time.Now().UTC()
		op := Assign(path, now.Format(time.RFC3339Nano))
		if field.DatetimeMirror != "" {
			millis := now.UnixMilli()
			op.Mirror = &DatetimeMirror{Field: field.Name, MirrorField: field.DatetimeMirror, Value: &millis}
		}
		prepared = append(prepared, op)
	}

	prepared = append(prepared, enumTagShadowOps(&r.descriptor, prepared)...)
	return prepared, nil
}

func (r *Repo[T]) fieldDescriptor(name string) *FieldDescriptor {
	for i := range r.descriptor.Fields {
		if r.descriptor.Fields[i].Name == name {
			return &r.descriptor.Fields[i]
		}
	}
	return nil
}

// Delete compiles the cascade tree from registered metadata and executes
// the delete. A nil expectedVersion skips the optimistic check.
func (r *Repo[T]) Delete(ctx context.Context, entityID string, expectedVersion *int64) ([]map[string]any, error) {
	command, err := r.planDelete(entityID, expectedVersion)
	if err != nil {
		return nil, err
	}
	var plan Plan
	plan.push(Command{DeleteEntity: command})
	return r.client.executor.Execute(ctx, plan)
}

func (r *Repo[T]) planDelete(entityID string, expectedVersion *int64) (*EntityDelete, error) {
	keyCtx := r.keyContext()
	cascades, err := deleteCascadesFor(&r.descriptor, keyCtx, entityID)
	if err != nil {
		return nil, err
	}
	return &EntityDelete{
		Key:               keyCtx.Entity(r.descriptor.Collection, entityID),
		ExpectedVersion:   expectedVersion,
		Relations:         cascades,
		UniqueConstraints: uniqueDefinitions(&r.descriptor),
	}, nil
}

// MutateRelations applies standalone relation changes. Only relation sets
// are touched, never documents, except for delete directives under a
// cascading alias.
func (r *Repo[T]) MutateRelations(ctx context.Context, leftID string, plans ...RelationPlan) ([]map[string]any, error) {
	if len(plans) == 0 {
		return nil, nil
	}
	keyCtx := r.keyContext()
	mutations, pending, err := relationMutationsFor(&r.descriptor, keyCtx, leftID, plans)
	if err != nil {
		return nil, err
	}
	var plan Plan
	for i := range mutations {
		plan.push(Command{MutateRelations: &mutations[i]})
	}
	if err := r.enqueueRelationDeletes(pending, &plan); err != nil {
		return nil, err
	}
	if plan.IsEmpty() {
		return nil, nil
	}
	return r.client.executor.Execute(ctx, plan)
}

// UpsertResult reports which branch an upsert took.
type UpsertResult struct {
	Branch   string
	EntityID string
	Version  int64
}

func (u UpsertResult) WasCreated() bool { return u.Branch == "created" }
func (u UpsertResult) WasUpdated() bool { return u.Branch == "updated" }

// Upsert atomically updates the entity named by the update builder, or
// creates the entity described by the create builder when the update
// target is absent. The two may use different ids so a natural-key lookup
// can map to a generated id.
func (r *Repo[T]) Upsert(ctx context.Context, create *CreateBuilder[T], update *PatchBuilder[T]) (UpsertResult, error) {
	createPayload, err := create.build(&r.descriptor)
	if err != nil {
		return UpsertResult{}, err
	}
	updatePatch, err := update.build()
	if err != nil {
		return UpsertResult{}, err
	}

	command, err := r.buildUpsertCommand(createPayload, updatePatch)
	if err != nil {
		return UpsertResult{}, err
	}

	var plan Plan
	plan.push(Command{Upsert: command})
	replies, err := r.client.executor.Execute(ctx, plan)
	if err != nil {
		return UpsertResult{}, err
	}
	if len(replies) == 0 {
		return UpsertResult{}, &ScriptError{Kind: "internal_error", Message: "upsert returned no reply"}
	}
	reply := replies[0]
	branch, _ := reply["branch"].(string)
	if branch != "created" && branch != "updated" {
		return UpsertResult{}, &ScriptError{Kind: "internal_error", Message: "unexpected upsert branch"}
	}
	result := UpsertResult{Branch: branch}
	result.EntityID, _ = reply["entity_id"].(string)
	if version, ok := reply["version"].(float64); ok {
		result.Version = int64(version)
	}
	return result, nil
}

func (r *Repo[T]) buildUpsertCommand(createPayload MutationPayload, updatePatch MutationPatch) (*UpsertCommand, error) {
	keyCtx := r.keyContext()

	doc := createPayload.Payload
	mirrors := createPayload.Mirrors
	overrides := map[string]bool{}
	for _, field := range createPayload.ManagedOverrides {
		overrides[field] = true
	}
	ensureAutoTimestamps(&r.descriptor, doc, &mirrors, overrides)
	ensureMetadata(doc, r.descriptor.SchemaVersion)
	injectEnumTagShadows(&r.descriptor, doc)
	createID := createPayload.EntityID
	if derived, ok := applyDerivedID(&r.descriptor, doc); ok {
		createID = derived
	}
	if createID == "" {
		return nil, validationSingle(r.descriptor.IDField, "missing", "entity id must be present")
	}
	if issues := validateEntity(&r.descriptor, doc); issues != nil {
		return nil, issues
	}

	createRelations, _, err := relationMutationsFor(&r.descriptor, keyCtx, createID, createPayload.Relations)
	if err != nil {
		return nil, err
	}

	updateOperations, err := r.preparePatchOperations(updatePatch.Operations)
	if err != nil {
		return nil, err
	}
	updateRelations, _, err := relationMutationsFor(&r.descriptor, keyCtx, updatePatch.EntityID, updatePatch.Relations)
	if err != nil {
		return nil, err
	}

	idemKey := createPayload.IdempotencyKey
	if idemKey == "" {
		idemKey = updatePatch.IdempotencyKey
	}
	idemTTL := createPayload.IdempotencyTTL
	if idemTTL == nil {
		idemTTL = updatePatch.IdempotencyTTL
	}

	return &UpsertCommand{
		UpdateKey:               keyCtx.Entity(r.descriptor.Collection, updatePatch.EntityID),
		UpdateEntityID:          updatePatch.EntityID,
		CreateKey:               keyCtx.Entity(r.descriptor.Collection, createID),
		CreateEntityID:          createID,
		IdempotencyKey:          idemKey,
		IdempotencyTTL:          r.client.idempotencyTTL(idemKey, idemTTL),
		UpdateOperations:        encodeOperations(updateOperations),
		UpdateRelations:         updateRelations,
		UpdateUniqueConstraints: buildPatchUniqueChecks(&r.descriptor, updateOperations),
		CreatePayloadJSON:       jsonString(doc),
		CreateUniqueConstraints: buildUniqueChecks(&r.descriptor, doc),
		CreateRelations:         createRelations,
		DatetimeMirrors:         mirrors,
	}, nil
}

// GetOrCreateResult carries the entity and which branch was taken.
type GetOrCreateResult[T any] struct {
	Branch string
	Entity T
}

func (g GetOrCreateResult[T]) WasCreated() bool { return g.Branch == "created" }
func (g GetOrCreateResult[T]) WasFound() bool   { return g.Branch == "found" }

// GetOrCreate atomically returns the existing entity or creates it; an
// existing entity is never mutated.
func (r *Repo[T]) GetOrCreate(ctx context.Context, create *CreateBuilder[T]) (GetOrCreateResult[T], error) {
	payload, err := create.build(&r.descriptor)
	if err != nil {
		return GetOrCreateResult[T]{}, err
	}

	doc := payload.Payload
	mirrors := payload.Mirrors
	overrides := map[string]bool{}
	for _, field := range payload.ManagedOverrides {
		overrides[field] = true
	}
	ensureAutoTimestamps(&r.descriptor, doc, &mirrors, overrides)
	ensureMetadata(doc, r.descriptor.SchemaVersion)
	injectEnumTagShadows(&r.descriptor, doc)
	entityID := payload.EntityID
	if derived, ok := applyDerivedID(&r.descriptor, doc); ok {
		entityID = derived
	}
	if entityID == "" {
		return GetOrCreateResult[T]{}, validationSingle(r.descriptor.IDField, "missing", "entity id must be present")
	}
	if issues := validateEntity(&r.descriptor, doc); issues != nil {
		return GetOrCreateResult[T]{}, issues
	}

	keyCtx := r.keyContext()
	relations, _, err := relationMutationsFor(&r.descriptor, keyCtx, entityID, payload.Relations)
	if err != nil {
		return GetOrCreateResult[T]{}, err
	}

	var plan Plan
	plan.push(Command{GetOrCreate: &GetOrCreateCommand{
		EntityKey:         keyCtx.Entity(r.descriptor.Collection, entityID),
		EntityID:          entityID,
		IdempotencyKey:    payload.IdempotencyKey,
		IdempotencyTTL:    r.client.idempotencyTTL(payload.IdempotencyKey, payload.IdempotencyTTL),
		CreatePayloadJSON: jsonString(doc),
		UniqueConstraints: buildUniqueChecks(&r.descriptor, doc),
		Relations:         relations,
		DatetimeMirrors:   mirrors,
	}})
	replies, err := r.client.executor.Execute(ctx, plan)
	if err != nil {
		return GetOrCreateResult[T]{}, err
	}
	if len(replies) == 0 {
		return GetOrCreateResult[T]{}, &ScriptError{Kind: "internal_error", Message: "get_or_create returned no reply"}
	}
	reply := replies[0]
	branch, _ := reply["branch"].(string)
	if branch != "created" && branch != "found" {
		return GetOrCreateResult[T]{}, &ScriptError{Kind: "internal_error", Message: "unexpected get_or_create branch"}
	}

	// JSON.GET with a $ path wraps the document in a one-element array.
	entityValue := reply["entity"]
	if arr, ok := entityValue.([]any); ok && len(arr) > 0 {
		entityValue = arr[0]
	}
	var entity T
	if err := json.Unmarshal([]byte(jsonString(entityValue)), &entity); err != nil {
		return GetOrCreateResult[T]{}, pkgerrors.Wrap(err, "decode entity")
	}
	return GetOrCreateResult[T]{Branch: branch, Entity: entity}, nil
}

// nestedMembershipPlans yields the parent-side relation adds for nested
// child creates, so the parent's forward set is updated within its own
// script invocation.
func nestedMembershipPlans(nested []NestedMutation) []RelationPlan {
	byAlias := map[string]*RelationPlan{}
	var order []string
	for i := range nested {
		id := nested[i].Payload.EntityID
		if id == "" {
			continue
		}
		plan, ok := byAlias[nested[i].Alias]
		if !ok {
			plan = &RelationPlan{Alias: nested[i].Alias}
			byAlias[nested[i].Alias] = plan
			order = append(order, nested[i].Alias)
		}
		plan.Add = append(plan.Add, id)
	}
	plans := make([]RelationPlan, 0, len(order))
	for _, alias := range order {
		plans = append(plans, *byAlias[alias])
	}
	return plans
}

type pendingRelationDelete struct {
	ids              []string
	targetService    string
	targetCollection string
}

// relationMutationsFor resolves relation plans against the descriptor's
// declared aliases, producing the script-level mutations plus the child
// deletes implied by delete directives on cascading aliases.
func relationMutationsFor(descriptor *EntityDescriptor, keyCtx KeyContext, defaultLeft string, plans []RelationPlan) ([]RelationMutation, []pendingRelationDelete, error) {
	var issues []ValidationIssue
	var mutations []RelationMutation
	var pending []pendingRelationDelete

	for _, plan := range plans {
		var relation *RelationDescriptor
		for i := range descriptor.Relations {
			if descriptor.Relations[i].Alias == plan.Alias {
				relation = &descriptor.Relations[i]
				break
			}
		}
		if relation == nil {
			issues = append(issues, ValidationIssue{
				Field:   "relations." + plan.Alias,
				Code:    "relation.unknown_alias",
				Message: "relation alias is not defined on this entity",
			})
			continue
		}

		left := plan.LeftID
		if left == "" {
			left = defaultLeft
		}
		if left == "" {
			issues = append(issues, ValidationIssue{
				Field:   "relations." + plan.Alias,
				Code:    "relation.left_id_missing",
				Message: "left id must be provided",
			})
			continue
		}

		remove := append([]string{}, plan.Remove...)
		remove = append(remove, plan.Delete...)

		if len(plan.Delete) > 0 && relation.Cascade == CascadeDelete {
			service := relation.TargetService
			if service == "" {
				service = descriptor.Service
			}
			pending = append(pending, pendingRelationDelete{
				ids:              plan.Delete,
				targetService:    service,
				targetCollection: relation.Target,
			})
		}

		mutations = append(mutations, RelationMutation{
			RelationKey:     keyCtx.Relation(plan.Alias, left),
			Add:             plan.Add,
			Remove:          remove,
			MaintainReverse: relation.MaintainReverse(),
		})
	}

	if len(issues) > 0 {
		return nil, nil, &ValidationError{Issues: issues}
	}
	return mutations, pending, nil
}

// enqueueRelationDeletes appends full cascade deletes for the targets of
// delete directives. Target descriptors come from the registry so each
// child delete carries its own materialized tree.
func (r *Repo[T]) enqueueRelationDeletes(pending []pendingRelationDelete, plan *Plan) error {
	for _, entry := range pending {
		target, ok := LookupDescriptor(entry.targetService, entry.targetCollection)
		if !ok {
			return invalidRequestf("descriptor for service %q collection %q is not registered",
				entry.targetService, entry.targetCollection)
		}
		childCtx := NewKeyContext(r.client.prefix, entry.targetService)
		for _, id := range entry.ids {
			cascades, err := deleteCascadesFor(&target, childCtx, id)
			if err != nil {
				return err
			}
			plan.push(Command{DeleteEntity: &EntityDelete{
				Key:               childCtx.Entity(target.Collection, id),
				Relations:         cascades,
				UniqueConstraints: uniqueDefinitions(&target),
			}})
		}
	}
	return nil
}
