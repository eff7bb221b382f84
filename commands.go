package redom

import (
	"github.com/redis/go-redis/v9"
)

// Command envelopes. Every script accepts a single JSON argument whose
// top-level key selects the command; exactly one field of Command is set.

// RelationMutation is both the standalone mutate_relations envelope and
// the relation entry nested inside the entity scripts.
type RelationMutation struct {
	RelationKey     string   `json:"relation_key"`
	Add             []string `json:"add,omitempty"`
	Remove          []string `json:"remove,omitempty"`
	MaintainReverse bool     `json:"maintain_reverse,omitempty"`
}

// UniqueCheck carries a constraint definition plus the evaluated values,
// aligned with Fields. Null values in a patch mean "read from the entity".
type UniqueCheck struct {
	Fields          []string `json:"fields"`
	CaseInsensitive bool     `json:"case_insensitive,omitempty"`
	Values          []any    `json:"values"`
}

// UniqueDefinition is a constraint without values; the delete script
// reads the lookup components from the stored document.
type UniqueDefinition struct {
	Fields          []string `json:"fields"`
	CaseInsensitive bool     `json:"case_insensitive,omitempty"`
}

// Patch operation types understood by the scripts.
const (
	OpAssign    = "assign"
	OpMerge     = "merge"
	OpDelete    = "delete"
	OpIncrement = "increment"
)

// PatchOperationPayload is one per-field operation in a patch or upsert
// envelope. ValueJSON carries the operand for assign/merge; Value carries
// the numeric amount for increment.
type PatchOperationPayload struct {
	Path      string          `json:"path"`
	Type      string          `json:"type"`
	ValueJSON string          `json:"value_json,omitempty"`
	Value     float64         `json:"value,omitempty"`
	Mirror    *DatetimeMirror `json:"mirror,omitempty"`
}

// EntityMutation is the upsert_entity envelope: a full-document write
// with a known intent.
type EntityMutation struct {
	Key               string             `json:"key"`
	ExpectedVersion   *int64             `json:"expected_version,omitempty"`
	IdempotencyKey    string             `json:"idempotency_key,omitempty"`
	IdempotencyTTL    *int64             `json:"idempotency_ttl,omitempty"`
	PayloadJSON       string             `json:"payload_json"`
	EntityID          string             `json:"entity_id"`
	UniqueConstraints []UniqueCheck      `json:"unique_constraints,omitempty"`
	Relations         []RelationMutation `json:"relations,omitempty"`
	DatetimeMirrors   []DatetimeMirror   `json:"datetime_mirrors,omitempty"`
}

// EntityPatch is the patch_entity envelope.
type EntityPatch struct {
	Key                string                  `json:"key"`
	EntityID           string                  `json:"entity_id"`
	ExpectedVersion    *int64                  `json:"expected_version,omitempty"`
	IdempotencyKey     string                  `json:"idempotency_key,omitempty"`
	IdempotencyTTL     *int64                  `json:"idempotency_ttl,omitempty"`
	StrictVersionCheck bool                    `json:"strict_version_check,omitempty"`
	Operations         []PatchOperationPayload `json:"operations"`
	Relations          []RelationMutation      `json:"relations,omitempty"`
	UniqueConstraints  []UniqueCheck           `json:"unique_constraints,omitempty"`
}

// CascadeRelationSpec is a node of the delete cascade tree below the
// root. Relation keys are composed inside the script from the member ids
// discovered while walking.
type CascadeRelationSpec struct {
	Alias                   string                `json:"alias"`
	TargetCollection        string                `json:"target_collection,omitempty"`
	TargetService           string                `json:"target_service,omitempty"`
	Cascade                 string                `json:"cascade"`
	MaintainReverse         bool                  `json:"maintain_reverse,omitempty"`
	ChildRelations          []CascadeRelationSpec `json:"child_relations,omitempty"`
	TargetUniqueConstraints []UniqueDefinition    `json:"target_unique_constraints,omitempty"`
}

// DeleteCascadeRelation is a root-level cascade entry with its forward
// relation key precomputed by the planner.
type DeleteCascadeRelation struct {
	Alias                   string                `json:"alias"`
	RelationKey             string                `json:"relation_key"`
	TargetCollection        string                `json:"target_collection,omitempty"`
	TargetService           string                `json:"target_service,omitempty"`
	Cascade                 string                `json:"cascade"`
	MaintainReverse         bool                  `json:"maintain_reverse,omitempty"`
	ChildRelations          []CascadeRelationSpec `json:"child_relations,omitempty"`
	TargetUniqueConstraints []UniqueDefinition    `json:"target_unique_constraints,omitempty"`
}

// Cascade directive names on the wire.
const (
	CascadeDirectiveDelete = "delete_dependents"
	CascadeDirectiveDetach = "detach_dependents"
	CascadeDirectiveNone   = "none"
)

// EntityDelete is the delete_entity envelope.
type EntityDelete struct {
	Key               string                  `json:"key"`
	ExpectedVersion   *int64                  `json:"expected_version,omitempty"`
	Relations         []DeleteCascadeRelation `json:"relations,omitempty"`
	UniqueConstraints []UniqueDefinition      `json:"unique_constraints,omitempty"`
}

// UpsertCommand is the upsert envelope: existence-branching update or
// create, where the create key may differ from the update key.
type UpsertCommand struct {
	UpdateKey               string                  `json:"update_key"`
	UpdateEntityID          string                  `json:"update_entity_id"`
	CreateKey               string                  `json:"create_key"`
	CreateEntityID          string                  `json:"create_entity_id"`
	IdempotencyKey          string                  `json:"idempotency_key,omitempty"`
	IdempotencyTTL          *int64                  `json:"idempotency_ttl,omitempty"`
	UpdateOperations        []PatchOperationPayload `json:"update_operations,omitempty"`
	UpdateRelations         []RelationMutation      `json:"update_relations,omitempty"`
	UpdateUniqueConstraints []UniqueCheck           `json:"update_unique_constraints,omitempty"`
	CreatePayloadJSON       string                  `json:"create_payload_json"`
	CreateUniqueConstraints []UniqueCheck           `json:"create_unique_constraints,omitempty"`
	CreateRelations         []RelationMutation      `json:"create_relations,omitempty"`
	DatetimeMirrors         []DatetimeMirror        `json:"datetime_mirrors,omitempty"`
}

// GetOrCreateCommand is the get_or_create envelope.
type GetOrCreateCommand struct {
	EntityKey         string             `json:"entity_key"`
	EntityID          string             `json:"entity_id"`
	IdempotencyKey    string             `json:"idempotency_key,omitempty"`
	IdempotencyTTL    *int64             `json:"idempotency_ttl,omitempty"`
	CreatePayloadJSON string             `json:"create_payload_json"`
	UniqueConstraints []UniqueCheck      `json:"unique_constraints,omitempty"`
	Relations         []RelationMutation `json:"relations,omitempty"`
	DatetimeMirrors   []DatetimeMirror   `json:"datetime_mirrors,omitempty"`
}

// Command is the envelope union. Exactly one field is non-nil.
type Command struct {
	UpsertEntity    *EntityMutation     `json:"upsert_entity,omitempty"`
	PatchEntity     *EntityPatch        `json:"patch_entity,omitempty"`
	DeleteEntity    *EntityDelete       `json:"delete_entity,omitempty"`
	MutateRelations *RelationMutation   `json:"mutate_relations,omitempty"`
	Upsert          *UpsertCommand      `json:"upsert,omitempty"`
	GetOrCreate     *GetOrCreateCommand `json:"get_or_create,omitempty"`
}

// Kind names the command for logs and spans.
func (c Command) Kind() string {
	switch {
	case c.UpsertEntity != nil:
		return "upsert_entity"
	case c.PatchEntity != nil:
		return "patch_entity"
	case c.DeleteEntity != nil:
		return "delete_entity"
	case c.MutateRelations != nil:
		return "mutate_relations"
	case c.Upsert != nil:
		return "upsert"
	case c.GetOrCreate != nil:
		return "get_or_create"
	}
	return "unknown"
}

func (c Command) script() *redis.Script {
	switch {
	case c.UpsertEntity != nil:
		return entityUpsertScript
	case c.PatchEntity != nil:
		return entityPatchScript
	case c.DeleteEntity != nil:
		return entityDeleteScript
	case c.MutateRelations != nil:
		return relationMutationScript
	case c.Upsert != nil:
		return entityMergeScript
	case c.GetOrCreate != nil:
		return entityGetOrCreateScript
	}
	return nil
}

// Plan is an ordered sequence of script invocations deriving from one
// declarative payload. Failures leave later commands unapplied but never
// partially applied.
type Plan struct {
	Commands []Command
}

func (p *Plan) push(c Command) {
	p.Commands = append(p.Commands, c)
}

func (p *Plan) IsEmpty() bool {
	return len(p.Commands) == 0
}

// buildUniqueChecks extracts the constraint values for every declared
// unique constraint from a payload object. Missing fields become nulls,
// which disable enforcement for that row.
func buildUniqueChecks(descriptor *EntityDescriptor, payload map[string]any) []UniqueCheck {
	if len(descriptor.UniqueConstraints) == 0 {
		return nil
	}
	checks := make([]UniqueCheck, 0, len(descriptor.UniqueConstraints))
	for _, constraint := range descriptor.UniqueConstraints {
		values := make([]any, 0, len(constraint.Fields))
		for _, field := range constraint.Fields {
			values = append(values, payload[field])
		}
		checks = append(checks, UniqueCheck{
			Fields:          constraint.Fields,
			CaseInsensitive: constraint.CaseInsensitive,
			Values:          values,
		})
	}
	return checks
}

// buildPatchUniqueChecks returns checks only for constraints touched by
// an assign or delete operation, with deleted and untouched component
// values left null so the script falls back to the stored document.
func buildPatchUniqueChecks(descriptor *EntityDescriptor, operations []PatchOp) []UniqueCheck {
	patched := map[string]any{}
	for _, op := range operations {
		field := fieldFromPath(op.Path)
		if field == "" {
			continue
		}
		switch op.Kind {
		case OpAssign:
			patched[field] = op.Value
		case OpDelete:
			patched[field] = nil
		}
	}
	if len(patched) == 0 {
		return nil
	}

	var checks []UniqueCheck
	for _, constraint := range descriptor.UniqueConstraints {
		touched := false
		values := make([]any, 0, len(constraint.Fields))
		for _, field := range constraint.Fields {
			if value, ok := patched[field]; ok {
				touched = true
				values = append(values, value)
			} else {
				values = append(values, nil)
			}
		}
		if touched {
			checks = append(checks, UniqueCheck{
				Fields:          constraint.Fields,
				CaseInsensitive: constraint.CaseInsensitive,
				Values:          values,
			})
		}
	}
	return checks
}

// uniqueDefinitions lists every registered constraint of a descriptor for
// delete-time release.
func uniqueDefinitions(descriptor *EntityDescriptor) []UniqueDefinition {
	if len(descriptor.UniqueConstraints) == 0 {
		return nil
	}
	defs := make([]UniqueDefinition, 0, len(descriptor.UniqueConstraints))
	for _, constraint := range descriptor.UniqueConstraints {
		defs = append(defs, UniqueDefinition{
			Fields:          constraint.Fields,
			CaseInsensitive: constraint.CaseInsensitive,
		})
	}
	return defs
}

// fieldFromPath extracts the top-level field name from a "$.field" path.
func fieldFromPath(path string) string {
	if len(path) >= 2 && path[0] == '$' && path[1] == '.' {
		return path[2:]
	}
	if len(path) >= 1 && path[0] == '$' {
		return ""
	}
	return path
}

func encodeOperations(operations []PatchOp) []PatchOperationPayload {
	if len(operations) == 0 {
		return nil
	}
	payloads := make([]PatchOperationPayload, 0, len(operations))
	for _, op := range operations {
		payload := PatchOperationPayload{
			Path:   op.Path,
			Type:   op.Kind,
			Mirror: op.Mirror,
		}
		switch op.Kind {
		case OpAssign, OpMerge:
			payload.ValueJSON = jsonString(op.Value)
		case OpIncrement:
			payload.Value = toFloat(op.Value)
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
