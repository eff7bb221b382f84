package redom

import (
	"strings"
	"time"
)

// ensureAutoTimestamps populates auto-created/auto-updated fields with
// the current wall clock (RFC3339) and their epoch-millis mirrors,
// skipping fields the caller explicitly supplied via overrides.
func ensureAutoTimestamps(descriptor *EntityDescriptor, payload map[string]any, mirrors *[]DatetimeMirror, overrides map[string]bool) {
	for i := range descriptor.Fields {
		field := &descriptor.Fields[i]
		if !field.AutoCreated && !field.AutoUpdated {
			continue
		}
		if overrides[field.Name] {
			continue
		}
		if value, present := payload[field.Name]; present && value != nil {
			if s, ok := value.(string); !ok || s != "" {
				continue
			}
		}

		now := time.Now().UTC()
		payload[field.Name] = now.Format(time.RFC3339Nano)

		if field.DatetimeMirror != "" {
			millis := now.UnixMilli()
			payload[field.DatetimeMirror] = millis

			kept := (*mirrors)[:0]
			for _, mirror := range *mirrors {
				if mirror.Field != field.Name {
					kept = append(kept, mirror)
				}
			}
			*mirrors = append(kept, DatetimeMirror{Field: field.Name, MirrorField: field.DatetimeMirror, Value: &millis})
		}
	}
}

// ensureMetadata guarantees the reserved metadata object with the schema
// placeholder; the scripts own metadata.version.
func ensureMetadata(payload map[string]any, schemaVersion int) {
	meta, ok := payload["metadata"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		payload["metadata"] = meta
	}
	if _, ok := meta["schema"]; !ok {
		meta["schema"] = schemaVersion
	}
	if _, ok := meta["version"]; !ok {
		meta["version"] = 0
	}
}

// injectEnumTagShadows adds a __{field}_tag shadow string for fields
// whose enum values serialize to objects; TAG indexes can only match the
// discriminant. Plain string values shadow as themselves.
func injectEnumTagShadows(descriptor *EntityDescriptor, payload map[string]any) {
	for i := range descriptor.Fields {
		field := &descriptor.Fields[i]
		if !field.NormalizeEnumTag {
			continue
		}
		value, ok := payload[field.Name]
		if !ok {
			continue
		}
		if tag, ok := enumDiscriminant(value); ok {
			payload["__"+field.Name+"_tag"] = tag
		}
	}
}

// enumTagShadowOps mirrors injectEnumTagShadows for patches: every
// assign/delete of a normalized enum field gets a shadow operation.
// Merges keep the discriminant and need none.
func enumTagShadowOps(descriptor *EntityDescriptor, operations []PatchOp) []PatchOp {
	var shadows []PatchOp
	for _, op := range operations {
		fieldName := fieldFromPath(op.Path)
		var field *FieldDescriptor
		for i := range descriptor.Fields {
			if descriptor.Fields[i].Name == fieldName {
				field = &descriptor.Fields[i]
				break
			}
		}
		if field == nil || !field.NormalizeEnumTag {
			continue
		}
		shadowPath := "$.__" + field.Name + "_tag"
		switch op.Kind {
		case OpAssign:
			if tag, ok := enumDiscriminant(op.Value); ok {
				shadows = append(shadows, Assign(shadowPath, tag))
			}
		case OpDelete:
			shadows = append(shadows, Delete(shadowPath))
		}
	}
	return shadows
}

func enumDiscriminant(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case map[string]any:
		for key := range v {
			return key, true
		}
	}
	return "", false
}

// applyDerivedID computes and injects a derived id when the descriptor
// declares one. Empty or missing components leave the payload untouched.
func applyDerivedID(descriptor *EntityDescriptor, payload map[string]any) (string, bool) {
	if descriptor.DerivedID == nil || descriptor.IDField == "" {
		return "", false
	}
	parts := make([]string, 0, len(descriptor.DerivedID.Components))
	for _, component := range descriptor.DerivedID.Components {
		value, ok := payload[component].(string)
		if !ok || value == "" {
			return "", false
		}
		parts = append(parts, value)
	}
	derived := strings.Join(parts, descriptor.DerivedID.Separator)
	payload[descriptor.IDField] = derived
	return derived, true
}

// linkNestedToParent wires each nested child create to its parent: the
// belongs-to foreign key records the parent id, and the child's
// belongs-to relation gains a connect of the parent.
func linkNestedToParent(parent *EntityDescriptor, parentID string, nested []NestedMutation) {
	if len(nested) == 0 {
		return
	}

	for i := range nested {
		child := &nested[i]

		var parentRelation *RelationDescriptor
		for j := range parent.Relations {
			if parent.Relations[j].Alias == child.Alias {
				parentRelation = &parent.Relations[j]
				break
			}
		}
		if parentRelation == nil || parentRelation.Target != child.Descriptor.Collection {
			continue
		}
		expectedService := parentRelation.TargetService
		if expectedService == "" {
			expectedService = parent.Service
		}
		if child.Descriptor.Service != expectedService {
			continue
		}

		var childRelation *RelationDescriptor
		for j := range child.Descriptor.Relations {
			candidate := &child.Descriptor.Relations[j]
			if candidate.Kind != BelongsTo || candidate.Target != parent.Collection {
				continue
			}
			if candidate.TargetService != "" && candidate.TargetService != parent.Service {
				continue
			}
			childRelation = candidate
			break
		}
		if childRelation == nil {
			continue
		}

		foreignKey := parentRelation.ForeignKey
		if foreignKey == "" {
			foreignKey = childRelation.ForeignKey
		}
		if foreignKey != "" {
			child.Payload.Payload[foreignKey] = parentID
		}

		alreadyConnected := false
		for _, plan := range child.Payload.Relations {
			if plan.Alias != childRelation.Alias {
				continue
			}
			for _, id := range plan.Add {
				if id == parentID {
					alreadyConnected = true
					break
				}
			}
		}
		if !alreadyConnected {
			child.Payload.Relations = append(child.Payload.Relations, RelationPlan{
				Alias: childRelation.Alias,
				Add:   []string{parentID},
			})
		}

		if derived, ok := applyDerivedID(&child.Descriptor, child.Payload.Payload); ok {
			child.Payload.EntityID = derived
		}
	}
}

// cascadeSpecsFor walks the registered metadata graph to build the
// delete-time relation spec tree: the entity's own has-many/many-to-many
// relations plus incoming belongs-to relations from other collections.
// Cycles and over-deep chains are rejected.
func cascadeSpecsFor(descriptor *EntityDescriptor, stack []descriptorKey, depth int) ([]CascadeRelationSpec, error) {
	if depth > maxCascadeDepth {
		return nil, invalidRequestf("cascade depth exceeded limit of %d at %s:%s",
			maxCascadeDepth, descriptor.Service, descriptor.Collection)
	}

	self := descriptorKey{service: descriptor.Service, collection: descriptor.Collection}
	stack = append(stack, self)

	var specs []CascadeRelationSpec

	// Own declared relations. A belongs-to cascade describes what happens
	// when the parent dies, not this entity; incoming links cover that.
	for i := range descriptor.Relations {
		relation := &descriptor.Relations[i]
		if relation.Kind == BelongsTo {
			continue
		}

		directive := ""
		switch relation.Cascade {
		case CascadeDelete:
			directive = CascadeDirectiveDelete
		case CascadeDetach:
			directive = CascadeDirectiveDetach
		case CascadeNone:
			// Many-to-many sets keep reverse bookkeeping even without a
			// cascade; the script still scrubs inbound back-links.
			if relation.Kind != ManyToMany {
				continue
			}
			directive = CascadeDirectiveNone
		}

		service := relation.TargetService
		if service == "" {
			service = descriptor.Service
		}

		var children []CascadeRelationSpec
		var targetUniques []UniqueDefinition
		if relation.Cascade == CascadeDelete {
			if stackContains(stack, descriptorKey{service: service, collection: relation.Target}) {
				return nil, invalidRequestf("cycle detected in cascade chain: %s:%s, relation %s -> %s:%s",
					descriptor.Service, descriptor.Collection, relation.Alias, service, relation.Target)
			}
			target, ok := LookupDescriptor(service, relation.Target)
			if !ok {
				return nil, invalidRequestf("descriptor for service %q collection %q is not registered",
					service, relation.Target)
			}
			var err error
			children, err = cascadeSpecsFor(&target, stack, depth+1)
			if err != nil {
				return nil, err
			}
			targetUniques = uniqueDefinitions(&target)
		}

		specs = append(specs, CascadeRelationSpec{
			Alias:                   relation.Alias,
			TargetCollection:        relation.Target,
			TargetService:           relation.TargetService,
			Cascade:                 directive,
			MaintainReverse:         relation.MaintainReverse(),
			ChildRelations:          children,
			TargetUniqueConstraints: targetUniques,
		})
	}

	// Incoming belongs-to relations: children referencing this entity are
	// reachable through the reverse-aliased set.
	for _, incoming := range FindIncomingRelations(descriptor.Service, descriptor.Collection) {
		if incoming.Kind != BelongsTo || incoming.Cascade == CascadeNone {
			continue
		}
		directive := CascadeDirectiveDetach
		if incoming.Cascade == CascadeDelete {
			directive = CascadeDirectiveDelete
		}

		source := descriptorKey{service: incoming.SourceService, collection: incoming.SourceCollection}
		if stackContains(stack, source) {
			return nil, invalidRequestf("cycle detected in cascade chain via belongs_to: %s:%s -> %s:%s",
				descriptor.Service, descriptor.Collection, incoming.SourceService, incoming.SourceCollection)
		}

		var children []CascadeRelationSpec
		var targetUniques []UniqueDefinition
		if incoming.Cascade == CascadeDelete {
			if child, ok := LookupDescriptor(incoming.SourceService, incoming.SourceCollection); ok {
				var err error
				children, err = cascadeSpecsFor(&child, stack, depth+1)
				if err != nil {
					return nil, err
				}
				targetUniques = uniqueDefinitions(&child)
			}
		}

		specs = append(specs, CascadeRelationSpec{
			Alias:                   incoming.Alias + "_reverse",
			TargetCollection:        incoming.SourceCollection,
			TargetService:           incoming.SourceService,
			Cascade:                 directive,
			MaintainReverse:         false,
			ChildRelations:          children,
			TargetUniqueConstraints: targetUniques,
		})
	}

	return specs, nil
}

func stackContains(stack []descriptorKey, key descriptorKey) bool {
	for _, entry := range stack {
		if entry == key {
			return true
		}
	}
	return false
}

// deleteCascadesFor materializes the root-level cascade entries with
// their forward (or reverse, for incoming belongs-to) relation keys.
func deleteCascadesFor(descriptor *EntityDescriptor, keyCtx KeyContext, entityID string) ([]DeleteCascadeRelation, error) {
	specs, err := cascadeSpecsFor(descriptor, nil, 0)
	if err != nil {
		return nil, err
	}

	cascades := make([]DeleteCascadeRelation, 0, len(specs))
	for _, spec := range specs {
		var relationKey string
		if original, ok := strings.CutSuffix(spec.Alias, "_reverse"); ok {
			relationKey = keyCtx.RelationReverse(original, entityID)
		} else {
			relationKey = keyCtx.Relation(spec.Alias, entityID)
		}
		cascades = append(cascades, DeleteCascadeRelation{
			Alias:                   spec.Alias,
			RelationKey:             relationKey,
			TargetCollection:        spec.TargetCollection,
			TargetService:           spec.TargetService,
			Cascade:                 spec.Cascade,
			MaintainReverse:         spec.MaintainReverse,
			ChildRelations:          spec.ChildRelations,
			TargetUniqueConstraints: spec.TargetUniqueConstraints,
		})
	}
	return cascades, nil
}
