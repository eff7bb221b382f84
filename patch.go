package redom

import "strings"

// PatchOp is one client-side per-field operation before encoding.
// Value holds the assign/merge operand or the increment amount.
type PatchOp struct {
	Path   string
	Kind   string
	Value  any
	Mirror *DatetimeMirror
}

// Assign replaces the value at path.
func Assign(path string, value any) PatchOp {
	return PatchOp{Path: path, Kind: OpAssign, Value: value}
}

// Merge structurally merges value into the node at path.
func Merge(path string, value any) PatchOp {
	return PatchOp{Path: path, Kind: OpMerge, Value: value}
}

// Delete removes the node at path.
func Delete(path string) PatchOp {
	return PatchOp{Path: path, Kind: OpDelete}
}

// Increment adds amount to the number at path.
func Increment(path string, amount float64) PatchOp {
	return PatchOp{Path: path, Kind: OpIncrement, Value: amount}
}

// applyPatchOps applies operations to an in-memory document. Used for
// the pre-flight validation preview; the authoritative application
// happens inside the script.
func applyPatchOps(target map[string]any, operations []PatchOp) error {
	for _, op := range operations {
		segments := pathSegments(op.Path)
		if len(segments) == 0 {
			continue
		}
		switch op.Kind {
		case OpAssign:
			parent, err := parentObject(target, segments[:len(segments)-1])
			if err != nil {
				return err
			}
			parent[segments[len(segments)-1]] = op.Value
		case OpMerge:
			parent, err := parentObject(target, segments[:len(segments)-1])
			if err != nil {
				return err
			}
			name := segments[len(segments)-1]
			existing, ok := parent[name]
			if !ok {
				parent[name] = op.Value
				continue
			}
			parent[name] = mergeValues(existing, op.Value)
		case OpDelete:
			parent, err := parentObject(target, segments[:len(segments)-1])
			if err != nil {
				return err
			}
			delete(parent, segments[len(segments)-1])
		case OpIncrement:
			parent, err := parentObject(target, segments[:len(segments)-1])
			if err != nil {
				return err
			}
			name := segments[len(segments)-1]
			current, _ := parent[name].(float64)
			parent[name] = current + toFloat(op.Value)
		default:
			return &ScriptError{Kind: "unknown_operation", Message: op.Kind}
		}
	}
	return nil
}

// mergeValues merges patch into existing: objects merge recursively,
// everything else is replaced.
func mergeValues(existing, patch any) any {
	existingMap, existingOK := existing.(map[string]any)
	patchMap, patchOK := patch.(map[string]any)
	if !existingOK || !patchOK {
		return patch
	}
	for key, value := range patchMap {
		if current, ok := existingMap[key]; ok {
			existingMap[key] = mergeValues(current, value)
		} else {
			existingMap[key] = value
		}
	}
	return existingMap
}

func pathSegments(path string) []string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return nil
	}
	raw := strings.Split(path, ".")
	segments := make([]string, 0, len(raw))
	for _, segment := range raw {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}

func parentObject(target map[string]any, segments []string) (map[string]any, error) {
	current := target
	for _, segment := range segments {
		next, ok := current[segment]
		if !ok {
			child := map[string]any{}
			current[segment] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return nil, validationSingle(segment, "patch.invalid_path", "expected object while traversing patch path")
		}
		current = child
	}
	return current, nil
}
