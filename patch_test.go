package redom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPatchOpsAssign(t *testing.T) {
	doc := map[string]any{"name": "old"}
	require.NoError(t, applyPatchOps(doc, []PatchOp{Assign("$.name", "new")}))
	assert.Equal(t, "new", doc["name"])
}

func TestApplyPatchOpsNestedAssignCreatesPath(t *testing.T) {
	doc := map[string]any{}
	require.NoError(t, applyPatchOps(doc, []PatchOp{Assign("$.settings.theme", "dark")}))
	settings := doc["settings"].(map[string]any)
	assert.Equal(t, "dark", settings["theme"])
}

func TestApplyPatchOpsMerge(t *testing.T) {
	doc := map[string]any{
		"settings": map[string]any{"theme": "dark", "limits": map[string]any{"max": float64(5)}},
	}
	require.NoError(t, applyPatchOps(doc, []PatchOp{
		Merge("$.settings", map[string]any{"lang": "en", "limits": map[string]any{"min": float64(1)}}),
	}))
	settings := doc["settings"].(map[string]any)
	assert.Equal(t, "dark", settings["theme"])
	assert.Equal(t, "en", settings["lang"])
	limits := settings["limits"].(map[string]any)
	assert.Equal(t, float64(5), limits["max"])
	assert.Equal(t, float64(1), limits["min"])
}

func TestApplyPatchOpsMergeReplacesScalars(t *testing.T) {
	doc := map[string]any{"name": "old"}
	require.NoError(t, applyPatchOps(doc, []PatchOp{Merge("$.name", "new")}))
	assert.Equal(t, "new", doc["name"])
}

func TestApplyPatchOpsDelete(t *testing.T) {
	doc := map[string]any{"name": "x", "slug": "y"}
	require.NoError(t, applyPatchOps(doc, []PatchOp{Delete("$.slug")}))
	_, present := doc["slug"]
	assert.False(t, present)
}

func TestApplyPatchOpsIncrement(t *testing.T) {
	doc := map[string]any{"count": float64(2)}
	require.NoError(t, applyPatchOps(doc, []PatchOp{Increment("$.count", 3)}))
	assert.Equal(t, float64(5), doc["count"])

	// Missing target counts from zero.
	require.NoError(t, applyPatchOps(doc, []PatchOp{Increment("$.other", 1.5)}))
	assert.Equal(t, 1.5, doc["other"])
}

func TestApplyPatchOpsInvalidPath(t *testing.T) {
	doc := map[string]any{"name": "x"}
	err := applyPatchOps(doc, []PatchOp{Assign("$.name.inner", "y")})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "patch.invalid_path", validation.Issues[0].Code)
}

func TestApplyPatchOpsUnknownKind(t *testing.T) {
	doc := map[string]any{}
	err := applyPatchOps(doc, []PatchOp{{Path: "$.x", Kind: "bump"}})
	var script *ScriptError
	require.ErrorAs(t, err, &script)
	assert.Equal(t, "unknown_operation", script.Kind)
}

func TestEncodeOperations(t *testing.T) {
	millis := int64(1700000000000)
	ops := []PatchOp{
		Assign("$.name", "x"),
		Merge("$.settings", map[string]any{"a": 1}),
		Delete("$.slug"),
		Increment("$.count", 2.5),
		{Path: "$.updated_at", Kind: OpAssign, Value: "2023-01-01T00:00:00Z",
			Mirror: &DatetimeMirror{Field: "updated_at", MirrorField: "updated_at_ts", Value: &millis}},
	}

	payloads := encodeOperations(ops)
	require.Len(t, payloads, 5)
	assert.Equal(t, `"x"`, payloads[0].ValueJSON)
	assert.Equal(t, OpMerge, payloads[1].Type)
	assert.JSONEq(t, `{"a":1}`, payloads[1].ValueJSON)
	assert.Equal(t, OpDelete, payloads[2].Type)
	assert.Empty(t, payloads[2].ValueJSON)
	assert.Equal(t, 2.5, payloads[3].Value)
	require.NotNil(t, payloads[4].Mirror)
	assert.Equal(t, "updated_at_ts", payloads[4].Mirror.MirrorField)
}

func TestFieldFromPath(t *testing.T) {
	assert.Equal(t, "name", fieldFromPath("$.name"))
	assert.Equal(t, "name", fieldFromPath("name"))
	assert.Equal(t, "", fieldFromPath("$"))
}
