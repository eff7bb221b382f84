package redom

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAutoTimestamps(t *testing.T) {
	descriptor := EntityDescriptor{
		Fields: []FieldDescriptor{
			{Name: "created_at", Type: FieldDateTime, AutoCreated: true, DatetimeMirror: "created_at_ts"},
			{Name: "updated_at", Type: FieldDateTime, AutoUpdated: true},
		},
	}

	payload := map[string]any{}
	var mirrors []DatetimeMirror
	ensureAutoTimestamps(&descriptor, payload, &mirrors, nil)

	created, ok := payload["created_at"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339Nano, created)
	require.NoError(t, err)
	assert.NotNil(t, payload["created_at_ts"])
	assert.NotEmpty(t, payload["updated_at"])

	require.Len(t, mirrors, 1)
	assert.Equal(t, "created_at", mirrors[0].Field)
	assert.Equal(t, "created_at_ts", mirrors[0].MirrorField)
}

func TestEnsureAutoTimestampsRespectsOverridesAndValues(t *testing.T) {
	descriptor := EntityDescriptor{
		Fields: []FieldDescriptor{
			{Name: "created_at", Type: FieldDateTime, AutoCreated: true},
		},
	}

	payload := map[string]any{"created_at": "2023-01-01T00:00:00Z"}
	var mirrors []DatetimeMirror
	ensureAutoTimestamps(&descriptor, payload, &mirrors, nil)
	assert.Equal(t, "2023-01-01T00:00:00Z", payload["created_at"])

	payload = map[string]any{}
	ensureAutoTimestamps(&descriptor, payload, &mirrors, map[string]bool{"created_at": true})
	_, present := payload["created_at"]
	assert.False(t, present)
}

func TestEnsureMetadata(t *testing.T) {
	payload := map[string]any{}
	ensureMetadata(payload, 3)
	meta := payload["metadata"].(map[string]any)
	assert.Equal(t, 3, meta["schema"])
	assert.Equal(t, 0, meta["version"])

	// Existing metadata keeps its values.
	payload = map[string]any{"metadata": map[string]any{"schema": 1, "version": 7}}
	ensureMetadata(payload, 3)
	meta = payload["metadata"].(map[string]any)
	assert.Equal(t, 1, meta["schema"])
	assert.Equal(t, 7, meta["version"])
}

func TestInjectEnumTagShadows(t *testing.T) {
	descriptor := EntityDescriptor{
		Fields: []FieldDescriptor{
			{Name: "format", Type: FieldObject, NormalizeEnumTag: true},
			{Name: "status", Type: FieldString, NormalizeEnumTag: true},
			{Name: "plain", Type: FieldString},
		},
	}

	payload := map[string]any{
		"format": map[string]any{"swiss": map[string]any{"rounds": 6}},
		"status": "open",
		"plain":  "x",
	}
	injectEnumTagShadows(&descriptor, payload)

	assert.Equal(t, "swiss", payload["__format_tag"])
	assert.Equal(t, "open", payload["__status_tag"])
	_, shadowed := payload["__plain_tag"]
	assert.False(t, shadowed)
}

func TestEnumTagShadowOps(t *testing.T) {
	descriptor := EntityDescriptor{
		Fields: []FieldDescriptor{
			{Name: "format", Type: FieldObject, NormalizeEnumTag: true},
		},
	}

	shadows := enumTagShadowOps(&descriptor, []PatchOp{Assign("$.format", map[string]any{"single_elim": map[string]any{}})})
	require.Len(t, shadows, 1)
	assert.Equal(t, "$.__format_tag", shadows[0].Path)
	assert.Equal(t, "single_elim", shadows[0].Value)

	shadows = enumTagShadowOps(&descriptor, []PatchOp{Delete("$.format")})
	require.Len(t, shadows, 1)
	assert.Equal(t, OpDelete, shadows[0].Kind)

	// Merges keep the discriminant.
	shadows = enumTagShadowOps(&descriptor, []PatchOp{Merge("$.format", map[string]any{"rounds": 8})})
	assert.Empty(t, shadows)
}

func TestApplyDerivedID(t *testing.T) {
	descriptor := EntityDescriptor{
		IDField:   "id",
		DerivedID: &DerivedID{Separator: "::", Components: []string{"tenant", "name"}},
	}

	payload := map[string]any{"tenant": "t1", "name": "alpha"}
	derived, ok := applyDerivedID(&descriptor, payload)
	require.True(t, ok)
	assert.Equal(t, "t1::alpha", derived)
	assert.Equal(t, "t1::alpha", payload["id"])

	payload = map[string]any{"tenant": "t1"}
	_, ok = applyDerivedID(&descriptor, payload)
	assert.False(t, ok)
}

func TestLinkNestedToParent(t *testing.T) {
	parent := testGuild{}.EntityDescriptor()
	child := testMember{}.EntityDescriptor()

	nested := []NestedMutation{{
		Alias:      "guild_members",
		Descriptor: child,
		Payload: MutationPayload{
			EntityID: "m1",
			Payload:  map[string]any{"member_id": "m1", "role": "tank"},
		},
	}}

	linkNestedToParent(&parent, "g1", nested)

	assert.Equal(t, "g1", nested[0].Payload.Payload["guild_id"])
	require.Len(t, nested[0].Payload.Relations, 1)
	assert.Equal(t, "guild", nested[0].Payload.Relations[0].Alias)
	assert.Equal(t, []string{"g1"}, nested[0].Payload.Relations[0].Add)

	// Linking twice does not duplicate the connect.
	linkNestedToParent(&parent, "g1", nested)
	require.Len(t, nested[0].Payload.Relations, 1)
	assert.Equal(t, []string{"g1"}, nested[0].Payload.Relations[0].Add)
}

func TestLinkNestedToParentSkipsForeignAliases(t *testing.T) {
	parent := testGuild{}.EntityDescriptor()
	child := testMember{}.EntityDescriptor()

	nested := []NestedMutation{{
		Alias:      "unrelated",
		Descriptor: child,
		Payload:    MutationPayload{EntityID: "m1", Payload: map[string]any{"member_id": "m1"}},
	}}
	linkNestedToParent(&parent, "g1", nested)
	_, linked := nested[0].Payload.Payload["guild_id"]
	assert.False(t, linked)
	assert.Empty(t, nested[0].Payload.Relations)
}
