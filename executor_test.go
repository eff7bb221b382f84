package redom

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScripter answers script invocations from a canned reply list and
// records every payload it saw.
type fakeScripter struct {
	replies  []string
	payloads []string
}

func (f *fakeScripter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	if len(args) > 0 {
		if payload, ok := args[0].(string); ok {
			f.payloads = append(f.payloads, payload)
		}
	}
	if len(f.payloads) > len(f.replies) {
		cmd.SetErr(errors.New("no canned reply"))
		return cmd
	}
	cmd.SetVal(f.replies[len(f.payloads)-1])
	return cmd
}

// noScriptError stands in for the server's NOSCRIPT reply. go-redis only
// falls back from EVALSHA to EVAL for errors that implement redis.Error.
type noScriptError struct{}

func (noScriptError) Error() string { return "NOSCRIPT No matching script. Please use EVAL." }
func (noScriptError) RedisError()   {}

func (f *fakeScripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	cmd.SetErr(noScriptError{})
	return cmd
}

func (f *fakeScripter) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeScripter) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, sha1, keys, args...)
}

func (f *fakeScripter) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	cmd := redis.NewBoolSliceCmd(ctx)
	cmd.SetVal(make([]bool, len(hashes)))
	return cmd
}

func (f *fakeScripter) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal("sha")
	return cmd
}

func newTestClient(fake *fakeScripter) *Client {
	client := NewClient(nil, "snug")
	client.executor = NewExecutor(fake, nil)
	return client
}

func TestExecutorDispatchesEnvelopes(t *testing.T) {
	fake := &fakeScripter{replies: []string{
		`{"ok":true,"version":1,"entity_id":"g1"}`,
		`{"ok":true}`,
	}}
	executor := NewExecutor(fake, nil)

	var plan Plan
	plan.push(Command{UpsertEntity: &EntityMutation{
		Key:         "snug:guild:guilds:g1",
		EntityID:    "g1",
		PayloadJSON: `{"guild_id":"g1"}`,
	}})
	plan.push(Command{MutateRelations: &RelationMutation{
		RelationKey: "snug:guild:rel:members:g1",
		Add:         []string{"m1"},
	}})

	replies, err := executor.Execute(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, "g1", replies[0]["entity_id"])

	require.Len(t, fake.payloads, 2)
	var first map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(fake.payloads[0]), &first))
	_, hasUpsert := first["upsert_entity"]
	assert.True(t, hasUpsert)
	var second map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(fake.payloads[1]), &second))
	_, hasMutate := second["mutate_relations"]
	assert.True(t, hasMutate)
}

func TestExecutorStopsAtFirstFailure(t *testing.T) {
	fake := &fakeScripter{replies: []string{
		`{"error":"version_conflict","expected":1,"actual":2}`,
		`{"ok":true}`,
	}}
	executor := NewExecutor(fake, nil)

	var plan Plan
	plan.push(Command{PatchEntity: &EntityPatch{Key: "k", EntityID: "e"}})
	plan.push(Command{MutateRelations: &RelationMutation{RelationKey: "r"}})

	_, err := executor.Execute(context.Background(), plan)
	require.Error(t, err)
	assert.Len(t, fake.payloads, 1)

	var conflict *VersionConflictError
	require.ErrorAs(t, err, &conflict)
	require.NotNil(t, conflict.Expected)
	require.NotNil(t, conflict.Actual)
	assert.Equal(t, int64(1), *conflict.Expected)
	assert.Equal(t, int64(2), *conflict.Actual)
}

func TestDecodeScriptErrorKinds(t *testing.T) {
	err := decodeScriptError("entity_not_found", map[string]any{"error": "entity_not_found", "entity_id": "g1"})
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "g1", notFound.EntityID)

	err = decodeScriptError("unique_constraint_violation", map[string]any{
		"error":              "unique_constraint_violation",
		"fields":             []any{"email"},
		"values":             []any{"a@x"},
		"existing_entity_id": "u1",
	})
	var unique *UniqueConstraintError
	require.ErrorAs(t, err, &unique)
	assert.Equal(t, []string{"email"}, unique.Fields)
	assert.Equal(t, []string{"a@x"}, unique.Values)
	assert.Equal(t, "u1", unique.ExistingEntityID)

	err = decodeScriptError("version_read_failed", map[string]any{"error": "version_read_failed"})
	var script *ScriptError
	require.ErrorAs(t, err, &script)
	assert.Equal(t, "version_read_failed", script.Kind)

	err = decodeScriptError("unknown_operation", map[string]any{"error": "unknown_operation", "message": "bump"})
	require.ErrorAs(t, err, &script)
	assert.Equal(t, "unknown_operation", script.Kind)
	assert.Equal(t, "bump", script.Message)
}

func TestErrorMatching(t *testing.T) {
	assert.ErrorIs(t, &VersionConflictError{}, &VersionConflictError{})
	assert.ErrorIs(t, &NotFoundError{EntityID: "x"}, &NotFoundError{})
	assert.ErrorIs(t, &UniqueConstraintError{}, &UniqueConstraintError{})
	assert.ErrorIs(t, &ScriptError{Kind: "version_read_failed"}, &ScriptError{Kind: "version_read_failed"})
	assert.NotErrorIs(t, &ScriptError{Kind: "a"}, &ScriptError{Kind: "b"})
	assert.NotErrorIs(t, &NotFoundError{}, &VersionConflictError{})
}
