package redom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyContextLayout(t *testing.T) {
	ctx := NewKeyContext("snug", "svc")

	assert.Equal(t, "snug:svc:users:abc", ctx.Entity("users", "abc"))
	assert.Equal(t, "snug:svc:users:*", ctx.CollectionPattern("users"))
	assert.Equal(t, "snug:svc:*", ctx.ServicePattern())
	assert.Equal(t, "snug:svc:rel:members:g1", ctx.Relation("members", "g1"))
	assert.Equal(t, "snug:svc:rel:members_reverse:m1", ctx.RelationReverse("members", "m1"))
}

func TestKeyContextUniqueKeys(t *testing.T) {
	ctx := NewKeyContext("snug", "svc")

	assert.Equal(t, "snug:svc:users:unique:email", ctx.Unique("users", "email"))
	assert.Equal(t, "snug:svc:projects:unique_compound:tenant_id_name",
		ctx.UniqueCompound("projects", []string{"tenant_id", "name"}))
}

func TestIdempotencySlots(t *testing.T) {
	ctx := NewKeyContext("snug", "svc")

	assert.Equal(t, "snug:svc:users:abc:idempotency:k1", IdempotencyEntity(ctx.Entity("users", "abc"), "k1"))
	assert.Equal(t, "snug:svc:idempotency:k1", ctx.IdempotencyService("k1"))
}
