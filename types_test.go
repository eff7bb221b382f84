package redom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelationMaintainReverse(t *testing.T) {
	assert.False(t, RelationDescriptor{Kind: HasMany, Cascade: CascadeDelete}.MaintainReverse())
	assert.True(t, RelationDescriptor{Kind: ManyToMany}.MaintainReverse())
	assert.True(t, RelationDescriptor{Kind: BelongsTo, Cascade: CascadeDelete}.MaintainReverse())
	assert.True(t, RelationDescriptor{Kind: BelongsTo, Cascade: CascadeDetach}.MaintainReverse())
	assert.False(t, RelationDescriptor{Kind: BelongsTo, Cascade: CascadeNone}.MaintainReverse())
}

func TestUniqueConstraintCompound(t *testing.T) {
	assert.False(t, UniqueConstraint{Fields: []string{"email"}}.IsCompound())
	assert.True(t, UniqueConstraint{Fields: []string{"tenant", "name"}}.IsCompound())
}

func TestRelationQueryOptionsLimits(t *testing.T) {
	assert.Equal(t, DefaultRelationLimit, RelationQueryOptions{}.EffectiveLimit())
	assert.Equal(t, 10, RelationQueryOptions{Limit: 10}.EffectiveLimit())
	assert.Equal(t, MaxRelationLimit, RelationQueryOptions{Limit: 5000}.EffectiveLimit())
}

func TestRelationQueryOptionsParseSort(t *testing.T) {
	field, order, ok := RelationQueryOptions{Sort: "-joined_at"}.ParseSort()
	assert.True(t, ok)
	assert.Equal(t, "joined_at", field)
	assert.Equal(t, SortDesc, order)

	field, order, ok = RelationQueryOptions{Sort: "role"}.ParseSort()
	assert.True(t, ok)
	assert.Equal(t, "role", field)
	assert.Equal(t, SortAsc, order)

	_, _, ok = RelationQueryOptions{}.ParseSort()
	assert.False(t, ok)
}
