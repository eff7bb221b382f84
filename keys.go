package redom

import "fmt"

// KeyContext builds the canonical colon-delimited keys for one service.
// All scripts assume this layout; changing it requires changing the Lua
// side in lockstep.
type KeyContext struct {
	Prefix  string
	Service string
}

func NewKeyContext(prefix, service string) KeyContext {
	return KeyContext{Prefix: prefix, Service: service}
}

// Entity returns the JSON document key for an entity.
func (k KeyContext) Entity(collection, entityID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Prefix, k.Service, collection, entityID)
}

// CollectionPattern returns a glob matching every entity in a collection.
// Useful for test cleanup or batch operations.
func (k KeyContext) CollectionPattern(collection string) string {
	return fmt.Sprintf("%s:%s:%s:*", k.Prefix, k.Service, collection)
}

// ServicePattern returns a glob matching every key owned by this service,
// entities and auxiliary keys alike.
func (k KeyContext) ServicePattern() string {
	return fmt.Sprintf("%s:%s:*", k.Prefix, k.Service)
}

// Relation returns the forward relation set key.
func (k KeyContext) Relation(alias, leftID string) string {
	return fmt.Sprintf("%s:%s:rel:%s:%s", k.Prefix, k.Service, alias, leftID)
}

// RelationReverse returns the reverse relation set key. It only exists for
// relations that maintain reverse bookkeeping.
func (k KeyContext) RelationReverse(alias, rightID string) string {
	return fmt.Sprintf("%s:%s:rel:%s_reverse:%s", k.Prefix, k.Service, alias, rightID)
}

// Unique returns the hash key holding single-field unique reservations.
func (k KeyContext) Unique(collection, field string) string {
	return fmt.Sprintf("%s:%s:%s:unique:%s", k.Prefix, k.Service, collection, field)
}

// UniqueCompound returns the hash key holding compound unique reservations.
// Fields are joined with underscores in declaration order.
func (k KeyContext) UniqueCompound(collection string, fields []string) string {
	joined := ""
	for i, f := range fields {
		if i > 0 {
			joined += "_"
		}
		joined += f
	}
	return fmt.Sprintf("%s:%s:%s:unique_compound:%s", k.Prefix, k.Service, collection, joined)
}

// IdempotencyEntity returns the per-entity idempotency slot for a key.
func IdempotencyEntity(entityKey, idempotencyKey string) string {
	return fmt.Sprintf("%s:idempotency:%s", entityKey, idempotencyKey)
}

// IdempotencyService returns the per-service idempotency slot.
func (k KeyContext) IdempotencyService(idempotencyKey string) string {
	return fmt.Sprintf("%s:%s:idempotency:%s", k.Prefix, k.Service, idempotencyKey)
}
