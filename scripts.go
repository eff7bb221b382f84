package redom

import (
	_ "embed"

	"github.com/redis/go-redis/v9"
)

//go:embed lua/entity_upsert.lua
var entityUpsertBody string

//go:embed lua/entity_patch.lua
var entityPatchBody string

//go:embed lua/entity_delete.lua
var entityDeleteBody string

//go:embed lua/relation_mutation.lua
var relationMutationBody string

//go:embed lua/entity_merge.lua
var entityMergeBody string

//go:embed lua/entity_get_or_create.lua
var entityGetOrCreateBody string

var (
	entityUpsertScript      = redis.NewScript(entityUpsertBody)
	entityPatchScript       = redis.NewScript(entityPatchBody)
	entityDeleteScript      = redis.NewScript(entityDeleteBody)
	relationMutationScript  = redis.NewScript(relationMutationBody)
	entityMergeScript       = redis.NewScript(entityMergeBody)
	entityGetOrCreateScript = redis.NewScript(entityGetOrCreateBody)
)
