package redom

import (
	"sync"
)

type descriptorKey struct {
	service    string
	collection string
}

var (
	registryMu sync.RWMutex
	registry   = map[descriptorKey]EntityDescriptor{}
)

// RegisterDescriptor publishes an entity descriptor. Registration is
// idempotent; the latest descriptor for a service/collection pair wins.
func RegisterDescriptor(d EntityDescriptor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[descriptorKey{service: d.Service, collection: d.Collection}] = d
}

// Register publishes the descriptor of a model type.
func Register[T Model]() {
	var zero T
	RegisterDescriptor(zero.EntityDescriptor())
}

// LookupDescriptor returns the registered descriptor for a
// service/collection pair.
func LookupDescriptor(service, collection string) (EntityDescriptor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[descriptorKey{service: service, collection: collection}]
	return d, ok
}

// IncomingRelation describes a relation on another entity that points at
// a given target collection. Used to materialize delete cascades: when an
// entity dies, children holding belongs-to links into it must be found.
type IncomingRelation struct {
	SourceService    string
	SourceCollection string
	Alias            string
	Kind             RelationKind
	Cascade          CascadePolicy
	ForeignKey       string
}

// FindIncomingRelations scans the registry for relations targeting the
// given service/collection.
func FindIncomingRelations(targetService, targetCollection string) []IncomingRelation {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var incoming []IncomingRelation
	for key, descriptor := range registry {
		for _, relation := range descriptor.Relations {
			service := relation.TargetService
			if service == "" {
				service = descriptor.Service
			}
			if service != targetService || relation.Target != targetCollection {
				continue
			}
			incoming = append(incoming, IncomingRelation{
				SourceService:    key.service,
				SourceCollection: key.collection,
				Alias:            relation.Alias,
				Kind:             relation.Kind,
				Cascade:          relation.Cascade,
				ForeignKey:       relation.ForeignKey,
			})
		}
	}
	return incoming
}

// resetRegistry clears all registrations. Test hook.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = map[descriptorKey]EntityDescriptor{}
}
