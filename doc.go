// Package redom is an object mapper for a JSON-and-search-capable
// key-value store. Entities are JSON documents at deterministic keys;
// relations are sets; unique constraints are reservation hashes. Every
// mutation (upsert, patch, delete with cascade, relation changes,
// get-or-create) runs as a single server-side script, which is the unit
// of consistency: version checks, idempotency replay, unique-key
// reservation, reverse-relation bookkeeping and cascading deletion all
// happen inside one atomic invocation.
//
// The client side is a planner: it compiles a declarative payload (an
// entity plus nested connect/disconnect/delete/create directives) into an
// ordered sequence of script invocations, synthesizes ids, and maps
// script errors to typed Go errors. A search compiler translates a small
// filter DSL into the store's query syntax with tokenization-aware
// escaping.
package redom
