// Package depgraph builds the dependency graph that scopes are inferred over.
//
// The graph is a multimap from [binding.Key] to the [binding.Declaration]s that produce it. It is built in two steps:
//
//  1. [CollectDeclarations] normalises every module, constructor-injected type and container supplied by a [Source]
//     into declarations. Multibinding contributions are declared against a derived collection key
//     ([binding.SetKey], [binding.MapKey]) so that every contributor to one collection shares a key.
//  2. [Graph.RequiredKeys] computes the closure of keys reachable from the consumers' injection sites and provision
//     methods.
//
// The closure applies the following rules to each key, in order:
//
//  1. Keys whose type contains a type variable are never required.
//  2. A declared key is required, as are all keys its declarations require.
//  3. A built-in wrapper W[T] (eg. Provider[T], Lazy[T]) is not itself required; T is required in its place. The same
//     applies to the value of a map whose values are wrappers, so map[K]Provider[V] requires map[K]V.
//  4. A parameterised type G[A] with no declaration is specialised from a generic constructor-injected type G[T] by
//     substituting A for T throughout its declaration.
//  5. Anything else is missing.
package depgraph
