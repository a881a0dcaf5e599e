// Package indexer provides the storage side of the query runtime: a tree
// indexer holding, per element, the compressed values it carries at interned
// paths, and a merge indexer materializing the match set of a single query
// result for downstream composition.
//
// Both indexers notify registered query calculation nodes incrementally on
// every change; neither keeps history.
package indexer
