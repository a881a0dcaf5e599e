// Package qcm hosts the query calculation manager: the single-threaded
// runtime context owning the path allocator, the value compressor, the tree
// indexer and the result-node arena, together with the memoized provider of
// root query calculation nodes.
//
// All mutations of a context must come from one goroutine, or be serialized
// externally; the context never locks. An update cycle ends with Commit,
// which flushes queued match propagation and deferred value releases.
package qcm
