// Package engine implements incremental query result maintenance: given a
// chain of composed selection and projection queries over an indexed
// tree-structured dataset, it keeps every query's live result set up to date
// as the data changes, as queries are added, removed or replaced, and as the
// chain itself is restructured, without recomputing result sets from scratch
// when that is avoidable.
//
// Result nodes live in an arena and are addressed by generation-checked
// handles. Each node composes a query with a data source, which is either
// another result node or an indexer directly. A node is active when it owns
// the authoritative table counting, per element, how many selections along
// its dominated data-source chain the element currently satisfies; an
// element is a full match exactly when its count reaches the node's match
// count threshold. Inactive nodes on a chain forward their contributions to
// the nearest active dominating ancestor, so the work done per data change
// is proportional to the change, not to the result.
//
// The query-calculation layer and the indexer are collaborators reached
// through the interfaces in this package; the engine never inspects their
// concrete types.
//
// Everything here runs on a single logical thread of control; propagation is
// a synchronous cascade of calls that completes before the triggering
// operation returns. Updates arriving while a node is mid-restructure are
// queued on a per-cycle pending buffer and applied at the explicit commit
// point.
package engine
