package engine

import (
	"quiver.io/incremental-query-runtime/pkg/compress"
	"quiver.io/incremental-query-runtime/pkg/pathid"
)

// ElementID identifies a data element in the underlying indexer.
type ElementID int64

// ResultID identifies a result node for collaborators that report back into
// it (projection match delivery, merge-indexer mappings).
type ResultID int64

// PathNodeListener receives element-level change notifications from an
// indexer path node. Implemented by query calculation nodes.
type PathNodeListener interface {
	ElementAdded(id ElementID, code compress.Code)
	ElementRemoved(id ElementID, code compress.Code)
}

// Indexer is the match/notify surface of the underlying tree indexer. The
// storage engine behind it is outside this package.
type Indexer interface {
	// GetAllMatches returns the ids of all elements carrying a value at
	// the given path.
	GetAllMatches(path pathid.PathID) []ElementID
	// LookupValue returns the compression code of the value an element
	// carries at the given path.
	LookupValue(id ElementID, path pathid.PathID) (compress.Code, bool)
	// AddQueryCalcToPathNode registers a listener for changes at the
	// given path.
	AddQueryCalcToPathNode(l PathNodeListener, path pathid.PathID)
	// RemoveQueryCalcFromPathNode drops a previously registered listener.
	RemoveQueryCalcFromPathNode(l PathNodeListener, path pathid.PathID)
}

// MergeIndexer is the opaque result-indexer collaborator: an auxiliary index
// materializing a result node's match set so that many downstream consumers
// can register on it instead of on the node itself.
type MergeIndexer interface {
	Indexer

	// AddMapping installs a projection mapping of the owning result.
	AddMapping(owner ResultID, projID int, source Indexer, projPath pathid.PathID)
	// RemoveMapping removes a projection mapping.
	RemoveMapping(owner ResultID, projID int)
	// AddProjMatches feeds (projected) matches of the owning result into
	// the index.
	AddProjMatches(ids []ElementID, owner ResultID)
	// RemoveProjMatches removes matches of the owning result.
	RemoveProjMatches(ids []ElementID, owner ResultID)
	// Clear drops all content but keeps registrations.
	Clear()
	// Destroy tears the indexer down.
	Destroy()
}

// ProjMapping describes one generating projection of a query: the mapping
// identifier together with the projected path.
type ProjMapping struct {
	ProjID int
	Path   pathid.PathID
}

// ResultSink is the engine-side receiver a query calculation node delivers
// match deltas into. The count is the weight of the delivering source: the
// number of selections a delivered element is known to satisfy.
type ResultSink interface {
	ID() ResultID
	AddMatches(ids []ElementID, count int)
	RemoveMatches(ids []ElementID, count int)
}

// QueryCalc is the contract of a root query calculation node: the evaluation
// half of one query against one indexer at one path. Implementations live in
// the query-calculation layer; the engine only drives them through this
// interface.
type QueryCalc interface {
	IsSelection() bool
	IsProjection() bool
	// IsCompiled reports whether the calculation node is ready to deliver
	// matches.
	IsCompiled() bool

	// GetMatches returns the current matches of the node's own selection.
	GetMatches() []ElementID
	// GetDomain returns the full set of elements the node evaluates over.
	GetDomain() []ElementID

	// AddProjMatches and RemoveProjMatches push projected matches of the
	// given result through the node's projection.
	AddProjMatches(ids []ElementID, owner ResultID)
	RemoveProjMatches(ids []ElementID, owner ResultID)

	GetIndexer() Indexer
	GetProjectionPathID() pathid.PathID
	GetGeneratingProjMappings() []ProjMapping

	// AttachResult registers a result sink; the node replays its full
	// current match set into the sink and holds one reference per
	// attached sink.
	AttachResult(sink ResultSink)
	// DetachResult drops a sink and its reference; at zero references the
	// node may destroy itself.
	DetachResult(sink ResultSink)

	// Refresh re-registers the node on a new indexer and path without
	// replaying matches; used when a result indexer is spliced in or out
	// underneath.
	Refresh(ix Indexer, path pathid.PathID)
}

// Query is a query description: enough to identify the query and to build a
// root calculation node for it over a given indexer and path. Two query
// values with the same identifier are equivalent by definition and replacing
// one with the other is a no-op on the match set.
type Query interface {
	ID() int64
	IsSelection() bool
	IsProjection() bool
	NewRootCalc(ix Indexer, path pathid.PathID) QueryCalc
}

// CalcProvider hands out root query calculation nodes, memoized per (query,
// indexer, path) combination and reference counted. Requesting a calculation
// node for an equivalent query over the same indexer and path returns the
// existing node.
type CalcProvider interface {
	RootCalc(q Query, ix Indexer, path pathid.PathID) QueryCalc
	ReleaseRootCalc(qc QueryCalc)
}

// Consumer is an external consumer composed with a result node: it receives
// the node's full-match deltas and structural notifications.
type Consumer interface {
	AddMatches(ids []ElementID, count int)
	RemoveMatches(ids []ElementID, count int)
	// ReplaceIndexerAndPaths tells the consumer that the node's matches
	// are now served by a different indexer, with the same content.
	ReplaceIndexerAndPaths(ix Indexer, path pathid.PathID)
}

// Collector is the optional metrics sink injected into the arena.
type Collector interface {
	// ObservePropagationDepth reports the call depth of one propagation
	// cascade. Recursion depth is the engine's health metric: it is
	// bounded only by how deeply the application nests non-selecting
	// composed queries.
	ObservePropagationDepth(depth int)
	// SetResultNodes reports the number of live result nodes.
	SetResultNodes(n int)
}
