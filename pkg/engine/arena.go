package engine

import (
	"github.com/go-logr/logr"

	"quiver.io/incremental-query-runtime/pkg/pathid"
)

// Kind discriminates the concrete result-node kinds held in the arena.
type Kind int

const (
	// KindQuery is a full query result node: a query composed with a data
	// source, maintaining the match-count table.
	KindQuery Kind = iota
	// KindPassthrough is a degenerate node with no query of its own: it
	// relays matches unchanged and contributes a single match count to
	// chains built on top of it.
	KindPassthrough
)

// Handle addresses a result node in the arena. The zero Handle is invalid.
// Handles are generation checked: a handle left over from a destroyed node
// never resolves, even if the slot is reused.
type Handle struct {
	index uint32
	gen   uint32
}

// Valid reports whether the handle could address a node (it may still be
// stale; the arena checks the generation on every access).
func (h Handle) Valid() bool { return h.index != 0 }

// node is the arena-internal state of one result node. Fields referencing
// other nodes store handles, never pointers; the arena's slot table is the
// single source of truth for node lifetime.
type node struct {
	gen   uint32
	inUse bool

	kind Kind
	id   ResultID

	query    Query
	rootCalc QueryCalc
	// calcSink is the sink registered with rootCalc; DetachResult must be
	// handed the identical value.
	calcSink *sink

	// dataObj points down the composition chain: the node's data source
	// when it is another result node. srcIndexer/srcPath are set instead
	// when the node is fed by an indexer directly.
	dataObj    Handle
	srcIndexer Indexer
	srcPath    pathid.PathID

	// composed holds the result nodes whose dataObj is this node;
	// consumers holds the external (non-query) consumers composed with
	// it.
	composed  map[Handle]struct{}
	consumers map[Consumer]struct{}

	// dominating points up the chain at the nearest active ancestor
	// accumulating this node's contribution while the node itself is
	// active* but not active.
	dominating Handle

	matchCount     int
	projMatchCount int

	// matches exists iff matchCount > 1. It counts, per element, the
	// contributing selections; an element is a full match iff its count
	// equals matchCount.
	matches map[ElementID]int

	pureProjection bool
	resultIndexer  MergeIndexer

	activeStar bool
	active     bool
	// activating marks activation in progress: incoming match updates are
	// queued on the pending buffer instead of being applied.
	activating bool

	pendingDestroy bool
}

// Arena owns all result nodes and the machinery propagating match deltas
// between them.
type Arena struct {
	nodes []node
	free  []uint32

	provider CalcProvider
	// newMergeIndexer builds result indexers on demand.
	newMergeIndexer func(source Indexer) MergeIndexer

	pending *pendingOps

	nextResultID ResultID

	log     logr.Logger
	metrics Collector

	depth    int
	maxDepth int

	// busy counts nested structural operations; queued match updates are
	// flushed when the outermost one finishes.
	busy int
}

// NewArena returns an empty arena. The merge-indexer factory may be nil if
// result indexers are never inserted; the collector may be nil.
func NewArena(provider CalcProvider, newMergeIndexer func(Indexer) MergeIndexer, metrics Collector, log logr.Logger) *Arena {
	return &Arena{
		nodes:           make([]node, 1), // slot 0 reserved: zero Handle is invalid
		provider:        provider,
		newMergeIndexer: newMergeIndexer,
		pending:         newPendingOps(),
		nextResultID:    1,
		log:             log,
		metrics:         metrics,
	}
}

// NewResult creates a fresh result node of the given kind and returns its
// handle.
func (a *Arena) NewResult(kind Kind) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.nodes = append(a.nodes, node{})
		idx = uint32(len(a.nodes) - 1)
	}
	slot := &a.nodes[idx]
	gen := slot.gen + 1
	*slot = node{
		gen:       gen,
		inUse:     true,
		kind:      kind,
		id:        a.nextResultID,
		composed:  make(map[Handle]struct{}),
		consumers: make(map[Consumer]struct{}),
	}
	a.nextResultID++
	a.reportNodeCount()
	return Handle{index: idx, gen: gen}
}

// get resolves a handle, returning nil for the zero handle and for stale
// generations.
func (a *Arena) get(h Handle) *node {
	if h.index == 0 || int(h.index) >= len(a.nodes) {
		return nil
	}
	n := &a.nodes[h.index]
	if !n.inUse || n.gen != h.gen {
		return nil
	}
	return n
}

// ResultOf returns the result id of a node, 0 for a dead handle.
func (a *Arena) ResultOf(h Handle) ResultID {
	n := a.get(h)
	if n == nil {
		return 0
	}
	return n.id
}

// Kind returns the kind of a node.
func (a *Arena) Kind(h Handle) (Kind, bool) {
	n := a.get(h)
	if n == nil {
		return 0, false
	}
	return n.kind, true
}

// IsActive reports whether the node owns its authoritative match table.
func (a *Arena) IsActive(h Handle) bool {
	n := a.get(h)
	return n != nil && n.active
}

// IsActiveStar reports whether the node participates in propagation at all
// (it is active, or its contribution flows through a dominating ancestor).
func (a *Arena) IsActiveStar(h Handle) bool {
	n := a.get(h)
	return n != nil && n.activeStar
}

// MatchCount returns the node's required match-count threshold.
func (a *Arena) MatchCount(h Handle) int {
	n := a.get(h)
	if n == nil {
		return 0
	}
	return n.matchCount
}

// Size returns the number of live result nodes.
func (a *Arena) Size() int {
	live := 0
	for i := 1; i < len(a.nodes); i++ {
		if a.nodes[i].inUse {
			live++
		}
	}
	return live
}

func (a *Arena) reportNodeCount() {
	if a.metrics != nil {
		a.metrics.SetResultNodes(a.Size())
	}
}

// enter/leave bracket one level of the propagation cascade and track its
// depth for the health metric.
func (a *Arena) enter() {
	a.depth++
	if a.depth > a.maxDepth {
		a.maxDepth = a.depth
		if a.metrics != nil {
			a.metrics.ObservePropagationDepth(a.maxDepth)
		}
	}
}

func (a *Arena) leave() { a.depth-- }

// begin/finish bracket one structural operation. Nested operations share a
// single flush point so match replays never outrun pointer rewiring.
func (a *Arena) begin() { a.busy++ }

func (a *Arena) finish() {
	a.busy--
	if a.busy == 0 {
		a.Flush()
	}
}

// sink is the per-node adapter handed to query calculation nodes.
type sink struct {
	arena  *Arena
	handle Handle
	result ResultID
}

func (s *sink) ID() ResultID { return s.result }

func (s *sink) AddMatches(ids []ElementID, count int) {
	s.arena.addMatches(s.handle, ids, count)
}

func (s *sink) RemoveMatches(ids []ElementID, count int) {
	s.arena.removeMatches(s.handle, ids, count)
}

func (a *Arena) sinkFor(h Handle) *sink {
	return &sink{arena: a, handle: h, result: a.ResultOf(h)}
}
