package indexer

import (
	"github.com/go-logr/logr"

	"quiver.io/incremental-query-runtime/pkg/compress"
	"quiver.io/incremental-query-runtime/pkg/engine"
	"quiver.io/incremental-query-runtime/pkg/pathid"
)

// pathNode holds the per-path state of the tree indexer: the value each
// element carries at the path and the calcs listening for changes there.
type pathNode struct {
	values map[engine.ElementID]compress.Code
	calcs  []engine.PathNodeListener
}

func newPathNode() *pathNode {
	return &pathNode{values: make(map[engine.ElementID]compress.Code)}
}

func (pn *pathNode) empty() bool {
	return len(pn.values) == 0 && len(pn.calcs) == 0
}

// TreeIndexer is the primary indexer of the runtime. Elements are flat ids;
// each carries compression codes at interned path ids. The root path node
// tracks element existence, so querying the root path enumerates every
// indexed element.
type TreeIndexer struct {
	paths  *pathid.Allocator
	values *compress.Compressor

	nodes map[pathid.PathID]*pathNode
	// elemPaths is the reverse index: the non-root paths each element
	// carries a value at. The allocator reference held for a path is
	// released when its last value disappears.
	elemPaths map[engine.ElementID]map[pathid.PathID]struct{}

	log logr.Logger
}

var _ engine.Indexer = &TreeIndexer{}

// NewTreeIndexer returns an empty indexer over the given path allocator and
// value compressor.
func NewTreeIndexer(paths *pathid.Allocator, values *compress.Compressor, log logr.Logger) *TreeIndexer {
	t := &TreeIndexer{
		paths:     paths,
		values:    values,
		nodes:     make(map[pathid.PathID]*pathNode),
		elemPaths: make(map[engine.ElementID]map[pathid.PathID]struct{}),
		log:       log,
	}
	t.nodes[pathid.RootID] = newPathNode()
	return t
}

func (t *TreeIndexer) node(path pathid.PathID) *pathNode {
	pn, ok := t.nodes[path]
	if !ok {
		pn = newPathNode()
		t.nodes[path] = pn
	}
	return pn
}

// SetValue stores the value code an element carries at a path, replacing any
// previous one. Listeners at the path see a remove of the old code followed
// by an add of the new one.
func (t *TreeIndexer) SetValue(id engine.ElementID, path pathid.PathID, code compress.Code) {
	if path == pathid.InvalidID {
		return
	}
	pn := t.node(path)
	old, had := pn.values[id]
	if had && old == code {
		return
	}
	if had {
		t.log.V(5).Info("replacing value", "element", id, "path", path)
		t.notifyRemoved(pn, id, old)
	}
	pn.values[id] = code
	if !had && path != pathid.RootID {
		ep, ok := t.elemPaths[id]
		if !ok {
			ep = make(map[pathid.PathID]struct{})
			t.elemPaths[id] = ep
			t.addPresence(id)
		}
		ep[path] = struct{}{}
	}
	t.notifyAdded(pn, id, code)
}

// RemoveValue drops the value an element carries at a path.
func (t *TreeIndexer) RemoveValue(id engine.ElementID, path pathid.PathID) {
	pn, ok := t.nodes[path]
	if !ok {
		return
	}
	old, had := pn.values[id]
	if !had {
		return
	}
	delete(pn.values, id)
	t.notifyRemoved(pn, id, old)
	if pn.empty() && path != pathid.RootID {
		delete(t.nodes, path)
	}
	if path == pathid.RootID {
		return
	}
	if ep, ok := t.elemPaths[id]; ok {
		delete(ep, path)
		if len(ep) == 0 {
			delete(t.elemPaths, id)
			t.removePresence(id)
		}
	}
}

// RemoveElement drops an element with all its values.
func (t *TreeIndexer) RemoveElement(id engine.ElementID) {
	ep := t.elemPaths[id]
	t.log.V(4).Info("removing element", "element", id, "values", len(ep))
	for path := range ep {
		t.RemoveValue(id, path)
	}
	// presence marker, if the element only ever existed at the root
	if pn, ok := t.nodes[pathid.RootID]; ok {
		if old, had := pn.values[id]; had {
			delete(pn.values, id)
			t.notifyRemoved(pn, id, old)
		}
	}
}

// addPresence marks the element as existing at the root path node.
func (t *TreeIndexer) addPresence(id engine.ElementID) {
	pn := t.node(pathid.RootID)
	if _, had := pn.values[id]; had {
		return
	}
	pn.values[id] = compress.UnknownCode
	t.notifyAdded(pn, id, compress.UnknownCode)
}

func (t *TreeIndexer) removePresence(id engine.ElementID) {
	pn, ok := t.nodes[pathid.RootID]
	if !ok {
		return
	}
	old, had := pn.values[id]
	if !had {
		return
	}
	delete(pn.values, id)
	t.notifyRemoved(pn, id, old)
}

// GetAllMatches returns the ids carrying a value at the given path. The root
// path enumerates all indexed elements.
func (t *TreeIndexer) GetAllMatches(path pathid.PathID) []engine.ElementID {
	pn, ok := t.nodes[path]
	if !ok {
		return nil
	}
	out := make([]engine.ElementID, 0, len(pn.values))
	for id := range pn.values {
		out = append(out, id)
	}
	return out
}

// LookupValue returns the code an element carries at a path.
func (t *TreeIndexer) LookupValue(id engine.ElementID, path pathid.PathID) (compress.Code, bool) {
	pn, ok := t.nodes[path]
	if !ok {
		return compress.UnknownCode, false
	}
	code, ok := pn.values[id]
	return code, ok
}

// AddQueryCalcToPathNode registers a listener for changes at a path.
func (t *TreeIndexer) AddQueryCalcToPathNode(l engine.PathNodeListener, path pathid.PathID) {
	if l == nil {
		return
	}
	pn := t.node(path)
	pn.calcs = append(pn.calcs, l)
}

// RemoveQueryCalcFromPathNode drops a previously registered listener.
func (t *TreeIndexer) RemoveQueryCalcFromPathNode(l engine.PathNodeListener, path pathid.PathID) {
	pn, ok := t.nodes[path]
	if !ok {
		return
	}
	for i, c := range pn.calcs {
		if c == l {
			pn.calcs = append(pn.calcs[:i], pn.calcs[i+1:]...)
			break
		}
	}
	if pn.empty() && path != pathid.RootID {
		delete(t.nodes, path)
	}
}

// ElementPaths returns the non-root paths an element carries values at.
func (t *TreeIndexer) ElementPaths(id engine.ElementID) []pathid.PathID {
	ep := t.elemPaths[id]
	out := make([]pathid.PathID, 0, len(ep))
	for path := range ep {
		out = append(out, path)
	}
	return out
}

// Size returns the number of indexed elements.
func (t *TreeIndexer) Size() int {
	pn, ok := t.nodes[pathid.RootID]
	if !ok {
		return 0
	}
	return len(pn.values)
}

func (t *TreeIndexer) notifyAdded(pn *pathNode, id engine.ElementID, code compress.Code) {
	// a listener may unregister while being notified
	calcs := make([]engine.PathNodeListener, len(pn.calcs))
	copy(calcs, pn.calcs)
	for _, c := range calcs {
		c.ElementAdded(id, code)
	}
}

func (t *TreeIndexer) notifyRemoved(pn *pathNode, id engine.ElementID, code compress.Code) {
	calcs := make([]engine.PathNodeListener, len(pn.calcs))
	copy(calcs, pn.calcs)
	for _, c := range calcs {
		c.ElementRemoved(id, code)
	}
}
