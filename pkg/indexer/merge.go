package indexer

import (
	"github.com/go-logr/logr"

	"quiver.io/incremental-query-runtime/pkg/compress"
	"quiver.io/incremental-query-runtime/pkg/engine"
	"quiver.io/incremental-query-runtime/pkg/pathid"
)

type mappingKey struct {
	owner  engine.ResultID
	projID int
}

type mapping struct {
	source   engine.Indexer
	projPath pathid.PathID
}

// MergeIndexer materializes the full-match set of one query result on top of
// a base indexer. Downstream calcs register on it instead of on the result
// node itself: they see only the elements in the result, with value lookups
// delegated to the base, translated through the owning result's projection
// mappings when one applies.
type MergeIndexer struct {
	base  engine.Indexer
	paths *pathid.Allocator

	// matches counts, per element, how many owning results contributed
	// it. An element is visible while its count is positive.
	matches  map[engine.ElementID]int
	mappings map[mappingKey]mapping
	calcs    map[pathid.PathID][]engine.PathNodeListener

	log logr.Logger
}

var _ engine.MergeIndexer = &MergeIndexer{}

// NewMergeIndexer returns an empty merge indexer over the given base.
func NewMergeIndexer(base engine.Indexer, paths *pathid.Allocator, log logr.Logger) *MergeIndexer {
	return &MergeIndexer{
		base:     base,
		paths:    paths,
		matches:  make(map[engine.ElementID]int),
		mappings: make(map[mappingKey]mapping),
		calcs:    make(map[pathid.PathID][]engine.PathNodeListener),
		log:      log,
	}
}

// AddMapping installs a projection mapping of the owning result: lookups at
// path p are answered from the mapping's source at projPath+p.
func (m *MergeIndexer) AddMapping(owner engine.ResultID, projID int, source engine.Indexer, projPath pathid.PathID) {
	m.log.V(4).Info("installing projection mapping", "owner", owner, "proj-id", projID, "path", projPath)
	m.mappings[mappingKey{owner: owner, projID: projID}] = mapping{source: source, projPath: projPath}
}

// RemoveMapping removes a projection mapping.
func (m *MergeIndexer) RemoveMapping(owner engine.ResultID, projID int) {
	delete(m.mappings, mappingKey{owner: owner, projID: projID})
}

// AddProjMatches feeds matches of the owning result into the index.
func (m *MergeIndexer) AddProjMatches(ids []engine.ElementID, owner engine.ResultID) {
	for _, id := range ids {
		m.matches[id]++
		if m.matches[id] == 1 {
			m.notifyAdded(id)
		}
	}
}

// RemoveProjMatches removes matches of the owning result.
func (m *MergeIndexer) RemoveProjMatches(ids []engine.ElementID, owner engine.ResultID) {
	for _, id := range ids {
		c, ok := m.matches[id]
		if !ok {
			continue
		}
		if c <= 1 {
			delete(m.matches, id)
			m.notifyRemoved(id)
		} else {
			m.matches[id] = c - 1
		}
	}
}

// GetAllMatches returns the visible elements carrying a value at the given
// path; the root path enumerates the whole match set.
func (m *MergeIndexer) GetAllMatches(path pathid.PathID) []engine.ElementID {
	out := make([]engine.ElementID, 0, len(m.matches))
	for id := range m.matches {
		if path == pathid.RootID {
			out = append(out, id)
			continue
		}
		if _, ok := m.LookupValue(id, path); ok {
			out = append(out, id)
		}
	}
	return out
}

// LookupValue resolves the value a visible element carries at a path,
// delegating to the base indexer or, when a projection mapping applies, to
// the mapping's source under the projected path.
func (m *MergeIndexer) LookupValue(id engine.ElementID, path pathid.PathID) (compress.Code, bool) {
	if _, ok := m.matches[id]; !ok {
		return compress.UnknownCode, false
	}
	for _, mp := range m.mappings {
		if mp.projPath == pathid.InvalidID || mp.projPath == pathid.RootID {
			continue
		}
		src := mp.source
		if src == nil {
			src = m.base
		}
		joined := m.translate(mp.projPath, path)
		if joined == pathid.InvalidID {
			continue
		}
		code, ok := src.LookupValue(id, joined)
		m.paths.Release(joined)
		if ok {
			return code, true
		}
	}
	return m.base.LookupValue(id, path)
}

// translate rebases a lookup path under a projection prefix. The returned
// path id carries one reference the caller must release.
func (m *MergeIndexer) translate(prefix, path pathid.PathID) pathid.PathID {
	if m.paths == nil {
		return pathid.InvalidID
	}
	if path == pathid.RootID {
		// bare prefix; take a reference so release semantics stay
		// uniform
		return m.paths.Allocate(m.paths.PrefixID(prefix), m.paths.LastAttr(prefix))
	}
	attrs := m.paths.Attrs(path)
	if len(attrs) == 0 {
		return pathid.InvalidID
	}
	return m.paths.AllocateFromAttributes(prefix, attrs)
}

// AddQueryCalcToPathNode registers a listener for changes at a path.
func (m *MergeIndexer) AddQueryCalcToPathNode(l engine.PathNodeListener, path pathid.PathID) {
	if l == nil {
		return
	}
	m.calcs[path] = append(m.calcs[path], l)
}

// RemoveQueryCalcFromPathNode drops a previously registered listener.
func (m *MergeIndexer) RemoveQueryCalcFromPathNode(l engine.PathNodeListener, path pathid.PathID) {
	ls := m.calcs[path]
	for i, c := range ls {
		if c == l {
			m.calcs[path] = append(ls[:i], ls[i+1:]...)
			break
		}
	}
	if len(m.calcs[path]) == 0 {
		delete(m.calcs, path)
	}
}

// Clear drops the whole match set, notifying listeners, but keeps
// registrations and mappings.
func (m *MergeIndexer) Clear() {
	m.log.V(4).Info("clearing match set", "matches", len(m.matches))
	ids := make([]engine.ElementID, 0, len(m.matches))
	for id := range m.matches {
		ids = append(ids, id)
	}
	m.matches = make(map[engine.ElementID]int)
	for _, id := range ids {
		m.notifyRemoved(id)
	}
}

// Destroy tears the indexer down.
func (m *MergeIndexer) Destroy() {
	m.log.V(4).Info("destroying merge indexer")
	m.Clear()
	m.mappings = make(map[mappingKey]mapping)
	m.calcs = make(map[pathid.PathID][]engine.PathNodeListener)
}

// Size returns the number of visible elements.
func (m *MergeIndexer) Size() int { return len(m.matches) }

func (m *MergeIndexer) notifyAdded(id engine.ElementID) {
	for path, ls := range m.calcs {
		code, ok := m.LookupValue(id, path)
		if !ok && path != pathid.RootID {
			continue
		}
		snapshot := make([]engine.PathNodeListener, len(ls))
		copy(snapshot, ls)
		for _, l := range snapshot {
			l.ElementAdded(id, code)
		}
	}
}

func (m *MergeIndexer) notifyRemoved(id engine.ElementID) {
	for path, ls := range m.calcs {
		// the element is already gone from the match set; resolve the
		// value straight from the base
		code, ok := m.base.LookupValue(id, path)
		if !ok && path != pathid.RootID {
			continue
		}
		snapshot := make([]engine.PathNodeListener, len(ls))
		copy(snapshot, ls)
		for _, l := range snapshot {
			l.ElementRemoved(id, code)
		}
	}
}
