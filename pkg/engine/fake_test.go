package engine

import (
	"quiver.io/incremental-query-runtime/pkg/compress"
	"quiver.io/incremental-query-runtime/pkg/pathid"
)

// fakeIndexer is a flat element store: every element exists at the root
// path, values are ignored.
type fakeIndexer struct {
	elems map[ElementID]struct{}
}

func newFakeIndexer(ids ...ElementID) *fakeIndexer {
	f := &fakeIndexer{elems: make(map[ElementID]struct{})}
	for _, id := range ids {
		f.elems[id] = struct{}{}
	}
	return f
}

func (f *fakeIndexer) GetAllMatches(path pathid.PathID) []ElementID {
	out := make([]ElementID, 0, len(f.elems))
	for id := range f.elems {
		out = append(out, id)
	}
	return out
}

func (f *fakeIndexer) LookupValue(id ElementID, path pathid.PathID) (compress.Code, bool) {
	if _, ok := f.elems[id]; ok {
		return compress.UnknownCode, true
	}
	return compress.UnknownCode, false
}

func (f *fakeIndexer) AddQueryCalcToPathNode(l PathNodeListener, path pathid.PathID)      {}
func (f *fakeIndexer) RemoveQueryCalcFromPathNode(l PathNodeListener, path pathid.PathID) {}

// fakeMerge is a minimal merge indexer recording the matches fed into it.
type fakeMerge struct {
	base      Indexer
	matches   map[ElementID]int
	destroyed bool
}

func newFakeMerge(base Indexer) *fakeMerge {
	return &fakeMerge{base: base, matches: make(map[ElementID]int)}
}

func (m *fakeMerge) GetAllMatches(path pathid.PathID) []ElementID {
	out := make([]ElementID, 0, len(m.matches))
	for id := range m.matches {
		out = append(out, id)
	}
	return out
}

func (m *fakeMerge) LookupValue(id ElementID, path pathid.PathID) (compress.Code, bool) {
	if _, ok := m.matches[id]; ok {
		return compress.UnknownCode, true
	}
	return compress.UnknownCode, false
}

func (m *fakeMerge) AddQueryCalcToPathNode(l PathNodeListener, path pathid.PathID)      {}
func (m *fakeMerge) RemoveQueryCalcFromPathNode(l PathNodeListener, path pathid.PathID) {}

func (m *fakeMerge) AddMapping(owner ResultID, projID int, source Indexer, projPath pathid.PathID) {
}
func (m *fakeMerge) RemoveMapping(owner ResultID, projID int) {}

func (m *fakeMerge) AddProjMatches(ids []ElementID, owner ResultID) {
	for _, id := range ids {
		m.matches[id]++
	}
}

func (m *fakeMerge) RemoveProjMatches(ids []ElementID, owner ResultID) {
	for _, id := range ids {
		if m.matches[id] <= 1 {
			delete(m.matches, id)
		} else {
			m.matches[id]--
		}
	}
}

func (m *fakeMerge) Clear()   { m.matches = make(map[ElementID]int) }
func (m *fakeMerge) Destroy() { m.Clear(); m.destroyed = true }

// event is one recorded consumer notification.
type event struct {
	kind  string
	ids   []ElementID
	count int
}

// recorder is a consumer keeping every notification it receives.
type recorder struct {
	events   []event
	replaced int
}

func (r *recorder) AddMatches(ids []ElementID, count int) {
	r.events = append(r.events, event{kind: "add", ids: append([]ElementID(nil), ids...), count: count})
}

func (r *recorder) RemoveMatches(ids []ElementID, count int) {
	r.events = append(r.events, event{kind: "remove", ids: append([]ElementID(nil), ids...), count: count})
}

func (r *recorder) ReplaceIndexerAndPaths(ix Indexer, path pathid.PathID) {
	r.replaced++
}

func (r *recorder) reset() { r.events = nil; r.replaced = 0 }

// current folds the recorded events into the consumer's view of the match
// set.
func (r *recorder) current() map[ElementID]struct{} {
	out := make(map[ElementID]struct{})
	for _, ev := range r.events {
		for _, id := range ev.ids {
			if ev.kind == "add" {
				out[id] = struct{}{}
			} else {
				delete(out, id)
			}
		}
	}
	return out
}

// testProvider is a map-backed calc provider.
type testProvider struct {
	calcs map[int64]QueryCalc
	refs  map[QueryCalc]int
}

func newTestProvider() *testProvider {
	return &testProvider{calcs: make(map[int64]QueryCalc), refs: make(map[QueryCalc]int)}
}

func (p *testProvider) RootCalc(q Query, ix Indexer, path pathid.PathID) QueryCalc {
	if c, ok := p.calcs[q.ID()]; ok {
		p.refs[c]++
		return c
	}
	c := q.NewRootCalc(ix, path)
	p.calcs[q.ID()] = c
	p.refs[c] = 1
	return c
}

func (p *testProvider) ReleaseRootCalc(qc QueryCalc) {
	p.refs[qc]--
	if p.refs[qc] <= 0 {
		delete(p.refs, qc)
		for id, c := range p.calcs {
			if c == qc {
				delete(p.calcs, id)
			}
		}
	}
}
