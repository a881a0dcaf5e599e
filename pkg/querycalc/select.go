package querycalc

import (
	"quiver.io/incremental-query-runtime/pkg/compress"
	"quiver.io/incremental-query-runtime/pkg/engine"
	"quiver.io/incremental-query-runtime/pkg/pathid"
)

// SelectQuery selects elements whose value at a relative path satisfies a
// matcher.
type SelectQuery struct {
	id      int64
	relPath pathid.PathID
	matcher Matcher
}

var _ engine.Query = &SelectQuery{}

// NewSelectQuery builds a selection over the value at relPath. The path id
// is interpreted relative to the path the query is evaluated at.
func NewSelectQuery(id int64, relPath pathid.PathID, m Matcher) *SelectQuery {
	return &SelectQuery{id: id, relPath: relPath, matcher: m}
}

func (q *SelectQuery) ID() int64          { return q.id }
func (q *SelectQuery) IsSelection() bool  { return true }
func (q *SelectQuery) IsProjection() bool { return false }

// NewRootCalc evaluates the query over an indexer. The calc registers on the
// indexer's path node and keeps its match set current until the last sink
// detaches.
func (q *SelectQuery) NewRootCalc(ix engine.Indexer, path pathid.PathID) engine.QueryCalc {
	c := &selectCalc{
		query:   q,
		matches: make(map[engine.ElementID]struct{}),
		sinks:   make(map[engine.ResultSink]struct{}),
	}
	c.bind(ix, path)
	return c
}

// selectCalc is the root query calculation node of a selection.
type selectCalc struct {
	query *SelectQuery
	ix    engine.Indexer
	path  pathid.PathID

	matches map[engine.ElementID]struct{}
	sinks   map[engine.ResultSink]struct{}
}

var (
	_ engine.QueryCalc        = &selectCalc{}
	_ engine.PathNodeListener = &selectCalc{}
)

// bind registers the calc on an indexer and computes the initial match set
// without notifying anyone.
func (c *selectCalc) bind(ix engine.Indexer, path pathid.PathID) {
	c.ix = ix
	c.path = c.watchPath(path)
	c.matches = make(map[engine.ElementID]struct{})
	if ix == nil {
		return
	}
	for _, id := range ix.GetAllMatches(c.path) {
		if code, ok := ix.LookupValue(id, c.path); ok && c.query.matcher.Matches(code) {
			c.matches[id] = struct{}{}
		}
	}
	ix.AddQueryCalcToPathNode(c, c.path)
}

// watchPath resolves the absolute path the calc listens at. Lookup paths in
// the runtime are pre-joined by the caller, so evaluation at the root keeps
// the query's relative path as is.
func (c *selectCalc) watchPath(at pathid.PathID) pathid.PathID {
	if at == pathid.InvalidID || at == pathid.RootID {
		return c.query.relPath
	}
	return at
}

func (c *selectCalc) IsSelection() bool  { return true }
func (c *selectCalc) IsProjection() bool { return false }
func (c *selectCalc) IsCompiled() bool   { return c.ix != nil }

func (c *selectCalc) GetMatches() []engine.ElementID {
	out := make([]engine.ElementID, 0, len(c.matches))
	for id := range c.matches {
		out = append(out, id)
	}
	return out
}

func (c *selectCalc) GetDomain() []engine.ElementID {
	if c.ix == nil {
		return nil
	}
	return c.ix.GetAllMatches(pathid.RootID)
}

func (c *selectCalc) AddProjMatches(ids []engine.ElementID, owner engine.ResultID)    {}
func (c *selectCalc) RemoveProjMatches(ids []engine.ElementID, owner engine.ResultID) {}

func (c *selectCalc) GetIndexer() engine.Indexer                      { return c.ix }
func (c *selectCalc) GetProjectionPathID() pathid.PathID              { return pathid.InvalidID }
func (c *selectCalc) GetGeneratingProjMappings() []engine.ProjMapping { return nil }

func (c *selectCalc) AttachResult(sink engine.ResultSink) {
	if sink == nil {
		return
	}
	c.sinks[sink] = struct{}{}
	if ids := c.GetMatches(); len(ids) > 0 {
		sink.AddMatches(ids, 1)
	}
}

func (c *selectCalc) DetachResult(sink engine.ResultSink) {
	delete(c.sinks, sink)
	if len(c.sinks) == 0 && c.ix != nil {
		c.ix.RemoveQueryCalcFromPathNode(c, c.path)
		c.ix = nil
	}
}

// Refresh re-registers the calc on a new indexer and recomputes the match
// set silently. Used when a result indexer is spliced in or out underneath;
// matches surviving the swap must not generate notifications.
func (c *selectCalc) Refresh(ix engine.Indexer, path pathid.PathID) {
	if c.ix != nil {
		c.ix.RemoveQueryCalcFromPathNode(c, c.path)
	}
	c.bind(ix, path)
}

// ElementAdded implements the path node listener: a value appeared at the
// watched path.
func (c *selectCalc) ElementAdded(id engine.ElementID, code compress.Code) {
	if !c.query.matcher.Matches(code) {
		return
	}
	if _, ok := c.matches[id]; ok {
		return
	}
	c.matches[id] = struct{}{}
	for s := range c.sinks {
		s.AddMatches([]engine.ElementID{id}, 1)
	}
}

// ElementRemoved implements the path node listener: a value disappeared from
// the watched path.
func (c *selectCalc) ElementRemoved(id engine.ElementID, code compress.Code) {
	if _, ok := c.matches[id]; !ok {
		return
	}
	delete(c.matches, id)
	for s := range c.sinks {
		s.RemoveMatches([]engine.ElementID{id}, 1)
	}
}
