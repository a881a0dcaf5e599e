package engine

import (
	"quiver.io/incremental-query-runtime/pkg/pathid"
)

// IDQuery selects an explicitly maintained set of element ids. Ids can be
// added and removed while result nodes are composed with the query; the
// changes propagate incrementally through every calc built from it.
type IDQuery struct {
	id        int64
	ids       map[ElementID]struct{}
	calcs     map[*idQueryCalc]struct{}
	destroyed bool
}

// NewIDQuery returns an empty id query with the given query identifier.
func NewIDQuery(id int64) *IDQuery {
	return &IDQuery{
		id:    id,
		ids:   make(map[ElementID]struct{}),
		calcs: make(map[*idQueryCalc]struct{}),
	}
}

func (q *IDQuery) ID() int64          { return q.id }
func (q *IDQuery) IsSelection() bool  { return true }
func (q *IDQuery) IsProjection() bool { return false }

// NewRootCalc builds a calc evaluating this query over the given indexer.
func (q *IDQuery) NewRootCalc(ix Indexer, path pathid.PathID) QueryCalc {
	c := &idQueryCalc{
		query: q,
		ix:    ix,
		path:  path,
		sinks: make(map[ResultSink]struct{}),
	}
	q.calcs[c] = struct{}{}
	return c
}

// Add inserts ids into the query's match set and notifies all live calcs.
func (q *IDQuery) Add(ids ...ElementID) {
	var fresh []ElementID
	for _, id := range ids {
		if _, ok := q.ids[id]; ok {
			continue
		}
		q.ids[id] = struct{}{}
		fresh = append(fresh, id)
	}
	if len(fresh) == 0 {
		return
	}
	for c := range q.calcs {
		c.notifyAdd(fresh)
	}
}

// Remove drops ids from the query's match set and notifies all live calcs.
func (q *IDQuery) Remove(ids ...ElementID) {
	var gone []ElementID
	for _, id := range ids {
		if _, ok := q.ids[id]; !ok {
			continue
		}
		delete(q.ids, id)
		gone = append(gone, id)
	}
	if len(gone) == 0 {
		return
	}
	for c := range q.calcs {
		c.notifyRemove(gone)
	}
}

// Has reports whether an id is in the match set.
func (q *IDQuery) Has(id ElementID) bool {
	_, ok := q.ids[id]
	return ok
}

// Size returns the number of ids in the match set.
func (q *IDQuery) Size() int { return len(q.ids) }

// Destroy releases the query. Destruction is deferred while calcs are still
// registered and completes when the last one unwinds.
func (q *IDQuery) Destroy() {
	if len(q.calcs) > 0 {
		q.destroyed = true
		return
	}
	q.ids = nil
	q.destroyed = true
}

func (q *IDQuery) snapshot() []ElementID {
	out := make([]ElementID, 0, len(q.ids))
	for id := range q.ids {
		out = append(out, id)
	}
	return out
}

func (q *IDQuery) dropCalc(c *idQueryCalc) {
	delete(q.calcs, c)
	if q.destroyed && len(q.calcs) == 0 {
		q.ids = nil
	}
}

// idQueryCalc is the root calc of an id query: the match set is the query's
// id set, the domain comes from the indexer.
type idQueryCalc struct {
	query *IDQuery
	ix    Indexer
	path  pathid.PathID
	sinks map[ResultSink]struct{}
}

func (c *idQueryCalc) IsSelection() bool  { return true }
func (c *idQueryCalc) IsProjection() bool { return false }
func (c *idQueryCalc) IsCompiled() bool   { return true }

func (c *idQueryCalc) GetMatches() []ElementID { return c.query.snapshot() }

func (c *idQueryCalc) GetDomain() []ElementID {
	if c.ix == nil {
		return nil
	}
	return c.ix.GetAllMatches(c.path)
}

func (c *idQueryCalc) AddProjMatches(ids []ElementID, owner ResultID)    {}
func (c *idQueryCalc) RemoveProjMatches(ids []ElementID, owner ResultID) {}

func (c *idQueryCalc) GetIndexer() Indexer                      { return c.ix }
func (c *idQueryCalc) GetProjectionPathID() pathid.PathID       { return pathid.InvalidID }
func (c *idQueryCalc) GetGeneratingProjMappings() []ProjMapping { return nil }

func (c *idQueryCalc) AttachResult(sink ResultSink) {
	if sink == nil {
		return
	}
	c.sinks[sink] = struct{}{}
	if ids := c.query.snapshot(); len(ids) > 0 {
		sink.AddMatches(ids, 1)
	}
}

func (c *idQueryCalc) DetachResult(sink ResultSink) {
	delete(c.sinks, sink)
	if len(c.sinks) == 0 {
		c.query.dropCalc(c)
	}
}

func (c *idQueryCalc) Refresh(ix Indexer, path pathid.PathID) {
	c.ix = ix
	c.path = path
}

func (c *idQueryCalc) notifyAdd(ids []ElementID) {
	for s := range c.sinks {
		s.AddMatches(ids, 1)
	}
}

func (c *idQueryCalc) notifyRemove(ids []ElementID) {
	for s := range c.sinks {
		s.RemoveMatches(ids, 1)
	}
}
