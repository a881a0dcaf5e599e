package querycalc

import (
	"quiver.io/incremental-query-runtime/pkg/engine"
	"quiver.io/incremental-query-runtime/pkg/pathid"
)

// ProjectQuery projects the result of the chain below it onto a path: the
// result's elements are re-exposed with their values rebased under projPath.
// A projection carries no selection logic of its own.
type ProjectQuery struct {
	id       int64
	projPath pathid.PathID
}

var _ engine.Query = &ProjectQuery{}

// NewProjectQuery builds a projection onto projPath.
func NewProjectQuery(id int64, projPath pathid.PathID) *ProjectQuery {
	return &ProjectQuery{id: id, projPath: projPath}
}

func (q *ProjectQuery) ID() int64          { return q.id }
func (q *ProjectQuery) IsSelection() bool  { return false }
func (q *ProjectQuery) IsProjection() bool { return true }

func (q *ProjectQuery) NewRootCalc(ix engine.Indexer, path pathid.PathID) engine.QueryCalc {
	return &projectCalc{
		query:     q,
		ix:        ix,
		path:      path,
		projected: make(map[engine.ElementID]int),
		sinks:     make(map[engine.ResultSink]struct{}),
	}
}

// projectCalc is the root query calculation node of a projection. It does
// not watch any path node: its projected match set is fed by the owning
// result node and consumed through the generating projection mappings of a
// merge indexer.
type projectCalc struct {
	query *ProjectQuery
	ix    engine.Indexer
	path  pathid.PathID

	projected map[engine.ElementID]int
	sinks     map[engine.ResultSink]struct{}
}

var _ engine.QueryCalc = &projectCalc{}

func (c *projectCalc) IsSelection() bool  { return false }
func (c *projectCalc) IsProjection() bool { return true }
func (c *projectCalc) IsCompiled() bool   { return c.ix != nil }

func (c *projectCalc) GetMatches() []engine.ElementID { return nil }

func (c *projectCalc) GetDomain() []engine.ElementID {
	if c.ix == nil {
		return nil
	}
	return c.ix.GetAllMatches(pathid.RootID)
}

func (c *projectCalc) AddProjMatches(ids []engine.ElementID, owner engine.ResultID) {
	for _, id := range ids {
		c.projected[id]++
	}
}

func (c *projectCalc) RemoveProjMatches(ids []engine.ElementID, owner engine.ResultID) {
	for _, id := range ids {
		if n, ok := c.projected[id]; ok {
			if n <= 1 {
				delete(c.projected, id)
			} else {
				c.projected[id] = n - 1
			}
		}
	}
}

// Projected returns the elements currently flowing through the projection.
func (c *projectCalc) Projected() []engine.ElementID {
	out := make([]engine.ElementID, 0, len(c.projected))
	for id := range c.projected {
		out = append(out, id)
	}
	return out
}

func (c *projectCalc) GetIndexer() engine.Indexer         { return c.ix }
func (c *projectCalc) GetProjectionPathID() pathid.PathID { return c.query.projPath }

func (c *projectCalc) GetGeneratingProjMappings() []engine.ProjMapping {
	return []engine.ProjMapping{{ProjID: int(c.query.id), Path: c.query.projPath}}
}

func (c *projectCalc) AttachResult(sink engine.ResultSink) {
	if sink == nil {
		return
	}
	c.sinks[sink] = struct{}{}
}

func (c *projectCalc) DetachResult(sink engine.ResultSink) {
	delete(c.sinks, sink)
	if len(c.sinks) == 0 {
		c.ix = nil
	}
}

func (c *projectCalc) Refresh(ix engine.Indexer, path pathid.PathID) {
	c.ix = ix
	c.path = path
}
