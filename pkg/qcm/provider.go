package qcm

import (
	"quiver.io/incremental-query-runtime/pkg/engine"
	"quiver.io/incremental-query-runtime/pkg/pathid"
)

type calcKey struct {
	queryID int64
	ix      engine.Indexer
	path    pathid.PathID
}

type calcEntry struct {
	key  calcKey
	calc engine.QueryCalc
	refs int
}

// Provider hands out root query calculation nodes, memoized per (query,
// indexer, path) and reference counted. Two result nodes evaluating
// equivalent queries over the same indexer share one calc.
type Provider struct {
	byKey  map[calcKey]*calcEntry
	byCalc map[engine.QueryCalc]*calcEntry
}

var _ engine.CalcProvider = &Provider{}

func NewProvider() *Provider {
	return &Provider{
		byKey:  make(map[calcKey]*calcEntry),
		byCalc: make(map[engine.QueryCalc]*calcEntry),
	}
}

// RootCalc returns the calc for a query over an indexer and path, building
// it on first request.
func (p *Provider) RootCalc(q engine.Query, ix engine.Indexer, path pathid.PathID) engine.QueryCalc {
	key := calcKey{queryID: q.ID(), ix: ix, path: path}
	if e, ok := p.byKey[key]; ok {
		e.refs++
		return e.calc
	}
	e := &calcEntry{key: key, calc: q.NewRootCalc(ix, path), refs: 1}
	p.byKey[key] = e
	p.byCalc[e.calc] = e
	return e.calc
}

// ReleaseRootCalc drops one reference; the calc is forgotten when the last
// holder releases it. The calc itself unwinds when its last sink detaches.
func (p *Provider) ReleaseRootCalc(qc engine.QueryCalc) {
	e, ok := p.byCalc[qc]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(p.byKey, e.key)
		delete(p.byCalc, qc)
	}
}

// Size returns the number of live calcs.
func (p *Provider) Size() int { return len(p.byKey) }
