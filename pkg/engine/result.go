package engine

import (
	"quiver.io/incremental-query-runtime/pkg/pathid"
)

// weightedSet is one contribution flowing into a match-count table: a set of
// element ids, each counting with the given weight.
type weightedSet struct {
	ids    []ElementID
	weight int
}

func singleSet(ids []ElementID, weight int) []weightedSet {
	if len(ids) == 0 || weight == 0 {
		return nil
	}
	return []weightedSet{{ids: ids, weight: weight}}
}

// opsToSets converts drained pending operations into contribution sets.
func opsToSets(ops []pendingOp) (added, removed []weightedSet) {
	for _, op := range ops {
		switch op.kind {
		case pendingAdd:
			added = append(added, weightedSet{ids: op.ids, weight: op.count})
		case pendingRemove:
			removed = append(removed, weightedSet{ids: op.ids, weight: op.count})
		}
	}
	return added, removed
}

// --- composition wiring ---------------------------------------------------

// SetQuery installs (or replaces) the query of a result node. Replacing a
// query with an equivalent one (same identifier) is a no-op on the match
// set. A genuine replacement on a live node drains the old query's
// contribution and replays the new one through a single table adjustment, so
// downstream consumers see only the membership difference.
func (a *Arena) SetQuery(h Handle, q Query) {
	n := a.get(h)
	if n == nil || n.kind != KindQuery {
		return
	}
	if n.query == q {
		return
	}
	if n.query != nil && q != nil && n.query.ID() == q.ID() {
		n.query = q
		return
	}
	a.begin()
	defer a.finish()

	if !n.activeStar {
		n.query = q
		a.refresh(h)
		return
	}

	// Live replacement. Capture what the upstream accumulators currently
	// see from this node before touching anything.
	oldW := a.domMatchCount(h)
	var oldUp []ElementID
	if n.active {
		oldUp = a.fullMatches(h)
	}
	var oldCalcSet []ElementID
	if n.rootCalc != nil && n.rootCalc.IsSelection() {
		oldCalcSet = n.rootCalc.GetMatches()
	}

	n.activating = true
	a.detachCalc(n)
	n.query = q
	if q != nil {
		if ix, path, ok := a.resolvedSource(h); ok {
			n.rootCalc = a.provider.RootCalc(q, ix, path)
			n.calcSink = a.sinkFor(h)
			n.rootCalc.AttachResult(n.calcSink)
		}
	}
	replay, _ := opsToSets(a.pending.drainFor(h))
	n.matchCount = a.computeMatchCount(n)
	n.pureProjection = q != nil && q.IsProjection() && !q.IsSelection() && n.matchCount == 0
	if q != nil && q.IsProjection() {
		n.projMatchCount = 1
	} else {
		n.projMatchCount = 0
	}
	n.activating = false

	if n.active {
		a.adjustTable(h, oldUp, singleSet(oldCalcSet, 1), replay, n.matchCount)
		a.readjustUpward(h, oldUp, oldW)
	} else {
		// The contribution was flowing straight into the dominating
		// accumulator.
		d := a.dominatingOf(h)
		if dn := a.get(d); dn != nil {
			dFull := a.fullMatches(d)
			newT := a.recomputeThresholdsBelow(d)
			a.adjustTable(d, dFull, singleSet(oldCalcSet, 1), replay, newT)
		}
	}
	a.refresh(h)
}

// SetDataIndexer composes the node directly with an indexer at the given
// path.
func (a *Arena) SetDataIndexer(h Handle, ix Indexer, path pathid.PathID) {
	n := a.get(h)
	if n == nil {
		return
	}
	if n.srcIndexer == ix && n.srcPath == path && !n.dataObj.Valid() {
		return
	}
	a.begin()
	defer a.finish()
	a.spliceSource(h, func(n *node) {
		n.srcIndexer = ix
		n.srcPath = path
		n.dataObj = Handle{}
	})
}

// SetDataResult composes the node on top of another result node, making that
// node its data source.
func (a *Arena) SetDataResult(h, src Handle) {
	n := a.get(h)
	if n == nil || a.get(src) == nil || h == src {
		return
	}
	if n.dataObj == src {
		return
	}
	a.begin()
	defer a.finish()
	a.spliceSource(h, func(n *node) {
		n.srcIndexer = nil
		n.srcPath = 0
		n.dataObj = src
	})
}

// spliceSource rewires the node's data source and reconciles the match table
// in one adjustment, preserving already-computed results that survive the
// swap.
func (a *Arena) spliceSource(h Handle, rewire func(*node)) {
	n := a.get(h)
	if !n.activeStar {
		if old := a.get(n.dataObj); old != nil {
			delete(old.composed, h)
			oldSrc := n.dataObj
			rewire(n)
			a.refresh(oldSrc)
		} else {
			rewire(n)
		}
		if src := a.get(n.dataObj); src != nil {
			src.composed[h] = struct{}{}
		}
		a.refresh(h)
		return
	}

	oldW := a.domMatchCount(h)
	var oldUp []ElementID
	if n.active {
		oldUp = a.fullMatches(h)
	}

	// Everything the node's current chain and own calc contribute.
	removed := a.chainContribution(n.dataObj)
	if n.rootCalc != nil && n.rootCalc.IsSelection() {
		removed = append(removed, weightedSet{ids: n.rootCalc.GetMatches(), weight: 1})
	}

	n.activating = true
	a.detachCalc(n)
	oldSrc := n.dataObj
	if old := a.get(oldSrc); old != nil {
		delete(old.composed, h)
	}
	rewire(n)
	srcWasStar := false
	if src := a.get(n.dataObj); src != nil {
		srcWasStar = src.activeStar
		src.composed[h] = struct{}{}
		a.refresh(n.dataObj)
	}
	if old := a.get(oldSrc); old != nil {
		a.refresh(oldSrc)
	}
	if n.query != nil {
		if ix, path, ok := a.resolvedSource(h); ok {
			n.rootCalc = a.provider.RootCalc(n.query, ix, path)
			n.calcSink = a.sinkFor(h)
			n.rootCalc.AttachResult(n.calcSink)
		}
	}
	// The new chain's activation and the calc replay both landed on the
	// pending buffer; fold them into the adjustment. When the chain was
	// already live before the splice, the walk ends right at the active
	// (or decoupled) source and its accumulated matches enter as one
	// weighted set. A freshly activated chain instead queued that
	// contribution during activation, so it arrives through the drains.
	added, stray := opsToSets(a.pending.drainFor(h))
	removed = append(removed, stray...)
	for cur := n.dataObj; ; {
		cn := a.get(cur)
		if cn == nil {
			break
		}
		if cn.active || cn.resultIndexer != nil {
			if srcWasStar {
				added = append(added, a.chainContribution(cur)...)
			}
			break
		}
		if !cn.activeStar {
			break
		}
		adds, rems := opsToSets(a.pending.drainFor(cur))
		added = append(added, adds...)
		removed = append(removed, rems...)
		cur = cn.dataObj
	}
	n.matchCount = a.computeMatchCount(n)
	n.pureProjection = n.query != nil && n.query.IsProjection() && !n.query.IsSelection() && n.matchCount == 0
	n.activating = false

	if n.active {
		a.adjustTable(h, oldUp, removed, added, n.matchCount)
		a.readjustUpward(h, oldUp, oldW)
	} else if d := a.dominatingOf(h); d.Valid() {
		dFull := a.fullMatches(d)
		newT := a.recomputeThresholdsBelow(d)
		a.adjustTable(d, dFull, removed, added, newT)
	}
	a.refresh(h)
}

// Compose attaches an external consumer. If the node already holds matches
// they are replayed into the consumer immediately; otherwise the node is
// activated and the initial matches arrive through the normal propagation
// path.
func (a *Arena) Compose(h Handle, c Consumer) {
	n := a.get(h)
	if n == nil || c == nil {
		return
	}
	if _, ok := n.consumers[c]; ok {
		return
	}
	a.begin()
	defer a.finish()
	already := n.active
	wasStar := n.activeStar
	n.consumers[c] = struct{}{}
	if already {
		if full := a.fullMatches(h); len(full) > 0 {
			c.AddMatches(full, maxInt(n.matchCount, 1))
		}
		return
	}
	a.refresh(h)
	// A fresh activation replays through the pending buffer; a promotion
	// of an already-live link does not, so hand the consumer the
	// accumulated matches directly.
	if wasStar && n.active {
		if full := a.fullMatches(h); len(full) > 0 {
			c.AddMatches(full, maxInt(n.matchCount, 1))
		}
	}
}

// Decompose detaches an external consumer. The consumer receives no removal
// notifications; it is expected to drop its copy of the result. Detaching
// the last consumer may deactivate the node and, if destruction was pending,
// tear it down.
func (a *Arena) Decompose(h Handle, c Consumer) {
	n := a.get(h)
	if n == nil {
		return
	}
	if _, ok := n.consumers[c]; !ok {
		return
	}
	a.begin()
	defer a.finish()
	delete(n.consumers, c)
	a.refresh(h)
}

// DestroyResult releases a result node. Destruction is deferred while other
// result nodes are still composed on top of it; the node is torn down when
// the last one unlinks.
func (a *Arena) DestroyResult(h Handle) {
	n := a.get(h)
	if n == nil {
		return
	}
	if len(n.composed) > 0 {
		n.pendingDestroy = true
		return
	}
	a.begin()
	defer a.finish()
	a.teardown(h)
}

func (a *Arena) teardown(h Handle) {
	n := a.get(h)
	if n == nil {
		return
	}
	a.detachCalc(n)
	if n.resultIndexer != nil {
		n.resultIndexer.Destroy()
		n.resultIndexer = nil
	}
	src := n.dataObj
	if sn := a.get(src); sn != nil {
		delete(sn.composed, h)
	}
	idx := h.index
	a.nodes[idx] = node{gen: n.gen}
	a.free = append(a.free, idx)
	a.reportNodeCount()
	if sn := a.get(src); sn != nil {
		a.refresh(src)
	}
}

func (a *Arena) detachCalc(n *node) {
	if n.rootCalc == nil {
		return
	}
	n.rootCalc.DetachResult(n.calcSink)
	a.provider.ReleaseRootCalc(n.rootCalc)
	n.rootCalc = nil
	n.calcSink = nil
}

// --- activation -----------------------------------------------------------

// resolvedSource resolves the indexer and path a node's query evaluates
// over: its direct indexer, or the nearest result indexer or direct indexer
// down the composition chain.
func (a *Arena) resolvedSource(h Handle) (Indexer, pathid.PathID, bool) {
	n := a.get(h)
	if n == nil {
		return nil, 0, false
	}
	if n.srcIndexer != nil {
		p := n.srcPath
		if p == 0 {
			p = pathid.RootID
		}
		return n.srcIndexer, p, true
	}
	src := a.get(n.dataObj)
	if src == nil {
		return nil, 0, false
	}
	if src.resultIndexer != nil {
		return src.resultIndexer, pathid.RootID, true
	}
	return a.resolvedSource(n.dataObj)
}

func (a *Arena) wantActiveStar(h Handle, n *node) bool {
	if n.kind == KindQuery && n.query == nil && len(n.composed) == 0 {
		// a query node without a query is only useful as a transparent
		// link in a chain
		return false
	}
	if _, _, ok := a.resolvedSource(h); !ok && n.srcIndexer == nil {
		return false
	}
	if len(n.consumers) > 0 {
		return true
	}
	for c := range n.composed {
		if cn := a.get(c); cn != nil && (cn.activeStar || cn.activating) {
			return true
		}
	}
	return false
}

func (a *Arena) wantActive(h Handle, n *node) bool {
	if n.kind == KindPassthrough {
		return false
	}
	if len(n.consumers) > 0 {
		return true
	}
	if n.query != nil && n.query.IsProjection() {
		return true
	}
	live := 0
	for c := range n.composed {
		if cn := a.get(c); cn != nil && (cn.activeStar || cn.activating) {
			live++
		}
	}
	return live > 1
}

// refresh reconciles a node's activation level with the current demand,
// activating, deactivating, promoting or demoting as needed, and cascades
// the consequences down the chain.
func (a *Arena) refresh(h Handle) {
	n := a.get(h)
	if n == nil {
		return
	}
	if n.pendingDestroy && len(n.composed) == 0 {
		a.teardown(h)
		return
	}
	want := a.wantActiveStar(h, n)
	switch {
	case want && !n.activeStar:
		a.activate(h)
	case !want && n.activeStar:
		a.deactivate(h)
	case n.activeStar:
		wasActive := n.active
		nowActive := a.wantActive(h, n)
		if nowActive && !wasActive {
			a.promote(h)
		} else if !nowActive && wasActive {
			a.demote(h)
		}
	}
}

func (a *Arena) activate(h Handle) {
	n := a.get(h)
	if n == nil || n.activeStar || n.activating {
		return
	}
	n.activating = true
	// Bring the source chain up first. A source that was already live for
	// another chain may need promotion now that a second one hangs off it.
	// An active source never replays, so its accumulated matches are
	// queued here and reach the node, or its dominating accumulator, when
	// the outermost structural operation flushes.
	if src := a.get(n.dataObj); src != nil {
		if !src.activeStar {
			a.activate(n.dataObj)
		} else {
			a.refresh(n.dataObj)
			if a.get(n.dataObj).active {
				if w := a.domMatchCount(n.dataObj); w > 0 {
					a.pending.queueAdd(h, a.fullMatches(n.dataObj), w)
				}
			}
		}
	}
	n.matchCount = a.computeMatchCount(n)
	n.pureProjection = n.query != nil && n.query.IsProjection() && !n.query.IsSelection() && n.matchCount == 0
	if n.query != nil && n.query.IsProjection() {
		n.projMatchCount = 1
	}
	n.activeStar = true
	n.active = a.wantActive(h, n)
	if n.active && n.matchCount > 1 {
		n.matches = make(map[ElementID]int)
	}
	if n.query != nil {
		if ix, path, ok := a.resolvedSource(h); ok {
			n.rootCalc = a.provider.RootCalc(n.query, ix, path)
			n.calcSink = a.sinkFor(h)
			// the replay lands on the pending buffer and is applied
			// when the outermost structural operation finishes
			n.rootCalc.AttachResult(n.calcSink)
		}
	}
	if !n.active {
		n.dominating = a.dominatingOf(h)
	}
	n.activating = false
	a.log.V(4).Info("result node activated", "result", n.id, "match-count", n.matchCount, "active", n.active)
}

func (a *Arena) deactivate(h Handle) {
	n := a.get(h)
	if n == nil || !n.activeStar {
		return
	}
	n.activeStar = false
	n.active = false
	n.projMatchCount = 0
	n.matches = nil
	n.dominating = Handle{}
	a.detachCalc(n)
	if n.resultIndexer != nil {
		n.resultIndexer.Destroy()
		n.resultIndexer = nil
	}
	if src := a.get(n.dataObj); src != nil {
		a.refresh(n.dataObj)
	}
	a.log.V(4).Info("result node deactivated", "result", n.id)
	if n.pendingDestroy && len(n.composed) == 0 {
		a.teardown(h)
	}
}

// promote upgrades an active* node to active: it materializes the node's own
// match table from the chain contributions and collapses those contributions
// into a single weighted set at the old accumulator.
func (a *Arena) promote(h Handle) {
	n := a.get(h)
	d := a.dominatingOf(h)
	contribs := a.chainContribution(n.dataObj)
	if n.rootCalc != nil && n.rootCalc.IsSelection() {
		contribs = append(contribs, weightedSet{ids: n.rootCalc.GetMatches(), weight: 1})
	}
	n.active = true
	n.dominating = Handle{}
	if n.matchCount > 1 {
		counts := make(map[ElementID]int)
		for _, set := range contribs {
			for _, id := range set.ids {
				counts[id] += set.weight
			}
		}
		n.matches = counts
	}
	if dn := a.get(d); dn != nil && dn.active {
		w := a.domMatchCount(h)
		a.adjustTable(d, a.fullMatches(d), contribs, singleSet(a.fullMatches(h), w), dn.matchCount)
	}
	for c := range n.composed {
		if cn := a.get(c); cn != nil && !cn.active {
			cn.dominating = a.dominatingOf(c)
		}
	}
}

// demote downgrades an active node that lost its last direct consumer back
// to active*: the table is dropped and the chain contributions flow to the
// dominating accumulator individually again.
func (a *Arena) demote(h Handle) {
	n := a.get(h)
	w := a.domMatchCount(h)
	full := a.fullMatches(h)
	contribs := a.chainContribution(n.dataObj)
	if n.rootCalc != nil && n.rootCalc.IsSelection() {
		contribs = append(contribs, weightedSet{ids: n.rootCalc.GetMatches(), weight: 1})
	}
	n.active = false
	n.matches = nil
	n.dominating = a.dominatingOf(h)
	if dn := a.get(n.dominating); dn != nil && dn.active {
		a.adjustTable(n.dominating, a.fullMatches(n.dominating), singleSet(full, w), contribs, dn.matchCount)
	}
}

// computeMatchCount derives the node's required threshold: one for its own
// selection plus the dominated match count of its data source chain.
func (a *Arena) computeMatchCount(n *node) int {
	mc := 0
	if n.query != nil && n.query.IsSelection() {
		mc++
	}
	if src := a.get(n.dataObj); src != nil && (src.activeStar || src.activating) {
		mc += a.domMatchCount(n.dataObj)
	}
	return mc
}

// domMatchCount is the weight this node's full matches carry when flowing
// into a node composed on top of it.
func (a *Arena) domMatchCount(h Handle) int {
	n := a.get(h)
	if n == nil {
		return 0
	}
	if n.resultIndexer != nil {
		return 0
	}
	if n.kind == KindPassthrough {
		return 1
	}
	if n.query == nil {
		return a.domMatchCount(n.dataObj)
	}
	if n.pureProjection && n.matchCount == 0 {
		return 0
	}
	if n.query.IsSelection() {
		return maxInt(n.matchCount, 1)
	}
	return 1
}

// dominatingOf walks the composition parents up to the nearest active node.
// An inactive active* node has at most one active* parent, so the walk never
// branches.
func (a *Arena) dominatingOf(h Handle) Handle {
	cur := h
	for {
		next := a.parentOf(cur)
		pn := a.get(next)
		if pn == nil {
			return Handle{}
		}
		if pn.active {
			return next
		}
		cur = next
	}
}

// parentOf returns the (single) active* or activating node composed on top
// of h. Fully activated parents win over ones still mid-activation, so a
// promotion triggered by a second chain finds the accumulator that was
// already accounting for h.
func (a *Arena) parentOf(h Handle) Handle {
	n := a.get(h)
	if n == nil {
		return Handle{}
	}
	var fallback Handle
	for c := range n.composed {
		cn := a.get(c)
		if cn == nil {
			continue
		}
		if cn.activeStar && !cn.activating {
			return c
		}
		if cn.activeStar || cn.activating {
			fallback = c
		}
	}
	return fallback
}

// recomputeThresholdsBelow refreshes the stored thresholds of the inactive
// links hanging under an accumulator after a chain change, and returns the
// accumulator's own new threshold. The walk follows the accumulator's data
// chain downward.
func (a *Arena) recomputeThresholdsBelow(acc Handle) int {
	an := a.get(acc)
	if an == nil {
		return 0
	}
	var fix func(h Handle)
	fix = func(h Handle) {
		n := a.get(h)
		if n == nil || n.active || !n.activeStar {
			return
		}
		fix(n.dataObj)
		n.matchCount = a.computeMatchCount(n)
	}
	fix(an.dataObj)
	return a.computeMatchCount(an)
}

// readjustUpward rebalances the accumulators above an active node whose
// outgoing weight or full-match set changed in place.
func (a *Arena) readjustUpward(h Handle, oldUp []ElementID, oldW int) {
	n := a.get(h)
	newW := a.domMatchCount(h)
	newUp := a.fullMatches(h)
	for c := range n.composed {
		cn := a.get(c)
		if cn == nil || !cn.activeStar {
			continue
		}
		acc := c
		if !cn.active {
			acc = a.dominatingOf(c)
		}
		an := a.get(acc)
		if an == nil || !an.active {
			continue
		}
		accFull := a.fullMatches(acc)
		newT := a.recomputeThresholdsBelow(acc)
		a.adjustTable(acc, accFull, singleSet(oldUp, oldW), singleSet(newUp, newW), newT)
	}
}

// --- propagation ----------------------------------------------------------

func (a *Arena) addMatches(h Handle, ids []ElementID, count int) {
	n := a.get(h)
	if n == nil || len(ids) == 0 || count <= 0 {
		return
	}
	if n.activating || a.busy > 0 && !n.activeStar {
		a.pending.queueAdd(h, ids, count)
		return
	}
	a.enter()
	defer a.leave()
	if n.kind == KindPassthrough {
		a.forwardAdd(h, n, ids)
		return
	}
	if !n.active {
		if !n.activeStar {
			return
		}
		if d := a.dominatingOf(h); d.Valid() {
			a.addMatches(d, ids, count)
		}
		return
	}
	if n.matchCount <= 1 {
		a.forwardAdd(h, n, ids)
		return
	}
	if n.matches == nil {
		n.matches = make(map[ElementID]int)
	}
	var crossed []ElementID
	for _, id := range ids {
		c := n.matches[id]
		nc := c + count
		n.matches[id] = nc
		if c < n.matchCount && nc >= n.matchCount {
			crossed = append(crossed, id)
		}
	}
	if len(crossed) > 0 {
		a.forwardAdd(h, n, crossed)
	}
}

func (a *Arena) removeMatches(h Handle, ids []ElementID, count int) {
	n := a.get(h)
	if n == nil || len(ids) == 0 || count <= 0 {
		return
	}
	if n.activating || a.busy > 0 && !n.activeStar {
		a.pending.queueRemove(h, ids, count)
		return
	}
	a.enter()
	defer a.leave()
	if n.kind == KindPassthrough {
		a.forwardRemove(h, n, ids)
		return
	}
	if !n.active {
		if !n.activeStar {
			return
		}
		if d := a.dominatingOf(h); d.Valid() {
			a.removeMatches(d, ids, count)
		}
		return
	}
	if n.matchCount <= 1 {
		a.forwardRemove(h, n, ids)
		return
	}
	if n.matches == nil {
		return
	}
	var crossed []ElementID
	for _, id := range ids {
		c, ok := n.matches[id]
		if !ok {
			continue
		}
		nc := c - count
		if nc <= 0 {
			delete(n.matches, id)
		} else {
			n.matches[id] = nc
		}
		if c >= n.matchCount && nc < n.matchCount {
			crossed = append(crossed, id)
		}
	}
	if len(crossed) > 0 {
		a.forwardRemove(h, n, crossed)
	}
}

// forwardAdd pushes ids that just became full matches to everyone composed
// with the node. Composed result nodes receive them at the node's dominated
// match count; external consumers at the node's own match count. A node
// decoupled by a result indexer feeds the indexer instead of its composed
// nodes.
func (a *Arena) forwardAdd(h Handle, n *node, ids []ElementID) {
	if n.resultIndexer != nil {
		n.resultIndexer.AddProjMatches(ids, n.id)
	} else if w := a.domMatchCount(h); w > 0 {
		for c := range n.composed {
			if cn := a.get(c); cn != nil && (cn.activeStar || cn.activating) {
				a.addMatches(c, ids, w)
			}
		}
	}
	if n.rootCalc != nil && n.rootCalc.IsProjection() {
		n.rootCalc.AddProjMatches(ids, n.id)
	}
	cw := maxInt(n.matchCount, 1)
	for cons := range n.consumers {
		cons.AddMatches(ids, cw)
	}
}

func (a *Arena) forwardRemove(h Handle, n *node, ids []ElementID) {
	if n.resultIndexer != nil {
		n.resultIndexer.RemoveProjMatches(ids, n.id)
	} else if w := a.domMatchCount(h); w > 0 {
		for c := range n.composed {
			if cn := a.get(c); cn != nil && (cn.activeStar || cn.activating) {
				a.removeMatches(c, ids, w)
			}
		}
	}
	if n.rootCalc != nil && n.rootCalc.IsProjection() {
		n.rootCalc.RemoveProjMatches(ids, n.id)
	}
	cw := maxInt(n.matchCount, 1)
	for cons := range n.consumers {
		cons.RemoveMatches(ids, cw)
	}
}

// fullMatches returns the node's authoritative full-match set.
func (a *Arena) fullMatches(h Handle) []ElementID {
	n := a.get(h)
	if n == nil {
		return nil
	}
	if n.resultIndexer != nil {
		return n.resultIndexer.GetAllMatches(pathid.RootID)
	}
	if n.matches != nil {
		out := make([]ElementID, 0, len(n.matches))
		for id, c := range n.matches {
			if c >= n.matchCount {
				out = append(out, id)
			}
		}
		return out
	}
	if n.rootCalc != nil {
		if n.rootCalc.IsSelection() {
			return n.rootCalc.GetMatches()
		}
		return n.rootCalc.GetDomain()
	}
	if src := a.get(n.dataObj); src != nil {
		return a.fullMatches(n.dataObj)
	}
	return nil
}

// GetDominatedMatches returns the current full matches of a result node,
// whether it keeps them in its own table, in its result indexer or in its
// calc.
func (a *Arena) GetDominatedMatches(h Handle) []ElementID {
	return a.fullMatches(h)
}

// chainContribution collects the individual contributions a chain feeds into
// the accumulator above it: one weighted set per active node (its full
// matches at its dominated match count) and one weight-1 set per inactive
// selecting link.
func (a *Arena) chainContribution(h Handle) []weightedSet {
	n := a.get(h)
	if n == nil || !(n.activeStar || n.activating) {
		return nil
	}
	if n.resultIndexer != nil {
		return nil
	}
	if n.active || n.kind == KindPassthrough {
		w := a.domMatchCount(h)
		if w == 0 {
			return nil
		}
		return singleSet(a.fullMatches(h), w)
	}
	var sets []weightedSet
	if n.rootCalc != nil && n.rootCalc.IsSelection() {
		sets = append(sets, weightedSet{ids: n.rootCalc.GetMatches(), weight: 1})
	}
	return append(sets, a.chainContribution(n.dataObj)...)
}

// adjustTable applies a chain restructuring to an active node's match-count
// table in one step: contributions in removed leave, contributions in added
// enter, and the threshold moves to newThreshold. Only ids whose full-match
// membership actually changes are forwarded. oldFull must be the node's
// full-match set captured before the restructuring began; it seeds the
// counts when the node keeps no table of its own.
func (a *Arena) adjustTable(h Handle, oldFull []ElementID, removed, added []weightedSet, newThreshold int) {
	n := a.get(h)
	if n == nil {
		return
	}
	if !n.active {
		n.matchCount = newThreshold
		return
	}
	oldT := maxInt(n.matchCount, 1)

	counts := make(map[ElementID]int)
	if n.matches != nil {
		for id, c := range n.matches {
			counts[id] = c
		}
	} else {
		for _, id := range oldFull {
			counts[id] = oldT
		}
	}
	wasFull := make(map[ElementID]struct{})
	for id, c := range counts {
		if c >= oldT {
			wasFull[id] = struct{}{}
		}
	}

	for _, set := range removed {
		for _, id := range set.ids {
			counts[id] -= set.weight
		}
	}
	for _, set := range added {
		for _, id := range set.ids {
			counts[id] += set.weight
		}
	}
	for id, c := range counts {
		if c <= 0 {
			delete(counts, id)
		}
	}

	n.matchCount = newThreshold
	newT := maxInt(newThreshold, 1)
	if newThreshold > 1 {
		n.matches = counts
	} else {
		n.matches = nil
	}

	var lost, gained []ElementID
	for id := range wasFull {
		if counts[id] < newT {
			lost = append(lost, id)
		}
	}
	for id, c := range counts {
		if c >= newT {
			if _, ok := wasFull[id]; !ok {
				gained = append(gained, id)
			}
		}
	}
	if len(lost) > 0 {
		a.forwardRemove(h, n, lost)
	}
	if len(gained) > 0 {
		a.forwardAdd(h, n, gained)
	}
}

// --- result indexers ------------------------------------------------------

// InsertResultIndexer materializes the node's match set in a dedicated merge
// indexer. The indexer is preloaded before any downstream calc re-registers,
// so composed nodes and consumers observe the insertion as a pure indexer
// replacement with no match churn.
func (a *Arena) InsertResultIndexer(h Handle) {
	n := a.get(h)
	if n == nil || n.resultIndexer != nil || a.newMergeIndexer == nil || !n.active {
		return
	}
	base, _, ok := a.resolvedSource(h)
	if !ok {
		return
	}
	a.begin()
	defer a.finish()

	mi := a.newMergeIndexer(base)
	full := a.fullMatches(h)
	oldW := a.domMatchCount(h)
	if n.rootCalc != nil {
		for _, m := range n.rootCalc.GetGeneratingProjMappings() {
			mi.AddMapping(n.id, m.ProjID, base, m.Path)
		}
	}
	mi.AddProjMatches(full, n.id)
	n.resultIndexer = mi

	for c := range n.composed {
		cn := a.get(c)
		if cn == nil || !cn.activeStar || cn.rootCalc == nil {
			continue
		}
		childFull := a.fullMatches(c)
		var oldCalcSet []ElementID
		if cn.rootCalc.IsSelection() {
			oldCalcSet = cn.rootCalc.GetMatches()
		}
		cn.rootCalc.Refresh(mi, pathid.RootID)
		var newCalcSet []ElementID
		if cn.rootCalc.IsSelection() {
			newCalcSet = cn.rootCalc.GetMatches()
		}
		removed := append(singleSet(full, oldW), singleSet(oldCalcSet, 1)...)
		added := singleSet(newCalcSet, 1)
		if cn.active {
			a.adjustTable(c, childFull, removed, added, cn.matchCount-oldW)
		} else {
			cn.matchCount -= oldW
			if d := a.dominatingOf(c); d.Valid() {
				dFull := a.fullMatches(d)
				newT := a.recomputeThresholdsBelow(d)
				a.adjustTable(d, dFull, removed, added, newT)
			}
		}
	}
	for cons := range n.consumers {
		cons.ReplaceIndexerAndPaths(mi, pathid.RootID)
	}
	a.log.V(4).Info("result indexer inserted", "result", n.id, "matches", len(full))
}

// RemoveResultIndexer tears the node's result indexer down and re-couples
// composed nodes to the original base indexer, again without match churn for
// ids that stay full.
func (a *Arena) RemoveResultIndexer(h Handle) {
	n := a.get(h)
	if n == nil || n.resultIndexer == nil {
		return
	}
	base, basePath, ok := a.resolvedSource(h)
	if !ok {
		return
	}
	a.begin()
	defer a.finish()

	mi := n.resultIndexer
	n.resultIndexer = nil
	newW := a.domMatchCount(h)
	full := a.fullMatches(h)

	for c := range n.composed {
		cn := a.get(c)
		if cn == nil || !cn.activeStar || cn.rootCalc == nil {
			continue
		}
		childFull := a.fullMatches(c)
		var oldCalcSet []ElementID
		if cn.rootCalc.IsSelection() {
			oldCalcSet = cn.rootCalc.GetMatches()
		}
		cn.rootCalc.Refresh(base, basePath)
		var newCalcSet []ElementID
		if cn.rootCalc.IsSelection() {
			newCalcSet = cn.rootCalc.GetMatches()
		}
		removed := singleSet(oldCalcSet, 1)
		added := append(singleSet(full, newW), singleSet(newCalcSet, 1)...)
		if cn.active {
			a.adjustTable(c, childFull, removed, added, cn.matchCount+newW)
		} else {
			cn.matchCount += newW
			if d := a.dominatingOf(c); d.Valid() {
				dFull := a.fullMatches(d)
				newT := a.recomputeThresholdsBelow(d)
				a.adjustTable(d, dFull, removed, added, newT)
			}
		}
	}
	for cons := range n.consumers {
		cons.ReplaceIndexerAndPaths(base, basePath)
	}
	mi.Destroy()
}

// --- external feed --------------------------------------------------------

// AddExternalMatches feeds matches into a passthrough node from outside the
// arena.
func (a *Arena) AddExternalMatches(h Handle, ids []ElementID) {
	n := a.get(h)
	if n == nil || n.kind != KindPassthrough {
		return
	}
	a.begin()
	defer a.finish()
	a.addMatches(h, ids, 1)
}

// RemoveExternalMatches removes externally fed matches from a passthrough
// node.
func (a *Arena) RemoveExternalMatches(h Handle, ids []ElementID) {
	n := a.get(h)
	if n == nil || n.kind != KindPassthrough {
		return
	}
	a.begin()
	defer a.finish()
	a.removeMatches(h, ids, 1)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
