package engine

// pendingKind tags entries of the per-cycle pending-operations buffer.
type pendingKind int

const (
	pendingAdd pendingKind = iota
	pendingRemove
)

type pendingOp struct {
	kind  pendingKind
	h     Handle
	ids   []ElementID
	count int
}

// pendingOps is the per-cycle buffer of match updates that arrived while
// their target node was mid-restructure. It replaces scattered pending flags
// with one explicit queue, flushed at the commit point.
type pendingOps struct {
	ops []pendingOp
}

func newPendingOps() *pendingOps {
	return &pendingOps{}
}

func (p *pendingOps) queueAdd(h Handle, ids []ElementID, count int) {
	p.ops = append(p.ops, pendingOp{kind: pendingAdd, h: h, ids: ids, count: count})
}

func (p *pendingOps) queueRemove(h Handle, ids []ElementID, count int) {
	p.ops = append(p.ops, pendingOp{kind: pendingRemove, h: h, ids: ids, count: count})
}

func (p *pendingOps) empty() bool { return len(p.ops) == 0 }

// drain hands the buffered operations to the caller and resets the buffer.
func (p *pendingOps) drain() []pendingOp {
	ops := p.ops
	p.ops = nil
	return ops
}

// drainFor extracts only the operations targeting one node, leaving the rest
// queued. Restructuring uses it to fold a calc replay into a single table
// adjustment instead of letting it trickle in as live updates.
func (p *pendingOps) drainFor(h Handle) []pendingOp {
	var mine []pendingOp
	kept := p.ops[:0]
	for _, op := range p.ops {
		if op.h == h {
			mine = append(mine, op)
		} else {
			kept = append(kept, op)
		}
	}
	p.ops = kept
	return mine
}

// Flush applies all queued match updates. It is idempotent and safe to call
// at any quiescent point; the runtime context calls it once per update
// cycle.
func (a *Arena) Flush() {
	// Applying a queued update may queue further updates (a node still
	// activating deeper down the chain); work until the buffer drains.
	for !a.pending.empty() {
		for _, op := range a.pending.drain() {
			switch op.kind {
			case pendingAdd:
				a.addMatches(op.h, op.ids, op.count)
			case pendingRemove:
				a.removeMatches(op.h, op.ids, op.count)
			}
		}
	}
}
