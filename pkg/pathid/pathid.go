package pathid

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// PathID identifies an allocated attribute path.
type PathID int64

const (
	// InvalidID is returned for contract violations (unknown prefix,
	// non-prefix diff request). It is never allocated.
	InvalidID PathID = 0
	// RootID is the identifier of the empty path. The root is allocated at
	// construction time and is never released.
	RootID PathID = 1
)

// defaultStringCacheSize bounds the rendered-string cache.
const defaultStringCacheSize = 1024

// fraction is an unreduced rational number. Mediant insertion guarantees
// that every fraction we ever store is already in lowest terms.
type fraction struct {
	num int64
	den int64
}

func (f fraction) quotient() float64 {
	if f.den == 0 {
		return 0
	}
	return float64(f.num) / float64(f.den)
}

// mediant is the Stern-Brocot step: componentwise sum, never reduced.
func mediant(a, b fraction) fraction {
	return fraction{num: a.num + b.num, den: a.den + b.den}
}

// entry is the bookkeeping record of one allocated path.
type entry struct {
	id        PathID
	prefix    PathID
	length    int
	firstAttr string
	lastAttr  string
	refCount  int

	// children maps the next attribute step to the child path id.
	children map[string]PathID

	// suffixes caches ids returned by Diff, keyed by the prefix id the
	// diff was taken against. Cached suffixes hold a reference and are
	// released together with this entry.
	suffixes map[PathID]PathID

	// Sort-key state. skPair is this path's own fraction. skNext bounds
	// the subtree from above: every fraction inside the subtree is
	// strictly below it. skHighest is the highest fraction currently
	// assigned inside the subtree (the entry's own pair when the subtree
	// is just the entry itself) and skHighestPath is the path carrying it.
	skPair        fraction
	skNext        fraction
	skHighest     fraction
	skHighestPath PathID

	sortKey float64
}

// Allocator hands out reference-counted path identifiers.
type Allocator struct {
	entries map[PathID]*entry
	nextID  PathID

	// stringsCache caches rendered dotted-path strings by id.
	stringsCache *lru.Cache[PathID, string]
}

// NewAllocator returns an allocator holding only the pinned root path.
func NewAllocator() *Allocator {
	cache, _ := lru.New[PathID, string](defaultStringCacheSize)
	a := &Allocator{
		entries:      make(map[PathID]*entry),
		nextID:       RootID + 1,
		stringsCache: cache,
	}
	root := &entry{
		id:            RootID,
		prefix:        InvalidID,
		length:        0,
		refCount:      1, // pinned, never dropped
		children:      make(map[string]PathID),
		suffixes:      make(map[PathID]PathID),
		skPair:        fraction{num: 0, den: 1},
		skNext:        fraction{num: 1, den: 0},
		skHighest:     fraction{num: 0, den: 1},
		skHighestPath: RootID,
		sortKey:       0,
	}
	a.entries[RootID] = root
	return a
}

// Allocate returns the id of the path extending prefixID by one attribute
// step, minting a new id if the path was never allocated and bumping the
// reference count if it was. Passing InvalidID as the prefix means the root.
// Returns InvalidID if prefixID itself was never allocated; that is a caller
// contract violation, not a recoverable error.
func (a *Allocator) Allocate(prefixID PathID, attr string) PathID {
	if prefixID == InvalidID {
		prefixID = RootID
	}
	prefix, ok := a.entries[prefixID]
	if !ok {
		return InvalidID
	}

	if id, ok := prefix.children[attr]; ok {
		a.entries[id].refCount++
		return id
	}
	return a.mint(prefix, attr)
}

// mint creates a new child entry under prefix, assigns its sort key and
// links it into the tree. The new entry starts with refCount 1 and holds one
// reference on its prefix.
func (a *Allocator) mint(prefix *entry, attr string) PathID {
	id := a.nextID
	a.nextID++

	pair := mediant(prefix.skHighest, prefix.skNext)

	first := attr
	if prefix.length > 0 {
		first = prefix.firstAttr
	}

	e := &entry{
		id:            id,
		prefix:        prefix.id,
		length:        prefix.length + 1,
		firstAttr:     first,
		lastAttr:      attr,
		refCount:      1,
		children:      make(map[string]PathID),
		suffixes:      make(map[PathID]PathID),
		skPair:        pair,
		skNext:        prefix.skNext,
		skHighest:     pair,
		skHighestPath: id,
		sortKey:       pair.quotient(),
	}
	a.entries[id] = e
	prefix.children[attr] = id
	prefix.refCount++

	// The previous end of the prefix's subtree is no longer last: every
	// path on the chain from it up to the prefix that was bounded above
	// by the prefix's skNext now has the new path right after it.
	prevLast := prefix.skHighestPath
	for w := prevLast; w != prefix.id; {
		we := a.entries[w]
		if we.skNext != prefix.skNext {
			break
		}
		we.skNext = pair
		w = we.prefix
	}

	// The new path is the highest in its prefix's subtree; walk up while
	// the ancestors agreed on the previous occupant.
	for w := prefix; w != nil && w.skHighestPath == prevLast; {
		w.skHighest = pair
		w.skHighestPath = id
		if w.prefix == InvalidID {
			break
		}
		w = a.entries[w.prefix]
	}

	return id
}

// AllocateFromAttributes allocates the path extending prefixID by the given
// attribute sequence, reusing the longest already-allocated prefix of the
// request. Intermediate paths created along the way keep only the structural
// reference their child holds on them; the one reference the caller receives
// is on the final path.
func (a *Allocator) AllocateFromAttributes(prefixID PathID, attrs []string) PathID {
	if prefixID == InvalidID {
		prefixID = RootID
	}
	cur, ok := a.entries[prefixID]
	if !ok {
		return InvalidID
	}
	if len(attrs) == 0 {
		cur.refCount++
		return cur.id
	}

	// Walk the already-allocated part without touching refcounts.
	i := 0
	for i < len(attrs) {
		next, ok := cur.children[attrs[i]]
		if !ok {
			break
		}
		cur = a.entries[next]
		i++
	}

	if i == len(attrs) {
		// The whole path existed already; only the final path gains the
		// caller's reference.
		cur.refCount++
		return cur.id
	}

	// Mint the remainder. Every minted entry starts with one reference
	// from the allocation step itself, and each mint adds one structural
	// reference on its prefix. For the intermediates this double counts:
	// the transient allocation-step reference is dropped before
	// returning, leaving only the structural one their child holds. The
	// final path keeps its allocation-step reference for the caller.
	minted := make([]PathID, 0, len(attrs)-i)
	for ; i < len(attrs); i++ {
		id := a.mint(cur, attrs[i])
		minted = append(minted, id)
		cur = a.entries[id]
	}
	for _, id := range minted[:len(minted)-1] {
		a.Release(id)
	}
	return cur.id
}

// Release decrements the reference count of the given path. At zero the
// entry's cached suffixes are released, the entry is removed, and the prefix
// loses the reference the entry held on it. Releasing the root is a no-op,
// as is releasing an unknown id.
func (a *Allocator) Release(id PathID) {
	if id == RootID || id == InvalidID {
		return
	}
	e, ok := a.entries[id]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount > 0 {
		return
	}
	a.destroy(e)
}

func (a *Allocator) destroy(e *entry) {
	// Cached suffixes hold references of their own.
	for _, suffixID := range e.suffixes {
		a.Release(suffixID)
	}
	e.suffixes = nil

	prefix := a.entries[e.prefix]
	if prefix != nil {
		delete(prefix.children, e.lastAttr)
	}
	delete(a.entries, e.id)
	a.stringsCache.Remove(e.id)

	// If this path was the end of some ancestors' subtrees, the end
	// reverts to the path's own prefix. Sort keys of surviving paths are
	// not renumbered; only future range-end computations change.
	if prefix != nil {
		for w := prefix; w != nil && w.skHighestPath == e.id; {
			w.skHighest = prefix.skPair
			w.skHighestPath = prefix.id
			if w.prefix == InvalidID {
				break
			}
			w = a.entries[w.prefix]
		}
	}

	a.Release(e.prefix)
}

// IsPrefixOf reports whether prefixID is a (non-strict) prefix of id.
func (a *Allocator) IsPrefixOf(id, prefixID PathID) bool {
	if prefixID == InvalidID {
		prefixID = RootID
	}
	for id != InvalidID {
		if id == prefixID {
			return true
		}
		e, ok := a.entries[id]
		if !ok {
			return false
		}
		id = e.prefix
	}
	return false
}

// Diff returns the id of the exact suffix remaining when prefixID is removed
// from the front of id, allocating and caching the suffix on first request.
// The cached suffix is released together with the entry it is cached on.
// Returns InvalidID if prefixID is not actually a prefix of id.
func (a *Allocator) Diff(id, prefixID PathID) PathID {
	if prefixID == InvalidID {
		prefixID = RootID
	}
	e, ok := a.entries[id]
	if !ok {
		return InvalidID
	}
	if id == prefixID {
		return RootID
	}
	if cached, ok := e.suffixes[prefixID]; ok {
		return cached
	}
	attrs := a.attrsBetween(id, prefixID)
	if attrs == nil {
		return InvalidID
	}
	suffixID := a.AllocateFromAttributes(RootID, attrs)
	e.suffixes[prefixID] = suffixID
	return suffixID
}

// attrsBetween collects the attribute steps leading from prefixID down to
// id, or nil if prefixID is not a prefix of id.
func (a *Allocator) attrsBetween(id, prefixID PathID) []string {
	var rev []string
	for id != prefixID {
		e, ok := a.entries[id]
		if !ok {
			return nil
		}
		rev = append(rev, e.lastAttr)
		id = e.prefix
		if id == InvalidID {
			return nil
		}
	}
	attrs := make([]string, len(rev))
	for i := range rev {
		attrs[i] = rev[len(rev)-1-i]
	}
	return attrs
}

// CommonPrefix returns the longest path that is a prefix of every given
// path. Ids increase with allocation order and a path's id is always
// strictly greater than its prefix's, so the running candidate can always be
// the smaller id.
func (a *Allocator) CommonPrefix(ids []PathID) PathID {
	if len(ids) == 0 {
		return InvalidID
	}
	common := ids[0]
	if _, ok := a.entries[common]; !ok {
		return InvalidID
	}
	for _, id := range ids[1:] {
		if _, ok := a.entries[id]; !ok {
			return InvalidID
		}
		for common != id {
			if common > id {
				common = a.entries[common].prefix
			} else {
				id = a.entries[id].prefix
			}
			if common == InvalidID || id == InvalidID {
				return InvalidID
			}
		}
	}
	return common
}

// SortKey returns the depth-first sort key of the given path, or 0 for an
// unknown id.
func (a *Allocator) SortKey(id PathID) float64 {
	e, ok := a.entries[id]
	if !ok {
		return 0
	}
	return e.sortKey
}

// ExtensionSortKeyRange returns the closed interval containing the sort keys
// of every currently allocated extension of the given path (including the
// path itself). The upper end tracks the highest allocated extension and
// shrinks back when that extension is released.
func (a *Allocator) ExtensionSortKeyRange(id PathID) (float64, float64) {
	e, ok := a.entries[id]
	if !ok {
		return 0, 0
	}
	return e.sortKey, e.skHighest.quotient()
}

// RefCount returns the current reference count of the given path, 0 for an
// unknown id.
func (a *Allocator) RefCount(id PathID) int {
	e, ok := a.entries[id]
	if !ok {
		return 0
	}
	return e.refCount
}

// Length returns the number of attribute steps on the given path.
func (a *Allocator) Length(id PathID) int {
	e, ok := a.entries[id]
	if !ok {
		return 0
	}
	return e.length
}

// PrefixID returns the id of the immediate prefix, InvalidID for the root or
// an unknown id.
func (a *Allocator) PrefixID(id PathID) PathID {
	e, ok := a.entries[id]
	if !ok {
		return InvalidID
	}
	return e.prefix
}

// LastAttr returns the last attribute step of the given path.
func (a *Allocator) LastAttr(id PathID) string {
	e, ok := a.entries[id]
	if !ok {
		return ""
	}
	return e.lastAttr
}

// FirstAttr returns the first attribute step of the given path.
func (a *Allocator) FirstAttr(id PathID) string {
	e, ok := a.entries[id]
	if !ok {
		return ""
	}
	return e.firstAttr
}

// Attrs returns the attribute steps of the given path from the root down.
func (a *Allocator) Attrs(id PathID) []string {
	if id == RootID {
		return []string{}
	}
	return a.attrsBetween(id, RootID)
}

// String renders the given path as a dotted attribute string. Rendered
// strings are cached in an LRU keyed by id; cache entries are dropped when
// the path is released.
func (a *Allocator) String(id PathID) string {
	if id == RootID {
		return ""
	}
	if s, ok := a.stringsCache.Get(id); ok {
		return s
	}
	attrs := a.Attrs(id)
	if attrs == nil {
		return ""
	}
	s := strings.Join(attrs, ".")
	a.stringsCache.Add(id, s)
	return s
}

// Size returns the number of allocated paths, the root included.
func (a *Allocator) Size() int {
	return len(a.entries)
}

// Has reports whether the given id is currently allocated.
func (a *Allocator) Has(id PathID) bool {
	_, ok := a.entries[id]
	return ok
}
