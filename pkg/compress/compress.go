package compress

import (
	"quiver.io/incremental-query-runtime/pkg/pathid"
)

// Code is an integer compression code. Equal values always compress to the
// same code; distinct values to distinct codes.
type Code int64

const (
	// UnknownCode is the reserved "unknown" code; never allocated.
	UnknownCode Code = 0
	// EmptyRangeCode is the fixed code of the canonical empty range. It is
	// not reference counted.
	EmptyRangeCode Code = 1

	firstCode Code = 2
)

// Full-period linear-congruential sequence over 31-bit space; drives quick
// codes.
const (
	lcgMultiplier = 16807
	lcgModulus    = 2147483647 // 2^31 - 1
)

// Range is a numeric range value with open or closed endpoints.
type Range struct {
	Min     any
	Max     any
	MinOpen bool
	MaxOpen bool
}

// SimpleValue is the reverse-lookup descriptor of a simple code.
type SimpleValue struct {
	Type  string
	Value any
}

type simpleEntry struct {
	code     Code
	refCount int
	typ      string
	value    any // rounded
}

type rangeEntry struct {
	code     Code
	refCount int
	typ      string
	low      any // rounded
	high     any // rounded
	minOpen  bool
	maxOpen  bool
	lowCode  Code // reference held on the low endpoint's simple code
}

// rangeSet holds the up-to-4 lazily allocated open/close combinations of one
// (low, high) endpoint pair.
type rangeSet struct {
	combos [4]*rangeEntry
}

type pathKey struct {
	path pathid.PathID
	code Code
}

type pathEntry struct {
	quick    uint32
	full     Code
	refCount int
	key      pathKey
}

type seqKey struct {
	prefix Code
	next   Code
}

type seqEntry struct {
	code     Code
	refCount int
	key      seqKey
}

// Compressor allocates reference-counted compression codes.
type Compressor struct {
	rounding RoundingConfig
	nextCode Code

	simple map[string]map[any]*simpleEntry
	ranges map[string]map[any]map[any]*rangeSet

	// byCode indexes simple and range entries for release, reallocation
	// and reverse lookup by code alone.
	simpleByCode map[Code]*simpleEntry
	rangeByCode  map[Code]*rangeEntry

	paths      map[pathKey]*pathEntry
	pathByFull map[Code]*pathEntry

	seqs      map[seqKey]*seqEntry
	seqByCode map[Code]*seqEntry

	// queuedSimple holds simple-code releases deferred to the cycle end.
	queuedSimple []Code

	quickState int64
}

// NewCompressor returns an empty compressor with the given rounding
// configuration (nil means no rounding).
func NewCompressor(cfg RoundingConfig) *Compressor {
	if cfg == nil {
		cfg = RoundingConfig{}
	}
	return &Compressor{
		rounding:     cfg,
		nextCode:     firstCode,
		simple:       make(map[string]map[any]*simpleEntry),
		ranges:       make(map[string]map[any]map[any]*rangeSet),
		simpleByCode: make(map[Code]*simpleEntry),
		rangeByCode:  make(map[Code]*rangeEntry),
		paths:        make(map[pathKey]*pathEntry),
		pathByFull:   make(map[Code]*pathEntry),
		seqs:         make(map[seqKey]*seqEntry),
		seqByCode:    make(map[Code]*seqEntry),
		quickState:   1,
	}
}

// Simple returns the code of a typed value, allocating on first use and
// bumping the reference count on repeats. The value may be a plain scalar or
// a Range. A range whose rounded endpoints coincide collapses to the plain
// scalar code when both bounds are closed and to EmptyRangeCode when at
// least one bound is open.
func (c *Compressor) Simple(typ string, value any) Code {
	if r, ok := value.(Range); ok {
		return c.rangeCode(typ, r)
	}
	rounded := c.rounding.round(typ, value)

	table, ok := c.simple[typ]
	if !ok {
		table = make(map[any]*simpleEntry)
		c.simple[typ] = table
	}
	if e, ok := table[rounded]; ok {
		e.refCount++
		return e.code
	}
	e := &simpleEntry{
		code:     c.allocCode(),
		refCount: 1,
		typ:      typ,
		value:    rounded,
	}
	table[rounded] = e
	c.simpleByCode[e.code] = e
	return e.code
}

func (c *Compressor) rangeCode(typ string, r Range) Code {
	low := c.rounding.round(typ, r.Min)
	high := c.rounding.round(typ, r.Max)

	if low == high {
		if r.MinOpen || r.MaxOpen {
			// The canonical empty range: fixed code, no allocation,
			// no refcounting.
			return EmptyRangeCode
		}
		// A closed point range is the scalar itself.
		return c.Simple(typ, low)
	}

	byLow, ok := c.ranges[typ]
	if !ok {
		byLow = make(map[any]map[any]*rangeSet)
		c.ranges[typ] = byLow
	}
	byHigh, ok := byLow[low]
	if !ok {
		byHigh = make(map[any]*rangeSet)
		byLow[low] = byHigh
	}
	set, ok := byHigh[high]
	if !ok {
		set = &rangeSet{}
		byHigh[high] = set
	}

	idx := comboIndex(r.MinOpen, r.MaxOpen)
	if e := set.combos[idx]; e != nil {
		e.refCount++
		return e.code
	}
	e := &rangeEntry{
		code:     c.allocCode(),
		refCount: 1,
		typ:      typ,
		low:      low,
		high:     high,
		minOpen:  r.MinOpen,
		maxOpen:  r.MaxOpen,
		lowCode:  c.Simple(typ, low),
	}
	set.combos[idx] = e
	c.rangeByCode[e.code] = e
	return e.code
}

func comboIndex(minOpen, maxOpen bool) int {
	idx := 0
	if minOpen {
		idx |= 1
	}
	if maxOpen {
		idx |= 2
	}
	return idx
}

// ReallocateSimple bumps the reference count of a simple or range code
// without re-deriving it from the original value. Returns false for an
// unknown code. The reserved codes are accepted and left untouched.
func (c *Compressor) ReallocateSimple(code Code) bool {
	if code == EmptyRangeCode {
		return true
	}
	if e, ok := c.simpleByCode[code]; ok {
		e.refCount++
		return true
	}
	if e, ok := c.rangeByCode[code]; ok {
		e.refCount++
		return true
	}
	return false
}

// ReleaseSimple queues the release of a simple or range code. Queued
// releases are applied in a batch by ApplyQueuedSimpleRelease at the end of
// the update cycle, so a value released and re-requested within one cycle is
// not deallocated in between.
func (c *Compressor) ReleaseSimple(code Code) {
	if code == UnknownCode || code == EmptyRangeCode {
		return
	}
	c.queuedSimple = append(c.queuedSimple, code)
}

// ApplyQueuedSimpleRelease applies all queued simple releases. This is the
// compressor's once-per-cycle flush point.
func (c *Compressor) ApplyQueuedSimpleRelease() {
	// Work through the queue as a worklist: destroying a range entry
	// queues the release of its low-endpoint code.
	for len(c.queuedSimple) > 0 {
		code := c.queuedSimple[0]
		c.queuedSimple = c.queuedSimple[1:]
		c.releaseSimpleNow(code)
	}
	c.queuedSimple = nil
}

func (c *Compressor) releaseSimpleNow(code Code) {
	if e, ok := c.simpleByCode[code]; ok {
		e.refCount--
		if e.refCount <= 0 {
			delete(c.simpleByCode, code)
			delete(c.simple[e.typ], e.value)
			if len(c.simple[e.typ]) == 0 {
				delete(c.simple, e.typ)
			}
		}
		return
	}
	if e, ok := c.rangeByCode[code]; ok {
		e.refCount--
		if e.refCount <= 0 {
			delete(c.rangeByCode, code)
			c.dropRangeEntry(e)
			c.ReleaseSimple(e.lowCode)
		}
	}
}

func (c *Compressor) dropRangeEntry(e *rangeEntry) {
	byLow, ok := c.ranges[e.typ]
	if !ok {
		return
	}
	byHigh, ok := byLow[e.low]
	if !ok {
		return
	}
	set, ok := byHigh[e.high]
	if !ok {
		return
	}
	set.combos[comboIndex(e.minOpen, e.maxOpen)] = nil
	if set.combos[0] == nil && set.combos[1] == nil && set.combos[2] == nil && set.combos[3] == nil {
		delete(byHigh, e.high)
		if len(byHigh) == 0 {
			delete(byLow, e.low)
			if len(byLow) == 0 {
				delete(c.ranges, e.typ)
			}
		}
	}
}

// GetSimpleValue is the reverse lookup of a simple or range code, intended
// for debugging and introspection. EmptyRangeCode maps to the canonical
// empty range descriptor.
func (c *Compressor) GetSimpleValue(code Code) (SimpleValue, bool) {
	if code == EmptyRangeCode {
		return SimpleValue{Type: "", Value: Range{MinOpen: true, MaxOpen: true}}, true
	}
	if e, ok := c.simpleByCode[code]; ok {
		return SimpleValue{Type: e.typ, Value: e.value}, true
	}
	if e, ok := c.rangeByCode[code]; ok {
		return SimpleValue{
			Type:  e.typ,
			Value: Range{Min: e.low, Max: e.high, MinOpen: e.minOpen, MaxOpen: e.maxOpen},
		}, true
	}
	return SimpleValue{}, false
}

// Path returns the (quick, full) code pair scoping a simple code to a path.
// The full code equals the simple code itself when the path is the root; the
// quick code is a likely-but-not-guaranteed-unique 32-bit value and
// collisions must be tolerated by callers.
func (c *Compressor) Path(path pathid.PathID, simpleCode Code) (uint32, Code) {
	key := pathKey{path: path, code: simpleCode}
	if e, ok := c.paths[key]; ok {
		e.refCount++
		return e.quick, e.full
	}
	full := simpleCode
	if path != pathid.RootID && path != pathid.InvalidID {
		full = c.allocCode()
	}
	e := &pathEntry{
		quick:    c.nextQuick(),
		full:     full,
		refCount: 1,
		key:      key,
	}
	c.paths[key] = e
	c.pathByFull[full] = e
	return e.quick, e.full
}

// PathAndValue compresses a value and scopes it to a path in one step.
func (c *Compressor) PathAndValue(path pathid.PathID, typ string, value any) (uint32, Code) {
	return c.Path(path, c.Simple(typ, value))
}

// ReleasePath releases one reference on a path-scoped code pair by its full
// code.
func (c *Compressor) ReleasePath(full Code) {
	e, ok := c.pathByFull[full]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(c.pathByFull, full)
		delete(c.paths, e.key)
	}
}

// Next builds compound-value codes incrementally: it returns the code of the
// sequence obtained by appending code to the sequence identified by
// prefixCode. A zero prefix means "no prefix yet" and returns the code
// unchanged without allocation; the first element of a sequence is free.
func (c *Compressor) Next(prefixCode, code Code) Code {
	if prefixCode == UnknownCode {
		return code
	}
	key := seqKey{prefix: prefixCode, next: code}
	if e, ok := c.seqs[key]; ok {
		e.refCount++
		return e.code
	}
	e := &seqEntry{
		code:     c.allocCode(),
		refCount: 1,
		key:      key,
	}
	c.seqs[key] = e
	c.seqByCode[e.code] = e
	return e.code
}

// ReleaseNext releases one reference on a sequence code.
func (c *Compressor) ReleaseNext(code Code) {
	e, ok := c.seqByCode[code]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(c.seqByCode, code)
		delete(c.seqs, e.key)
	}
}

func (c *Compressor) allocCode() Code {
	code := c.nextCode
	c.nextCode++
	return code
}

// nextQuick steps the linear-congruential sequence. The sequence has full
// period over [1, 2^31-2], so quick codes repeat only after 2^31-2
// allocations.
func (c *Compressor) nextQuick() uint32 {
	c.quickState = c.quickState * lcgMultiplier % lcgModulus
	return uint32(c.quickState)
}

// Size returns the total number of live allocation entries across all
// tables.
func (c *Compressor) Size() int {
	return len(c.simpleByCode) + len(c.rangeByCode) + len(c.paths) + len(c.seqs)
}

// QueuedReleases returns the number of simple releases waiting for the
// cycle-end flush.
func (c *Compressor) QueuedReleases() int {
	return len(c.queuedSimple)
}
