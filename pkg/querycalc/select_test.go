package querycalc

import (
	"github.com/go-logr/logr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"quiver.io/incremental-query-runtime/pkg/compress"
	"quiver.io/incremental-query-runtime/pkg/engine"
	"quiver.io/incremental-query-runtime/pkg/indexer"
	"quiver.io/incremental-query-runtime/pkg/pathid"
)

// sink records what a calc delivers.
type sink struct {
	added, removed []engine.ElementID
}

func (s *sink) ID() engine.ResultID { return 1 }

func (s *sink) AddMatches(ids []engine.ElementID, count int) {
	s.added = append(s.added, ids...)
}

func (s *sink) RemoveMatches(ids []engine.ElementID, count int) {
	s.removed = append(s.removed, ids...)
}

var _ = Describe("SelectQuery", func() {
	var (
		paths  *pathid.Allocator
		values *compress.Compressor
		tree   *indexer.TreeIndexer
		phase  pathid.PathID
		ready  compress.Code
	)

	BeforeEach(func() {
		paths = pathid.NewAllocator()
		values = compress.NewCompressor(nil)
		tree = indexer.NewTreeIndexer(paths, values, logr.Discard())
		phase = paths.AllocateFromAttributes(pathid.RootID, []string{"status", "phase"})
		ready = values.Simple("string", "Ready")
	})

	It("matches preexisting values on evaluation", func() {
		tree.SetValue(1, phase, ready)
		tree.SetValue(2, phase, values.Simple("string", "Pending"))

		q := NewSelectQuery(1, phase, NewCodeSet(ready))
		calc := q.NewRootCalc(tree, pathid.RootID)
		Expect(calc.IsCompiled()).To(BeTrue())
		Expect(calc.GetMatches()).To(ConsistOf(engine.ElementID(1)))
	})

	It("replays matches into an attaching sink", func() {
		tree.SetValue(1, phase, ready)
		q := NewSelectQuery(1, phase, NewCodeSet(ready))
		calc := q.NewRootCalc(tree, pathid.RootID)

		s := &sink{}
		calc.AttachResult(s)
		Expect(s.added).To(ConsistOf(engine.ElementID(1)))
	})

	It("tracks value changes incrementally", func() {
		q := NewSelectQuery(1, phase, NewCodeSet(ready))
		calc := q.NewRootCalc(tree, pathid.RootID)
		s := &sink{}
		calc.AttachResult(s)

		tree.SetValue(1, phase, ready)
		Expect(s.added).To(ConsistOf(engine.ElementID(1)))

		// value flips away from the selection
		tree.SetValue(1, phase, values.Simple("string", "Failed"))
		Expect(s.removed).To(ConsistOf(engine.ElementID(1)))

		tree.SetValue(1, phase, ready)
		Expect(s.added).To(HaveLen(2))
	})

	It("matches on codes, so equal values always share a match", func() {
		again := values.Simple("string", "Ready")
		Expect(again).To(Equal(ready))

		q := NewSelectQuery(1, phase, NewCodeSet(ready))
		calc := q.NewRootCalc(tree, pathid.RootID)
		s := &sink{}
		calc.AttachResult(s)

		tree.SetValue(5, phase, again)
		Expect(s.added).To(ConsistOf(engine.ElementID(5)))
	})

	It("selects any value with the AnyValue matcher", func() {
		q := NewSelectQuery(1, phase, AnyValue{})
		calc := q.NewRootCalc(tree, pathid.RootID)
		s := &sink{}
		calc.AttachResult(s)

		tree.SetValue(1, phase, ready)
		tree.SetValue(2, phase, values.Simple("string", "Pending"))
		Expect(s.added).To(HaveLen(2))

		tree.RemoveValue(2, phase)
		Expect(s.removed).To(ConsistOf(engine.ElementID(2)))
	})

	It("unregisters from the indexer when the last sink detaches", func() {
		q := NewSelectQuery(1, phase, NewCodeSet(ready))
		calc := q.NewRootCalc(tree, pathid.RootID)
		s := &sink{}
		calc.AttachResult(s)
		calc.DetachResult(s)
		Expect(calc.IsCompiled()).To(BeFalse())

		tree.SetValue(1, phase, ready)
		Expect(s.added).To(BeEmpty())
	})

	It("recomputes silently on refresh", func() {
		tree.SetValue(1, phase, ready)
		tree.SetValue(2, phase, ready)
		q := NewSelectQuery(1, phase, NewCodeSet(ready))
		calc := q.NewRootCalc(tree, pathid.RootID)
		s := &sink{}
		calc.AttachResult(s)
		s.added = nil

		merge := indexer.NewMergeIndexer(tree, paths, logr.Discard())
		merge.AddProjMatches([]engine.ElementID{1}, 1)
		calc.Refresh(merge, pathid.RootID)

		Expect(s.added).To(BeEmpty())
		Expect(s.removed).To(BeEmpty())
		Expect(calc.GetMatches()).To(ConsistOf(engine.ElementID(1)))
	})
})

var _ = Describe("ProjectQuery", func() {
	It("exposes its generating projection mapping", func() {
		paths := pathid.NewAllocator()
		spec := paths.AllocateFromAttributes(pathid.RootID, []string{"spec"})
		q := NewProjectQuery(7, spec)
		Expect(q.IsProjection()).To(BeTrue())
		Expect(q.IsSelection()).To(BeFalse())

		calc := q.NewRootCalc(nil, pathid.RootID)
		Expect(calc.GetProjectionPathID()).To(Equal(spec))
		maps := calc.GetGeneratingProjMappings()
		Expect(maps).To(HaveLen(1))
		Expect(maps[0].Path).To(Equal(spec))
	})

	It("reference counts projected matches", func() {
		q := NewProjectQuery(7, pathid.RootID)
		calc := q.NewRootCalc(nil, pathid.RootID).(*projectCalc)

		calc.AddProjMatches([]engine.ElementID{1}, 10)
		calc.AddProjMatches([]engine.ElementID{1}, 11)
		calc.RemoveProjMatches([]engine.ElementID{1}, 10)
		Expect(calc.Projected()).To(ConsistOf(engine.ElementID(1)))
		calc.RemoveProjMatches([]engine.ElementID{1}, 11)
		Expect(calc.Projected()).To(BeEmpty())
	})
})
