package indexer

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"quiver.io/incremental-query-runtime/pkg/compress"
	"quiver.io/incremental-query-runtime/pkg/engine"
	"quiver.io/incremental-query-runtime/pkg/pathid"
)

// listener records path node notifications.
type listener struct {
	added   []engine.ElementID
	removed []engine.ElementID
}

func (l *listener) ElementAdded(id engine.ElementID, code compress.Code) {
	l.added = append(l.added, id)
}

func (l *listener) ElementRemoved(id engine.ElementID, code compress.Code) {
	l.removed = append(l.removed, id)
}

var _ = Describe("TreeIndexer", func() {
	var (
		paths  *pathid.Allocator
		values *compress.Compressor
		tree   *TreeIndexer
		name   pathid.PathID
	)

	BeforeEach(func() {
		paths = pathid.NewAllocator()
		values = compress.NewCompressor(nil)
		tree = NewTreeIndexer(paths, values, logr.Discard())
		name = paths.AllocateFromAttributes(pathid.RootID, []string{"metadata", "name"})
	})

	It("stores and resolves values per element and path", func() {
		code := values.Simple("string", "alice")
		tree.SetValue(1, name, code)

		got, ok := tree.LookupValue(1, name)
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(code))

		_, ok = tree.LookupValue(2, name)
		Expect(ok).To(BeFalse())
	})

	It("enumerates all elements at the root path", func() {
		tree.SetValue(1, name, values.Simple("string", "alice"))
		tree.SetValue(2, name, values.Simple("string", "bob"))
		Expect(tree.GetAllMatches(pathid.RootID)).To(ConsistOf(
			engine.ElementID(1), engine.ElementID(2)))
		Expect(tree.Size()).To(Equal(2))
	})

	It("notifies listeners on value changes", func() {
		l := &listener{}
		tree.AddQueryCalcToPathNode(l, name)

		tree.SetValue(1, name, values.Simple("string", "alice"))
		Expect(l.added).To(ConsistOf(engine.ElementID(1)))

		// replacing a value is a remove of the old plus an add of the new
		tree.SetValue(1, name, values.Simple("string", "carol"))
		Expect(l.removed).To(ConsistOf(engine.ElementID(1)))
		Expect(l.added).To(HaveLen(2))

		tree.RemoveValue(1, name)
		Expect(l.removed).To(HaveLen(2))
	})

	It("does not notify after a listener unregisters", func() {
		l := &listener{}
		tree.AddQueryCalcToPathNode(l, name)
		tree.RemoveQueryCalcFromPathNode(l, name)
		tree.SetValue(1, name, values.Simple("string", "alice"))
		Expect(l.added).To(BeEmpty())
	})

	It("drops an element with all its values", func() {
		other := paths.AllocateFromAttributes(pathid.RootID, []string{"spec", "size"})
		tree.SetValue(1, name, values.Simple("string", "alice"))
		tree.SetValue(1, other, values.Simple("number", 10))
		Expect(tree.ElementPaths(1)).To(ConsistOf(name, other))

		tree.RemoveElement(1)
		Expect(tree.ElementPaths(1)).To(BeEmpty())
		Expect(tree.GetAllMatches(pathid.RootID)).To(BeEmpty())
		_, ok := tree.LookupValue(1, name)
		Expect(ok).To(BeFalse())
	})

	It("traces replacements and removals through the supplied logger", func() {
		var lines []string
		log := funcr.New(func(prefix, args string) {
			lines = append(lines, args)
		}, funcr.Options{Verbosity: 5})
		tr := NewTreeIndexer(paths, values, log)

		tr.SetValue(1, name, values.Simple("string", "alice"))
		tr.SetValue(1, name, values.Simple("string", "bob"))
		tr.RemoveElement(1)

		Expect(lines).To(ContainElement(ContainSubstring("replacing value")))
		Expect(lines).To(ContainElement(ContainSubstring("removing element")))
	})

	It("tracks element presence across partial removals", func() {
		other := paths.AllocateFromAttributes(pathid.RootID, []string{"spec", "size"})
		tree.SetValue(1, name, values.Simple("string", "alice"))
		tree.SetValue(1, other, values.Simple("number", 10))

		tree.RemoveValue(1, name)
		Expect(tree.GetAllMatches(pathid.RootID)).To(ConsistOf(engine.ElementID(1)))

		tree.RemoveValue(1, other)
		Expect(tree.GetAllMatches(pathid.RootID)).To(BeEmpty())
	})
})

var _ = Describe("MergeIndexer", func() {
	var (
		paths  *pathid.Allocator
		values *compress.Compressor
		tree   *TreeIndexer
		merge  *MergeIndexer
		name   pathid.PathID
	)

	BeforeEach(func() {
		paths = pathid.NewAllocator()
		values = compress.NewCompressor(nil)
		tree = NewTreeIndexer(paths, values, logr.Discard())
		name = paths.AllocateFromAttributes(pathid.RootID, []string{"metadata", "name"})
		tree.SetValue(1, name, values.Simple("string", "alice"))
		tree.SetValue(2, name, values.Simple("string", "bob"))
		merge = NewMergeIndexer(tree, paths, logr.Discard())
	})

	It("exposes only the fed matches", func() {
		merge.AddProjMatches([]engine.ElementID{1}, 7)
		Expect(merge.GetAllMatches(pathid.RootID)).To(ConsistOf(engine.ElementID(1)))

		_, ok := merge.LookupValue(2, name)
		Expect(ok).To(BeFalse())
		code, ok := merge.LookupValue(1, name)
		Expect(ok).To(BeTrue())
		Expect(code).To(Equal(values.Simple("string", "alice")))
	})

	It("reference counts matches from multiple owners", func() {
		merge.AddProjMatches([]engine.ElementID{1}, 7)
		merge.AddProjMatches([]engine.ElementID{1}, 8)
		merge.RemoveProjMatches([]engine.ElementID{1}, 7)
		Expect(merge.GetAllMatches(pathid.RootID)).To(ConsistOf(engine.ElementID(1)))
		merge.RemoveProjMatches([]engine.ElementID{1}, 8)
		Expect(merge.GetAllMatches(pathid.RootID)).To(BeEmpty())
	})

	It("notifies listeners when visibility flips", func() {
		l := &listener{}
		merge.AddQueryCalcToPathNode(l, name)

		merge.AddProjMatches([]engine.ElementID{1, 2}, 7)
		Expect(l.added).To(ConsistOf(engine.ElementID(1), engine.ElementID(2)))

		merge.RemoveProjMatches([]engine.ElementID{1}, 7)
		Expect(l.removed).To(ConsistOf(engine.ElementID(1)))
	})

	It("translates lookups through projection mappings", func() {
		status := paths.AllocateFromAttributes(pathid.RootID, []string{"status", "metadata", "name"})
		tree.SetValue(3, status, values.Simple("string", "carol"))

		prefix := paths.AllocateFromAttributes(pathid.RootID, []string{"status"})
		merge.AddMapping(9, 1, tree, prefix)
		merge.AddProjMatches([]engine.ElementID{3}, 9)

		code, ok := merge.LookupValue(3, name)
		Expect(ok).To(BeTrue())
		Expect(code).To(Equal(values.Simple("string", "carol")))
	})

	It("clears content but keeps registrations", func() {
		l := &listener{}
		merge.AddQueryCalcToPathNode(l, name)
		merge.AddProjMatches([]engine.ElementID{1}, 7)

		merge.Clear()
		Expect(merge.Size()).To(BeZero())
		Expect(l.removed).To(ConsistOf(engine.ElementID(1)))

		merge.AddProjMatches([]engine.ElementID{2}, 7)
		Expect(l.added).To(ContainElement(engine.ElementID(2)))
	})

	It("traces mapping and lifecycle events through the supplied logger", func() {
		var lines []string
		log := funcr.New(func(prefix, args string) {
			lines = append(lines, args)
		}, funcr.Options{Verbosity: 5})
		m := NewMergeIndexer(tree, paths, log)

		prefix := paths.AllocateFromAttributes(pathid.RootID, []string{"status"})
		m.AddMapping(9, 1, tree, prefix)
		m.AddProjMatches([]engine.ElementID{1}, 9)
		m.Destroy()

		Expect(lines).To(ContainElement(ContainSubstring("installing projection mapping")))
		Expect(lines).To(ContainElement(ContainSubstring("clearing match set")))
		Expect(lines).To(ContainElement(ContainSubstring("destroying merge indexer")))
	})
})
