package qcm_test

import (
	"os"
	"path/filepath"

	"github.com/go-logr/logr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"quiver.io/incremental-query-runtime/pkg/compress"
	"quiver.io/incremental-query-runtime/pkg/engine"
	"quiver.io/incremental-query-runtime/pkg/qcm"
	"quiver.io/incremental-query-runtime/pkg/pathid"
	"quiver.io/incremental-query-runtime/pkg/querycalc"
)

// consumer records result notifications.
type consumer struct {
	events []consumerEvent
}

type consumerEvent struct {
	kind  string
	ids   []engine.ElementID
	count int
}

func (c *consumer) AddMatches(ids []engine.ElementID, count int) {
	c.events = append(c.events, consumerEvent{kind: "add", ids: append([]engine.ElementID(nil), ids...), count: count})
}

func (c *consumer) RemoveMatches(ids []engine.ElementID, count int) {
	c.events = append(c.events, consumerEvent{kind: "remove", ids: append([]engine.ElementID(nil), ids...), count: count})
}

func (c *consumer) ReplaceIndexerAndPaths(ix engine.Indexer, path pathid.PathID) {}

func (c *consumer) current() map[engine.ElementID]struct{} {
	out := make(map[engine.ElementID]struct{})
	for _, ev := range c.events {
		for _, id := range ev.ids {
			if ev.kind == "add" {
				out[id] = struct{}{}
			} else {
				delete(out, id)
			}
		}
	}
	return out
}

var _ = Describe("Context", func() {
	var ctx *qcm.Context

	BeforeEach(func() {
		ctx = qcm.New(qcm.Config{}, nil, logr.Discard())
	})

	It("stores compressed values behind interned paths", func() {
		path := ctx.SetValue(1, []string{"spec", "tier"}, "string", "gold")
		Expect(path).NotTo(Equal(pathid.InvalidID))

		code, ok := ctx.Index.LookupValue(1, path)
		Expect(ok).To(BeTrue())
		Expect(code).To(Equal(ctx.Values.Simple("string", "gold")))
		ctx.Values.ReleaseSimple(code) // drop the probe reference
	})

	It("reuses the code and path for identical values", func() {
		p1 := ctx.SetValue(1, []string{"spec", "tier"}, "string", "gold")
		p2 := ctx.SetValue(2, []string{"spec", "tier"}, "string", "gold")
		Expect(p1).To(Equal(p2))

		c1, _ := ctx.Index.LookupValue(1, p1)
		c2, _ := ctx.Index.LookupValue(2, p2)
		Expect(c1).To(Equal(c2))
	})

	It("releases table entries when elements go away", func() {
		ctx.SetValue(1, []string{"spec", "tier"}, "string", "gold")
		valueTable := ctx.Values.Size()
		pathTable := ctx.Paths.Size()

		ctx.RemoveElement(1)
		ctx.Commit()

		Expect(ctx.Values.Size()).To(BeNumerically("<", valueTable))
		Expect(ctx.Paths.Size()).To(BeNumerically("<", pathTable))
		Expect(ctx.Index.Size()).To(BeZero())
	})

	Context("running composed queries end to end", func() {
		var (
			tier, zone pathid.PathID
			h1, h2     engine.Handle
			cons       *consumer
		)

		BeforeEach(func() {
			for id, v := range map[engine.ElementID]string{1: "gold", 2: "gold", 3: "gold", 4: "silver", 5: "silver"} {
				tier = ctx.SetValue(id, []string{"spec", "tier"}, "string", v)
			}
			for id, v := range map[engine.ElementID]string{1: "west", 2: "east", 3: "east", 4: "east", 5: "west"} {
				zone = ctx.SetValue(id, []string{"spec", "zone"}, "string", v)
			}
			ctx.Commit()

			gold := ctx.Values.Simple("string", "gold")
			east := ctx.Values.Simple("string", "east")
			q1 := querycalc.NewSelectQuery(1, tier, querycalc.NewCodeSet(gold))
			q2 := querycalc.NewSelectQuery(2, zone, querycalc.NewCodeSet(east))

			h1 = ctx.Results.NewResult(engine.KindQuery)
			ctx.Results.SetQuery(h1, q1)
			ctx.Results.SetDataIndexer(h1, ctx.Index, pathid.RootID)

			h2 = ctx.Results.NewResult(engine.KindQuery)
			ctx.Results.SetQuery(h2, q2)
			ctx.Results.SetDataResult(h2, h1)

			cons = &consumer{}
			ctx.Results.Compose(h2, cons)
			ctx.Commit()
		})

		It("computes the intersection of the chain", func() {
			Expect(cons.current()).To(HaveLen(2))
			Expect(cons.current()).To(HaveKey(engine.ElementID(2)))
			Expect(cons.current()).To(HaveKey(engine.ElementID(3)))
			Expect(ctx.Results.MatchCount(h2)).To(Equal(2))
		})

		It("notifies a removed element exactly once", func() {
			cons.events = nil

			ctx.RemoveElement(3)
			ctx.Commit()

			Expect(cons.events).To(HaveLen(1))
			Expect(cons.events[0].kind).To(Equal("remove"))
			Expect(cons.events[0].ids).To(ConsistOf(engine.ElementID(3)))
		})

		It("follows value updates through the chain", func() {
			cons.events = nil

			// element 1 moves into the second selection
			ctx.SetValue(1, []string{"spec", "zone"}, "string", "east")
			ctx.Commit()
			Expect(cons.current()).To(HaveKey(engine.ElementID(1)))

			// element 2 drops out of the first selection
			ctx.SetValue(2, []string{"spec", "tier"}, "string", "bronze")
			ctx.Commit()
			Expect(cons.current()).NotTo(HaveKey(engine.ElementID(2)))
		})

		It("keeps result indexer insertion invisible to the chain", func() {
			mid := &consumer{}
			ctx.Results.Compose(h1, mid)
			Expect(ctx.Results.IsActive(h1)).To(BeTrue())
			cons.events = nil
			mid.events = nil

			ctx.Results.InsertResultIndexer(h1)
			ctx.Commit()

			Expect(cons.events).To(BeEmpty())
			Expect(mid.events).To(BeEmpty())
			Expect(ctx.Results.GetDominatedMatches(h1)).To(ConsistOf(
				engine.ElementID(1), engine.ElementID(2), engine.ElementID(3)))
			Expect(ctx.Results.GetDominatedMatches(h2)).To(ConsistOf(
				engine.ElementID(2), engine.ElementID(3)))
		})
	})
})

var _ = Describe("Provider", func() {
	It("memoizes calcs per query, indexer and path", func() {
		ctx := qcm.New(qcm.Config{}, nil, logr.Discard())
		q := querycalc.NewSelectQuery(1, pathid.RootID, querycalc.AnyValue{})
		p := qcm.NewProvider()

		c1 := p.RootCalc(q, ctx.Index, pathid.RootID)
		c2 := p.RootCalc(q, ctx.Index, pathid.RootID)
		Expect(c1).To(BeIdenticalTo(c2))
		Expect(p.Size()).To(Equal(1))

		p.ReleaseRootCalc(c1)
		Expect(p.Size()).To(Equal(1))
		p.ReleaseRootCalc(c2)
		Expect(p.Size()).To(BeZero())
	})
})

var _ = Describe("Config", func() {
	It("loads rounding rules from YAML", func() {
		file := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(file, []byte("number:\n  mode: significant\n  digits: 3\n"), 0o644)).To(Succeed())

		cfg, err := qcm.LoadConfig(file)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Rounding).To(HaveKey("number"))
		Expect(cfg.Rounding["number"].Mode).To(Equal(compress.RoundSignificant))
	})

	It("rejects a missing file", func() {
		_, err := qcm.LoadConfig(filepath.Join(GinkgoT().TempDir(), "nope.yaml"))
		Expect(err).To(HaveOccurred())
	})
})
