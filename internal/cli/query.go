package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"quiver.io/incremental-query-runtime/pkg/compress"
	"quiver.io/incremental-query-runtime/pkg/engine"
	"quiver.io/incremental-query-runtime/pkg/pathid"
	"quiver.io/incremental-query-runtime/pkg/qcm"
	"quiver.io/incremental-query-runtime/pkg/querycalc"
)

// Dataset is the YAML input of the query command: a set of elements with
// attribute values, plus the selection terms to run over them. Terms are
// conjunctive: an element matches when every term selects it.
type Dataset struct {
	Elements  []Element  `json:"elements"`
	Select    []Term     `json:"select"`
	Mutations []Mutation `json:"mutations,omitempty"`
}

type Element struct {
	ID     int64             `json:"id"`
	Values map[string]string `json:"values"`
}

type Term struct {
	Path   string   `json:"path"`
	Equals []string `json:"equals"`
}

// Mutation is a post-load change applied to the live result set: either a
// value update (set) or a whole-element removal (remove).
type Mutation struct {
	Remove int64    `json:"remove,omitempty"`
	Set    *Element `json:"set,omitempty"`
}

func newQueryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "query <dataset-file>",
		Short: "Run a one-shot query over a YAML dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, args[0])
		},
	}
}

func runQuery(cmd *cobra.Command, opts *options, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("cannot read dataset %q: %w", file, err)
	}
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return fmt.Errorf("cannot parse dataset %q: %w", file, err)
	}
	if len(ds.Select) == 0 {
		return fmt.Errorf("dataset %q contains no selection terms", file)
	}

	cfg := qcm.Config{}
	if opts.configFile != "" {
		cfg, err = qcm.LoadConfig(opts.configFile)
		if err != nil {
			return err
		}
	}
	ctx := qcm.New(cfg, prometheus.NewRegistry(), opts.log)

	for _, e := range ds.Elements {
		for path, value := range e.Values {
			ctx.SetValue(engine.ElementID(e.ID), splitPath(path), "string", value)
		}
	}

	h, err := composeTerms(ctx, ds.Select)
	if err != nil {
		return err
	}
	res := &resultSet{}
	ctx.Results.Compose(h, res)
	ctx.Commit()

	ids := res.ids()
	opts.log.V(1).Info("query done", "elements", len(ds.Elements),
		"terms", len(ds.Select), "matches", len(ids))
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}

	// The result set is live: mutations flow through the composed chain and
	// the updated membership is printed after each round.
	for _, m := range ds.Mutations {
		switch {
		case m.Set != nil:
			for path, value := range m.Set.Values {
				ctx.SetValue(engine.ElementID(m.Set.ID), splitPath(path), "string", value)
			}
		case m.Remove != 0:
			ctx.RemoveElement(engine.ElementID(m.Remove))
		}
		ctx.Commit()
		fmt.Fprintln(cmd.OutOrStdout(), "---")
		for _, id := range res.ids() {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
	}

	ctx.Results.Decompose(h, res)
	return nil
}

// composeTerms builds a select chain: the first term reads the tree indexer,
// each further term stacks on the previous node.
func composeTerms(ctx *qcm.Context, terms []Term) (engine.Handle, error) {
	var prev engine.Handle
	for i, t := range terms {
		attrs := splitPath(t.Path)
		if len(attrs) == 0 {
			return engine.Handle{}, fmt.Errorf("empty path in selection term %d", i+1)
		}
		rel := ctx.Paths.AllocateFromAttributes(pathid.RootID, attrs)

		codes := make([]compress.Code, 0, len(t.Equals))
		for _, v := range t.Equals {
			codes = append(codes, ctx.Values.Simple("string", v))
		}
		var m querycalc.Matcher = querycalc.AnyValue{}
		if len(codes) > 0 {
			m = querycalc.NewCodeSet(codes...)
		}

		h := ctx.Results.NewResult(engine.KindQuery)
		ctx.Results.SetQuery(h, querycalc.NewSelectQuery(int64(i+1), rel, m))
		if i == 0 {
			ctx.Results.SetDataIndexer(h, ctx.Index, pathid.RootID)
		} else {
			ctx.Results.SetDataResult(h, prev)
		}
		prev = h
	}
	return prev, nil
}

func splitPath(p string) []string {
	var attrs []string
	for _, a := range strings.Split(p, ".") {
		if a != "" {
			attrs = append(attrs, a)
		}
	}
	return attrs
}

// resultSet folds match events into the final membership set.
type resultSet struct {
	counts map[engine.ElementID]int
}

func (r *resultSet) AddMatches(ids []engine.ElementID, count int) {
	if r.counts == nil {
		r.counts = make(map[engine.ElementID]int)
	}
	for _, id := range ids {
		r.counts[id] += count
	}
}

func (r *resultSet) RemoveMatches(ids []engine.ElementID, count int) {
	for _, id := range ids {
		r.counts[id] -= count
		if r.counts[id] <= 0 {
			delete(r.counts, id)
		}
	}
}

func (r *resultSet) ReplaceIndexerAndPaths(engine.Indexer, pathid.PathID) {}

func (r *resultSet) ids() []int64 {
	ids := make([]int64, 0, len(r.counts))
	for id := range r.counts {
		ids = append(ids, int64(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
