package qcm

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"quiver.io/incremental-query-runtime/pkg/compress"
	"quiver.io/incremental-query-runtime/pkg/engine"
	"quiver.io/incremental-query-runtime/pkg/indexer"
	"quiver.io/incremental-query-runtime/pkg/pathid"
)

// Config carries the static settings of a runtime context.
type Config struct {
	// Rounding is the numeric rounding policy applied before value
	// compression, keyed by value type.
	Rounding compress.RoundingConfig `json:"rounding,omitempty"`
}

// LoadConfig reads a context config from a YAML file.
func LoadConfig(file string) (Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", file, err)
	}
	rounding, err := compress.LoadRoundingConfig(data)
	if err != nil {
		return Config{}, err
	}
	return Config{Rounding: rounding}, nil
}

// Context is one query calculation manager instance: the shared tables, the
// indexer and the result arena of a single runtime. A context is not safe
// for concurrent use.
type Context struct {
	Paths    *pathid.Allocator
	Values   *compress.Compressor
	Index    *indexer.TreeIndexer
	Results  *engine.Arena
	Provider *Provider

	metrics *Metrics
	log     logr.Logger
}

// New builds a context. The prometheus registerer may be nil to skip metrics
// registration.
func New(cfg Config, reg prometheus.Registerer, log logr.Logger) *Context {
	paths := pathid.NewAllocator()
	values := compress.NewCompressor(cfg.Rounding)
	metrics := NewMetrics(reg)
	provider := NewProvider()

	ctx := &Context{
		Paths:    paths,
		Values:   values,
		Index:    indexer.NewTreeIndexer(paths, values, log.WithName("indexer")),
		Provider: provider,
		metrics:  metrics,
		log:      log,
	}
	ctx.Results = engine.NewArena(provider, ctx.newMergeIndexer, metrics, log.WithName("results"))
	return ctx
}

func (c *Context) newMergeIndexer(base engine.Indexer) engine.MergeIndexer {
	return indexer.NewMergeIndexer(base, c.Paths, c.log.WithName("merge"))
}

// SetValue compresses a value and stores it for an element at a dotted
// attribute path, interning the path as needed. The returned path id stays
// referenced by the context until the value is removed.
func (c *Context) SetValue(id engine.ElementID, attrs []string, typ string, value any) pathid.PathID {
	path := c.Paths.AllocateFromAttributes(pathid.RootID, attrs)
	if path == pathid.InvalidID {
		return path
	}
	code := c.Values.Simple(typ, value)
	old, had := c.Index.LookupValue(id, path)
	c.Index.SetValue(id, path, code)
	if had {
		// the indexer held one code reference and one path reference
		c.Values.ReleaseSimple(old)
		c.Paths.Release(path)
	}
	return path
}

// RemoveValue drops the value an element carries at a path and releases the
// references the context held for it.
func (c *Context) RemoveValue(id engine.ElementID, path pathid.PathID) {
	code, ok := c.Index.LookupValue(id, path)
	if !ok {
		return
	}
	c.Index.RemoveValue(id, path)
	c.Values.ReleaseSimple(code)
	c.Paths.Release(path)
}

// RemoveElement drops an element with all its values.
func (c *Context) RemoveElement(id engine.ElementID) {
	for _, path := range c.Index.ElementPaths(id) {
		c.RemoveValue(id, path)
	}
	c.Index.RemoveElement(id)
}

// Commit ends one update cycle: queued match propagation is flushed and
// deferred value releases are applied. Call it after a batch of mutations.
func (c *Context) Commit() {
	c.Results.Flush()
	c.Values.ApplyQueuedSimpleRelease()
	c.metrics.setTableSizes(c.Paths.Size(), c.Values.Size())
	c.metrics.commit()
}
