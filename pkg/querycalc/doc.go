// Package querycalc implements the built-in query kinds of the runtime:
// value selections and projections over the tree indexer. A query is a
// description; evaluating it against an indexer yields a root query
// calculation node that tracks matches incrementally and feeds result nodes
// through the engine's sink interface.
package querycalc
