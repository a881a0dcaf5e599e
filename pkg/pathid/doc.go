// Package pathid allocates stable integer identifiers for attribute paths in
// a tree-structured dataset. Paths are sequences of attribute-name steps from
// the data root; the allocator reference-counts each allocated path, links it
// to its prefix, and assigns every path a rational sort key such that
// ascending sort-key order is exactly depth-first traversal order.
//
// Sort keys are fractions placed by Stern-Brocot mediant insertion: a new
// child of a path receives the mediant of the highest fraction currently
// assigned inside the path's subtree and the fraction bounding the subtree
// from above. All fractions produced this way are in lowest terms and
// strictly ordered, so two paths can be compared, and a path tested for
// being an extension of another, without any string comparison.
//
// Identifiers are 64-bit and monotonically increasing; released identifiers
// are never handed out again. Identifier 0 is the invalid sentinel and 1 is
// the root path, which is pinned and never released.
package pathid
