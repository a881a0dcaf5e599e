// Package compress maps arbitrary values to small integer codes so that
// value equality reduces to integer equality. Simple scalars, numeric ranges
// with open or closed endpoints, path-scoped values, and sequence-built
// compound values each get their own reference-counted allocation table.
//
// Codes are exact: equal inputs always yield the same code and distinct
// inputs distinct codes, by memoization rather than hashing. The one
// exception is the quick code attached to path-scoped values, a 32-bit value
// drawn from a full-period linear-congruential sequence; quick codes trade
// guaranteed uniqueness for speed and callers needing certainty must compare
// the full codes.
//
// Scalars are rounded before lookup under a per-type rounding configuration,
// so values that agree up to the configured precision collapse to one code.
//
// Simple-value releases are queued and applied in a batch at the end of the
// update cycle; a value released and immediately re-requested within one
// cycle therefore keeps its code without deallocation churn.
package compress
