package querycalc

import (
	"quiver.io/incremental-query-runtime/pkg/compress"
)

// Matcher decides whether a compressed value satisfies a selection. Matching
// happens purely on codes: two occurrences of the same value share a code,
// so equality and set membership never touch the raw value.
type Matcher interface {
	Matches(code compress.Code) bool
}

// CodeSet matches any of an explicit set of codes.
type CodeSet map[compress.Code]struct{}

// NewCodeSet builds a code set matcher. Unknown codes are dropped: a value
// that was never compressed cannot occur in the index.
func NewCodeSet(codes ...compress.Code) CodeSet {
	s := make(CodeSet, len(codes))
	for _, c := range codes {
		if c == compress.UnknownCode {
			continue
		}
		s[c] = struct{}{}
	}
	return s
}

func (s CodeSet) Matches(code compress.Code) bool {
	_, ok := s[code]
	return ok
}

// AnyValue matches every element carrying a value at the path, whatever the
// value is.
type AnyValue struct{}

func (AnyValue) Matches(code compress.Code) bool { return true }
