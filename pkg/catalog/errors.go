package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCatalogParse matches every *ParseError.
var ErrCatalogParse = errors.New("catalog: parse error")

// ErrorKind classifies a catalog load failure.
type ErrorKind string

const (
	KindSyntax               ErrorKind = "syntax"
	KindSchema               ErrorKind = "schema"
	KindVersion              ErrorKind = "version"
	KindDuplicateID          ErrorKind = "duplicate_id"
	KindUnknownComparator    ErrorKind = "unknown_comparator"
	KindUnknownStat          ErrorKind = "unknown_stat"
	KindUnknownTier          ErrorKind = "unknown_tier"
	KindInvalidThreshold     ErrorKind = "invalid_threshold"
	KindInvalidReward        ErrorKind = "invalid_reward"
	KindInvalidReset         ErrorKind = "invalid_reset"
	KindDanglingPrerequisite ErrorKind = "dangling_prerequisite"
	KindCycle                ErrorKind = "cycle"
	KindInvalidPredicate     ErrorKind = "invalid_predicate"
)

// ParseError reports why a catalog could not be loaded.
type ParseError struct {
	Kind   ErrorKind
	ID     string // offending mission or achievement id, if any
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("catalog: ")
	b.WriteString(string(e.Kind))
	if e.ID != "" {
		fmt.Fprintf(&b, " in %q", e.ID)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ParseError) Is(target error) bool { return target == ErrCatalogParse }

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(kind ErrorKind, id, format string, args ...any) *ParseError {
	return &ParseError{Kind: kind, ID: id, Detail: fmt.Sprintf(format, args...)}
}
