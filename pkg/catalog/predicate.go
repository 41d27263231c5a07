package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/progression/pkg/stats"
	"github.com/google/cel-go/cel"
)

// predicateCostLimit bounds the runtime cost of a single achievement predicate.
const predicateCostLimit = 10000

var (
	identPattern     = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	stringLitPattern = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'`)
	predicateSymbols = strings.NewReplacer("≥", ">=", "≤", "<=", "≠", "!=")
)

// newPredicateEnv declares every documented stat as a typed variable.
func newPredicateEnv() (*cel.Env, error) {
	opts := []cel.EnvOption{cel.CrossTypeNumericComparisons(true)}
	for _, d := range stats.Keys() {
		t := cel.DoubleType
		if d.Kind == stats.KindBool {
			t = cel.BoolType
		}
		opts = append(opts, cel.Variable(string(d.Key), t))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// NormalizePredicate rewrites the mathematical comparison symbols accepted in
// catalogs into CEL operators.
func NormalizePredicate(src string) string {
	return strings.TrimSpace(predicateSymbols.Replace(src))
}

// compilePredicate type-checks src and returns its program and referenced stats.
func compilePredicate(env *cel.Env, id, src string) (cel.Program, []stats.Key, error) {
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, nil, &ParseError{Kind: KindInvalidPredicate, ID: id, Detail: src, Err: issues.Err()}
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, nil, parseErr(KindInvalidPredicate, id, "%q evaluates to %s, want bool", src, ast.OutputType())
	}
	prg, err := env.Program(ast, cel.CostLimit(predicateCostLimit))
	if err != nil {
		return nil, nil, &ParseError{Kind: KindInvalidPredicate, ID: id, Detail: src, Err: err}
	}
	return prg, referencedStats(src), nil
}

// referencedStats lists the stat keys mentioned in src outside string literals.
// The checker has already rejected undeclared identifiers, so every stat-shaped
// identifier left is a variable read.
func referencedStats(src string) []stats.Key {
	code := stringLitPattern.ReplaceAllString(src, `""`)
	seen := make(map[stats.Key]bool)
	for _, ident := range identPattern.FindAllString(code, -1) {
		if _, ok := stats.Lookup(stats.Key(ident)); ok {
			seen[stats.Key(ident)] = true
		}
	}
	out := make([]stats.Key, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
