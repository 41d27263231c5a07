package catalog

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/progression/pkg/stats"
	"gopkg.in/yaml.v3"
)

// rawValue is a requirement value before it is checked against the stat kind.
type rawValue struct {
	isBool bool
	b      bool
	num    float64
}

// parseRequirements accepts either a mapping of stat key to requirement, or
// the legacy list form ["flights:10", "kyc_verified:true"].
func parseRequirements(missionID string, node *yaml.Node) ([]Requirement, error) {
	var out []Requirement
	seen := make(map[stats.Key]bool)
	add := func(r Requirement) error {
		if seen[r.Key] {
			return parseErr(KindSchema, missionID, "requirement %q listed twice", r.Key)
		}
		seen[r.Key] = true
		out = append(out, r)
		return nil
	}

	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := strings.TrimSpace(node.Content[i].Value)
			r, err := parseRequirementNode(missionID, key, node.Content[i+1])
			if err != nil {
				return nil, err
			}
			if err := add(r); err != nil {
				return nil, err
			}
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			r, err := ParseShorthand(item.Value)
			if err != nil {
				var pe *ParseError
				if errors.As(err, &pe) {
					pe.ID = missionID
				}
				return nil, err
			}
			if err := add(r); err != nil {
				return nil, err
			}
		}
	default:
		return nil, parseErr(KindSchema, missionID, "requirements must be a mapping or a list")
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func parseRequirementNode(missionID, key string, node *yaml.Node) (Requirement, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		v, err := scalarValue(missionID, node)
		if err != nil {
			return Requirement{}, err
		}
		return buildRequirement(missionID, key, "", v)
	case yaml.MappingNode:
		var structured struct {
			Op    string    `yaml:"op"`
			Value yaml.Node `yaml:"value"`
		}
		if err := node.Decode(&structured); err != nil {
			return Requirement{}, &ParseError{Kind: KindSchema, ID: missionID, Detail: "requirement " + key, Err: err}
		}
		if structured.Value.Kind != yaml.ScalarNode {
			return Requirement{}, parseErr(KindInvalidThreshold, missionID, "requirement %q has no scalar value", key)
		}
		v, err := scalarValue(missionID, &structured.Value)
		if err != nil {
			return Requirement{}, err
		}
		if strings.TrimSpace(structured.Op) == "" {
			return Requirement{}, parseErr(KindUnknownComparator, missionID, "requirement %q has an empty op", key)
		}
		return buildRequirement(missionID, key, structured.Op, v)
	default:
		return Requirement{}, parseErr(KindSchema, missionID, "requirement %q must be a value or {op, value}", key)
	}
}

func scalarValue(missionID string, node *yaml.Node) (rawValue, error) {
	switch node.Tag {
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return rawValue{}, &ParseError{Kind: KindInvalidThreshold, ID: missionID, Err: err}
		}
		return rawValue{isBool: true, b: b}, nil
	case "!!int", "!!float":
		f, err := strconv.ParseFloat(strings.ReplaceAll(node.Value, "_", ""), 64)
		if err != nil {
			return rawValue{}, &ParseError{Kind: KindInvalidThreshold, ID: missionID, Err: err}
		}
		return rawValue{num: f}, nil
	default:
		return textValue(missionID, node.Value)
	}
}

func textValue(missionID, s string) (rawValue, error) {
	s = strings.TrimSpace(s)
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return rawValue{isBool: true, b: b}, nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, "_", ""), 64)
	if err != nil {
		return rawValue{}, parseErr(KindInvalidThreshold, missionID, "%q is neither a number nor a boolean", s)
	}
	return rawValue{num: f}, nil
}

func parseComparator(op string, v rawValue) (Comparator, bool) {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "":
		if v.isBool {
			return BoolEqual, true
		}
		return AtLeast, true
	case ">=", "≥", "gte", "at_least":
		return AtLeast, true
	case "=", "==", "eq":
		if v.isBool {
			return BoolEqual, true
		}
		return Equal, true
	case "is":
		return BoolEqual, true
	default:
		return 0, false
	}
}

func buildRequirement(missionID, key, op string, v rawValue) (Requirement, error) {
	def, ok := stats.Lookup(stats.Key(key))
	if !ok {
		return Requirement{}, parseErr(KindUnknownStat, missionID, "requirement on unknown stat %q", key)
	}
	cmp, ok := parseComparator(op, v)
	if !ok {
		return Requirement{}, parseErr(KindUnknownComparator, missionID, "comparator %q on %q", op, key)
	}

	r := Requirement{Key: def.Key, Comparator: cmp}
	switch cmp {
	case BoolEqual:
		if def.Kind != stats.KindBool || !v.isBool {
			return Requirement{}, parseErr(KindInvalidThreshold, missionID, "%q needs a boolean stat and value", key)
		}
		r.Threshold = Threshold{Kind: stats.KindBool, Bool: v.b}
	default:
		if def.Kind != stats.KindNumber || v.isBool {
			return Requirement{}, parseErr(KindInvalidThreshold, missionID, "%q needs a numeric stat and value", key)
		}
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) || v.num <= 0 {
			return Requirement{}, parseErr(KindInvalidThreshold, missionID, "%q threshold must be positive, got %v", key, v.num)
		}
		r.Threshold = Threshold{Kind: stats.KindNumber, Number: v.num}
	}
	return r, nil
}

// ParseShorthand parses the legacy "key:value" requirement form, for example
// "flights:10" (flights >= 10) or "kyc_verified:true".
func ParseShorthand(s string) (Requirement, error) {
	key, value, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(key) == "" || strings.TrimSpace(value) == "" {
		return Requirement{}, parseErr(KindSchema, "", "malformed requirement %q", s)
	}
	v, err := textValue("", value)
	if err != nil {
		return Requirement{}, err
	}
	return buildRequirement("", strings.TrimSpace(key), "", v)
}
