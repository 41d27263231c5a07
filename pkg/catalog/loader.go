package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/Mindburn-Labs/progression/pkg/tiers"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// SupportedMajor is the catalog format major version this package reads.
const SupportedMajor = 1

const schemaURL = "https://svt.schemas.local/catalog.schema.json"

//go:embed catalog.schema.json
var schemaJSON string

var (
	catalogSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			return nil, fmt.Errorf("catalog schema load failed: %w", err)
		}
		return c.Compile(schemaURL)
	})
	predicateEnv = sync.OnceValues(newPredicateEnv)
)

// amount decodes a decimal from a YAML number or string without passing
// through float64.
type amount struct {
	decimal.Decimal
}

func (a *amount) UnmarshalYAML(n *yaml.Node) error {
	d, err := decimal.NewFromString(strings.TrimSpace(n.Value))
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", n.Value, err)
	}
	a.Decimal = d
	return nil
}

type rawCatalog struct {
	Version      string           `yaml:"version"`
	Missions     []rawMission     `yaml:"missions"`
	Achievements []rawAchievement `yaml:"achievements"`
}

type rawMission struct {
	ID            string    `yaml:"id"`
	Title         string    `yaml:"title"`
	Description   string    `yaml:"description"`
	Category      string    `yaml:"category"`
	EligibleTiers []string  `yaml:"eligible_tiers"`
	Prerequisites []string  `yaml:"prerequisites"`
	NextMissions  []string  `yaml:"next_missions"`
	Requirements  yaml.Node `yaml:"requirements"`
	Reward        amount    `yaml:"reward"`
	Repeatable    bool      `yaml:"repeatable"`
	ResetPeriod   string    `yaml:"reset_period"`
}

type rawAchievement struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Predicate   string `yaml:"predicate"`
	Reward      amount `yaml:"reward"`
	Rank        string `yaml:"rank"`
}

// LoadFile reads and validates a catalog file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Load reads and validates a catalog.
func Load(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse validates catalog bytes. Every failure is a *ParseError.
func Parse(data []byte) (*Catalog, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Kind: KindSyntax, Err: err}
	}

	version, err := semver.NewVersion(raw.Version)
	if err != nil {
		return nil, &ParseError{Kind: KindVersion, Detail: raw.Version, Err: err}
	}
	if version.Major() != SupportedMajor {
		return nil, parseErr(KindVersion, "", "unsupported catalog version %s, want %d.x", version, SupportedMajor)
	}

	c := &Catalog{
		version:  version,
		index:    make(map[string]int, len(raw.Missions)),
		achIndex: make(map[string]int, len(raw.Achievements)),
	}
	if err := c.buildMissions(raw.Missions); err != nil {
		return nil, err
	}
	if err := c.buildAchievements(raw.Achievements); err != nil {
		return nil, err
	}
	return c, nil
}

func validateSchema(data []byte) error {
	schema, err := catalogSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &ParseError{Kind: KindSyntax, Err: err}
	}
	if doc == nil {
		return parseErr(KindSchema, "", "empty catalog")
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return &ParseError{Kind: KindSyntax, Err: err}
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var inst any
	if err := dec.Decode(&inst); err != nil {
		return &ParseError{Kind: KindSyntax, Err: err}
	}
	if err := schema.Validate(inst); err != nil {
		return &ParseError{Kind: KindSchema, Err: err}
	}
	return nil
}

func normalizeID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

func (c *Catalog) buildMissions(raws []rawMission) error {
	prereqs := make([]map[string]bool, 0, len(raws))

	for _, rm := range raws {
		id := normalizeID(rm.ID)
		if id == "" {
			return parseErr(KindSchema, "", "mission with empty id")
		}
		if _, dup := c.index[id]; dup {
			return parseErr(KindDuplicateID, id, "mission defined twice")
		}

		m, err := buildMission(id, rm)
		if err != nil {
			return err
		}

		set := make(map[string]bool, len(rm.Prerequisites))
		for _, p := range rm.Prerequisites {
			set[normalizeID(p)] = true
		}
		c.index[id] = len(c.nodes)
		c.nodes = append(c.nodes, node{mission: m})
		prereqs = append(prereqs, set)
	}

	// next_missions are forward edges; store them on the target as prerequisites.
	for _, rm := range raws {
		from := normalizeID(rm.ID)
		for _, next := range rm.NextMissions {
			to, ok := c.index[normalizeID(next)]
			if !ok {
				return parseErr(KindDanglingPrerequisite, from, "next mission %q is not a mission", next)
			}
			prereqs[to][from] = true
		}
	}

	for i := range c.nodes {
		ids := make([]string, 0, len(prereqs[i]))
		for id := range prereqs[i] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		c.nodes[i].mission.Prerequisites = ids
	}

	if err := linkGraph(c.nodes, c.index); err != nil {
		return err
	}
	order, err := topoSort(c.nodes)
	if err != nil {
		return err
	}
	c.order = order
	return nil
}

func buildMission(id string, rm rawMission) (Mission, error) {
	category, ok := parseCategory(rm.Category)
	if !ok {
		return Mission{}, parseErr(KindSchema, id, "unknown category %q", rm.Category)
	}

	eligible := make(map[tiers.Tier]bool)
	for _, name := range rm.EligibleTiers {
		t, err := tiers.Parse(name)
		if err != nil {
			return Mission{}, &ParseError{Kind: KindUnknownTier, ID: id, Err: err}
		}
		eligible[t] = true
	}
	var tierList []tiers.Tier
	for _, t := range tiers.All {
		if eligible[t] {
			tierList = append(tierList, t)
		}
	}
	if len(tierList) == 0 {
		return Mission{}, parseErr(KindUnknownTier, id, "no eligible tiers")
	}

	if !rm.Reward.IsPositive() {
		return Mission{}, parseErr(KindInvalidReward, id, "reward must be positive, got %s", rm.Reward)
	}

	reset := ResetPeriod(strings.ToLower(strings.TrimSpace(rm.ResetPeriod)))
	switch reset {
	case ResetNone, ResetDaily, ResetWeekly, ResetMonthly:
	default:
		return Mission{}, parseErr(KindInvalidReset, id, "unknown reset period %q", rm.ResetPeriod)
	}
	if rm.Repeatable && reset == ResetNone {
		return Mission{}, parseErr(KindInvalidReset, id, "repeatable mission needs a reset_period")
	}
	if !rm.Repeatable && reset != ResetNone {
		return Mission{}, parseErr(KindInvalidReset, id, "reset_period %q on a non-repeatable mission", reset)
	}

	reqs, err := parseRequirements(id, &rm.Requirements)
	if err != nil {
		return Mission{}, err
	}

	return Mission{
		ID:            id,
		Title:         strings.TrimSpace(rm.Title),
		Description:   strings.TrimSpace(rm.Description),
		Category:      category,
		EligibleTiers: tierList,
		Requirements:  reqs,
		Reward:        rm.Reward.Decimal,
		Repeatable:    rm.Repeatable,
		ResetPeriod:   reset,
	}, nil
}

func (c *Catalog) buildAchievements(raws []rawAchievement) error {
	if len(raws) == 0 {
		return nil
	}
	env, err := predicateEnv()
	if err != nil {
		return err
	}

	for _, ra := range raws {
		id := normalizeID(ra.ID)
		if id == "" {
			return parseErr(KindSchema, "", "achievement with empty id")
		}
		if _, dup := c.achIndex[id]; dup {
			return parseErr(KindDuplicateID, id, "achievement defined twice")
		}
		rank, ok := ParseRank(ra.Rank)
		if !ok {
			return parseErr(KindSchema, id, "unknown rank %q", ra.Rank)
		}
		if !ra.Reward.IsPositive() {
			return parseErr(KindInvalidReward, id, "reward must be positive, got %s", ra.Reward)
		}

		src := NormalizePredicate(ra.Predicate)
		prg, refs, err := compilePredicate(env, id, src)
		if err != nil {
			return err
		}
		c.achIndex[id] = len(c.achievements)
		c.achievements = append(c.achievements, Achievement{
			ID:          id,
			Name:        strings.TrimSpace(ra.Name),
			Description: strings.TrimSpace(ra.Description),
			Predicate:   src,
			Reward:      ra.Reward.Decimal,
			Rank:        rank,
			refs:        refs,
			program:     prg,
		})
	}

	sort.SliceStable(c.achievements, func(i, j int) bool {
		a, b := c.achievements[i], c.achievements[j]
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.ID < b.ID
	})
	for i, a := range c.achievements {
		c.achIndex[a.ID] = i
	}
	return nil
}
