package rules

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// file mirrors the on-disk YAML layout of a rule set.
type file struct {
	Version        string       `yaml:"version"`
	AllowedDomains []string     `yaml:"allowed_domains"`
	CommandTokens  []string     `yaml:"command_tokens"`
	Educational    lexiconFile  `yaml:"educational"`
	Crisis         []crisisFile `yaml:"crisis"`
	Rules          []ruleFile   `yaml:"rules"`
}

type lexiconFile struct {
	Subjects []string `yaml:"subjects"`
	Tasks    []string `yaml:"tasks"`
	Anatomy  []string `yaml:"anatomy"`
}

type crisisFile struct {
	Type    string   `yaml:"type"`
	Phrases []string `yaml:"phrases"`
}

type ruleFile struct {
	ID                string `yaml:"id"`
	Family            string `yaml:"family"`
	Reason            string `yaml:"reason"`
	Kind              string `yaml:"kind"`
	Pattern           string `yaml:"pattern"`
	SkipIfEducational bool   `yaml:"skip_if_educational"`
	MinorsOnly        bool   `yaml:"minors_only"`
	SelfHarmAdjacent  bool   `yaml:"self_harm_adjacent"`
	Severity          int    `yaml:"severity"`
	Placeholder       string `yaml:"placeholder"`
}

// Load parses and compiles a YAML rule set. Unknown fields are rejected so
// a typo in a rule flag cannot silently disable it.
func Load(r io.Reader) (*RuleSet, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("rules: decode: %w", err)
	}

	defs := make([]*Rule, 0, len(f.Rules))
	for _, rf := range f.Rules {
		defs = append(defs, &Rule{
			ID:                rf.ID,
			Family:            Family(rf.Family),
			Reason:            ReasonCode(rf.Reason),
			Kind:              Kind(rf.Kind),
			Pattern:           rf.Pattern,
			SkipIfEducational: rf.SkipIfEducational,
			MinorsOnly:        rf.MinorsOnly,
			SelfHarmAdjacent:  rf.SelfHarmAdjacent,
			Severity:          rf.Severity,
			Placeholder:       rf.Placeholder,
		})
	}
	crisis := make([]CrisisList, 0, len(f.Crisis))
	for _, c := range f.Crisis {
		crisis = append(crisis, CrisisList{Type: c.Type, Phrases: c.Phrases})
	}
	lex := Lexicon{
		Subjects: f.Educational.Subjects,
		Tasks:    f.Educational.Tasks,
		Anatomy:  f.Educational.Anatomy,
	}

	return compile(f.Version, defs, f.AllowedDomains, f.CommandTokens, crisis, lex)
}

// LoadFile loads a rule set from path.
func LoadFile(path string) (*RuleSet, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rules: open %s: %w", path, err)
	}
	defer fh.Close()
	return Load(fh)
}

// Default returns the rule set compiled into the binary. It panics if the
// embedded file is invalid, which the package tests guard against.
func Default() *RuleSet {
	rs, err := Load(bytes.NewReader(defaultRulesYAML))
	if err != nil {
		panic(fmt.Sprintf("rules: embedded default rule set: %v", err))
	}
	return rs
}

// LoadOrDefault loads path when set and falls back to the embedded rule set
// otherwise.
func LoadOrDefault(path string) (*RuleSet, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}
