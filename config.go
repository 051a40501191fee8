package correlator

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

// DefaultGroupID is the ID given to rules that were stored outside of any
// group.
const DefaultGroupID = "New Group"

// Config is the stored correlation configuration.
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	ResponseFilter string        `yaml:"response_filter,omitempty"`
	Groups         []GroupConfig `yaml:"groups,omitempty"`

	// Rules outside of any group. They are moved into a group named
	// DefaultGroupID when the config is parsed.
	Rules []RuleConfig `yaml:"rules,omitempty"`
}

// GroupConfig is the stored form of a Group. Groups are enabled unless
// disabled explicitly.
type GroupConfig struct {
	ID      string       `yaml:"id"`
	Enabled *bool        `yaml:"enabled,omitempty"`
	Rules   []RuleConfig `yaml:"rules"`
}

// RuleConfig is the stored form of a Rule. Rules are enabled unless disabled
// explicitly.
type RuleConfig struct {
	Ref         string      `yaml:"ref"`
	Enabled     *bool       `yaml:"enabled,omitempty"`
	Extractor   *PartConfig `yaml:"extractor,omitempty"`
	Replacement *PartConfig `yaml:"replacement,omitempty"`
}

// PartConfig is the stored form of a rule part.
type PartConfig struct {
	Type   string            `yaml:"type"`
	Params map[string]string `yaml:"params,omitempty"`
}

func enabled(b *bool) bool { return b == nil || *b }

// LoadConfig reads the config stored at filename.
func LoadConfig(filename string) (*Config, error) {
	b, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return cfg, nil
}

// ParseConfig decodes a YAML config.
func ParseConfig(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.adoptRules()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to filename, creating directories as needed.
func (c *Config) Save(filename string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return err
	}
	return ioutil.WriteFile(filename, b, 0644)
}

// Validate checks that group IDs are unique.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Groups))
	var dup []string
	for _, g := range c.Groups {
		if seen[g.ID] {
			dup = append(dup, fmt.Sprintf("%q", g.ID))
		}
		seen[g.ID] = true
	}
	if len(dup) > 0 {
		return fmt.Errorf("duplicate group ids: %s", strings.Join(dup, ", "))
	}
	return nil
}

// adoptRules moves loose rules into their own group.
func (c *Config) adoptRules() {
	if len(c.Rules) == 0 {
		return
	}
	c.addGroup(GroupConfig{ID: DefaultGroupID, Rules: c.Rules})
	c.Rules = nil
}

// addGroup appends g, renaming it to "ID (n)" with the lowest free n if its
// ID is taken.
func (c *Config) addGroup(g GroupConfig) {
	if c.hasGroup(g.ID) {
		for n := 1; ; n++ {
			id := fmt.Sprintf("%s (%d)", g.ID, n)
			if !c.hasGroup(id) {
				g.ID = id
				break
			}
		}
	}
	c.Groups = append(c.Groups, g)
}

func (c *Config) hasGroup(id string) bool {
	for _, g := range c.Groups {
		if g.ID == id {
			return true
		}
	}
	return false
}

// Append merges an imported config into c. Imported groups whose ID is
// already used are renamed, and the response filters are joined without
// repeating patterns. The enabled flag of c is kept.
func (c *Config) Append(other *Config) {
	c.ResponseFilter = mergeFilters(c.ResponseFilter, other.ResponseFilter)
	imported := append([]GroupConfig(nil), other.Groups...)
	if len(other.Rules) > 0 {
		imported = append(imported, GroupConfig{ID: DefaultGroupID, Rules: other.Rules})
	}
	for _, g := range imported {
		c.addGroup(g)
	}
}

func mergeFilters(actual, loaded string) string {
	if strings.TrimSpace(loaded) == "" {
		return actual
	}
	seen := make(map[string]bool)
	var out []string
	for _, list := range []string{actual, loaded} {
		for _, f := range strings.Split(strings.Replace(list, "\n", "", -1), ",") {
			f = strings.TrimSpace(f)
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			out = append(out, f)
		}
	}
	return strings.Join(out, ",")
}

// Build creates the groups described by the config.
//
// A rule part that cannot be built, for example because its type is not
// registered, is logged and left empty. The other part of the rule and the
// remaining rules are still built.
func (c *Config) Build(r *Registry, log zerolog.Logger) []*Group {
	groups := make([]*Group, 0, len(c.Groups))
	for _, gc := range c.Groups {
		g := &Group{ID: gc.ID, Enabled: enabled(gc.Enabled)}
		for _, rc := range gc.Rules {
			rule := &Rule{Ref: rc.Ref, Enabled: enabled(rc.Enabled)}
			if rc.Extractor != nil {
				p, err := r.NewExtractor(rc.Extractor.Type, rc.Ref, rc.Extractor.Params)
				if err != nil {
					log.Warn().Err(err).Str("group", gc.ID).Str("ref", rc.Ref).Msg("Couldn't load correlation extractor")
				} else {
					rule.Extractor = p
				}
			}
			if rc.Replacement != nil {
				p, err := r.NewReplacement(rc.Replacement.Type, rc.Ref, rc.Replacement.Params)
				if err != nil {
					log.Warn().Err(err).Str("group", gc.ID).Str("ref", rc.Ref).Msg("Couldn't load correlation replacement")
				} else {
					rule.Replacement = p
				}
			}
			g.Rules = append(g.Rules, rule)
		}
		groups = append(groups, g)
	}
	return groups
}
