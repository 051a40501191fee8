package correlator_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/akupila/correlator"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

const testConfig = `enabled: true
response_filter: text/html
groups:
  - id: login
    rules:
      - ref: token
        extractor:
          type: regex
          params:
            regex: 'name="token" value="([^"]+)"'
        replacement:
          type: regex
          params:
            regex: 'token=(\w+)'
      - ref: optional
        enabled: false
        extractor:
          type: regex
          params:
            regex: 'opt=(\w+)'
  - id: disabled
    enabled: false
    rules:
      - ref: never
        extractor:
          type: regex
          params:
            regex: 'never=(\w+)'
rules:
  - ref: loose
    extractor:
      type: regex
      params:
        regex: 'id=(\d+)'
        match: '-1'
`

func TestParseConfig(t *testing.T) {
	cfg, err := correlator.ParseConfig([]byte(testConfig))
	if err != nil {
		t.Fatal(err)
	}

	if !cfg.Enabled || cfg.ResponseFilter != "text/html" {
		t.Errorf("Got enabled=%t filter=%q, want true and %q", cfg.Enabled, cfg.ResponseFilter, "text/html")
	}
	if len(cfg.Rules) != 0 {
		t.Errorf("Got %d loose rules after parsing, want 0", len(cfg.Rules))
	}
	var ids []string
	for _, g := range cfg.Groups {
		ids = append(ids, g.ID)
	}
	if diff := cmp.Diff(ids, []string{"login", "disabled", correlator.DefaultGroupID}); diff != "" {
		t.Errorf("Group IDs do not match (-got, +want)\n%s", diff)
	}

	groups := cfg.Build(correlator.DefaultRegistry(), zerolog.Nop())
	if len(groups) != 3 {
		t.Fatalf("Got %d groups, want 3", len(groups))
	}
	login := groups[0]
	if !login.Enabled || groups[1].Enabled {
		t.Errorf("Got group enabled flags %t and %t, want true and false", login.Enabled, groups[1].Enabled)
	}
	if login.Rules[0].Extractor == nil || login.Rules[0].Replacement == nil {
		t.Errorf("Rule token was not fully built: %+v", login.Rules[0])
	}
	if login.Rules[1].Enabled {
		t.Errorf("Rule optional is enabled")
	}
	x, ok := groups[2].Rules[0].Extractor.(*correlator.RegexExtractor)
	if !ok {
		t.Fatalf("Got extractor %T, want *RegexExtractor", groups[2].Rules[0].Extractor)
	}
	if x.Match != correlator.AllMatches {
		t.Errorf("Got match %d, want %d", x.Match, correlator.AllMatches)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "enabled: true\nfilter: x\n"},
		{"duplicate group", "groups:\n  - id: a\n    rules: []\n  - id: a\n    rules: []\n"},
		{"not yaml", "groups: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := correlator.ParseConfig([]byte(tt.yaml)); err == nil {
				t.Error("ParseConfig returned no error")
			}
		})
	}
}

func TestConfig_BuildUnknownType(t *testing.T) {
	cfg := &correlator.Config{Groups: []correlator.GroupConfig{{
		ID: "g",
		Rules: []correlator.RuleConfig{
			{
				Ref:         "r",
				Extractor:   &correlator.PartConfig{Type: "xpath", Params: map[string]string{"query": "//a"}},
				Replacement: &correlator.PartConfig{Type: "regex", Params: map[string]string{"regex": "r=(.*)"}},
			},
			{
				Ref:       "next",
				Extractor: &correlator.PartConfig{Type: "regex", Params: map[string]string{"regex": "n=(.*)"}},
			},
		},
	}}}

	var logged strings.Builder
	groups := cfg.Build(correlator.DefaultRegistry(), zerolog.New(&logged))

	rules := groups[0].Rules
	if len(rules) != 2 {
		t.Fatalf("Got %d rules, want 2", len(rules))
	}
	if rules[0].Extractor != nil {
		t.Errorf("Got extractor %T for an unknown type, want nil", rules[0].Extractor)
	}
	if rules[0].Replacement == nil {
		t.Error("Replacement of rule r was not built")
	}
	if rules[1].Extractor == nil {
		t.Error("Extractor of rule next was not built")
	}
	if !strings.Contains(logged.String(), "xpath") {
		t.Errorf("Unknown type was not logged, got %q", logged.String())
	}
}

func TestConfig_Append(t *testing.T) {
	base := &correlator.Config{
		Enabled:        true,
		ResponseFilter: "text/html, application/json",
		Groups: []correlator.GroupConfig{
			{ID: "login"},
			{ID: "login (1)"},
		},
	}
	imported := &correlator.Config{
		ResponseFilter: "application/json,\ntext/xml",
		Groups: []correlator.GroupConfig{
			{ID: "login", Rules: []correlator.RuleConfig{{Ref: "a"}}},
			{ID: "search"},
		},
		Rules: []correlator.RuleConfig{{Ref: "loose"}},
	}

	base.Append(imported)

	var ids []string
	for _, g := range base.Groups {
		ids = append(ids, g.ID)
	}
	want := []string{"login", "login (1)", "login (2)", "search", correlator.DefaultGroupID}
	if diff := cmp.Diff(ids, want); diff != "" {
		t.Errorf("Group IDs do not match (-got, +want)\n%s", diff)
	}
	if got := base.Groups[2].Rules[0].Ref; got != "a" {
		t.Errorf("Renamed group has rule %q, want %q", got, "a")
	}
	if want := "text/html,application/json,text/xml"; base.ResponseFilter != want {
		t.Errorf("Got filter %q, want %q", base.ResponseFilter, want)
	}
	if !base.Enabled {
		t.Error("Append changed the enabled flag")
	}
	if err := base.Validate(); err != nil {
		t.Errorf("Merged config is invalid: %v", err)
	}
}

func TestConfig_AppendKeepsFilter(t *testing.T) {
	base := &correlator.Config{ResponseFilter: "text/html"}
	base.Append(&correlator.Config{ResponseFilter: "  "})
	if base.ResponseFilter != "text/html" {
		t.Errorf("Got filter %q, want %q", base.ResponseFilter, "text/html")
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	cfg, err := correlator.ParseConfig([]byte(testConfig))
	if err != nil {
		t.Fatal(err)
	}
	filename := filepath.Join(t.TempDir(), "nested", "rules.yml")
	if err := cfg.Save(filename); err != nil {
		t.Fatal(err)
	}

	loaded, err := correlator.LoadConfig(filename)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(loaded, cfg); diff != "" {
		t.Errorf("Loaded config does not match (-got, +want)\n%s", diff)
	}
}
