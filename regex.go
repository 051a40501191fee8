package correlator

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RegexType is the type name of the regex extractor and replacement.
const RegexType = "regex"

// Extractor targets.
const (
	TargetBody    = "body"
	TargetHeaders = "headers"
	TargetURL     = "url"
)

// AllMatches as the match number of a RegexExtractor stores every match.
const AllMatches = -1

// RegexExtractor stores a capture group of a regular expression found in
// the response.
//
// With a match number n > 0 the n-th match is stored in the variable named
// after the rule. With AllMatches every match i is stored as ref_i and the
// number of matches as ref_matchNr.
type RegexExtractor struct {
	Ref    string
	Regex  *regexp.Regexp
	Group  int
	Match  int
	Target string

	values *ValuesContext
}

// NewRegexExtractor builds a RegexExtractor from its parameters: regex
// (required), group (default 1), match (default 1) and target (default
// body).
func NewRegexExtractor(ref string, params map[string]string) (RulePart, error) {
	re, err := regexParam(params)
	if err != nil {
		return nil, err
	}
	group, err := intParam(params, "group", 1)
	if err != nil {
		return nil, err
	}
	if group < 0 || group > re.NumSubexp() {
		return nil, fmt.Errorf("group %d out of range, regex has %d groups", group, re.NumSubexp())
	}
	match, err := intParam(params, "match", 1)
	if err != nil {
		return nil, err
	}
	if match == 0 || match < AllMatches {
		return nil, fmt.Errorf("invalid match number %d", match)
	}
	target := params["target"]
	switch target {
	case "":
		target = TargetBody
	case TargetBody, TargetHeaders, TargetURL:
	default:
		return nil, fmt.Errorf("invalid target %q", target)
	}
	return &RegexExtractor{Ref: ref, Regex: re, Group: group, Match: match, Target: target}, nil
}

// ContextKind implements ContextUser.
func (x *RegexExtractor) ContextKind() string { return ValuesContextKind }

// SetContext implements ContextUser.
func (x *RegexExtractor) SetContext(c Context) {
	x.values, _ = c.(*ValuesContext)
}

// Process implements RulePart.
func (x *RegexExtractor) Process(tx *Transaction, vars *Vars) error {
	if tx.Result == nil {
		return nil
	}
	var text string
	switch x.Target {
	case TargetHeaders:
		text = headerText(tx.Result.Headers)
	case TargetURL:
		text = tx.Result.URL
	default:
		text = tx.Result.Body
	}
	matches := x.Regex.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	if x.Match == AllMatches {
		for i, m := range matches {
			x.store(vars, x.Ref+"_"+strconv.Itoa(i+1), m[x.Group])
		}
		vars.Put(x.Ref+"_matchNr", strconv.Itoa(len(matches)))
	} else {
		if len(matches) < x.Match {
			return nil
		}
		x.store(vars, x.Ref, matches[x.Match-1][x.Group])
	}
	tx.Elements = append(tx.Elements, x.element())
	return nil
}

func (x *RegexExtractor) store(vars *Vars, name, value string) {
	vars.Put(name, value)
	if x.values != nil {
		x.values.Record(x.Ref, name, value)
	}
}

func (x *RegexExtractor) element() Element {
	return Element{
		Kind: KindRegexExtractor,
		Name: x.Ref,
		Properties: map[string]string{
			"regex":  x.Regex.String(),
			"group":  strconv.Itoa(x.Group),
			"match":  strconv.Itoa(x.Match),
			"target": x.Target,
		},
	}
}

// RegexReplacement rewrites request values captured by the first group of a
// regular expression into references to the variable that holds them.
//
// The URL, every header value and the body are searched. A captured value
// is replaced with ${name} when the variable named after the rule holds it,
// or when an earlier extraction of the rule stored it in a variable that
// still holds it.
type RegexReplacement struct {
	Ref   string
	Regex *regexp.Regexp

	values *ValuesContext
}

// NewRegexReplacement builds a RegexReplacement from its parameters:
// regex (required, with at least one group).
func NewRegexReplacement(ref string, params map[string]string) (RulePart, error) {
	re, err := regexParam(params)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() < 1 {
		return nil, errors.New("replacement regex needs a capture group")
	}
	return &RegexReplacement{Ref: ref, Regex: re}, nil
}

// ContextKind implements ContextUser.
func (r *RegexReplacement) ContextKind() string { return ValuesContextKind }

// SetContext implements ContextUser.
func (r *RegexReplacement) SetContext(c Context) {
	r.values, _ = c.(*ValuesContext)
}

// Process implements RulePart.
func (r *RegexReplacement) Process(tx *Transaction, vars *Vars) error {
	req := tx.Request
	if req == nil {
		return nil
	}
	req.URL = r.replace(req.URL, vars)
	for _, vv := range req.Headers {
		for i, v := range vv {
			vv[i] = r.replace(v, vars)
		}
	}
	req.Body = r.replace(req.Body, vars)
	return nil
}

func (r *RegexReplacement) replace(s string, vars *Vars) string {
	idx := r.Regex.FindAllStringSubmatchIndex(s, -1)
	if len(idx) == 0 {
		return s
	}
	var b strings.Builder
	last := 0
	for _, m := range idx {
		start, end := m[2], m[3]
		if start < 0 || start == end {
			continue
		}
		name, ok := r.variableFor(s[start:end], vars)
		if !ok {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString("${" + name + "}")
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

func (r *RegexReplacement) variableFor(value string, vars *Vars) (string, bool) {
	if v, ok := vars.Get(r.Ref); ok && v == value {
		return r.Ref, true
	}
	if r.values == nil {
		return "", false
	}
	name, ok := r.values.Find(r.Ref, value)
	if !ok {
		return "", false
	}
	if v, ok := vars.Get(name); ok && v == value {
		return name, true
	}
	return "", false
}

func regexParam(params map[string]string) (*regexp.Regexp, error) {
	expr := params["regex"]
	if expr == "" {
		return nil, errors.New("missing regex")
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile regex: %w", err)
	}
	return re, nil
}

func intParam(params map[string]string, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", key, err)
	}
	return n, nil
}
