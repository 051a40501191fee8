package correlator

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Engine applies correlation rules to transactions.
//
// The engine is not safe for concurrent use; a Controller serializes every
// call to it.
type Engine struct {
	// Log receives diagnostics.
	Log zerolog.Logger

	// Metrics, if set, counts rule part failures.
	Metrics *Metrics

	contexts *contexts
	rules    []*Rule
	vars     *Vars
	cookies  *CookieTracker
	enabled  bool
}

// NewEngine returns a disabled engine without rules that builds its contexts
// with r.
func NewEngine(r *Registry) *Engine {
	return &Engine{
		Log:      zerolog.Nop(),
		contexts: newContexts(r),
		vars:     NewVars(),
		cookies:  NewCookieTracker(),
	}
}

// SetRules replaces the active rules with the rules of every enabled group,
// in group order and then rule order, and attaches the shared contexts the
// rule parts need.
//
// Contexts created for earlier rule sets are kept, so state collected during
// the session survives editing the rules. An error is returned if a rule part
// declares a context kind the registry cannot create; the active rules are
// left unchanged in that case.
func (e *Engine) SetRules(groups []*Group) error {
	var rules []*Rule
	for _, g := range groups {
		if !g.Enabled {
			continue
		}
		for _, r := range g.Rules {
			if err := e.attachContext(r.Extractor); err != nil {
				return err
			}
			if err := e.attachContext(r.Replacement); err != nil {
				return err
			}
			rules = append(rules, r)
		}
	}
	e.rules = rules
	return nil
}

func (e *Engine) attachContext(p RulePart) error {
	u, ok := p.(ContextUser)
	if !ok || u.ContextKind() == "" {
		return nil
	}
	ctx, err := e.contexts.resolve(u.ContextKind())
	if err != nil {
		return err
	}
	u.SetContext(ctx)
	return nil
}

// Rules returns the active rules.
func (e *Engine) Rules() []*Rule { return e.rules }

// Contexts returns the contexts created so far, in creation order.
func (e *Engine) Contexts() []Context {
	return append([]Context(nil), e.contexts.order...)
}

// Vars returns the variable store of the current session.
func (e *Engine) Vars() *Vars { return e.vars }

// Cookies returns the cookie tracker of the current session.
func (e *Engine) Cookies() *CookieTracker { return e.cookies }

// SetEnabled turns correlation on or off.
func (e *Engine) SetEnabled(enabled bool) { e.enabled = enabled }

// Enabled reports whether correlation is on.
func (e *Engine) Enabled() bool { return e.enabled }

// Reset prepares the engine for a new recording session: the variable store
// is replaced, every context is reset and the tracked cookies are
// forgotten. Rules and context instances are kept.
func (e *Engine) Reset() {
	e.vars = NewVars()
	e.contexts.reset()
	e.cookies.Reset()
}

// Process correlates tx.
//
// Replacements run for every transaction. Contexts then observe the result.
// Extractors only run when the response content type passes responseFilter,
// see Engine.ContentTypeAllowed. A failing rule part is logged and skipped.
func (e *Engine) Process(tx *Transaction, responseFilter string) {
	if !e.enabled {
		e.Log.Debug().Msg("Correlation disabled, skipping analysis")
		return
	}
	if tx.Result != nil && !tx.Result.Successful() && tx.Request != nil {
		tx.Request.Comment = OriginallyFailed
	}

	e.cookies.Observe(tx)

	for _, r := range e.rules {
		if r.Enabled && r.Replacement != nil {
			e.run("replacement", r, r.Replacement, tx)
		}
	}

	e.contexts.update(tx.Result)

	if !e.ContentTypeAllowed(tx.Result, responseFilter) {
		return
	}
	for _, r := range e.rules {
		if r.Enabled && r.Extractor != nil {
			e.run("extractor", r, r.Extractor, tx)
		}
	}
}

func (e *Engine) run(part string, r *Rule, p RulePart, tx *Transaction) {
	if err := p.Process(tx, e.vars); err != nil {
		e.Metrics.partFailed(part)
		e.Log.Warn().Err(err).Str("ref", r.Ref).Str("part", part).Msg("Rule part failed")
	}
}

// ContentTypeAllowed reports whether the content type of res passes filter.
//
// The filter is a comma separated list of regular expressions, each of which
// must be found in the content type. An empty filter or a result without a
// content type is allowed. A malformed pattern rejects the result.
func (e *Engine) ContentTypeAllowed(res *Result, filter string) bool {
	if filter == "" {
		return true
	}
	var contentType string
	if res != nil {
		contentType = res.ContentType()
	}
	if contentType == "" {
		if res != nil {
			e.Log.Debug().Str("url", res.URL).Msg("No content type found")
		}
		return true
	}
	for _, pattern := range strings.Split(filter, ",") {
		re, err := regexp.Compile("(?s)" + strings.TrimSpace(pattern))
		if err != nil {
			e.Log.Warn().Err(err).Str("filter", filter).Msg("Skipped invalid content type pattern")
			return false
		}
		if !re.MatchString(contentType) {
			return false
		}
	}
	return true
}
