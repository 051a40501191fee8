package correlator

import (
	"fmt"
	"sort"
	"sync"
)

// ContextError is returned when a context of an unregistered kind is
// requested. It is a configuration error.
type ContextError struct{ Kind string }

// Error implements the error interface.
func (e *ContextError) Error() string {
	return fmt.Sprintf("no correlation context registered for kind %q", e.Kind)
}

// UnknownPartError is returned when a rule part type is not registered.
type UnknownPartError struct {
	Part string // "extractor" or "replacement"
	Type string
}

// Error implements the error interface.
func (e *UnknownPartError) Error() string {
	return fmt.Sprintf("unknown %s type %q", e.Part, e.Type)
}

// A ContextFactory creates a fresh Context.
type ContextFactory func() Context

// A PartFactory builds a rule part for the rule named ref from its stored
// parameters.
type PartFactory func(ref string, params map[string]string) (RulePart, error)

// Registry maps context kinds and rule part types to their factories.
type Registry struct {
	mu           sync.RWMutex
	contexts     map[string]ContextFactory
	extractors   map[string]PartFactory
	replacements map[string]PartFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		contexts:     make(map[string]ContextFactory),
		extractors:   make(map[string]PartFactory),
		replacements: make(map[string]PartFactory),
	}
}

// DefaultRegistry returns a new registry with the built-in components:
// the regex extractor and replacement and the values context.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterContext(ValuesContextKind, func() Context { return NewValuesContext() })
	r.RegisterExtractor(RegexType, NewRegexExtractor)
	r.RegisterReplacement(RegexType, NewRegexReplacement)
	return r
}

// RegisterContext registers the factory for a context kind.
func (r *Registry) RegisterContext(kind string, f ContextFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts[kind] = f
}

// RegisterExtractor registers the factory for an extractor type.
func (r *Registry) RegisterExtractor(typ string, f PartFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[typ] = f
}

// RegisterReplacement registers the factory for a replacement type.
func (r *Registry) RegisterReplacement(typ string, f PartFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replacements[typ] = f
}

// NewContext creates a context of the given kind.
func (r *Registry) NewContext(kind string) (Context, error) {
	r.mu.RLock()
	f, ok := r.contexts[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, &ContextError{Kind: kind}
	}
	return f(), nil
}

// NewExtractor builds an extractor of the given type.
func (r *Registry) NewExtractor(typ, ref string, params map[string]string) (RulePart, error) {
	return r.build(r.extractors, "extractor", typ, ref, params)
}

// NewReplacement builds a replacement of the given type.
func (r *Registry) NewReplacement(typ, ref string, params map[string]string) (RulePart, error) {
	return r.build(r.replacements, "replacement", typ, ref, params)
}

func (r *Registry) build(m map[string]PartFactory, part, typ, ref string, params map[string]string) (RulePart, error) {
	r.mu.RLock()
	f, ok := m[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownPartError{Part: part, Type: typ}
	}
	p, err := f(ref, params)
	if err != nil {
		return nil, fmt.Errorf("build %s %q for %s: %w", part, typ, ref, err)
	}
	return p, nil
}

// Kinds returns the registered context kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.contexts))
	for k := range r.contexts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// contexts caches one Context per kind for a recording session.
type contexts struct {
	registry *Registry
	byKind   map[string]Context
	order    []Context
}

func newContexts(r *Registry) *contexts {
	return &contexts{registry: r, byKind: make(map[string]Context)}
}

// resolve returns the context of the given kind, creating it through the
// registry on first use.
func (c *contexts) resolve(kind string) (Context, error) {
	if ctx, ok := c.byKind[kind]; ok {
		return ctx, nil
	}
	ctx, err := c.registry.NewContext(kind)
	if err != nil {
		return nil, err
	}
	c.byKind[kind] = ctx
	c.order = append(c.order, ctx)
	return ctx, nil
}

func (c *contexts) update(res *Result) {
	for _, ctx := range c.order {
		ctx.Update(res)
	}
}

func (c *contexts) reset() {
	for _, ctx := range c.order {
		ctx.Reset()
	}
}
