package correlator

import "sync"

// A RulePart is the extractor or the replacement of a Rule.
//
// Extractors read the result of a transaction and store discovered values in
// vars. Replacements rewrite the request using values already in vars.
type RulePart interface {
	Process(tx *Transaction, vars *Vars) error
}

// A ContextUser is a RulePart that shares state with other parts through a
// Context. The engine attaches the single Context of the declared kind
// before the part is first used.
type ContextUser interface {
	RulePart
	ContextKind() string
	SetContext(c Context)
}

// A Context is state shared by every rule part declaring the same kind for
// the length of a recording session.
type Context interface {
	// Update is called with the result of every processed transaction,
	// including ones whose content type is filtered out.
	Update(res *Result)

	// Reset clears the state at the start of a recording session.
	Reset()
}

// A Rule is a named pair of an optional extractor and an optional
// replacement.
type Rule struct {
	Ref         string
	Enabled     bool
	Extractor   RulePart
	Replacement RulePart
}

// A Group is an ordered set of rules identified by a unique ID.
type Group struct {
	ID      string
	Enabled bool
	Rules   []*Rule
}

// Vars is the name to value store used to pass extracted values to later
// replacements. It is safe for concurrent use.
type Vars struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewVars returns an empty store.
func NewVars() *Vars {
	return &Vars{values: make(map[string]string)}
}

// Get returns the value stored for name.
func (v *Vars) Get(name string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[name]
	return val, ok
}

// Put stores value under name, replacing any previous value.
func (v *Vars) Put(name, value string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[name] = value
}

// Remove deletes name from the store.
func (v *Vars) Remove(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.values, name)
}

// Len returns the number of stored values.
func (v *Vars) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.values)
}

// Map returns a copy of the stored values.
func (v *Vars) Map() map[string]string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]string, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}
