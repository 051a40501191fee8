package correlator

import "sync"

// ValuesContextKind is the kind of the ValuesContext.
const ValuesContextKind = "values"

// ValuesContext remembers every value extracted during a session, so
// replacements can find which variable holds a value seen in a request.
type ValuesContext struct {
	mu        sync.Mutex
	entries   []extracted
	responses int
}

type extracted struct {
	ref, name, value string
}

// NewValuesContext returns an empty context.
func NewValuesContext() *ValuesContext {
	return &ValuesContext{}
}

// Update counts the observed responses.
func (c *ValuesContext) Update(res *Result) {
	if res == nil {
		return
	}
	c.mu.Lock()
	c.responses++
	c.mu.Unlock()
}

// Reset forgets all values and the response count.
func (c *ValuesContext) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.responses = 0
}

// Record remembers that the rule ref stored value in the variable name.
func (c *ValuesContext) Record(ref, name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, extracted{ref: ref, name: name, value: value})
}

// Find returns the variable most recently recorded by rule ref with value.
func (c *ValuesContext) Find(ref, value string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]
		if e.ref == ref && e.value == value {
			return e.name, true
		}
	}
	return "", false
}

// Responses returns the number of responses observed since the last reset.
func (c *ValuesContext) Responses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responses
}

// Len returns the number of recorded values.
func (c *ValuesContext) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
