package correlator_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/akupila/correlator"
	"github.com/google/go-cmp/cmp"
)

// fakePart records its calls in a shared log.
type fakePart struct {
	name string
	log  *[]string
	kind string
	ctx  correlator.Context
	err  error
}

func (p *fakePart) Process(tx *correlator.Transaction, vars *correlator.Vars) error {
	*p.log = append(*p.log, p.name)
	return p.err
}

func (p *fakePart) ContextKind() string { return p.kind }

func (p *fakePart) SetContext(c correlator.Context) { p.ctx = c }

type countingContext struct {
	updates int
	resets  int
}

func (c *countingContext) Update(res *correlator.Result) { c.updates++ }

func (c *countingContext) Reset() {
	c.updates = 0
	c.resets++
}

func countingRegistry() *correlator.Registry {
	r := correlator.NewRegistry()
	r.RegisterContext("count", func() correlator.Context { return &countingContext{} })
	return r
}

func htmlTransaction() *correlator.Transaction {
	return &correlator.Transaction{
		Request: &correlator.Request{Method: "GET", URL: "http://example.com/"},
		Result: &correlator.Result{
			URL:        "http://example.com/",
			StatusCode: 200,
			Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
			Body:       "<html></html>",
		},
	}
}

func TestEngine_Disabled(t *testing.T) {
	var calls []string
	e := correlator.NewEngine(countingRegistry())
	err := e.SetRules([]*correlator.Group{{
		ID:      "g",
		Enabled: true,
		Rules: []*correlator.Rule{{
			Ref:         "r",
			Enabled:     true,
			Extractor:   &fakePart{name: "extract", log: &calls},
			Replacement: &fakePart{name: "replace", log: &calls},
		}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	tx := htmlTransaction()
	tx.Result.StatusCode = 500
	tx.Result.Cookies = "a=1"
	want := htmlTransaction()
	want.Result.StatusCode = 500
	want.Result.Cookies = "a=1"

	e.Process(tx, "")

	if len(calls) != 0 {
		t.Errorf("Disabled engine ran rule parts %v", calls)
	}
	if e.Vars().Len() != 0 {
		t.Errorf("Disabled engine changed variables: %v", e.Vars().Map())
	}
	opts := cmp.AllowUnexported(correlator.Transaction{})
	if diff := cmp.Diff(tx, want, opts); diff != "" {
		t.Errorf("Disabled engine changed the transaction (-got, +want)\n%s", diff)
	}
}

func TestEngine_ProcessOrder(t *testing.T) {
	var calls []string
	e := correlator.NewEngine(countingRegistry())
	e.SetEnabled(true)
	groups := []*correlator.Group{
		{ID: "first", Enabled: true, Rules: []*correlator.Rule{
			{
				Ref:         "a",
				Enabled:     true,
				Extractor:   &fakePart{name: "extract a", log: &calls},
				Replacement: &fakePart{name: "replace a", log: &calls},
			},
			{
				Ref:         "off",
				Enabled:     false,
				Extractor:   &fakePart{name: "extract off", log: &calls},
				Replacement: &fakePart{name: "replace off", log: &calls},
			},
		}},
		{ID: "disabled", Enabled: false, Rules: []*correlator.Rule{
			{Ref: "d", Enabled: true, Extractor: &fakePart{name: "extract d", log: &calls}},
		}},
		{ID: "second", Enabled: true, Rules: []*correlator.Rule{
			{Ref: "b", Enabled: true, Replacement: &fakePart{name: "replace b", log: &calls}},
			{Ref: "c", Enabled: true, Extractor: &fakePart{name: "extract c", log: &calls}},
		}},
	}
	if err := e.SetRules(groups); err != nil {
		t.Fatal(err)
	}

	var refs []string
	for _, r := range e.Rules() {
		refs = append(refs, r.Ref)
	}
	if diff := cmp.Diff(refs, []string{"a", "off", "b", "c"}); diff != "" {
		t.Errorf("Active rules do not match (-got, +want)\n%s", diff)
	}

	e.Process(htmlTransaction(), "text/html")

	want := []string{"replace a", "replace b", "extract a", "extract c"}
	if diff := cmp.Diff(calls, want); diff != "" {
		t.Errorf("Rule part calls do not match (-got, +want)\n%s", diff)
	}
}

func TestEngine_FilteredExtractors(t *testing.T) {
	var calls []string
	e := correlator.NewEngine(countingRegistry())
	e.SetEnabled(true)
	part := &fakePart{name: "extract", log: &calls, kind: "count"}
	err := e.SetRules([]*correlator.Group{{ID: "g", Enabled: true, Rules: []*correlator.Rule{
		{Ref: "r", Enabled: true, Extractor: part, Replacement: &fakePart{name: "replace", log: &calls}},
	}}})
	if err != nil {
		t.Fatal(err)
	}

	e.Process(htmlTransaction(), "application/json")

	if diff := cmp.Diff(calls, []string{"replace"}); diff != "" {
		t.Errorf("Rule part calls do not match (-got, +want)\n%s", diff)
	}
	ctx := part.ctx.(*countingContext)
	if ctx.updates != 1 {
		t.Errorf("Context saw %d updates, want 1", ctx.updates)
	}
}

func TestEngine_PartFailureContinues(t *testing.T) {
	var calls []string
	m := correlator.NewMetrics()
	e := correlator.NewEngine(countingRegistry())
	e.Metrics = m
	e.SetEnabled(true)
	err := e.SetRules([]*correlator.Group{{ID: "g", Enabled: true, Rules: []*correlator.Rule{
		{Ref: "bad", Enabled: true, Replacement: &fakePart{name: "bad", log: &calls, err: errors.New("boom")}},
		{Ref: "good", Enabled: true, Replacement: &fakePart{name: "good", log: &calls}},
	}}})
	if err != nil {
		t.Fatal(err)
	}

	e.Process(htmlTransaction(), "")

	if diff := cmp.Diff(calls, []string{"bad", "good"}); diff != "" {
		t.Errorf("Rule part calls do not match (-got, +want)\n%s", diff)
	}
}

func TestEngine_OriginallyFailed(t *testing.T) {
	e := correlator.NewEngine(correlator.NewRegistry())
	e.SetEnabled(true)

	tx := htmlTransaction()
	tx.Result.StatusCode = 404
	e.Process(tx, "")

	if tx.Request.Comment != correlator.OriginallyFailed {
		t.Errorf("Got comment %q, want %q", tx.Request.Comment, correlator.OriginallyFailed)
	}

	ok := htmlTransaction()
	e.Process(ok, "")
	if ok.Request.Comment != "" {
		t.Errorf("Successful request got comment %q", ok.Request.Comment)
	}
}

func TestEngine_ContextSingleton(t *testing.T) {
	var calls []string
	e := correlator.NewEngine(countingRegistry())
	e.SetEnabled(true)
	p1 := &fakePart{name: "p1", log: &calls, kind: "count"}
	p2 := &fakePart{name: "p2", log: &calls, kind: "count"}
	err := e.SetRules([]*correlator.Group{{ID: "g", Enabled: true, Rules: []*correlator.Rule{
		{Ref: "one", Enabled: true, Extractor: p1},
		{Ref: "two", Enabled: true, Replacement: p2},
	}}})
	if err != nil {
		t.Fatal(err)
	}

	if p1.ctx == nil || p1.ctx != p2.ctx {
		t.Fatalf("Parts got different contexts %p and %p", p1.ctx, p2.ctx)
	}
	if got := len(e.Contexts()); got != 1 {
		t.Errorf("Got %d contexts, want 1", got)
	}

	e.Process(htmlTransaction(), "")
	e.Process(htmlTransaction(), "")
	ctx := p1.ctx.(*countingContext)
	if ctx.updates != 2 {
		t.Errorf("Context saw %d updates, want 2", ctx.updates)
	}

	// Clearing the rules keeps the context for the session.
	if err := e.SetRules(nil); err != nil {
		t.Fatal(err)
	}
	p3 := &fakePart{name: "p3", log: &calls, kind: "count"}
	err = e.SetRules([]*correlator.Group{{ID: "g", Enabled: true, Rules: []*correlator.Rule{
		{Ref: "three", Enabled: true, Extractor: p3},
	}}})
	if err != nil {
		t.Fatal(err)
	}
	if p3.ctx != p1.ctx {
		t.Errorf("New rule set got a new context")
	}
	if ctx.updates != 2 {
		t.Errorf("Context state was lost: %d updates, want 2", ctx.updates)
	}

	e.Vars().Put("x", "y")
	e.Reset()

	if got := e.Contexts(); len(got) != 1 || got[0] != p1.ctx {
		t.Errorf("Reset replaced the contexts")
	}
	if ctx.updates != 0 || ctx.resets != 1 {
		t.Errorf("Got updates=%d resets=%d after reset, want 0 and 1", ctx.updates, ctx.resets)
	}
	if e.Vars().Len() != 0 {
		t.Errorf("Reset kept variables %v", e.Vars().Map())
	}
}

func TestEngine_UnknownContextKind(t *testing.T) {
	var calls []string
	e := correlator.NewEngine(correlator.NewRegistry())
	err := e.SetRules([]*correlator.Group{{ID: "g", Enabled: true, Rules: []*correlator.Rule{
		{Ref: "r", Enabled: true, Extractor: &fakePart{name: "x", log: &calls, kind: "missing"}},
	}}})

	var cerr *correlator.ContextError
	if !errors.As(err, &cerr) {
		t.Fatalf("Got error %v, want *ContextError", err)
	}
	if cerr.Kind != "missing" {
		t.Errorf("Got kind %q, want %q", cerr.Kind, "missing")
	}
}

func TestEngine_ContentTypeAllowed(t *testing.T) {
	e := correlator.NewEngine(correlator.NewRegistry())
	html := &correlator.Result{Headers: http.Header{"Content-Type": {"text/html; charset=utf-8"}}}
	none := &correlator.Result{}

	tests := []struct {
		name   string
		res    *correlator.Result
		filter string
		want   bool
	}{
		{"empty filter", html, "", true},
		{"empty filter no content type", none, "", true},
		{"no content type", none, "text/*", true},
		{"no content type invalid pattern", none, "[invalid(", true},
		{"match", html, "text/html", true},
		{"regex match", html, "text/.*", true},
		{"case sensitive", html, "TEXT/HTML", false},
		{"no match", html, "application/json", false},
		{"every pattern must match", html, "text/html,application/json", false},
		{"all patterns match", html, "text, html", true},
		{"invalid pattern", html, "[invalid(", false},
		{"invalid pattern after match", html, "text/html,[invalid(", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.ContentTypeAllowed(tt.res, tt.filter); got != tt.want {
				t.Errorf("ContentTypeAllowed(%q) = %t, want %t", tt.filter, got, tt.want)
			}
		})
	}
}
