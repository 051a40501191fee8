package correlator

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotRecording is returned when a session operation requires an active
// recording session.
var ErrNotRecording = errors.New("not recording")

// A Host is the test plan recorder correlated transactions are handed to.
type Host interface {
	// Started is called when a recording session starts. An error aborts
	// the start.
	Started(session string) error

	// Stopped is called when a recording session stops.
	Stopped(session string)

	// Target returns where the next captured transaction should be
	// attached in the test plan.
	Target() string

	// Deliver receives a correlated transaction.
	Deliver(tx *Transaction) error
}

// An Option configures a Controller.
type Option func(c *Controller)

// WithLogger sets the logger of the controller and its components.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics makes the controller report to m.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithRegistry sets the registry used to build contexts and rule parts.
// The default is DefaultRegistry().
func WithRegistry(r *Registry) Option {
	return func(c *Controller) { c.registry = r }
}

// Controller runs recording sessions: it buffers captured transactions,
// correlates them in order and hands them to the host.
//
// Starting and stopping sessions, changing the rules and delivering
// transactions are serialized by a single lock.
type Controller struct {
	host     Host
	log      zerolog.Logger
	metrics  *Metrics
	registry *Registry
	engine   *Engine
	buffer   *Buffer

	mu        sync.Mutex
	session   string
	recording bool
	filter    string
	samples   []*Result
}

// NewController returns a controller delivering to host. No session is
// active until Start is called.
func NewController(host Host, opts ...Option) *Controller {
	c := &Controller{
		host: host,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = DefaultRegistry()
	}
	c.engine = NewEngine(c.registry)
	c.engine.Log = c.log
	c.engine.Metrics = c.metrics
	c.buffer = NewBuffer(ProcessorFunc(c.deliver))
	c.buffer.Log = c.log
	c.buffer.Metrics = c.metrics
	c.buffer.Close()
	return c
}

// Engine returns the correlation engine. It must only be used while no
// session is recording.
func (c *Controller) Engine() *Engine { return c.engine }

// Registry returns the registry rule parts are built with.
func (c *Controller) Registry() *Registry { return c.registry }

// Session returns the ID of the current session, or an empty string when
// not recording.
func (c *Controller) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		return ""
	}
	return c.session
}

// Start begins a new recording session. Correlation state from previous
// sessions is cleared.
func (c *Controller) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.recording {
		c.mu.Unlock()
		return errors.New("already recording")
	}
	id := uuid.New().String()
	if err := c.host.Started(id); err != nil {
		c.mu.Unlock()
		return err
	}
	c.engine.Reset()
	c.samples = nil
	c.session = id
	c.recording = true
	c.metrics.sessionStarted()
	c.log.Info().Str("session", id).Bool("correlation", c.engine.Enabled()).
		Int("rules", len(c.engine.Rules())).Msg("Recording started")
	c.mu.Unlock()

	// Never take the buffer lock while holding c.mu: deliveries take them
	// in the opposite order.
	c.buffer.Open()
	return nil
}

// Stop ends the recording session. Transactions that have not completed
// are discarded without being delivered.
func (c *Controller) Stop() error {
	// Close before taking c.mu, see Start.
	discarded := c.buffer.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		return ErrNotRecording
	}
	c.recording = false
	c.host.Stopped(c.session)
	ev := c.log.Info().Str("session", c.session).Int("samples", len(c.samples)).Int("discarded", discarded)
	if len(c.samples) == 0 {
		ev.Msg("Recording stopped, no samples were recorded")
	} else {
		ev.Msg("Recording stopped")
	}
	return nil
}

// SetConfig applies cfg: its rules, response filter and enabled flag.
// Rule parts that cannot be built are logged and skipped; an error is
// returned if a context required by a rule cannot be created.
func (c *Controller) SetConfig(cfg *Config) error {
	groups := cfg.Build(c.registry, c.log)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.engine.SetRules(groups); err != nil {
		return err
	}
	c.filter = cfg.ResponseFilter
	c.engine.SetEnabled(cfg.Enabled)
	return nil
}

// SetRules replaces the rules of the engine.
func (c *Controller) SetRules(groups []*Group) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.SetRules(groups)
}

// SetResponseFilter sets the content type filter applied before running
// extractors.
func (c *Controller) SetResponseFilter(filter string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = filter
}

// Enable turns correlation on or off.
func (c *Controller) Enable(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engine.SetEnabled(enabled)
}

// Samples returns the results delivered during the current or last session.
func (c *Controller) Samples() []*Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Result(nil), c.samples...)
}

// Begin registers a transaction captured by h. An empty target is replaced
// by the host's current target.
func (c *Controller) Begin(h Handle, target string) {
	if target == "" {
		target = c.host.Target()
	}
	c.buffer.Begin(h, target)
}

// Update records what h has captured so far.
func (c *Controller) Update(h Handle, req *Request, elements []Element, res *Result) {
	c.buffer.Update(h, req, elements, res)
}

// End completes the transaction of h.
func (c *Controller) End(h Handle) {
	c.buffer.End(h)
}

// Pending returns the number of buffered transactions.
func (c *Controller) Pending() int { return c.buffer.Pending() }

func (c *Controller) deliver(tx *Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tx.Request != nil {
		c.engine.Process(tx, c.filter)
		renameOAuthHeader(tx.Request)
	}
	c.samples = append(c.samples, tx.Result)
	if err := c.host.Deliver(tx); err != nil {
		c.log.Error().Err(err).Str("session", c.session).Msg("Could not deliver transaction")
	}
}

// renameOAuthHeader hides an OAuth Authorization header from the test plan
// recorder, which would otherwise replace it by an authorization manager.
func renameOAuthHeader(req *Request) {
	for k, vv := range req.Headers {
		if !strings.EqualFold(k, "Authorization") {
			continue
		}
		if len(vv) == 0 || !strings.Contains(strings.ToLower(vv[0]), "oauth") {
			return
		}
		delete(req.Headers, k)
		req.Headers[http.CanonicalHeaderKey("X-CR-Authorization")] = vv
		return
	}
}
