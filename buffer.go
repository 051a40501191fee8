package correlator

import (
	"container/list"
	"sync"

	"github.com/rs/zerolog"
)

// A Handle identifies the capture goroutine or connection owning a
// transaction. It is only used as a map key and must be comparable.
type Handle interface{}

// A Processor receives completed transactions from a Buffer, in the order
// the transactions were started.
type Processor interface {
	Process(tx *Transaction)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(tx *Transaction)

// Process calls f(tx).
func (f ProcessorFunc) Process(tx *Transaction) { f(tx) }

// Buffer reconciles transactions captured concurrently into a single stream
// ordered by Begin calls.
//
// A transaction is only handed to the Processor once every transaction begun
// before it has been delivered or dropped. A transaction that never ends
// blocks delivery of everything behind it until the buffer is closed.
//
// All methods are safe for concurrent use. The Processor is called with the
// buffer lock held, so it must not call back into the buffer.
type Buffer struct {
	// Log receives diagnostics.
	Log zerolog.Logger

	// Metrics, if set, tracks pending and delivered transactions.
	Metrics *Metrics

	processor Processor

	mu     sync.Mutex
	closed bool
	queue  *list.List
	index  map[Handle]*list.Element
}

type pending struct {
	handle Handle
	tx     *Transaction
}

// NewBuffer returns an open buffer delivering to p.
func NewBuffer(p Processor) *Buffer {
	return &Buffer{
		Log:       zerolog.Nop(),
		processor: p,
		queue:     list.New(),
		index:     make(map[Handle]*list.Element),
	}
}

// Begin registers a new transaction for h at the end of the delivery order.
// It is ignored if h already has a transaction or the buffer is closed.
func (b *Buffer) Begin(h Handle, target string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.Log.Debug().Msg("Buffer closed, ignoring transaction")
		return
	}
	if _, ok := b.index[h]; ok {
		b.Log.Warn().Interface("handle", h).Msg("Transaction already started for handle")
		return
	}
	b.index[h] = b.queue.PushBack(&pending{handle: h, tx: &Transaction{Target: target}})
	b.Metrics.setPending(b.queue.Len())
}

// Update replaces the request, elements and result of the transaction owned
// by h. Unknown handles are ignored; this is expected when the capture layer
// fails before a request could be parsed.
func (b *Buffer) Update(h Handle, req *Request, elements []Element, res *Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.index[h]
	if !ok {
		b.Log.Debug().Interface("handle", h).Msg("Update for unknown transaction")
		return
	}
	tx := e.Value.(*pending).tx
	tx.Request = req
	tx.Elements = elements
	tx.Result = res
}

// End marks the transaction owned by h as complete and delivers every
// complete transaction at the front of the buffer. A transaction without a
// result is dropped and never delivered.
func (b *Buffer) End(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.index[h]
	if !ok {
		b.Log.Debug().Interface("handle", h).Msg("End for unknown transaction")
		return
	}
	tx := e.Value.(*pending).tx
	if tx.Result == nil {
		b.queue.Remove(e)
		delete(b.index, h)
		b.Metrics.outcome(outcomeDropped, 1)
	} else {
		tx.complete = true
	}
	b.drain()
}

// drain delivers the complete prefix of the queue. b.mu must be held.
func (b *Buffer) drain() {
	for e := b.queue.Front(); e != nil; e = b.queue.Front() {
		p := e.Value.(*pending)
		if !p.tx.complete {
			break
		}
		b.processor.Process(p.tx)
		b.queue.Remove(e)
		delete(b.index, p.handle)
		b.Metrics.outcome(outcomeDelivered, 1)
	}
	b.Metrics.setPending(b.queue.Len())
}

// Pending returns the number of transactions waiting for delivery.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}

// Close stops accepting new transactions and discards every pending one
// without delivering it. It returns the number of discarded transactions.
func (b *Buffer) Close() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	n := b.queue.Len()
	b.queue.Init()
	b.index = make(map[Handle]*list.Element)
	b.Metrics.setPending(0)
	b.Metrics.outcome(outcomeDiscarded, n)
	return n
}

// Open makes a closed buffer accept transactions again.
func (b *Buffer) Open() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = false
}
