package correlator

import (
	"bytes"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"sync/atomic"
)

// A Capturer receives the lifecycle of captured transactions. Controller and
// Buffer implement it.
type Capturer interface {
	Begin(h Handle, target string)
	Update(h Handle, req *Request, elements []Element, res *Result)
	End(h Handle)
}

var (
	_ Capturer = (*Controller)(nil)
	_ Capturer = (*Buffer)(nil)
)

// Transport wraps a http.RoundTripper and reports every round trip that goes
// through it to a Capturer. Round trips may run concurrently; the capturer
// sees them begin in the order RoundTrip was called.
type Transport struct {
	// Capturer receives the captured transactions. Required.
	Capturer Capturer

	// Target is passed to Begin for every transaction.
	Target string

	// Transport to use for the real request.
	// If nil, http.DefaultTransport is used.
	Transport http.RoundTripper

	seq uint64
}

var _ http.RoundTripper = (*Transport)(nil)

// roundTrip is the handle of a single call to RoundTrip. It includes the
// transport so several transports can feed the same capturer.
type roundTrip struct {
	t *Transport
	n uint64
}

// RoundTrip implements http.RoundTripper.
//
// A round trip that fails before a response is received is reported without
// a result and is therefore never delivered.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	h := roundTrip{t: t, n: atomic.AddUint64(&t.seq, 1)}
	t.Capturer.Begin(h, t.Target)
	defer t.Capturer.End(h)

	transport := t.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	// Construct request
	var bodyOut bytes.Buffer
	if req.Body != nil {
		_, err := io.Copy(&bodyOut, req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		req.Body = ioutil.NopCloser(bytes.NewReader(bodyOut.Bytes()))
	}
	out := &Request{
		Method:  req.Method,
		URL:     req.URL.String(),
		Headers: req.Header.Clone(),
		Body:    bodyOut.String(),
	}
	t.Capturer.Update(h, out, nil, nil)

	// Send request
	resp, err := transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Construct result
	bodyIn, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := resp.Body.Close(); err != nil {
		return nil, err
	}
	in := &Result{
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       string(bodyIn),
		Cookies:    req.Header.Get("Cookie"),
	}
	t.Capturer.Update(h, out, nil, in)

	resp.Body = ioutil.NopCloser(strings.NewReader(in.Body))
	resp.ContentLength = int64(len(in.Body))
	return resp, nil
}
