package correlator

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// OriginallyFailed is set as the request comment when the recorded result
// was not successful.
const OriginallyFailed = "ORIGINALLY FAILED"

// Element kinds produced by this package.
const (
	KindSetCookie      = "set-cookie"
	KindRegexExtractor = "regex-extractor"
)

// A Transaction is one captured request/response exchange together with the
// auxiliary elements generated for it.
type Transaction struct {
	Target   string    `yaml:"target,omitempty"`
	Request  *Request  `yaml:"request"`
	Elements []Element `yaml:"elements,omitempty"`
	Result   *Result   `yaml:"result"`

	complete bool
}

// A Request is a recorded outgoing request.
type Request struct {
	Method  string      `yaml:"method"`
	URL     string      `yaml:"url"`
	Headers http.Header `yaml:"headers,omitempty"`
	Body    string      `yaml:"body,omitempty"`
	Comment string      `yaml:"comment,omitempty"`
}

// A Result is the observed outcome of a request.
//
// Cookies holds the Cookie header that was sent with the request, as seen by
// the capture layer.
type Result struct {
	URL        string      `yaml:"url"`
	StatusCode int         `yaml:"status_code"`
	Headers    http.Header `yaml:"headers,omitempty"`
	Body       string      `yaml:"body,omitempty"`
	Cookies    string      `yaml:"cookies,omitempty"`
	Error      string      `yaml:"error,omitempty"`
}

// Successful reports whether the request completed without a transport error
// and with a non-error status code.
func (r *Result) Successful() bool {
	return r.Error == "" && r.StatusCode > 0 && r.StatusCode < 400
}

// ContentType returns the response content type, or an empty string if the
// response did not declare one.
func (r *Result) ContentType() string {
	return r.Headers.Get("Content-Type")
}

// Host returns the host name of the result URL, without port.
func (r *Result) Host() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// An Element is an auxiliary test element attached to a recorded request,
// for example an instruction to set a cookie before the request is sent.
type Element struct {
	Kind       string            `yaml:"kind"`
	Name       string            `yaml:"name"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

// headerText renders headers one per line as "Name: value", sorted by name.
func headerText(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		for _, v := range h[k] {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\n")
		}
	}
	return b.String()
}
