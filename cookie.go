package correlator

import (
	"sort"
	"strings"
	"sync"
)

// A Cookie is identified by its name and domain. The value is not part of
// the identity.
type Cookie struct {
	Name   string
	Value  string
	Domain string
}

func (c Cookie) same(o Cookie) bool {
	return c.Name == o.Name && c.Domain == o.Domain
}

// CookieTracker remembers the last known value of every cookie seen during a
// recording session, in the order the cookies were last updated.
//
// Cookies a client sends without a recorded response having set them cannot
// be reproduced by replaying the recording, so the tracker attaches an
// explicit set-cookie element for them.
type CookieTracker struct {
	mu      sync.Mutex
	cookies []Cookie
}

// NewCookieTracker returns an empty tracker.
func NewCookieTracker() *CookieTracker {
	return &CookieTracker{}
}

// Track stores c, replacing the cookie with the same name and domain.
// The cookie moves to the end of the iteration order.
func (t *CookieTracker) Track(c Cookie) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.track(c)
}

func (t *CookieTracker) track(c Cookie) {
	for i, old := range t.cookies {
		if old.same(c) {
			t.cookies = append(t.cookies[:i], t.cookies[i+1:]...)
			break
		}
	}
	t.cookies = append(t.cookies, c)
}

func (t *CookieTracker) tracked(c Cookie) bool {
	for _, old := range t.cookies {
		if old.same(c) {
			return true
		}
	}
	return false
}

// Cookies returns the tracked cookies in iteration order.
func (t *CookieTracker) Cookies() []Cookie {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Cookie(nil), t.cookies...)
}

// Reset forgets every tracked cookie.
func (t *CookieTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cookies = nil
}

// RequestCookies returns the cookies sent with the request of res that are
// not tracked yet. The tracker is not modified.
func (t *CookieTracker) RequestCookies(res *Result) []Cookie {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requestCookies(res)
}

func (t *CookieTracker) requestCookies(res *Result) []Cookie {
	if res == nil || strings.TrimSpace(res.Cookies) == "" {
		return nil
	}
	host := res.Host()
	var out []Cookie
	for _, pair := range strings.Split(res.Cookies, "; ") {
		i := strings.Index(pair, "=")
		if i < 0 {
			continue
		}
		c := Cookie{Name: pair[:i], Value: pair[i+1:], Domain: host}
		if !t.tracked(c) {
			out = append(out, c)
		}
	}
	return out
}

// ResponseCookies tracks every cookie set by the response of res and
// returns them in header order.
func (t *CookieTracker) ResponseCookies(res *Result) []Cookie {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.responseCookies(res)
}

func (t *CookieTracker) responseCookies(res *Result) []Cookie {
	if res == nil {
		return nil
	}
	host := res.Host()
	keys := make([]string, 0, len(res.Headers))
	for k := range res.Headers {
		if strings.EqualFold(k, "Set-Cookie") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var out []Cookie
	for _, k := range keys {
		for _, v := range res.Headers[k] {
			c, ok := parseSetCookie(v, host)
			if !ok {
				continue
			}
			t.track(c)
			out = append(out, c)
		}
	}
	return out
}

// parseSetCookie reads the name and value of a Set-Cookie header value,
// ignoring its attributes.
func parseSetCookie(v, host string) (Cookie, bool) {
	eq := strings.Index(v, "=")
	if eq < 0 {
		return Cookie{}, false
	}
	name := strings.TrimSpace(v[:eq])
	if name == "" {
		return Cookie{}, false
	}
	value := v[eq+1:]
	if semi := strings.Index(value, ";"); semi >= 0 {
		value = value[:semi]
	}
	return Cookie{Name: name, Value: value, Domain: host}, true
}

// Observe attaches a set-cookie element to tx for every request cookie not
// tracked yet and tracks it, then tracks the cookies set by the response.
func (t *CookieTracker) Observe(tx *Transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.requestCookies(tx.Result) {
		tx.Elements = append(tx.Elements, cookieElement(c))
		t.track(c)
	}
	t.responseCookies(tx.Result)
}

func cookieElement(c Cookie) Element {
	return Element{
		Kind: KindSetCookie,
		Name: "Set cookie - " + c.Name,
		Properties: map[string]string{
			"name":   c.Name,
			"value":  c.Value,
			"domain": c.Domain,
		},
	}
}
