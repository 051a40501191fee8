// Package correlator post-processes recorded HTTP traffic so that dynamic
// values are correlated between requests.
//
// Transactions are captured concurrently (one goroutine per client
// connection) and reported to a Buffer, which hands them to the Engine in the
// order the transactions were started, not the order in which they finished.
// The Engine applies the configured correlation rules: replacements rewrite
// requests using values stored in the session Vars, extractors read
// responses and store new values. A CookieTracker attaches explicit cookie
// elements for cookies the client sent that were never set by a recorded
// response.
//
// A Controller ties these together for a recording session and hands the
// correlated transactions to a Host, such as a FileSink.
package correlator
