package swrcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Conditional-request helpers. These are pure functions: they derive
// validator material (Last-Modified timestamps, entity tags, remaining
// freshness) from a Result. Header formatting and 304 status decisions stay
// with the transport layer.

// LastModified returns the validator timestamp for a result: the stored
// timestamp when the value came from the cache, otherwise now. HTTP dates
// carry second resolution, so the value is truncated accordingly.
func LastModified[V any](res Result[V], now time.Time) time.Time {
	if res.Cached != nil {
		return res.Cached.StoredAt.Truncate(time.Second)
	}
	return now.Truncate(time.Second)
}

// ETag returns a strong entity tag (quoted, per RFC 9110) derived from the
// storage key and the stored timestamp. Two results for the same key carry
// the same tag iff they were written at the same instant.
func ETag[V any](res Result[V], now time.Time) string {
	ts := now
	if res.Cached != nil {
		ts = res.Cached.StoredAt
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d", res.Report.Key, ts.UnixMilli()))
	return `"` + hex.EncodeToString(sum[:12]) + `"`
}

// MaxAge returns the remaining freshness lifetime of a cached result,
// suitable for a Cache-Control max-age directive. Zero for values generated
// on this call (their lifetime is the policy TTL, which the transport knows)
// and for entries already past TTL.
func MaxAge[V any](res Result[V], now time.Time) time.Duration {
	if res.Cached == nil {
		return 0
	}
	remaining := res.Cached.TTL - now.Sub(res.Cached.StoredAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NotModified reports whether a conditional request's validators still match
// the given tag and timestamp. An If-None-Match tag takes precedence over
// If-Modified-Since, mirroring the HTTP evaluation order. The transport
// decides what status code to send.
func NotModified(ifNoneMatch, etag string, ifModifiedSince, lastModified time.Time) bool {
	if ifNoneMatch != "" {
		return ifNoneMatch == etag
	}
	if !ifModifiedSince.IsZero() {
		return !lastModified.Truncate(time.Second).After(ifModifiedSince)
	}
	return false
}
