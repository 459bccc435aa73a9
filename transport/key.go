package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/textproto"
	"slices"
)

// KeyWithHeaders returns a dedup key function for WithDedupKeyFunc that
// separates requests whose named headers differ, so callers holding
// different credentials never share a response. Header values are hashed;
// the key never contains them in clear.
//
// Format: "<method> <url> <hash>" where hash is the first 16 hex
// characters of SHA-256 over the canonical header names and values.
func KeyWithHeaders(names ...string) func(*http.Request) string {
	canonical := make([]string, len(names))
	for i, n := range names {
		canonical[i] = textproto.CanonicalMIMEHeaderKey(n)
	}
	slices.Sort(canonical)
	canonical = slices.Compact(canonical)

	return func(r *http.Request) string {
		h := sha256.New()
		for _, name := range canonical {
			h.Write([]byte(name))
			h.Write([]byte{0})
			for _, v := range r.Header.Values(name) {
				h.Write([]byte(v))
				h.Write([]byte{0})
			}
			h.Write([]byte{1})
		}
		sum := h.Sum(nil)
		return r.Method + " " + r.URL.String() + " " + hex.EncodeToString(sum[:8])
	}
}
