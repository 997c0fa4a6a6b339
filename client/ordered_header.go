package client

import (
	"net/http"
	"slices"
	"strings"

	"github.com/firasghr/GoImpersonate/fingerprint"
)

// headerEntry stores a single header key/value pair with its original casing.
type headerEntry struct {
	key   string
	value string
}

// OrderedHeader is a drop-in companion to http.Header that preserves the exact
// capitalisation and insertion order of HTTP headers.
//
// Unlike http.Header (which is a map[string][]string and therefore unordered),
// OrderedHeader stores entries in a slice so iteration always returns them in
// the order they were added.  This is important for HTTP/2 fingerprinting:
// servers that profile client fingerprints inspect the ordering of headers
// such as "accept-language", "sec-ch-ua-*", and "user-agent".  HTTP/2 sends
// every name lower-cased, so only the order survives on that path.
//
// OrderedHeader is NOT safe for concurrent use without external
// synchronisation.
type OrderedHeader struct {
	entries []headerEntry
}

// Add appends key/value to the header list, preserving the exact casing of
// key.  Multiple calls with the same key produce multiple entries (equivalent
// to http.Header.Add).
func (h *OrderedHeader) Add(key, value string) {
	h.entries = append(h.entries, headerEntry{key: key, value: value})
}

// Set replaces the first entry whose key matches key (case-insensitively) with
// the new value and removes any subsequent duplicates.  If no entry with that
// key exists, Set behaves like Add.
//
// The canonical casing of the surviving entry is updated to key, so callers
// can use Set to change capitalisation as well as value.
func (h *OrderedHeader) Set(key, value string) {
	canonKey := http.CanonicalHeaderKey(key)
	replaced := false
	out := h.entries[:0]
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			if !replaced {
				out = append(out, headerEntry{key: key, value: value})
				replaced = true
			}
			// Skip duplicates.
		} else {
			out = append(out, e)
		}
	}
	if !replaced {
		out = append(out, headerEntry{key: key, value: value})
	}
	h.entries = out
}

// Del removes all entries whose key matches key (case-insensitively).
func (h *OrderedHeader) Del(key string) {
	canonKey := http.CanonicalHeaderKey(key)
	out := h.entries[:0]
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) != canonKey {
			out = append(out, e)
		}
	}
	h.entries = out
}

// Get returns the value of the first entry whose key matches key
// (case-insensitively), or an empty string if no such entry exists.
func (h *OrderedHeader) Get(key string) string {
	canonKey := http.CanonicalHeaderKey(key)
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			return e.value
		}
	}
	return ""
}

// Len returns the number of header entries (including duplicates).
func (h *OrderedHeader) Len() int { return len(h.entries) }

// Clone returns a shallow copy of the receiver.
func (h *OrderedHeader) Clone() *OrderedHeader {
	c := &OrderedHeader{entries: make([]headerEntry, len(h.entries))}
	copy(c.entries, h.entries)
	return c
}

// ApplyToRequest merges the entries into req.Header and records their
// order under fingerprint.HeaderOrderKey.  Values in h replace any values
// req already has for the same name.  Names already listed in req's order
// keep their position; new names are appended in insertion order.
//
// When req has no recorded order yet, the entries define it and the
// profile applied later by the Transport will not override it.
func (h *OrderedHeader) ApplyToRequest(req *http.Request) {
	if req.Header == nil {
		req.Header = make(http.Header, len(h.entries)+1)
	}
	cleared := make(map[string]bool, len(h.entries))
	for _, e := range h.entries {
		canon := http.CanonicalHeaderKey(e.key)
		if !cleared[canon] {
			req.Header.Del(canon)
			cleared[canon] = true
		}
		req.Header.Add(canon, e.value)
	}

	order := req.Header[fingerprint.HeaderOrderKey]
	for _, e := range h.entries {
		name := strings.ToLower(e.key)
		if !slices.Contains(order, name) {
			order = append(order, name)
		}
	}
	req.Header[fingerprint.HeaderOrderKey] = order
}

// ToHTTPHeader converts the OrderedHeader to a standard http.Header map.
// Insertion order is NOT preserved in the resulting map (maps are unordered),
// but the exact key casing IS preserved because we use the raw key as the map
// key rather than http.CanonicalHeaderKey(key).
func (h *OrderedHeader) ToHTTPHeader() http.Header {
	out := make(http.Header, len(h.entries))
	for _, e := range h.entries {
		out[e.key] = append(out[e.key], e.value)
	}
	return out
}

// Names returns the lower-cased header names in insertion order, without
// duplicates.
func (h *OrderedHeader) Names() []string {
	var out []string
	for _, e := range h.entries {
		if name := strings.ToLower(e.key); !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

// ProfileHeaders returns the request headers of p in browser order, with
// the User-Agent at its recorded position.
func ProfileHeaders(p *fingerprint.Profile) *OrderedHeader {
	h := &OrderedHeader{}
	values := make(map[string]string, len(p.Headers)+1)
	for _, e := range p.Headers {
		values[strings.ToLower(e.Name)] = e.Value
	}
	if p.UserAgent != "" {
		values["user-agent"] = p.UserAgent
	}
	order := p.HeaderOrder
	if len(order) == 0 {
		for _, e := range p.Headers {
			order = append(order, strings.ToLower(e.Name))
		}
		order = append(order, "user-agent")
	}
	for _, name := range order {
		if v, ok := values[name]; ok {
			h.Add(name, v)
			delete(values, name)
		}
	}
	return h
}
