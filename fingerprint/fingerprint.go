// Package fingerprint parses and validates browser network fingerprints.
//
// Anti-bot systems identify clients by two passive signals that a stock Go
// client cannot control:
//
//   - the TLS ClientHello, summarised as a JA3 string: cipher-suite order,
//     extension order, supported groups and EC point formats;
//   - the HTTP/2 connection preface, summarised as an Akamai string: the
//     SETTINGS frame (values and order), the connection WINDOW_UPDATE, any
//     PRIORITY frames and the order of the request pseudo-headers.
//
// ParseJA3 and ParseAkamai turn the strings into raw fields.  NewTLSProfile
// and NewHTTP2Profile validate those fields and produce immutable profiles
// that the handshake and h2 packages replay on the wire.  All validation
// happens here, before any connection is opened.
//
// # Usage
//
//	tlsProf, err := fingerprint.TLSProfileFromJA3(ja3)
//	h2Prof, err := fingerprint.HTTP2ProfileFromAkamai(akamai)
//	p := &fingerprint.Profile{TLS: tlsProf, HTTP2: h2Prof, UserAgent: ua}
//	p.ApplyHeaders(req)
package fingerprint

import (
	"net/http"
	"strings"
)

// HeaderOrderKey is a magic request header whose values list regular header
// names in the order they are written on the wire.  The h2 encoder removes
// it before sending.
const HeaderOrderKey = "Header-Order:"

// Profile bundles the correlated fingerprint signals of one browser:
//   - TLS: the ClientHello shape (JA3).
//   - HTTP2: the connection preface and pseudo-header order (Akamai).
//   - UserAgent and Headers: the request headers the browser sends, in
//     order.
//
// A mismatch between any of these, e.g. a Chrome ClientHello with a Firefox
// User-Agent, is a reliable automation signal, so they are resolved
// together.
type Profile struct {
	TLS   *TLSProfile
	HTTP2 *HTTP2Profile

	// UserAgent is injected into every request as the "User-Agent" header.
	UserAgent string

	// Headers are sent with every request, in the order they are defined.
	Headers []Header

	// HeaderOrder lists lower-case header names in wire order.  When empty
	// the order of Headers is used, with user-agent last.
	HeaderOrder []string
}

// Header is an ordered name-value pair for HTTP headers.
type Header struct {
	Name  string
	Value string
}

// ApplyHeaders merges the profile's User-Agent and Headers into req.
// Headers already present on req take precedence.  Unless req already
// carries a HeaderOrderKey, the profile's header order is recorded under it.
func (p *Profile) ApplyHeaders(req *http.Request) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if p.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	for _, h := range p.Headers {
		if req.Header.Get(h.Name) == "" {
			req.Header.Set(h.Name, h.Value)
		}
	}
	if _, ok := req.Header[HeaderOrderKey]; ok {
		return
	}
	if len(p.HeaderOrder) > 0 {
		req.Header[HeaderOrderKey] = append([]string(nil), p.HeaderOrder...)
		return
	}
	order := make([]string, 0, len(p.Headers)+1)
	for _, h := range p.Headers {
		order = append(order, strings.ToLower(h.Name))
	}
	if p.UserAgent != "" && !containsFold(order, "user-agent") {
		order = append(order, "user-agent")
	}
	req.Header[HeaderOrderKey] = order
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
