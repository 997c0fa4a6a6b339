package h2

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/net/http2/hpack"

	"github.com/firasghr/GoImpersonate/fingerprint"
)

// ErrInvalidHeaderOrder means a pseudo-header order did not yield exactly
// the four request pseudo-headers.
var ErrInvalidHeaderOrder = errors.New("h2: incorrect pseudo-header order for http2 configuration")

// connectionHeaders are meaningless or forbidden in HTTP/2.
var connectionHeaders = map[string]bool{
	"host":              true,
	"transfer-encoding": true,
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"upgrade":           true,
}

// PseudoHeaders returns the request pseudo-headers in the default order.
func PseudoHeaders(req *http.Request) []hpack.HeaderField {
	authority := req.Host
	if authority == "" {
		authority = req.URL.Host
	}
	path := req.URL.RequestURI()
	if path == "" {
		path = "/"
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return []hpack.HeaderField{
		{Name: fingerprint.PseudoMethod, Value: method},
		{Name: fingerprint.PseudoAuthority, Value: authority},
		{Name: fingerprint.PseudoScheme, Value: req.URL.Scheme},
		{Name: fingerprint.PseudoPath, Value: path},
	}
}

// OrderPseudoHeaders arranges fields by order.  Names in order that match no
// field are skipped; the result must still hold all four pseudo-headers.
func OrderPseudoHeaders(fields []hpack.HeaderField, order []string) ([]hpack.HeaderField, error) {
	out := make([]hpack.HeaderField, 0, len(fields))
	used := make(map[string]bool, len(fields))
	for _, name := range order {
		if used[name] {
			continue
		}
		used[name] = true
		for _, f := range fields {
			if f.Name == name {
				out = append(out, f)
			}
		}
	}
	if len(out) != 4 || len(out) != len(fields) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeaderOrder, order)
	}
	return out, nil
}

// RequestHeaderFields returns every header field of req in wire order:
// pseudo-headers by pseudoOrder, then regular headers by the names listed
// under fingerprint.HeaderOrderKey, then the rest sorted by name.
func RequestHeaderFields(req *http.Request, pseudoOrder []string) ([]hpack.HeaderField, error) {
	fields, err := OrderPseudoHeaders(PseudoHeaders(req), pseudoOrder)
	if err != nil {
		return nil, err
	}

	values := make(map[string][]string, len(req.Header))
	var names []string
	add := func(name string, vv ...string) {
		if _, ok := values[name]; !ok {
			names = append(names, name)
		}
		values[name] = append(values[name], vv...)
	}
	for k, vv := range req.Header {
		if k == fingerprint.HeaderOrderKey {
			continue
		}
		name := strings.ToLower(k)
		if connectionHeaders[name] {
			continue
		}
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("h2: invalid header field name %q", k)
		}
		if name == "te" {
			if !slices.ContainsFunc(vv, func(v string) bool { return strings.EqualFold(v, "trailers") }) {
				continue
			}
			vv = []string{"trailers"}
		}
		add(name, vv...)
	}
	if _, ok := values["content-length"]; !ok && hasBody(req) && req.ContentLength > 0 {
		add("content-length", strconv.FormatInt(req.ContentLength, 10))
	}

	ordered := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range req.Header[fingerprint.HeaderOrderKey] {
		n = strings.ToLower(strings.TrimSpace(n))
		if _, ok := values[n]; ok && !seen[n] {
			ordered = append(ordered, n)
			seen[n] = true
		}
	}
	var rest []string
	for _, n := range names {
		if !seen[n] {
			rest = append(rest, n)
		}
	}
	slices.Sort(rest)
	ordered = append(ordered, rest...)

	for _, name := range ordered {
		for _, v := range values[name] {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, fmt.Errorf("h2: invalid value for header %q", name)
			}
			if name == "cookie" {
				fields = append(fields, cookieCrumbs(v)...)
				continue
			}
			fields = append(fields, hpack.HeaderField{Name: name, Value: v})
		}
	}
	return fields, nil
}

// EncodeRequestHeaders HPACK-encodes the header fields of req.
func EncodeRequestHeaders(enc *hpack.Encoder, req *http.Request, pseudoOrder []string) error {
	fields, err := RequestHeaderFields(req, pseudoOrder)
	if err != nil {
		return err
	}
	for _, f := range fields {
		if err := enc.WriteField(f); err != nil {
			return err
		}
	}
	return nil
}

// cookieCrumbs splits a cookie header into one field per pair.
func cookieCrumbs(v string) []hpack.HeaderField {
	var out []hpack.HeaderField
	for _, c := range strings.Split(v, ";") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, hpack.HeaderField{Name: "cookie", Value: c})
		}
	}
	return out
}

func hasBody(req *http.Request) bool {
	return req.Body != nil && req.Body != http.NoBody
}
