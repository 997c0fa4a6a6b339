package database

import "github.com/firasghr/GoImpersonate/fingerprint"

// Default navigation headers per browser family, in wire order.  The
// User-Agent is added by fingerprint.Profile and Accept-Encoding only lists
// codings the client package can decode.
var (
	chromiumHeaders = []fingerprint.Header{
		{Name: "sec-ch-ua-mobile", Value: "?0"},
		{Name: "upgrade-insecure-requests", Value: "1"},
		{Name: "user-agent", Value: ""},
		{Name: "accept", Value: "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"},
		{Name: "sec-fetch-site", Value: "none"},
		{Name: "sec-fetch-mode", Value: "navigate"},
		{Name: "sec-fetch-user", Value: "?1"},
		{Name: "sec-fetch-dest", Value: "document"},
		{Name: "accept-encoding", Value: "gzip, deflate, br, zstd"},
		{Name: "accept-language", Value: "en-US,en;q=0.9"},
	}

	firefoxHeaders = []fingerprint.Header{
		{Name: "user-agent", Value: ""},
		{Name: "accept", Value: "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"},
		{Name: "accept-language", Value: "en-US,en;q=0.5"},
		{Name: "accept-encoding", Value: "gzip, deflate, br"},
		{Name: "upgrade-insecure-requests", Value: "1"},
		{Name: "sec-fetch-dest", Value: "document"},
		{Name: "sec-fetch-mode", Value: "navigate"},
		{Name: "sec-fetch-site", Value: "none"},
		{Name: "sec-fetch-user", Value: "?1"},
		{Name: "te", Value: "trailers"},
	}

	safariHeaders = []fingerprint.Header{
		{Name: "accept", Value: "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		{Name: "sec-fetch-site", Value: "none"},
		{Name: "accept-encoding", Value: "gzip, deflate, br"},
		{Name: "sec-fetch-mode", Value: "navigate"},
		{Name: "user-agent", Value: ""},
		{Name: "accept-language", Value: "en-US,en;q=0.9"},
		{Name: "sec-fetch-dest", Value: "document"},
	}
)

// profileHeaders returns the headers of b with placeholder values dropped
// and the remaining entries copied.  Placeholders keep the position of
// headers whose value is filled per request.
func profileHeaders(b *Browser) []fingerprint.Header {
	out := make([]fingerprint.Header, 0, len(b.Headers))
	for _, h := range b.Headers {
		if h.Value != "" {
			out = append(out, h)
		}
	}
	return out
}

// headerOrder lists every header name of b, placeholders included.
func headerOrder(b *Browser) []string {
	out := make([]string, len(b.Headers))
	for i, h := range b.Headers {
		out[i] = h.Name
	}
	return out
}
