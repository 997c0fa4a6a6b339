package h2_test

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/firasghr/GoImpersonate/fingerprint"
	"github.com/firasghr/GoImpersonate/h2"
)

const (
	chromeAkamai  = "1:65536;2:0;4:6291456;6:262144|15663105|0|m,a,s,p"
	firefoxAkamai = "1:65536,4:131072,5:16384|12517377|3:0:0:201,5:0:0:101,7:0:0:1,9:0:7:1,11:0:3:1,13:0:0:241|m,p,a,s"
)

func mustProfile(t *testing.T, s string) *fingerprint.HTTP2Profile {
	t.Helper()
	p, err := fingerprint.HTTP2ProfileFromAkamai(s)
	require.NoError(t, err)
	return p
}

func TestInitializer_Defaults(t *testing.T) {
	init := h2.NewInitializer(nil)
	assert.Equal(t, []http2.Setting{
		{ID: http2.SettingEnablePush, Val: 0},
		{ID: http2.SettingMaxConcurrentStreams, Val: 100},
		{ID: http2.SettingMaxHeaderListSize, Val: 65536},
	}, init.Settings())
	assert.Equal(t, uint32(1<<24), init.ConnectionFlow())
	assert.Empty(t, init.Priorities())
	assert.Equal(t, fingerprint.DefaultPseudoHeaderOrder, init.PseudoHeaderOrder())
	assert.Equal(t, uint32(4096), init.HeaderTableSize())
}

// readPreface parses what Start wrote.
// Settings frames are returned as []http2.Setting.
func readPreface(t *testing.T, wire []byte) []any {
	t.Helper()
	require.True(t, bytes.HasPrefix(wire, []byte(http2.ClientPreface)))
	fr := http2.NewFramer(nil, bytes.NewReader(wire[len(http2.ClientPreface):]))
	var frames []any
	for {
		f, err := fr.ReadFrame()
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		switch f := f.(type) {
		case *http2.SettingsFrame:
			var s []http2.Setting
			require.NoError(t, f.ForeachSetting(func(st http2.Setting) error { s = append(s, st); return nil }))
			frames = append(frames, s)
		default:
			frames = append(frames, f)
		}
	}
}

func start(t *testing.T, init *h2.Initializer) []any {
	t.Helper()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	fr := http2.NewFramer(w, nil)
	require.NoError(t, init.Start(w, fr, hpack.NewDecoder(4096, nil)))
	return readPreface(t, buf.Bytes())
}

func TestInitializer_StartChrome(t *testing.T) {
	frames := start(t, h2.NewInitializer(mustProfile(t, chromeAkamai)))
	require.Len(t, frames, 2)

	settings := frames[0].([]http2.Setting)
	assert.Equal(t, []http2.Setting{
		{ID: http2.SettingHeaderTableSize, Val: 65536},
		{ID: http2.SettingEnablePush, Val: 0},
		{ID: http2.SettingInitialWindowSize, Val: 6291456},
		{ID: http2.SettingMaxHeaderListSize, Val: 262144},
	}, settings)

	wu := frames[1].(*http2.WindowUpdateFrame)
	assert.Equal(t, uint32(0), wu.StreamID)
	assert.Equal(t, uint32(15663105), wu.Increment)
}

func TestInitializer_StartFirefoxPriorities(t *testing.T) {
	frames := start(t, h2.NewInitializer(mustProfile(t, firefoxAkamai)))
	require.Len(t, frames, 8)

	assert.Equal(t, uint32(12517377), frames[1].(*http2.WindowUpdateFrame).Increment)

	want := []struct {
		id, dep uint32
		weight  uint8
	}{{3, 0, 200}, {5, 0, 100}, {7, 0, 0}, {9, 7, 0}, {11, 3, 0}, {13, 0, 240}}
	for i, w := range want {
		p := frames[2+i].(*http2.PriorityFrame)
		assert.Equal(t, w.id, p.StreamID)
		assert.Equal(t, w.dep, p.StreamDep)
		assert.Equal(t, w.weight, p.Weight)
		assert.False(t, p.Exclusive)
	}
}

func TestInitializer_EmptySettingsFallBack(t *testing.T) {
	profile, err := fingerprint.NewHTTP2Profile(fingerprint.HTTP2Params{ConnectionFlow: 65535})
	require.NoError(t, err)
	frames := start(t, h2.NewInitializer(profile))
	settings := frames[0].([]http2.Setting)
	assert.Len(t, settings, 3)
	assert.Equal(t, uint32(65535), frames[1].(*http2.WindowUpdateFrame).Increment)
}

func names(fields []hpack.HeaderField) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}

func TestRequestHeaderFields_Order(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "https://example.com/a/b?q=1", strings.NewReader("payload"))
	require.NoError(t, err)
	req.Header.Set("User-Agent", "ua")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Zeta", "z")
	req.Header.Set("Alpha", "a")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Host", "ignored.example")
	req.Header.Set("Transfer-Encoding", "chunked")
	req.Header.Set("Cookie", "a=1; b=2")
	req.Header[fingerprint.HeaderOrderKey] = []string{"accept", "cookie", "user-agent", "missing"}

	fields, err := h2.RequestHeaderFields(req, []string{":method", ":path", ":authority", ":scheme"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		":method", ":path", ":authority", ":scheme",
		"accept", "cookie", "cookie", "user-agent",
		"alpha", "content-length", "zeta",
	}, names(fields))
	assert.Equal(t, "POST", fields[0].Value)
	assert.Equal(t, "/a/b?q=1", fields[1].Value)
	assert.Equal(t, "example.com", fields[2].Value)
	assert.Equal(t, "https", fields[3].Value)
	assert.Equal(t, "a=1", fields[5].Value)
	assert.Equal(t, "b=2", fields[6].Value)
	assert.Equal(t, "7", fields[9].Value)
}

func TestRequestHeaderFields_TE(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)
	req.Header.Set("TE", "gzip")
	fields, err := h2.RequestHeaderFields(req, fingerprint.DefaultPseudoHeaderOrder)
	require.NoError(t, err)
	assert.Len(t, fields, 4)

	req.Header.Set("TE", "Trailers")
	fields, err = h2.RequestHeaderFields(req, fingerprint.DefaultPseudoHeaderOrder)
	require.NoError(t, err)
	assert.Equal(t, hpack.HeaderField{Name: "te", Value: "trailers"}, fields[4])
}

func TestOrderPseudoHeaders_Invalid(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)
	fields := h2.PseudoHeaders(req)

	for name, order := range map[string][]string{
		"missing":   {":method", ":authority", ":scheme"},
		"duplicate": {":method", ":method", ":authority", ":scheme"},
		"unknown":   {":method", ":authority", ":scheme", ":protocol"},
		"empty":     nil,
	} {
		_, err := h2.OrderPseudoHeaders(fields, order)
		assert.ErrorIs(t, err, h2.ErrInvalidHeaderOrder, name)
	}
}
