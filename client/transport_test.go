package client_test

import (
	"bytes"
	"compress/zlib"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	utls "github.com/refraction-networking/utls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoImpersonate/client"
	"github.com/firasghr/GoImpersonate/config"
	"github.com/firasghr/GoImpersonate/database"
	"github.com/firasghr/GoImpersonate/fingerprint"
	"github.com/firasghr/GoImpersonate/handshake"
	"github.com/firasghr/GoImpersonate/metrics"
)

const (
	testJA3    = "772,4865-4866-4867-49195-49199,0-23-65281-10-11-35-16-5-13-51-45-43,29-23,0"
	testAkamai = "1:65536;2:0;4:6291456;6:262144|15663105|0|m,a,s,p"
	testUA     = "Mozilla/5.0 (test) Chrome/114.0.0.0"
)

func testProfile(t *testing.T) *fingerprint.Profile {
	t.Helper()
	tlsProfile, err := fingerprint.TLSProfileFromJA3(testJA3)
	require.NoError(t, err)
	h2Profile, err := fingerprint.HTTP2ProfileFromAkamai(testAkamai)
	require.NoError(t, err)
	return &fingerprint.Profile{
		TLS:       tlsProfile,
		HTTP2:     h2Profile,
		UserAgent: testUA,
		Headers:   []fingerprint.Header{{Name: "accept", Value: "*/*"}},
	}
}

func rootsFor(ts *httptest.Server) *utls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(ts.Certificate())
	return &utls.Config{RootCAs: pool}
}

type seen struct {
	proto  atomic.Int32
	ua     atomic.Value
	accept atomic.Value
}

func echoHandler(s *seen) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.proto.Store(int32(r.ProtoMajor))
		s.ua.Store(r.UserAgent())
		s.accept.Store(r.Header.Get("Accept"))
		_, _ = io.WriteString(w, "hello "+r.URL.Path)
	}
}

func TestTransport_HTTP2(t *testing.T) {
	var s seen
	ts := httptest.NewUnstartedServer(echoHandler(&s))
	ts.EnableHTTP2 = true
	ts.StartTLS()
	defer ts.Close()

	m := metrics.NewMetrics()
	c, err := client.NewHTTPClient(client.Options{
		Profile:   testProfile(t),
		TLSConfig: rootsFor(ts),
		Metrics:   m,
	})
	require.NoError(t, err)

	for _, path := range []string{"/one", "/two"} {
		resp, err := c.Get(ts.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 2, resp.ProtoMajor)
		assert.Equal(t, "hello "+path, string(body))
		require.NotNil(t, resp.TLS)
		assert.Equal(t, "h2", resp.TLS.NegotiatedProtocol)
	}
	assert.Equal(t, int32(2), s.proto.Load())
	assert.Equal(t, testUA, s.ua.Load())
	assert.Equal(t, "*/*", s.accept.Load())

	total, success, failed := m.Snapshot()
	assert.Equal(t, uint64(2), total)
	assert.Equal(t, uint64(2), success)
	assert.Zero(t, failed)
}

func TestTransport_HTTP1Fallback(t *testing.T) {
	var s seen
	ts := httptest.NewTLSServer(echoHandler(&s))
	defer ts.Close()

	c, err := client.NewHTTPClient(client.Options{
		Profile:   testProfile(t),
		TLSConfig: rootsFor(ts),
	})
	require.NoError(t, err)

	for range 2 {
		resp, err := c.Get(ts.URL + "/h1")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		assert.Equal(t, 1, resp.ProtoMajor)
		assert.Equal(t, "hello /h1", string(body))
		require.NotNil(t, resp.TLS)
	}
	assert.Equal(t, int32(1), s.proto.Load())
	assert.Equal(t, testUA, s.ua.Load())
}

func TestTransport_UnknownAuthority(t *testing.T) {
	ts := httptest.NewTLSServer(echoHandler(&seen{}))
	defer ts.Close()

	m := metrics.NewMetrics()
	c, err := client.NewHTTPClient(client.Options{Profile: testProfile(t), Metrics: m})
	require.NoError(t, err)

	_, err = c.Get(ts.URL)
	assert.Error(t, err)
	_, _, failed := m.Snapshot()
	assert.Equal(t, uint64(1), failed)
}

func TestTransport_DecodesBodies(t *testing.T) {
	const text = "the quick brown fox jumps over the lazy dog"
	encoders := map[string]func(io.Writer) io.WriteCloser{
		"gzip": func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
		"br":   func(w io.Writer) io.WriteCloser { return brotli.NewWriter(w) },
		"zstd": func(w io.Writer) io.WriteCloser {
			e, _ := zstd.NewWriter(w)
			return e
		},
		"deflate": func(w io.Writer) io.WriteCloser { return zlib.NewWriter(w) },
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := r.URL.Query().Get("enc")
		var buf bytes.Buffer
		zw := encoders[enc](&buf)
		_, _ = io.WriteString(zw, text)
		_ = zw.Close()
		w.Header().Set("Content-Encoding", enc)
		_, _ = w.Write(buf.Bytes())
	}))
	defer ts.Close()

	c, err := client.NewHTTPClient(client.Options{Profile: testProfile(t)})
	require.NoError(t, err)

	for enc := range encoders {
		resp, err := c.Get(ts.URL + "/?enc=" + enc)
		require.NoError(t, err, enc)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err, enc)
		assert.Equal(t, text, string(body), enc)
		assert.Empty(t, resp.Header.Get("Content-Encoding"), enc)
		assert.True(t, resp.Uncompressed, enc)
	}
}

// connectProxy is a minimal HTTP CONNECT proxy.
func connectProxy(t *testing.T, tunnels *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			http.Error(w, "CONNECT only", http.StatusMethodNotAllowed)
			return
		}
		upstream, err := net.Dial("tcp", r.Host)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("response writer cannot hijack")
			return
		}
		conn, rw, err := hj.Hijack()
		if err != nil {
			upstream.Close()
			t.Error(err)
			return
		}
		tunnels.Add(1)
		_, _ = io.WriteString(conn, "HTTP/1.1 200 Connection established\r\n\r\n")
		go func() {
			defer upstream.Close()
			_, _ = io.Copy(upstream, rw)
		}()
		go func() {
			defer conn.Close()
			_, _ = io.Copy(conn, upstream)
		}()
	}))
}

func TestTransport_ThroughConnectProxy(t *testing.T) {
	var s seen
	ts := httptest.NewUnstartedServer(echoHandler(&s))
	ts.EnableHTTP2 = true
	ts.StartTLS()
	defer ts.Close()

	var tunnels atomic.Int32
	px := connectProxy(t, &tunnels)
	defer px.Close()

	c, err := client.NewHTTPClient(client.Options{
		Profile:   testProfile(t),
		TLSConfig: rootsFor(ts),
		Proxy:     px.URL,
	})
	require.NoError(t, err)

	resp, err := c.Get(ts.URL + "/via-proxy")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "hello /via-proxy", string(body))
	assert.Equal(t, int32(1), tunnels.Load())
}

func TestDialer_ProxyRefusesConnect(t *testing.T) {
	px := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusProxyAuthRequired)
	}))
	defer px.Close()

	u, _ := url.Parse(px.URL)
	d := &client.Dialer{Proxy: func() (*url.URL, error) { return u, nil }}
	_, err := d.DialContext(t.Context(), "tcp", "example.com:443")
	assert.ErrorContains(t, err, "407")
}

func TestDialer_DialTLSContextFailureReturnsNilConn(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	d := &client.Dialer{Context: handshake.NewContext(testProfile(t).TLS, nil)}
	conn, err := d.DialTLSContext(t.Context(), "tcp", addr)
	require.Error(t, err)
	assert.True(t, conn == nil, "expected an untyped nil net.Conn, got %#v", conn)
}

func TestTransport_HTTP1RedialFailure(t *testing.T) {
	ts := httptest.NewTLSServer(echoHandler(&seen{}))

	c, err := client.NewHTTPClient(client.Options{
		Profile:   testProfile(t),
		TLSConfig: rootsFor(ts),
	})
	require.NoError(t, err)

	resp, err := c.Get(ts.URL)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, 1, resp.ProtoMajor)

	ts.Close()
	c.CloseIdleConnections()
	_, err = c.Get(ts.URL)
	assert.Error(t, err)
}

func TestNewHTTPClient_Options(t *testing.T) {
	_, err := client.NewHTTPClient(client.Options{})
	assert.Error(t, err)

	c, err := client.NewHTTPClient(client.Options{Profile: testProfile(t)})
	require.NoError(t, err)
	assert.NotNil(t, c.Jar)

	_, err = client.NewHTTPClient(client.Options{Profile: testProfile(t), ALPN: []string{}})
	assert.Error(t, err)

	_, err = client.NewHTTPClient(client.Options{Profile: testProfile(t), Proxy: "ftp://x:21"})
	assert.Error(t, err)
}

func TestNewHTTPClientFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Browser, cfg.Version = "firefox", 110
	m := metrics.NewMetrics()

	c, err := client.NewHTTPClientFromConfig(cfg, database.Default(), nil, m)
	require.NoError(t, err)
	tr, ok := c.Transport.(*client.Transport)
	require.True(t, ok)
	want, err := database.Default().JA3("firefox", 110, 0, database.BestEffort)
	require.NoError(t, err)
	assert.Equal(t, want, tr.Profile().TLS.JA3())

	cfg.Browser = "netscape"
	_, err = client.NewHTTPClientFromConfig(cfg, database.Default(), nil, m)
	assert.ErrorIs(t, err, database.ErrUnknownBrowser)
}
