package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/firasghr/GoImpersonate/fingerprint"
	"github.com/firasghr/GoImpersonate/h2"
	"github.com/firasghr/GoImpersonate/handshake"
	"github.com/firasghr/GoImpersonate/logger"
	"github.com/firasghr/GoImpersonate/metrics"
)

const (
	protoH2    = "h2"
	protoHTTP1 = "http/1.1"
)

// Transport is an http.RoundTripper that replays a browser fingerprint.
//
// HTTPS requests open a connection with the profile's ClientHello.  When the
// server agrees on h2 the request is carried by an h2.Conn that replays the
// profile's HTTP/2 preface, and the connection is pooled per host.  Hosts
// that pick HTTP/1.1 are served by an internal http.Transport whose TLS
// connections come from the same Dialer.  Plain http:// requests go straight
// to the HTTP/1.1 transport.
//
// HTTP/1.1 requests carry the profile's headers but net/http decides their
// order on the wire.
type Transport struct {
	dialer  *Dialer
	profile *fingerprint.Profile
	h1ctx   *handshake.Context
	h1      *http.Transport
	log     *logger.Logger
	metrics *metrics.Metrics

	// DisableDecompression leaves Content-Encoding bodies untouched.
	DisableDecompression bool

	mu     sync.Mutex
	protos map[string]string
	idle   map[string][]*h2.Conn
	parked map[string][]net.Conn
}

// TransportOptions tune the HTTP/1.1 pool.
type TransportOptions struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// NewTransport returns a Transport for profile.  dialer.Context must hold
// profile.TLS.
func NewTransport(dialer *Dialer, profile *fingerprint.Profile, opts TransportOptions) (*Transport, error) {
	if dialer == nil || dialer.Context == nil {
		return nil, errors.New("client: transport needs a dialer with a TLS context")
	}
	h1ctx := dialer.Context.Clone()
	if err := h1ctx.SetALPNProtocols([]string{protoHTTP1}); err != nil {
		return nil, err
	}
	if opts.IdleConnTimeout == 0 {
		opts.IdleConnTimeout = 90 * time.Second
	}
	t := &Transport{
		dialer:  dialer,
		profile: profile,
		h1ctx:   h1ctx,
		log:     dialer.log(),
		metrics: dialer.Metrics,
		protos:  make(map[string]string),
		idle:    make(map[string][]*h2.Conn),
		parked:  make(map[string][]net.Conn),
	}
	t.h1 = &http.Transport{
		DialContext:         dialer.DialContext,
		DialTLSContext:      t.dialH1TLS,
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		IdleConnTimeout:     opts.IdleConnTimeout,
		// Accept-Encoding comes from the profile; bodies are decoded here.
		DisableCompression: true,
		// Keeps net/http from negotiating HTTP/2 on its own.
		TLSNextProto: map[string]func(string, *tls.Conn) http.RoundTripper{},
	}
	return t, nil
}

// Profile returns the fingerprint the transport replays.
func (t *Transport) Profile() *fingerprint.Profile { return t.profile }

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.metrics != nil {
		t.metrics.IncrementTotal()
	}
	resp, err := t.roundTrip(req)
	if t.metrics != nil {
		if err != nil {
			t.metrics.IncrementFailed()
		} else {
			t.metrics.IncrementSuccess()
		}
	}
	if err != nil {
		t.log.Debug("request failed", zap.String("url", req.URL.Redacted()), zap.Error(err))
		return nil, err
	}
	if !t.DisableDecompression {
		decodeResponse(resp)
	}
	return resp, nil
}

func (t *Transport) roundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil {
		return nil, errors.New("client: nil request URL")
	}
	r := req.Clone(req.Context())
	if t.profile != nil {
		t.profile.ApplyHeaders(r)
	}

	switch r.URL.Scheme {
	case "http":
		return t.roundTripH1(r)
	case "https":
	default:
		return nil, fmt.Errorf("client: unsupported protocol scheme %q", r.URL.Scheme)
	}

	key := hostKey(r)
	for {
		t.mu.Lock()
		proto := t.protos[key]
		cc := t.popIdle(key)
		t.mu.Unlock()

		if proto == protoHTTP1 {
			return t.roundTripH1(r)
		}
		if cc == nil {
			break
		}
		resp, err := t.roundTripH2(key, cc, r)
		if err == nil || !canRetry(r, err) {
			return resp, err
		}
		t.log.Debug("retrying on a fresh connection", zap.String("host", key), zap.Error(err))
	}

	conn, err := t.dialer.DialTLS(r.Context(), "tcp", key, t.dialer.Context)
	if err != nil {
		return nil, err
	}
	if conn.NegotiatedProtocol() != protoH2 {
		t.mu.Lock()
		t.protos[key] = protoHTTP1
		t.parked[key] = append(t.parked[key], conn)
		t.mu.Unlock()
		return t.roundTripH1(r)
	}

	var init *h2.Initializer
	if t.profile != nil {
		init = h2.NewInitializer(t.profile.HTTP2)
	} else {
		init = h2.NewInitializer(nil)
	}
	cc, err := h2.NewConn(conn, init)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	t.mu.Lock()
	t.protos[key] = protoH2
	t.mu.Unlock()
	return t.roundTripH2(key, cc, r)
}

func (t *Transport) roundTripH2(key string, cc *h2.Conn, r *http.Request) (*http.Response, error) {
	resp, err := cc.RoundTrip(r)
	if cc.CanTakeNewRequest() {
		t.mu.Lock()
		t.idle[key] = append(t.idle[key], cc)
		t.mu.Unlock()
	} else {
		_ = cc.Close()
	}
	return resp, err
}

func (t *Transport) roundTripH1(r *http.Request) (*http.Response, error) {
	if r.Header != nil {
		delete(r.Header, fingerprint.HeaderOrderKey)
	}
	if r.URL.Scheme != "https" {
		return t.h1.RoundTrip(r)
	}

	// net/http only records TLS state for *tls.Conn.
	var conn net.Conn
	trace := &httptrace.ClientTrace{GotConn: func(info httptrace.GotConnInfo) { conn = info.Conn }}
	r = r.WithContext(httptrace.WithClientTrace(r.Context(), trace))
	resp, err := t.h1.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if st, ok := conn.(interface{ ConnectionState() tls.ConnectionState }); ok && resp.TLS == nil {
		state := st.ConnectionState()
		resp.TLS = &state
	}
	return resp, nil
}

// dialH1TLS hands out a connection parked by an ALPN fallback, or dials a
// new one that only offers HTTP/1.1.
func (t *Transport) dialH1TLS(ctx context.Context, network, addr string) (net.Conn, error) {
	t.mu.Lock()
	if conns := t.parked[addr]; len(conns) > 0 {
		conn := conns[len(conns)-1]
		t.parked[addr] = conns[:len(conns)-1]
		t.mu.Unlock()
		return conn, nil
	}
	t.mu.Unlock()
	conn, err := t.dialer.DialTLS(ctx, network, addr, t.h1ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (t *Transport) popIdle(key string) *h2.Conn {
	conns := t.idle[key]
	if len(conns) == 0 {
		return nil
	}
	cc := conns[len(conns)-1]
	t.idle[key] = conns[:len(conns)-1]
	return cc
}

// CloseIdleConnections closes pooled and parked connections.
func (t *Transport) CloseIdleConnections() {
	t.mu.Lock()
	idle, parked := t.idle, t.parked
	t.idle = make(map[string][]*h2.Conn)
	t.parked = make(map[string][]net.Conn)
	t.mu.Unlock()

	for _, conns := range idle {
		for _, cc := range conns {
			_ = cc.Close()
		}
	}
	for _, conns := range parked {
		for _, c := range conns {
			_ = c.Close()
		}
	}
	t.h1.CloseIdleConnections()
}

// canRetry reports whether a request that failed on a pooled connection
// may be sent again on a new one.
func canRetry(r *http.Request, err error) bool {
	if r.Body != nil && r.Body != http.NoBody {
		return false
	}
	if errors.Is(err, h2.ErrConnClosing) {
		return true
	}
	switch r.Method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
	}
	return false
}

// hostKey is the host:port the request connects to.
func hostKey(r *http.Request) string {
	port := r.URL.Port()
	if port == "" {
		port = "443"
		if r.URL.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(r.URL.Hostname(), port)
}
