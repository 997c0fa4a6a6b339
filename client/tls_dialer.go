package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	xproxy "golang.org/x/net/proxy"

	"github.com/firasghr/GoImpersonate/handshake"
	"github.com/firasghr/GoImpersonate/logger"
	"github.com/firasghr/GoImpersonate/metrics"
)

// Dialer opens TCP connections, optionally through a proxy, and wraps them
// in fingerprinted TLS.
//
// The zero value dials directly without TLS support; set Context before
// calling DialTLSContext.  A Dialer is safe for concurrent use.
type Dialer struct {
	// Context carries the TLS profile and engine configuration.
	Context *handshake.Context

	// Proxy returns the proxy for the next connection, nil for direct.
	Proxy func() (*url.URL, error)

	// Timeout bounds dial, proxy negotiation and the TLS handshake.
	// Zero means no limit beyond the caller's context.
	Timeout time.Duration

	// KeepAlive is passed to net.Dialer.  Zero means its default.
	KeepAlive time.Duration

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

func (d *Dialer) log() *logger.Logger {
	if d.Logger == nil {
		return logger.Nop()
	}
	return d.Logger
}

// DialContext opens a TCP connection to addr, tunnelled through the proxy
// when one is configured.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	nd := &net.Dialer{KeepAlive: d.KeepAlive}
	var proxyURL *url.URL
	if d.Proxy != nil {
		u, err := d.Proxy()
		if err != nil {
			return nil, err
		}
		proxyURL = u
	}
	if proxyURL == nil {
		conn, err := nd.DialContext(ctx, network, addr)
		if err != nil {
			return nil, fmt.Errorf("client: dial %s: %w", addr, err)
		}
		return conn, nil
	}

	switch proxyURL.Scheme {
	case "socks5", "socks5h":
		pd, err := xproxy.FromURL(proxyURL, nd)
		if err != nil {
			return nil, fmt.Errorf("client: socks proxy %s: %w", proxyURL.Redacted(), err)
		}
		cd, ok := pd.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("client: socks proxy %s cannot dial with a context", proxyURL.Redacted())
		}
		conn, err := cd.DialContext(ctx, network, addr)
		if err != nil {
			return nil, fmt.Errorf("client: dial %s via %s: %w", addr, proxyURL.Redacted(), err)
		}
		return conn, nil
	default:
		return d.dialConnect(ctx, nd, network, addr, proxyURL)
	}
}

// dialConnect tunnels through an HTTP(S) proxy with CONNECT.
func (d *Dialer) dialConnect(ctx context.Context, nd *net.Dialer, network, addr string, proxyURL *url.URL) (net.Conn, error) {
	conn, err := nd.DialContext(ctx, network, proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("client: dial proxy %s: %w", proxyURL.Redacted(), err)
	}
	if proxyURL.Scheme == "https" {
		tc := tls.Client(conn, &tls.Config{ServerName: proxyURL.Hostname(), MinVersion: tls.VersionTLS12})
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("client: TLS to proxy %s: %w", proxyURL.Redacted(), err)
		}
		conn = tc
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if u := proxyURL.User; u != nil {
		pass, _ := u.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(u.Username() + ":" + pass))
		req.Header.Set("Proxy-Authorization", "Basic "+cred)
	}
	if err := req.Write(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("client: CONNECT %s via %s: %w", addr, proxyURL.Redacted(), err)
	}
	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("client: CONNECT %s via %s: %w", addr, proxyURL.Redacted(), err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, fmt.Errorf("client: CONNECT %s via %s: %s", addr, proxyURL.Redacted(), resp.Status)
	}
	if br.Buffered() > 0 {
		_ = conn.Close()
		return nil, fmt.Errorf("client: proxy %s sent data before the TLS handshake", proxyURL.Redacted())
	}
	return conn, nil
}

// DialTLSContext dials addr and completes a handshake with d.Context.  Its
// signature matches http.Transport.DialTLSContext.
func (d *Dialer) DialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := d.DialTLS(ctx, network, addr, d.Context)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// DialTLS is DialTLSContext with an explicit handshake context.
func (d *Dialer) DialTLS(ctx context.Context, network, addr string, hctx *handshake.Context) (*handshake.Conn, error) {
	if hctx == nil {
		return nil, fmt.Errorf("client: dialer has no TLS context")
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("client: parse addr %q: %w", addr, err)
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := d.DialContext(ctx, network, addr)
	if err != nil {
		d.observe("", err)
		return nil, err
	}
	conn, err := hctx.Client(raw, host)
	if err != nil {
		_ = raw.Close()
		d.observe("", err)
		return nil, err
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		d.observe("", err)
		d.log().Debug("tls handshake failed", zap.String("addr", addr), zap.Error(err))
		return nil, fmt.Errorf("client: TLS handshake with %s: %w", addr, err)
	}
	proto := conn.NegotiatedProtocol()
	d.observe(proto, nil)
	d.log().Debug("tls handshake complete",
		zap.String("addr", addr),
		zap.String("alpn", proto),
		zap.Duration("took", time.Since(start)),
	)
	return conn, nil
}

func (d *Dialer) observe(proto string, err error) {
	if d.Metrics != nil {
		d.Metrics.ObserveHandshake(proto, err)
	}
}
