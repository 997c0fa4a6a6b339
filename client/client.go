// Package client builds http.Clients whose TLS and HTTP/2 traffic replays a
// browser fingerprint.
package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/publicsuffix"

	"github.com/firasghr/GoImpersonate/config"
	"github.com/firasghr/GoImpersonate/database"
	"github.com/firasghr/GoImpersonate/fingerprint"
	"github.com/firasghr/GoImpersonate/handshake"
	"github.com/firasghr/GoImpersonate/logger"
	"github.com/firasghr/GoImpersonate/metrics"
	"github.com/firasghr/GoImpersonate/proxy"
)

// transportDefaults groups transport-layer knobs that are set once at
// construction time.
type transportDefaults struct {
	maxIdleConns        int
	maxIdleConnsPerHost int
	handshakeTimeout    time.Duration
}

var defaultTransport = transportDefaults{
	maxIdleConns:        100,
	maxIdleConnsPerHost: 10,
	handshakeTimeout:    10 * time.Second,
}

// Options configure NewHTTPClient.  Only Profile is required.
type Options struct {
	// Profile is the fingerprint to replay.  Profile.TLS must be set.
	Profile *fingerprint.Profile

	// TLSConfig is the base engine configuration (roots, verification).
	// It is cloned.
	TLSConfig *utls.Config

	// ALPN overrides the protocols offered in the ClientHello.
	ALPN []string

	// ClientCert and ClientKey are PEM files for client authentication.
	ClientCert string
	ClientKey  string

	// Proxy is a single proxy URL.  Proxies, when set, wins and rotates
	// per connection.
	Proxy   string
	Proxies *proxy.ProxyManager

	// Timeout is http.Client.Timeout.
	Timeout time.Duration

	// HandshakeTimeout bounds dial, proxy negotiation and TLS.
	HandshakeTimeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int

	// Jar defaults to an in-memory jar using the public suffix list.
	Jar http.CookieJar

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// NewTransportFromOptions builds the Transport described by opts.
func NewTransportFromOptions(opts Options) (*Transport, error) {
	if opts.Profile == nil || opts.Profile.TLS == nil {
		return nil, errors.New("client: options need a profile with a TLS fingerprint")
	}
	hctx := handshake.NewContext(opts.Profile.TLS, opts.TLSConfig.Clone())
	if opts.ALPN != nil {
		if err := hctx.SetALPNProtocols(opts.ALPN); err != nil {
			return nil, err
		}
	}
	if opts.ClientCert != "" {
		if err := hctx.LoadClientCertificate(opts.ClientCert, opts.ClientKey); err != nil {
			return nil, err
		}
	}

	proxyFunc, err := proxySource(opts)
	if err != nil {
		return nil, err
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = defaultTransport.handshakeTimeout
	}
	if opts.MaxIdleConns == 0 {
		opts.MaxIdleConns = defaultTransport.maxIdleConns
	}
	if opts.MaxIdleConnsPerHost == 0 {
		opts.MaxIdleConnsPerHost = defaultTransport.maxIdleConnsPerHost
	}

	dialer := &Dialer{
		Context: hctx,
		Proxy:   proxyFunc,
		Timeout: opts.HandshakeTimeout,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	}
	return NewTransport(dialer, opts.Profile, TransportOptions{
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
	})
}

func proxySource(opts Options) (func() (*url.URL, error), error) {
	if opts.Proxies != nil && opts.Proxies.Count() > 0 {
		return opts.Proxies.NextURL, nil
	}
	if opts.Proxy == "" {
		return nil, nil
	}
	u, err := proxy.Parse(opts.Proxy)
	if err != nil {
		return nil, err
	}
	return func() (*url.URL, error) { return u, nil }, nil
}

// NewHTTPClient constructs a *http.Client that replays opts.Profile.  It is
// safe for concurrent use; HTTP/2 requests to the same host are carried one
// at a time per connection and extra connections are opened on demand.
func NewHTTPClient(opts Options) (*http.Client, error) {
	transport, err := NewTransportFromOptions(opts)
	if err != nil {
		return nil, err
	}
	jar := opts.Jar
	if jar == nil {
		if jar, err = newCookieJar(); err != nil {
			return nil, fmt.Errorf("client: create cookie jar: %w", err)
		}
	}
	return &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   opts.Timeout,
	}, nil
}

// NewHTTPClientFromConfig resolves cfg's fingerprint from db and builds a
// client.  log and m may be nil.
func NewHTTPClientFromConfig(cfg *config.Config, db *database.Database, log *logger.Logger, m *metrics.Metrics) (*http.Client, error) {
	profile, err := cfg.ResolveProfiles(db)
	if m != nil {
		m.ObserveLookup(err)
	}
	if err != nil {
		return nil, err
	}

	opts := Options{
		Profile:             profile,
		TLSConfig:           &utls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, // #nosec G402 -- operator-controlled
		ALPN:                cfg.ALPN,
		ClientCert:          cfg.ClientCert,
		ClientKey:           cfg.ClientKey,
		Proxy:               cfg.Proxy,
		Timeout:             time.Duration(cfg.RequestTimeout),
		HandshakeTimeout:    time.Duration(cfg.HandshakeTimeout),
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		Logger:              log,
		Metrics:             m,
	}
	if cfg.ProxyFile != "" {
		pm := &proxy.ProxyManager{}
		if err := pm.LoadProxies(cfg.ProxyFile); err != nil {
			return nil, err
		}
		opts.Proxies = pm
	}
	return NewHTTPClient(opts)
}

// newCookieJar creates a cookie jar that honours the public-suffix list.
func newCookieJar() (http.CookieJar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}
