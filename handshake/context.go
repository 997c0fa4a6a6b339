package handshake

import (
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"slices"
	"strings"

	utls "github.com/refraction-networking/utls"

	"github.com/firasghr/GoImpersonate/fingerprint"
)

// Context pairs a TLS profile with the library-level configuration every
// connection it creates shares.  Values set on the Context take precedence
// over the profile's own handshake arguments.
type Context struct {
	profile *fingerprint.TLSProfile
	config  *utls.Config
	alpn    []string
	cert    *utls.Certificate
}

// NewContext returns a Context for profile.  A nil config means defaults.
func NewContext(profile *fingerprint.TLSProfile, config *utls.Config) *Context {
	if config == nil {
		config = &utls.Config{}
	}
	return &Context{profile: profile, config: config}
}

// Profile returns the TLS profile.
func (c *Context) Profile() *fingerprint.TLSProfile { return c.profile }

// Config returns the owned engine configuration.  Changes affect connections
// created afterwards.
func (c *Context) Config() *utls.Config { return c.config }

// ALPNProtocols returns the protocols offered, the Context override first and
// the profile's list otherwise.
func (c *Context) ALPNProtocols() []string {
	if c.alpn != nil {
		return slices.Clone(c.alpn)
	}
	return c.profile.Args().ALPN
}

// SetALPNProtocols overrides the protocols offered.
func (c *Context) SetALPNProtocols(protos []string) error {
	if len(protos) == 0 {
		return ErrEmptyALPN
	}
	for _, p := range protos {
		if p == "" || len(p) > 255 {
			return fmt.Errorf("%w: invalid ALPN protocol %q", fingerprint.ErrInvalidTLSConfiguration, p)
		}
	}
	c.alpn = slices.Clone(protos)
	return nil
}

// ClientCertificate returns the loaded client certificate, if any.
func (c *Context) ClientCertificate() *utls.Certificate { return c.cert }

// LoadClientCertificate loads a PEM certificate chain and private key.  An
// empty keyFile means the key is in certFile.
func (c *Context) LoadClientCertificate(certFile, keyFile string) error {
	if keyFile == "" {
		keyFile = certFile
	}
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return fmt.Errorf("read client certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return fmt.Errorf("read client key: %w", err)
	}
	if encryptedKey(keyPEM) {
		return ErrEncryptedClientKey
	}
	cert, err := utls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return fmt.Errorf("load client key pair: %w", err)
	}
	c.cert = &cert
	return nil
}

func encryptedKey(data []byte) bool {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return false
		}
		if block.Type == "ENCRYPTED PRIVATE KEY" {
			return true
		}
		if strings.HasSuffix(block.Type, "PRIVATE KEY") && strings.Contains(block.Headers["Proc-Type"], "ENCRYPTED") {
			return true
		}
	}
}

// Clone returns a Context sharing the profile with its own copy of the
// configuration and overrides.
func (c *Context) Clone() *Context {
	return &Context{
		profile: c.profile,
		config:  c.config.Clone(),
		alpn:    slices.Clone(c.alpn),
		cert:    c.cert,
	}
}

// Client wraps transport in a TLS client connection.  serverName, when set,
// is used for SNI and verification.  The handshake runs on first use or via
// Conn.HandshakeContext.
func (c *Context) Client(transport net.Conn, serverName string) (*Conn, error) {
	var args fingerprint.HandshakeArgs
	if c.alpn != nil {
		args.ALPN = slices.Clone(c.alpn)
	}
	spec, err := c.profile.ClientHelloSpec(args)
	if err != nil {
		return nil, err
	}
	cfg := c.config.Clone()
	if serverName != "" {
		cfg.ServerName = serverName
	}
	if c.cert != nil {
		cfg.Certificates = []utls.Certificate{*c.cert}
	}
	return NewConn(transport, cfg, spec)
}
