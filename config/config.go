// Package config loads the settings that pick a browser fingerprint and tune
// the client that replays it.  JSON and YAML files are supported.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/firasghr/GoImpersonate/database"
	"github.com/firasghr/GoImpersonate/fingerprint"
	"github.com/firasghr/GoImpersonate/logger"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Browser used when nothing else selects a fingerprint.
const (
	DefaultBrowser = "chrome"
	DefaultVersion = 114
)

// Duration is a time.Duration that decodes from "30s" style strings or from
// a number of nanoseconds.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var v any
	if err := n.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch v := v.(type) {
	case float64:
		*d = Duration(v)
	case int:
		*d = Duration(v)
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("config: cannot decode %T as a duration", v)
	}
	return nil
}

// Config holds everything needed to build an impersonating client.
//
// The fingerprint is resolved in this order: Browser/Version/Device pick
// database entries, or UserAgent is parsed to find them, or DefaultBrowser
// is used; an explicit JA3 or Akamai string then replaces the corresponding
// half.
type Config struct {
	// JA3 is an explicit TLS fingerprint.
	JA3 string `json:"ja3" yaml:"ja3"`

	// Akamai is an explicit HTTP/2 fingerprint.
	Akamai string `json:"akamai" yaml:"akamai"`

	// Browser, Version, Device and IOSVersion select database entries.
	Browser    string `json:"browser" yaml:"browser"`
	Version    int    `json:"version" yaml:"version"`
	Device     string `json:"device" yaml:"device"`
	IOSVersion int    `json:"ios_version" yaml:"ios_version"`

	// UserAgent is sent with every request.  Without Browser it is also
	// parsed to pick the database entries.
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// BestEffort lets database lookups fall back to the closest version.
	BestEffort bool `json:"best_effort" yaml:"best_effort"`

	// ALPN overrides the protocols offered in the ClientHello.
	ALPN []string `json:"alpn" yaml:"alpn"`

	// ClientCert and ClientKey are PEM files for client authentication.
	// ClientKey defaults to ClientCert.
	ClientCert string `json:"client_cert" yaml:"client_cert"`
	ClientKey  string `json:"client_key" yaml:"client_key"`

	// InsecureSkipVerify disables server certificate verification.
	InsecureSkipVerify bool `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`

	// Proxy is a single proxy URL (http://, https:// or socks5://).
	Proxy string `json:"proxy" yaml:"proxy"`

	// ProxyFile is a newline-delimited list of proxies rotated per
	// connection.  It takes precedence over Proxy.
	ProxyFile string `json:"proxy_file" yaml:"proxy_file"`

	// RequestTimeout bounds a whole request, redirects included.
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout"`

	// HandshakeTimeout bounds connection setup: dial, proxy and TLS.
	HandshakeTimeout Duration `json:"handshake_timeout" yaml:"handshake_timeout"`

	// MaxIdleConns and MaxIdleConnsPerHost size the HTTP/1.1 pool.
	MaxIdleConns        int `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int `json:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host"`

	// LogLevel is one of debug, info, error.
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// LoadConfig reads filename.  Files ending in .yaml or .yml are decoded as
// YAML, everything else as JSON.  Unknown fields are rejected in both.
// Fields absent from the file keep their DefaultConfig values.
func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 -- filename is caller-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		err = dec.Decode(cfg)
	default:
		dec := json.NewDecoder(f)
		dec.DisallowUnknownFields() // catch typos in config files early
		err = dec.Decode(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	return cfg, nil
}

// DefaultConfig returns a fresh *Config with defaults.  Lookups are
// best-effort.
func DefaultConfig() *Config {
	return &Config{
		BestEffort:          true,
		RequestTimeout:      Duration(30 * time.Second),
		HandshakeTimeout:    Duration(10 * time.Second),
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		LogLevel:            "info",
	}
}

// Mode returns the database lookup mode.
func (c *Config) Mode() database.Mode {
	if c.BestEffort {
		return database.BestEffort
	}
	return database.Strict
}

// Validate checks field ranges and combinations without touching the
// database or the file system.
func (c *Config) Validate() error {
	var errs []error
	if c.Browser != "" && c.Version <= 0 {
		errs = append(errs, fmt.Errorf("version must be positive, got %d", c.Version))
	}
	if c.Device != "" {
		if _, err := database.ParseDevice(c.Device); err != nil {
			errs = append(errs, err)
		}
	}
	if c.IOSVersion < 0 {
		errs = append(errs, fmt.Errorf("ios_version must not be negative, got %d", c.IOSVersion))
	}
	if c.ALPN != nil && len(c.ALPN) == 0 {
		errs = append(errs, errors.New("alpn must not be empty when set"))
	}
	if c.ClientKey != "" && c.ClientCert == "" {
		errs = append(errs, errors.New("client_key requires client_cert"))
	}
	if c.RequestTimeout < 0 || c.HandshakeTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConnsPerHost < 0 {
		errs = append(errs, errors.New("connection pool sizes must not be negative"))
	}
	if _, err := logger.ParseLevel(c.LogLevel); c.LogLevel != "" && err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ResolveProfiles builds the fingerprint profile described by c from db.
func (c *Config) ResolveProfiles(db *database.Database) (*fingerprint.Profile, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	p := &fingerprint.Profile{}
	var err error
	switch {
	case c.Browser != "":
		device := database.Desktop
		if c.Device != "" {
			device = database.Device(strings.ToLower(c.Device))
		}
		p, err = db.Profile(database.Client{
			Browser:    c.Browser,
			Version:    c.Version,
			Device:     device,
			IOSVersion: c.IOSVersion,
		}, c.Mode())
	case c.UserAgent != "":
		if c.JA3 == "" || c.Akamai == "" {
			p, err = db.ProfileFromUserAgent(c.UserAgent, c.Mode())
		}
	case c.JA3 == "" || c.Akamai == "":
		p, err = db.Profile(database.Client{
			Browser: DefaultBrowser,
			Version: DefaultVersion,
			Device:  database.Desktop,
		}, c.Mode())
	}
	if err != nil {
		return nil, err
	}

	if c.JA3 != "" {
		if p.TLS, err = fingerprint.TLSProfileFromJA3(c.JA3); err != nil {
			return nil, err
		}
	}
	if c.Akamai != "" {
		if p.HTTP2, err = fingerprint.HTTP2ProfileFromAkamai(c.Akamai); err != nil {
			return nil, err
		}
	}
	if c.UserAgent != "" {
		p.UserAgent = c.UserAgent
	}
	return p, nil
}
