package fingerprint

import (
	"slices"

	utls "github.com/refraction-networking/utls"
)

// Groups the engine generates key shares for by default, and every group it
// can generate a key share for.
var (
	defaultKeyShareGroups = []uint16{uint16(utls.CurveP256), uint16(utls.X25519)}
	keyShareCapableGroups = []uint16{
		uint16(utls.CurveP256), uint16(utls.CurveP384), uint16(utls.CurveP521),
		uint16(utls.X25519), uint16(utls.X25519MLKEM768),
	}
	tls13CipherSuites = []uint16{
		utls.TLS_AES_128_GCM_SHA256, utls.TLS_AES_256_GCM_SHA384, utls.TLS_CHACHA20_POLY1305_SHA256,
	}
)

// HandshakeSettings is the low-level configuration the handshake engine
// serialises into a ClientHello.  The three orders are honoured verbatim.
type HandshakeSettings struct {
	MinVersion uint16
	MaxVersion uint16

	CipherOrder    []uint16
	ExtensionOrder []uint16
	GroupOrder     []uint16
	KeyShares      []uint16

	StatusRequest          bool
	Heartbeat              bool
	SCT                    bool
	Padding                bool
	EncryptThenMAC         bool
	ExtendedMasterSecret   bool
	CertificateCompression bool
	DelegatedCredentials   bool
	SessionTicket          bool
	ApplicationSettings    bool
	RenegotiationInfo      bool
}

// HandshakeArgs are the values handed to the handshake call itself rather
// than toggled on HandshakeSettings.
type HandshakeArgs struct {
	// ALPN is the protocol list advertised in the ALPN extension.  nil means
	// the extension is off.
	ALPN []string
}

func (s *HandshakeSettings) clone() *HandshakeSettings {
	c := *s
	c.CipherOrder = slices.Clone(s.CipherOrder)
	c.ExtensionOrder = slices.Clone(s.ExtensionOrder)
	c.GroupOrder = slices.Clone(s.GroupOrder)
	c.KeyShares = slices.Clone(s.KeyShares)
	return &c
}

func (s *HandshakeSettings) offers(ext uint16) bool {
	return slices.Contains(s.ExtensionOrder, ext)
}

// Validate runs the engine's cross-field checks.  Every failure wraps
// ErrInvalidTLSConfiguration.
func (s *HandshakeSettings) Validate(args HandshakeArgs) error {
	switch s.MinVersion {
	case utls.VersionTLS10, utls.VersionTLS11, utls.VersionTLS12, utls.VersionTLS13:
	default:
		return invalidTLS("minimum version %#04x is not supported", s.MinVersion)
	}
	if s.MaxVersion != 0 && s.MaxVersion < s.MinVersion {
		return invalidTLS("maximum version %#04x is below minimum %#04x", s.MaxVersion, s.MinVersion)
	}
	if len(s.CipherOrder) == 0 {
		return invalidTLS("no cipher suites")
	}
	for name, list := range map[string][]uint16{
		"cipher suites": s.CipherOrder, "extensions": s.ExtensionOrder,
		"groups": s.GroupOrder, "key shares": s.KeyShares,
	} {
		if dup, ok := firstDuplicate(list); ok {
			return invalidTLS("duplicate value %d in %s", dup, name)
		}
	}
	for _, ext := range s.ExtensionOrder {
		if err := checkExtension(ext); err != nil {
			return invalidTLS("%v", err)
		}
	}

	if s.MinVersion == utls.VersionTLS13 {
		if !s.offers(ExtSupportedVersions) || !s.offers(ExtKeyShare) {
			return invalidTLS("TLS 1.3 requires the supported_versions and key_share extensions")
		}
		if !slices.ContainsFunc(s.CipherOrder, func(c uint16) bool { return slices.Contains(tls13CipherSuites, c) }) {
			return invalidTLS("TLS 1.3 requires at least one TLS 1.3 cipher suite")
		}
	}
	if s.offers(ExtKeyShare) {
		if !s.offers(ExtSupportedGroups) || len(s.GroupOrder) == 0 {
			return invalidTLS("key_share requires supported_groups")
		}
		if len(s.KeyShares) == 0 {
			return invalidTLS("key_share requires at least one key share")
		}
	}
	for _, ks := range s.KeyShares {
		if !slices.Contains(s.GroupOrder, ks) {
			return invalidTLS("key share group %d is not in the group order", ks)
		}
		if !slices.Contains(keyShareCapableGroups, ks) {
			return invalidTLS("cannot generate a key share for group %d", ks)
		}
	}
	if s.offers(ExtALPN) && len(args.ALPN) == 0 {
		return invalidTLS("ALPN extension offered with an empty protocol list")
	}
	if s.ApplicationSettings && !s.offers(ExtALPN) {
		return invalidTLS("application_settings requires ALPN")
	}
	return s.probe(args)
}

// probe applies the settings to a throw-away connection so the engine can
// reject combinations it cannot serialise.
func (s *HandshakeSettings) probe(args HandshakeArgs) error {
	spec, err := s.ClientHelloSpec(args)
	if err != nil {
		return invalidTLS("%v", err)
	}
	uconn := utls.UClient(nil, &utls.Config{ServerName: "probe.invalid", InsecureSkipVerify: true}, utls.HelloCustom) // #nosec G402 -- never dialled
	if err := uconn.ApplyPreset(spec); err != nil {
		return invalidTLS("engine rejected settings: %v", err)
	}
	return nil
}

func firstDuplicate(ids []uint16) (uint16, bool) {
	seen := make(map[uint16]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id, true
		}
		seen[id] = struct{}{}
	}
	return 0, false
}

// TLSParams are the explicit lists a TLSProfile is built from.
type TLSParams struct {
	// Version is the JA3 version token to report.  When zero it is derived
	// from MinVersion.
	Version    uint16
	MinVersion uint16
	Ciphers    []uint16
	Extensions []uint16
	Groups     []uint16
}

// TLSProfile is a validated, immutable ClientHello shape.  Accessors return
// copies; a profile may be shared read-only between connections.
type TLSProfile struct {
	version  uint16
	settings *HandshakeSettings
	args     HandshakeArgs
}

// NewTLSProfile validates p and derives the handshake settings from it.
func NewTLSProfile(p TLSParams) (*TLSProfile, error) {
	for name, list := range map[string][]uint16{"ciphers": p.Ciphers, "extensions": p.Extensions, "groups": p.Groups} {
		if dup, ok := firstDuplicate(list); ok {
			return nil, invalidTLS("duplicate value %d in %s", dup, name)
		}
	}
	for _, ext := range p.Extensions {
		if err := checkExtension(ext); err != nil {
			return nil, err
		}
	}

	s := &HandshakeSettings{MinVersion: p.MinVersion, MaxVersion: utls.VersionTLS13}
	var args HandshakeArgs
	for id, c := range configurableExtensions {
		c.apply(s, &args, slices.Contains(p.Extensions, id))
	}
	s.CipherOrder = slices.Clone(p.Ciphers)
	s.ExtensionOrder = slices.Clone(p.Extensions)
	s.GroupOrder = slices.Clone(p.Groups)
	s.KeyShares = keySharesFor(p.Groups)

	if err := s.Validate(args); err != nil {
		return nil, err
	}
	version := p.Version
	if version == 0 {
		version = versionToken(p.MinVersion)
	}
	return &TLSProfile{version: version, settings: s, args: args}, nil
}

// TLSProfileFromJA3 parses s and builds a profile from it.
func TLSProfileFromJA3(s string) (*TLSProfile, error) {
	j, err := ParseJA3(s)
	if err != nil {
		return nil, err
	}
	return NewTLSProfile(TLSParams{
		Version:    j.Version,
		MinVersion: j.MinVersion,
		Ciphers:    j.Ciphers,
		Extensions: j.Extensions,
		Groups:     j.Groups,
	})
}

// TLSProfileFromSettings builds a profile from caller-supplied settings.
// Only the engine validation runs; s is copied.
func TLSProfileFromSettings(s *HandshakeSettings, args HandshakeArgs) (*TLSProfile, error) {
	c := s.clone()
	if c.MaxVersion == 0 {
		c.MaxVersion = utls.VersionTLS13
	}
	args.ALPN = slices.Clone(args.ALPN)
	if err := c.Validate(args); err != nil {
		return nil, err
	}
	return &TLSProfile{version: versionToken(c.MinVersion), settings: c, args: args}, nil
}

// keySharesFor filters the engine's default key-share groups to groups,
// ordered as groups.  It falls back to the first group.
func keySharesFor(groups []uint16) []uint16 {
	var shares []uint16
	for _, g := range groups {
		if slices.Contains(defaultKeyShareGroups, g) {
			shares = append(shares, g)
		}
	}
	if len(shares) == 0 && len(groups) > 0 {
		shares = []uint16{groups[0]}
	}
	return shares
}

func versionToken(v uint16) uint16 {
	switch v {
	case utls.VersionTLS10:
		return 769
	case utls.VersionTLS11:
		return 770
	default:
		return 771
	}
}

// MinVersion returns the minimum TLS version offered.
func (p *TLSProfile) MinVersion() uint16 { return p.settings.MinVersion }

// Ciphers returns the cipher-suite order.
func (p *TLSProfile) Ciphers() []uint16 { return slices.Clone(p.settings.CipherOrder) }

// Extensions returns the extension order.
func (p *TLSProfile) Extensions() []uint16 { return slices.Clone(p.settings.ExtensionOrder) }

// Groups returns the supported-groups order.
func (p *TLSProfile) Groups() []uint16 { return slices.Clone(p.settings.GroupOrder) }

// KeyShares returns the groups key shares are generated for.
func (p *TLSProfile) KeyShares() []uint16 { return slices.Clone(p.settings.KeyShares) }

// Settings returns a copy of the handshake settings.
func (p *TLSProfile) Settings() *HandshakeSettings { return p.settings.clone() }

// Args returns a copy of the handshake arguments.
func (p *TLSProfile) Args() HandshakeArgs {
	return HandshakeArgs{ALPN: slices.Clone(p.args.ALPN)}
}

// JA3 serialises the profile as a JA3 string.
func (p *TLSProfile) JA3() string {
	j := JA3{
		Version:    p.version,
		MinVersion: p.settings.MinVersion,
		Ciphers:    p.settings.CipherOrder,
		Extensions: p.settings.ExtensionOrder,
		Groups:     p.settings.GroupOrder,
	}
	return j.String()
}

// ClientHelloSpec builds a fresh ClientHello spec for one connection using
// the profile's own handshake arguments merged with args: a non-nil
// args.ALPN replaces the profile's list.
func (p *TLSProfile) ClientHelloSpec(args HandshakeArgs) (*utls.ClientHelloSpec, error) {
	merged := p.Args()
	if args.ALPN != nil {
		merged.ALPN = slices.Clone(args.ALPN)
	}
	return p.settings.ClientHelloSpec(merged)
}
