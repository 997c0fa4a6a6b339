package fingerprint

import "slices"

// ExtensionClass says how the handshake engine treats a TLS extension id.
type ExtensionClass int

const (
	// Automatic extensions are always emitted by the engine when listed;
	// their presence needs no configuration.
	Automatic ExtensionClass = iota + 1
	// Configurable extensions are switched on or off depending on whether
	// the fingerprint lists them.
	Configurable
	// NotSupported extensions cannot be produced by the engine.
	NotSupported
)

// Valid reports whether c is one of the declared classes.
func (c ExtensionClass) Valid() bool {
	return c == Automatic || c == Configurable || c == NotSupported
}

func (c ExtensionClass) String() string {
	switch c {
	case Automatic:
		return "automatic"
	case Configurable:
		return "configurable"
	case NotSupported:
		return "not supported"
	default:
		return "invalid"
	}
}

// ApplyMode says where a configurable extension's value goes.
type ApplyMode int

const (
	// Flag values toggle a field of HandshakeSettings.
	Flag ApplyMode = iota + 1
	// Kwarg values are passed to the handshake call through HandshakeArgs.
	Kwarg
)

// Extension ids with dedicated handling.
const (
	ExtServerName           uint16 = 0
	ExtStatusRequest        uint16 = 5
	ExtCertType             uint16 = 9
	ExtSupportedGroups      uint16 = 10
	ExtECPointFormats       uint16 = 11
	ExtSignatureAlgorithms  uint16 = 13
	ExtHeartbeat            uint16 = 15
	ExtALPN                 uint16 = 16
	ExtSCT                  uint16 = 18
	ExtPadding              uint16 = 21
	ExtEncryptThenMAC       uint16 = 22
	ExtExtendedMasterSecret uint16 = 23
	ExtCompressCertificate  uint16 = 27
	ExtRecordSizeLimit      uint16 = 28
	ExtDelegatedCredential  uint16 = 34
	ExtSessionTicket        uint16 = 35
	ExtSupportedVersions    uint16 = 43
	ExtPSKKeyExchangeModes  uint16 = 45
	ExtPostHandshakeAuth    uint16 = 49
	ExtKeyShare             uint16 = 51
	ExtApplicationSettings  uint16 = 17513
	ExtRenegotiationInfo    uint16 = 65281
)

// DefaultALPN is the protocol list advertised when a fingerprint lists the
// ALPN extension.
var DefaultALPN = []string{"h2", "http/1.1"}

// configurable describes the on/off behaviour of one configurable extension.
type configurable struct {
	name  string
	mode  ApplyMode
	apply func(s *HandshakeSettings, a *HandshakeArgs, on bool)
}

var automaticExtensions = []uint16{
	ExtServerName, ExtCertType, ExtSupportedGroups, ExtECPointFormats,
	ExtSignatureAlgorithms, ExtRecordSizeLimit, ExtSupportedVersions,
	ExtPSKKeyExchangeModes, ExtPostHandshakeAuth, ExtKeyShare,
}

var notSupportedExtensions = []uint16{
	2, 3, 4, 6, 7, 8, 12, 14, 17, 19, 20, 24, 25, 26, 29,
	30, 31, 32, 33, 36, 37, 38, 39, 41, 42, 44,
	47, 48, 50, 52, 53, 54, 55, 56, 57, 58, 59, 60,
}

var configurableExtensions = map[uint16]configurable{
	ExtStatusRequest: {"use_status_request_ext", Flag, func(s *HandshakeSettings, _ *HandshakeArgs, on bool) { s.StatusRequest = on }},
	ExtHeartbeat:     {"use_heartbeat_extension", Flag, func(s *HandshakeSettings, _ *HandshakeArgs, on bool) { s.Heartbeat = on }},
	ExtALPN: {"alpn", Kwarg, func(_ *HandshakeSettings, a *HandshakeArgs, on bool) {
		if on {
			a.ALPN = slices.Clone(DefaultALPN)
		} else {
			a.ALPN = nil
		}
	}},
	ExtSCT:                  {"use_sct_ext", Flag, func(s *HandshakeSettings, _ *HandshakeArgs, on bool) { s.SCT = on }},
	ExtPadding:              {"use_padding_ext", Flag, func(s *HandshakeSettings, _ *HandshakeArgs, on bool) { s.Padding = on }},
	ExtEncryptThenMAC:       {"use_encrypt_then_mac", Flag, func(s *HandshakeSettings, _ *HandshakeArgs, on bool) { s.EncryptThenMAC = on }},
	ExtExtendedMasterSecret: {"use_extended_master_secret", Flag, func(s *HandshakeSettings, _ *HandshakeArgs, on bool) { s.ExtendedMasterSecret = on }},
	ExtCompressCertificate:  {"use_certificate_compression", Flag, func(s *HandshakeSettings, _ *HandshakeArgs, on bool) { s.CertificateCompression = on }},
	ExtDelegatedCredential:  {"use_delegated_credential_ext", Flag, func(s *HandshakeSettings, _ *HandshakeArgs, on bool) { s.DelegatedCredentials = on }},
	ExtSessionTicket:        {"use_session_ticket_ext", Flag, func(s *HandshakeSettings, _ *HandshakeArgs, on bool) { s.SessionTicket = on }},
	ExtApplicationSettings:  {"use_alps_ext", Flag, func(s *HandshakeSettings, _ *HandshakeArgs, on bool) { s.ApplicationSettings = on }},
	ExtRenegotiationInfo:    {"use_renegotiation_ext", Flag, func(s *HandshakeSettings, _ *HandshakeArgs, on bool) { s.RenegotiationInfo = on }},
}

var extensionNames = map[uint16]string{
	0: "server_name", 1: "max_fragment_length", 2: "client_certificate_url",
	3: "trusted_ca_keys", 4: "truncated_hmac", 5: "status_request",
	6: "user_mapping", 7: "client_authz", 8: "server_authz", 9: "cert_type",
	10: "supported_groups", 11: "ec_points_format", 12: "srp",
	13: "signature_algorithms", 14: "use_srtp", 15: "heartbeat",
	16: "application_layer_protocol_negotiation", 17: "status_request_v2",
	18: "signed_certificate_timestamp", 19: "client_certificate_type",
	20: "server_certificate_type", 21: "padding", 22: "encrypt_then_mac",
	23: "extended_master_secret", 24: "token_binding", 25: "cached_info",
	26: "tls_lts", 27: "certificate_compression", 28: "record_size_limit",
	29: "pwd_protect", 30: "pwd_clear", 31: "password_salt",
	32: "ticket_pinning", 33: "tls_cert_with_extern_psk",
	34: "delegated_credential", 35: "session_ticket", 36: "TLMSP",
	37: "TLMSP_proxying", 38: "TLMSP_delegate", 39: "supported_ekt_ciphers",
	41: "pre_shared_key", 42: "early_data", 43: "supported_versions",
	44: "cookie", 45: "psk_key_exchange_modes", 47: "certificate_authorities",
	48: "oid_filters", 49: "post_handshake_auth", 50: "signature_algorithms_cert",
	51: "key_share", 52: "transparency_info", 53: "connection_id (depr.)",
	54: "connection_id", 55: "external_id_hash", 56: "external_session_id",
	57: "quic_transport_parameters", 58: "ticket_request", 59: "dnssec_chain",
	60:    "sequence_number_encryption_algorithms",
	17513: "application_settings", 65281: "renegotiation_info",
}

// ClassOf returns the class of extension id.  ok is false for ids that are
// in no table, which callers report as ErrUnknownExtension.
func ClassOf(id uint16) (class ExtensionClass, ok bool) {
	switch {
	case slices.Contains(automaticExtensions, id):
		return Automatic, true
	case configurableExtensions[id].apply != nil:
		return Configurable, true
	case slices.Contains(notSupportedExtensions, id):
		return NotSupported, true
	}
	return 0, false
}

// ExtensionName returns the IANA name of extension id.
func ExtensionName(id uint16) (string, bool) {
	name, ok := extensionNames[id]
	return name, ok
}

// ConfigurableExtensions returns the ids of every configurable extension in
// ascending order.
func ConfigurableExtensions() []uint16 {
	ids := make([]uint16, 0, len(configurableExtensions))
	for id := range configurableExtensions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// checkExtension returns an *ExtensionError for ids the engine cannot emit.
func checkExtension(id uint16) error {
	class, ok := ClassOf(id)
	switch {
	case !ok:
		return &ExtensionError{ID: id, Kind: ErrUnknownExtension}
	case class == NotSupported:
		return &ExtensionError{ID: id, Kind: ErrUnsupportedExtension}
	}
	return nil
}
