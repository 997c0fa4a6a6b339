package fingerprint

import (
	"crypto/sha256"
	"fmt"

	utls "github.com/refraction-networking/utls"
)

var signatureAlgorithms = []utls.SignatureScheme{
	utls.ECDSAWithP256AndSHA256,
	utls.PSSWithSHA256,
	utls.PKCS1WithSHA256,
	utls.ECDSAWithP384AndSHA384,
	utls.PSSWithSHA384,
	utls.PKCS1WithSHA384,
	utls.PSSWithSHA512,
	utls.PKCS1WithSHA512,
	utls.ECDSAWithSHA1,
	utls.PKCS1WithSHA1,
}

var delegatedCredentialAlgorithms = []utls.SignatureScheme{
	utls.ECDSAWithP256AndSHA256,
	utls.ECDSAWithP384AndSHA384,
	utls.ECDSAWithP521AndSHA512,
	utls.ECDSAWithSHA1,
}

// ClientHelloSpec translates the settings into a uTLS spec.  Every call
// returns new extension values: uTLS writes key material into the spec it
// is given, so a spec must never be shared between connections.
func (s *HandshakeSettings) ClientHelloSpec(args HandshakeArgs) (*utls.ClientHelloSpec, error) {
	maxVersion := s.MaxVersion
	if maxVersion == 0 {
		maxVersion = utls.VersionTLS13
	}
	spec := &utls.ClientHelloSpec{
		CipherSuites:       append([]uint16(nil), s.CipherOrder...),
		CompressionMethods: []uint8{0},
		TLSVersMin:         s.MinVersion,
		TLSVersMax:         maxVersion,
		GetSessionID:       sha256.Sum256,
	}
	for _, id := range s.ExtensionOrder {
		ext, err := s.extension(id, args)
		if err != nil {
			return nil, err
		}
		if ext != nil {
			spec.Extensions = append(spec.Extensions, ext)
		}
	}
	return spec, nil
}

// extension returns the uTLS extension for id, or nil when a configurable
// extension is switched off.
func (s *HandshakeSettings) extension(id uint16, args HandshakeArgs) (utls.TLSExtension, error) {
	switch id {
	case ExtServerName:
		return &utls.SNIExtension{}, nil
	case ExtCertType:
		return &utls.GenericExtension{Id: id, Data: []byte{1, 0}}, nil
	case ExtSupportedGroups:
		curves := make([]utls.CurveID, len(s.GroupOrder))
		for i, g := range s.GroupOrder {
			curves[i] = utls.CurveID(g)
		}
		return &utls.SupportedCurvesExtension{Curves: curves}, nil
	case ExtECPointFormats:
		return &utls.SupportedPointsExtension{SupportedPoints: []uint8{0}}, nil
	case ExtSignatureAlgorithms:
		return &utls.SignatureAlgorithmsExtension{SupportedSignatureAlgorithms: signatureAlgorithms}, nil
	case ExtRecordSizeLimit:
		return &utls.FakeRecordSizeLimitExtension{Limit: 0x4001}, nil
	case ExtSupportedVersions:
		return &utls.SupportedVersionsExtension{Versions: s.versions()}, nil
	case ExtPSKKeyExchangeModes:
		return &utls.PSKKeyExchangeModesExtension{Modes: []uint8{utls.PskModeDHE}}, nil
	case ExtPostHandshakeAuth:
		return &utls.GenericExtension{Id: id}, nil
	case ExtKeyShare:
		shares := make([]utls.KeyShare, len(s.KeyShares))
		for i, g := range s.KeyShares {
			shares[i] = utls.KeyShare{Group: utls.CurveID(g)}
		}
		return &utls.KeyShareExtension{KeyShares: shares}, nil
	}

	on := map[uint16]bool{
		ExtStatusRequest:        s.StatusRequest,
		ExtHeartbeat:            s.Heartbeat,
		ExtALPN:                 args.ALPN != nil,
		ExtSCT:                  s.SCT,
		ExtPadding:              s.Padding,
		ExtEncryptThenMAC:       s.EncryptThenMAC,
		ExtExtendedMasterSecret: s.ExtendedMasterSecret,
		ExtCompressCertificate:  s.CertificateCompression,
		ExtDelegatedCredential:  s.DelegatedCredentials,
		ExtSessionTicket:        s.SessionTicket,
		ExtApplicationSettings:  s.ApplicationSettings,
		ExtRenegotiationInfo:    s.RenegotiationInfo,
	}
	enabled, known := on[id]
	if !known {
		return nil, fmt.Errorf("fingerprint: no ClientHello encoding for extension %d", id)
	}
	if !enabled {
		return nil, nil
	}

	switch id {
	case ExtStatusRequest:
		return &utls.StatusRequestExtension{}, nil
	case ExtHeartbeat:
		return &utls.GenericExtension{Id: id, Data: []byte{1}}, nil
	case ExtALPN:
		return &utls.ALPNExtension{AlpnProtocols: append([]string(nil), args.ALPN...)}, nil
	case ExtSCT:
		return &utls.SCTExtension{}, nil
	case ExtPadding:
		return &utls.UtlsPaddingExtension{GetPaddingLen: utls.BoringPaddingStyle}, nil
	case ExtEncryptThenMAC:
		return &utls.GenericExtension{Id: id}, nil
	case ExtExtendedMasterSecret:
		return &utls.ExtendedMasterSecretExtension{}, nil
	case ExtCompressCertificate:
		return &utls.UtlsCompressCertExtension{Algorithms: []utls.CertCompressionAlgo{utls.CertCompressionBrotli}}, nil
	case ExtDelegatedCredential:
		return &utls.FakeDelegatedCredentialsExtension{SupportedSignatureAlgorithms: delegatedCredentialAlgorithms}, nil
	case ExtSessionTicket:
		return &utls.SessionTicketExtension{}, nil
	case ExtApplicationSettings:
		return &utls.ApplicationSettingsExtension{SupportedProtocols: []string{"h2"}}, nil
	default: // ExtRenegotiationInfo
		return &utls.RenegotiationInfoExtension{Renegotiation: utls.RenegotiateOnceAsClient}, nil
	}
}

// versions lists the offered versions from the maximum down to MinVersion.
func (s *HandshakeSettings) versions() []uint16 {
	maxVersion := s.MaxVersion
	if maxVersion == 0 {
		maxVersion = utls.VersionTLS13
	}
	var out []uint16
	for v := maxVersion; v >= s.MinVersion && v >= utls.VersionTLS10; v-- {
		out = append(out, v)
	}
	return out
}
