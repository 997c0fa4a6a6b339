package fingerprint

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the codecs and profile constructors.  Callers
// match them with errors.Is; the wrapped message carries the offending value.
var (
	// ErrMalformedFingerprint reports a JA3 or Akamai string with the wrong
	// shape: bad field count, non-integer tokens, duplicates, or an
	// unsupported EC point format list.
	ErrMalformedFingerprint = errors.New("malformed fingerprint")

	// ErrUnknownExtension reports an extension id that is not in any of
	// the extension tables.
	ErrUnknownExtension = errors.New("unknown extension")

	// ErrUnsupportedExtension reports an extension id that the handshake
	// engine cannot emit.
	ErrUnsupportedExtension = errors.New("unsupported extension")

	// ErrInvalidTLSConfiguration reports handshake settings rejected by the
	// engine's cross-field validation.
	ErrInvalidTLSConfiguration = errors.New("invalid TLS configuration")

	// ErrInvalidHTTP2Configuration reports an HTTP/2 profile that violates a
	// protocol limit.
	ErrInvalidHTTP2Configuration = errors.New("invalid HTTP/2 configuration")
)

// ExtensionError names the extension that made a JA3 string unusable.
// It unwraps to ErrUnknownExtension or ErrUnsupportedExtension.
type ExtensionError struct {
	ID   uint16
	Kind error
}

func (e *ExtensionError) Error() string {
	if name, ok := ExtensionName(e.ID); ok {
		return fmt.Sprintf("fingerprint: %v %q (%d)", e.Kind, name, e.ID)
	}
	return fmt.Sprintf("fingerprint: %v %d", e.Kind, e.ID)
}

func (e *ExtensionError) Unwrap() error { return e.Kind }

func malformed(format string, args ...any) error {
	return fmt.Errorf("fingerprint: %s: %w", fmt.Sprintf(format, args...), ErrMalformedFingerprint)
}

func invalidTLS(format string, args ...any) error {
	return fmt.Errorf("fingerprint: %s: %w", fmt.Sprintf(format, args...), ErrInvalidTLSConfiguration)
}

func invalidHTTP2(format string, args ...any) error {
	return fmt.Errorf("fingerprint: %s: %w", fmt.Sprintf(format, args...), ErrInvalidHTTP2Configuration)
}
