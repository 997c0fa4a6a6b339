package fingerprint

import (
	"strconv"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// ja3Versions maps the JA3 version token to the minimum protocol version
// offered.  0x0303 is the legacy_version every TLS 1.3 ClientHello carries,
// so both 771 and 772 select TLS 1.3.
var ja3Versions = map[uint16]uint16{
	769: utls.VersionTLS10,
	770: utls.VersionTLS11,
	771: utls.VersionTLS13,
	772: utls.VersionTLS13,
}

// JA3 is a parsed JA3 fingerprint:
//
//	version,ciphers,extensions,groups,ec_point_formats
//
// Only the uncompressed EC point format ("0") is accepted.
type JA3 struct {
	// Version is the raw version token, kept for exact re-serialisation.
	Version uint16
	// MinVersion is the minimum TLS version the token maps to.
	MinVersion uint16

	Ciphers    []uint16
	Extensions []uint16
	Groups     []uint16
}

// ParseJA3 parses s into its five fields.  Structural problems return
// ErrMalformedFingerprint; extension ids the engine cannot emit return an
// *ExtensionError.
func ParseJA3(s string) (*JA3, error) {
	fields := strings.Split(strings.TrimSpace(s), ",")
	if len(fields) != 5 {
		return nil, malformed("JA3 string must have 5 comma-separated fields, got %d", len(fields))
	}
	for i, f := range fields {
		if f == "" {
			return nil, malformed("JA3 field %d is empty", i+1)
		}
	}
	if fields[4] != "0" {
		return nil, malformed("JA3 ec_point_formats %q: only the uncompressed format (0) is supported", fields[4])
	}

	version, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return nil, malformed("JA3 version %q is not an integer", fields[0])
	}
	minVersion, ok := ja3Versions[uint16(version)]
	if !ok {
		return nil, malformed("JA3 version %d is not a known TLS version", version)
	}

	j := &JA3{Version: uint16(version), MinVersion: minVersion}
	if j.Ciphers, err = parseIDList("ciphers", fields[1]); err != nil {
		return nil, err
	}
	if j.Extensions, err = parseIDList("extensions", fields[2]); err != nil {
		return nil, err
	}
	if j.Groups, err = parseIDList("groups", fields[3]); err != nil {
		return nil, err
	}
	for _, ext := range j.Extensions {
		if err := checkExtension(ext); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// parseIDList parses a '-'-joined list of decimal uint16 values.  Values
// must be unique.
func parseIDList(field, s string) ([]uint16, error) {
	parts := strings.Split(s, "-")
	ids := make([]uint16, 0, len(parts))
	seen := make(map[uint16]struct{}, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return nil, malformed("JA3 %s token %q is not an integer", field, p)
		}
		if _, dup := seen[uint16(v)]; dup {
			return nil, malformed("JA3 %s contain duplicate value %d", field, v)
		}
		seen[uint16(v)] = struct{}{}
		ids = append(ids, uint16(v))
	}
	return ids, nil
}

// String serialises j back into JA3 form.
func (j *JA3) String() string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(j.Version), 10))
	for _, list := range [][]uint16{j.Ciphers, j.Extensions, j.Groups} {
		b.WriteByte(',')
		writeIDList(&b, list)
	}
	b.WriteString(",0")
	return b.String()
}

func writeIDList(b *strings.Builder, ids []uint16) {
	for i, id := range ids {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.FormatUint(uint64(id), 10))
	}
}
