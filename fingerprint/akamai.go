package fingerprint

import (
	"strconv"
	"strings"
	"unicode"
)

// Pseudo-header names in the order they are listed in an Akamai string.
const (
	PseudoMethod    = ":method"
	PseudoAuthority = ":authority"
	PseudoScheme    = ":scheme"
	PseudoPath      = ":path"
)

var pseudoHeaderLetters = map[string]string{
	"m": PseudoMethod,
	"a": PseudoAuthority,
	"s": PseudoScheme,
	"p": PseudoPath,
}

// SettingValue is one SETTINGS entry as written in an Akamai string.
type SettingValue struct {
	ID    int64
	Value int64
}

// PriorityFrame is one PRIORITY frame as written in an Akamai string.  The
// weight is the RFC 9113 weight (1-256), not the wire value.
type PriorityFrame struct {
	StreamID  int64
	Exclusive int64
	DependsOn int64
	Weight    int64
}

// HTTP2Params are the raw HTTP/2 fingerprint fields, either parsed from an
// Akamai string or supplied by the caller.  NewHTTP2Profile validates them.
type HTTP2Params struct {
	Settings          []SettingValue
	ConnectionFlow    int64
	Priorities        []PriorityFrame
	PseudoHeaderOrder []string
}

// ParseAkamai parses an Akamai HTTP/2 fingerprint:
//
//	settings|connection_flow|priority_frames|header_order
//
// e.g. "1:65536,3:1000,4:6291456,6:262144|15663105|0|m,a,s,p".  All whitespace
// is ignored.  Settings may be separated by ';' or ','.
func ParseAkamai(s string) (*HTTP2Params, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	fields := strings.Split(s, "|")
	if len(fields) < 4 {
		return nil, malformed("Akamai string has too few fields (%d, want 4)", len(fields))
	}
	if len(fields) > 4 {
		return nil, malformed("Akamai string has too many fields (%d, want 4)", len(fields))
	}

	p := &HTTP2Params{}
	sep := ","
	if strings.Contains(fields[0], ";") {
		sep = ";"
	}
	seen := make(map[int64]struct{})
	for _, pair := range strings.Split(fields[0], sep) {
		id, value, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, malformed("cannot parse SETTINGS entry %q", pair)
		}
		sid, err1 := strconv.ParseInt(id, 10, 64)
		sv, err2 := strconv.ParseInt(value, 10, 64)
		if err1 != nil || err2 != nil {
			return nil, malformed("cannot parse SETTINGS entry %q", pair)
		}
		if _, dup := seen[sid]; dup {
			return nil, malformed("duplicate SETTINGS identifier %d", sid)
		}
		seen[sid] = struct{}{}
		p.Settings = append(p.Settings, SettingValue{ID: sid, Value: sv})
	}

	flow, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, malformed("connection flow %q must be an integer", fields[1])
	}
	p.ConnectionFlow = flow

	if fields[2] != "0" {
		for _, frame := range strings.Split(fields[2], ",") {
			parts := strings.Split(frame, ":")
			if len(parts) != 4 {
				return nil, malformed("cannot parse priority frame %q", frame)
			}
			var vals [4]int64
			for i, part := range parts {
				if vals[i], err = strconv.ParseInt(part, 10, 64); err != nil {
					return nil, malformed("cannot parse priority frame %q", frame)
				}
			}
			p.Priorities = append(p.Priorities, PriorityFrame{
				StreamID: vals[0], Exclusive: vals[1], DependsOn: vals[2], Weight: vals[3],
			})
		}
	}

	letters := strings.Split(fields[3], ",")
	if len(letters) != 4 {
		return nil, malformed("pseudo-header order has %d headers, want 4", len(letters))
	}
	for _, l := range letters {
		name, ok := pseudoHeaderLetters[l]
		if !ok {
			return nil, malformed("pseudo-header order contains unknown header %q", l)
		}
		p.PseudoHeaderOrder = append(p.PseudoHeaderOrder, name)
	}
	return p, nil
}

// String serialises p as an Akamai string.  Settings are joined with ','.
func (p *HTTP2Params) String() string {
	var b strings.Builder
	for i, st := range p.Settings {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(st.ID, 10))
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(st.Value, 10))
	}
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(p.ConnectionFlow, 10))
	b.WriteByte('|')
	if len(p.Priorities) == 0 {
		b.WriteByte('0')
	}
	for i, f := range p.Priorities {
		if i > 0 {
			b.WriteByte(',')
		}
		for j, v := range []int64{f.StreamID, f.Exclusive, f.DependsOn, f.Weight} {
			if j > 0 {
				b.WriteByte(':')
			}
			b.WriteString(strconv.FormatInt(v, 10))
		}
	}
	b.WriteByte('|')
	for i, h := range p.PseudoHeaderOrder {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(pseudoLetter(h))
	}
	return b.String()
}

func pseudoLetter(name string) string {
	for l, n := range pseudoHeaderLetters {
		if n == name {
			return l
		}
	}
	return name
}
