package fingerprint

import (
	"math"
	"slices"

	"golang.org/x/net/http2"
)

const maxStreamID = 1<<31 - 1

// maxConnectionFlow keeps the connection window, which starts at 65535,
// within 2^31-1.
const maxConnectionFlow = maxStreamID - 65535

// DefaultPseudoHeaderOrder is used when a profile does not fix one.
var DefaultPseudoHeaderOrder = []string{PseudoMethod, PseudoAuthority, PseudoScheme, PseudoPath}

var knownSettings = []http2.SettingID{
	http2.SettingHeaderTableSize,
	http2.SettingEnablePush,
	http2.SettingMaxConcurrentStreams,
	http2.SettingInitialWindowSize,
	http2.SettingMaxFrameSize,
	http2.SettingMaxHeaderListSize,
	http2.SettingEnableConnectProtocol,
}

// Priority is a validated PRIORITY frame.
type Priority struct {
	StreamID  uint32
	Exclusive bool
	DependsOn uint32
	// Weight is 1-256.
	Weight uint16
}

// Param returns the frame parameters as written on the wire, where the
// weight is encoded as Weight-1.
func (p Priority) Param() http2.PriorityParam {
	return http2.PriorityParam{
		StreamDep: p.DependsOn,
		Exclusive: p.Exclusive,
		Weight:    uint8(p.Weight - 1),
	}
}

// HTTP2Profile is a validated, immutable HTTP/2 connection fingerprint.
type HTTP2Profile struct {
	settings    []http2.Setting
	flow        uint32
	priorities  []Priority
	pseudoOrder []string
}

// NewHTTP2Profile validates p.  Every failure wraps
// ErrInvalidHTTP2Configuration.
func NewHTTP2Profile(p HTTP2Params) (*HTTP2Profile, error) {
	switch {
	case p.ConnectionFlow == 0:
		return nil, invalidHTTP2("connection flow cannot be 0")
	case p.ConnectionFlow < 0:
		return nil, invalidHTTP2("connection flow cannot be less than 0")
	case p.ConnectionFlow > maxConnectionFlow:
		return nil, invalidHTTP2("connection flow %d would grow the connection window past 2^31-1", p.ConnectionFlow)
	}
	prof := &HTTP2Profile{flow: uint32(p.ConnectionFlow)}

	for _, f := range p.Priorities {
		if f.Exclusive != 0 && f.Exclusive != 1 {
			return nil, invalidHTTP2("priority frame exclusive bit can only be 0 or 1, got %d", f.Exclusive)
		}
		if f.Weight < 1 || f.Weight > 256 {
			return nil, invalidHTTP2("priority frame weight should be between 1 and 256, got %d", f.Weight)
		}
		if f.StreamID <= 0 || f.StreamID > maxStreamID {
			return nil, invalidHTTP2("priority frame stream id %d out of range", f.StreamID)
		}
		if f.DependsOn < 0 || f.DependsOn > maxStreamID {
			return nil, invalidHTTP2("priority frame dependency %d out of range", f.DependsOn)
		}
		if f.DependsOn == f.StreamID {
			return nil, invalidHTTP2("stream %d cannot depend on itself", f.StreamID)
		}
		prof.priorities = append(prof.priorities, Priority{
			StreamID:  uint32(f.StreamID),
			Exclusive: f.Exclusive == 1,
			DependsOn: uint32(f.DependsOn),
			Weight:    uint16(f.Weight),
		})
	}

	if p.PseudoHeaderOrder != nil {
		if !isPseudoPermutation(p.PseudoHeaderOrder) {
			return nil, invalidHTTP2("pseudo-header order %v must contain every pseudo-header exactly once", p.PseudoHeaderOrder)
		}
		prof.pseudoOrder = slices.Clone(p.PseudoHeaderOrder)
	}

	seen := make(map[int64]struct{}, len(p.Settings))
	for _, st := range p.Settings {
		if _, dup := seen[st.ID]; dup {
			return nil, invalidHTTP2("duplicate SETTINGS identifier %d", st.ID)
		}
		seen[st.ID] = struct{}{}
		if st.ID < 0 || st.ID > math.MaxUint16 || !slices.Contains(knownSettings, http2.SettingID(st.ID)) {
			return nil, invalidHTTP2("unknown SETTINGS identifier %d", st.ID)
		}
		if st.Value < 0 || st.Value > math.MaxUint32 {
			return nil, invalidHTTP2("SETTINGS value %d for identifier %d out of range", st.Value, st.ID)
		}
		setting := http2.Setting{ID: http2.SettingID(st.ID), Val: uint32(st.Value)}
		if err := setting.Valid(); err != nil {
			return nil, invalidHTTP2("%v", err)
		}
		prof.settings = append(prof.settings, setting)
	}
	return prof, nil
}

// HTTP2ProfileFromAkamai parses s and builds a profile from it.
func HTTP2ProfileFromAkamai(s string) (*HTTP2Profile, error) {
	p, err := ParseAkamai(s)
	if err != nil {
		return nil, err
	}
	return NewHTTP2Profile(*p)
}

func isPseudoPermutation(order []string) bool {
	if len(order) != len(DefaultPseudoHeaderOrder) {
		return false
	}
	seen := make(map[string]bool, len(order))
	for _, h := range order {
		if seen[h] || !slices.Contains(DefaultPseudoHeaderOrder, h) {
			return false
		}
		seen[h] = true
	}
	return true
}

// Settings returns the SETTINGS entries in wire order.
func (p *HTTP2Profile) Settings() []http2.Setting { return slices.Clone(p.settings) }

// Setting returns the value of id, if the profile sets it.
func (p *HTTP2Profile) Setting(id http2.SettingID) (uint32, bool) {
	for _, s := range p.settings {
		if s.ID == id {
			return s.Val, true
		}
	}
	return 0, false
}

// ConnectionFlow returns the connection-level WINDOW_UPDATE increment.
func (p *HTTP2Profile) ConnectionFlow() uint32 { return p.flow }

// Priorities returns the PRIORITY frames sent after the WINDOW_UPDATE.
func (p *HTTP2Profile) Priorities() []Priority { return slices.Clone(p.priorities) }

// PseudoHeaderOrder returns the pseudo-header order, or the default order
// when the profile does not fix one.
func (p *HTTP2Profile) PseudoHeaderOrder() []string {
	if p.pseudoOrder == nil {
		return slices.Clone(DefaultPseudoHeaderOrder)
	}
	return slices.Clone(p.pseudoOrder)
}

// Params returns the profile as raw parameters.
func (p *HTTP2Profile) Params() HTTP2Params {
	out := HTTP2Params{ConnectionFlow: int64(p.flow), PseudoHeaderOrder: p.PseudoHeaderOrder()}
	for _, s := range p.settings {
		out.Settings = append(out.Settings, SettingValue{ID: int64(s.ID), Value: int64(s.Val)})
	}
	for _, f := range p.priorities {
		var excl int64
		if f.Exclusive {
			excl = 1
		}
		out.Priorities = append(out.Priorities, PriorityFrame{
			StreamID: int64(f.StreamID), Exclusive: excl, DependsOn: int64(f.DependsOn), Weight: int64(f.Weight),
		})
	}
	return out
}

// Akamai serialises the profile as an Akamai string.
func (p *HTTP2Profile) Akamai() string {
	params := p.Params()
	return params.String()
}
