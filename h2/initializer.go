// Package h2 speaks client-side HTTP/2 with a fingerprinted connection
// preface.
//
// The preface a browser sends is as identifying as its ClientHello: the
// SETTINGS it announces and in what order, the connection WINDOW_UPDATE
// increment, any PRIORITY frames, and the order of the request
// pseudo-headers.  Initializer replays an HTTP2Profile's preface exactly and
// Conn carries requests over the resulting connection.
package h2

import (
	"bufio"
	"slices"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/firasghr/GoImpersonate/fingerprint"
)

const (
	// DefaultConnectionFlow is the connection WINDOW_UPDATE increment used
	// when no profile fixes one.
	DefaultConnectionFlow = 1 << 24

	defaultHeaderTableSize = 4096
	defaultWindowSize      = 65535
	maxWindowSize          = 1<<31 - 1
	defaultMaxFrameSize    = 16384
)

var defaultSettings = []http2.Setting{
	{ID: http2.SettingEnablePush, Val: 0},
	{ID: http2.SettingMaxConcurrentStreams, Val: 100},
	{ID: http2.SettingMaxHeaderListSize, Val: 65536},
}

// Initializer writes the connection preface for a profile.  A nil profile,
// or one without settings, falls back to conservative defaults.
type Initializer struct {
	profile *fingerprint.HTTP2Profile
}

// NewInitializer returns an Initializer for profile, which may be nil.
func NewInitializer(profile *fingerprint.HTTP2Profile) *Initializer {
	return &Initializer{profile: profile}
}

// Profile returns the profile, nil when defaults are in use.
func (i *Initializer) Profile() *fingerprint.HTTP2Profile { return i.profile }

// Settings returns the SETTINGS entries in wire order.
func (i *Initializer) Settings() []http2.Setting {
	if i.profile != nil {
		if s := i.profile.Settings(); len(s) > 0 {
			return s
		}
	}
	return slices.Clone(defaultSettings)
}

// ConnectionFlow returns the WINDOW_UPDATE increment for stream 0.
func (i *Initializer) ConnectionFlow() uint32 {
	if i.profile != nil {
		return i.profile.ConnectionFlow()
	}
	return DefaultConnectionFlow
}

// StreamWindowIncrement is the WINDOW_UPDATE increment sent on each request
// stream: ConnectionFlow, capped so that INITIAL_WINDOW_SIZE plus the
// increment stays within 2^31-1.  Zero means no WINDOW_UPDATE is sent.
func (i *Initializer) StreamWindowIncrement() uint32 {
	room := uint32(maxWindowSize) - min(i.InitialWindowSize(), maxWindowSize)
	return min(i.ConnectionFlow(), room)
}

// Priorities returns the PRIORITY frames sent after the WINDOW_UPDATE.
func (i *Initializer) Priorities() []fingerprint.Priority {
	if i.profile != nil {
		return i.profile.Priorities()
	}
	return nil
}

// PseudoHeaderOrder returns the request pseudo-header order.
func (i *Initializer) PseudoHeaderOrder() []string {
	if i.profile != nil {
		return i.profile.PseudoHeaderOrder()
	}
	return slices.Clone(fingerprint.DefaultPseudoHeaderOrder)
}

// setting returns the announced value of id, if any.
func (i *Initializer) setting(id http2.SettingID) (uint32, bool) {
	for _, s := range i.Settings() {
		if s.ID == id {
			return s.Val, true
		}
	}
	return 0, false
}

// HeaderTableSize is the HPACK table size the peer's encoder may use.
func (i *Initializer) HeaderTableSize() uint32 {
	if v, ok := i.setting(http2.SettingHeaderTableSize); ok {
		return v
	}
	return defaultHeaderTableSize
}

// InitialWindowSize is the per-stream receive window announced to the peer.
func (i *Initializer) InitialWindowSize() uint32 {
	if v, ok := i.setting(http2.SettingInitialWindowSize); ok {
		return v
	}
	return defaultWindowSize
}

// Start writes the client preface, SETTINGS, the connection WINDOW_UPDATE
// and the PRIORITY frames, in that order, and flushes w.  fr must write to
// w.  dec is the decoder for the peer's header blocks; its table limit is
// raised to the announced HEADER_TABLE_SIZE.
func (i *Initializer) Start(w *bufio.Writer, fr *http2.Framer, dec *hpack.Decoder) error {
	if _, err := w.WriteString(http2.ClientPreface); err != nil {
		return err
	}
	if err := fr.WriteSettings(i.Settings()...); err != nil {
		return err
	}
	if err := fr.WriteWindowUpdate(0, i.ConnectionFlow()); err != nil {
		return err
	}
	for _, p := range i.Priorities() {
		if err := fr.WritePriority(p.StreamID, p.Param()); err != nil {
			return err
		}
	}
	if dec != nil {
		dec.SetAllowedMaxDynamicTableSize(i.HeaderTableSize())
	}
	return w.Flush()
}
