// Package database resolves a browser, version and device to the JA3 and
// Akamai fingerprints that browser sends.
//
// The tables are static reference data keyed by browser family, device
// class and version range ("lower-upper" or a single version).  Browsers on
// iOS all use the platform network stack, so iOS lookups are keyed by the
// iOS major version and always consult the mobile Safari HTTP/2 table.
//
// Databases cannot follow browser releases in lock-step, so a lookup in
// BestEffort mode falls back to the closest known range when it is within
// the browser's tolerance.
package database

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/firasghr/GoImpersonate/fingerprint"
)

// Lookup errors.  Every error returned by this package wraps one of them.
var (
	ErrNoFingerprintForVersion     = errors.New("no fingerprint for version")
	ErrUnknownDevice               = errors.New("unknown device")
	ErrUnsupportedDeviceForBrowser = errors.New("unsupported device for browser")
	ErrMissingIOSVersion           = errors.New("missing iOS version")
	ErrUnknownBrowser              = errors.New("unknown browser")
	ErrUnknownMode                 = errors.New("unknown lookup mode")
	ErrMalformedTable              = errors.New("malformed version table")
	ErrUnparsableUserAgent         = errors.New("unparsable user agent")
)

// Mode selects how a version without an exact range is handled.
type Mode int

const (
	// Strict only accepts a range that contains the version.
	Strict Mode = iota
	// BestEffort also accepts the closest range within tolerance.
	BestEffort
)

// Valid reports whether m is a declared mode.
func (m Mode) Valid() bool { return m == Strict || m == BestEffort }

func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	case BestEffort:
		return "best-effort"
	default:
		return "Mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Device is the class of device a browser runs on.
type Device string

const (
	Desktop Device = "desktop"
	Android Device = "android"
	IOS     Device = "ios"
)

// ParseDevice validates s.
func ParseDevice(s string) (Device, error) {
	switch d := Device(strings.ToLower(s)); d {
	case Desktop, Android, IOS:
		return d, nil
	}
	return "", fmt.Errorf("database: device %q: %w", s, ErrUnknownDevice)
}

// Entry maps a version range to a fingerprint string.
type Entry struct {
	Versions    string
	Fingerprint string
}

// Table is an ordered list of entries.  Order decides ties in approximate
// matching.
type Table []Entry

// Browser holds the tables of one browser.
type Browser struct {
	Name     string
	Chromium bool
	// Tolerance is the largest version distance an approximate match may
	// span.
	Tolerance int
	JA3       Table
	HTTP2     map[Device]Table
	// Headers are the default request headers in wire order.  An empty
	// value marks a header whose value is supplied per request.
	Headers []fingerprint.Header
}

// Database is a set of browsers keyed by lower-case name.  It is read-only
// after construction and safe for concurrent use.
type Database struct {
	browsers map[string]*Browser
	// order is the match order used for user-agent browser names.
	order []string
}

// New returns a database holding browsers.  Names are matched
// case-insensitively.
func New(browsers ...*Browser) *Database {
	db := &Database{browsers: make(map[string]*Browser, len(browsers))}
	for _, b := range browsers {
		key := strings.ToLower(b.Name)
		db.browsers[key] = b
		db.order = append(db.order, key)
	}
	return db
}

var defaultDB = New(chrome, safari, edge, opera, firefox)

// Default returns the built-in database.
func Default() *Database { return defaultDB }

// Browser returns the browser named name.
func (db *Database) Browser(name string) (*Browser, error) {
	b, ok := db.browsers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("database: browser %q: %w", name, ErrUnknownBrowser)
	}
	return b, nil
}

// Browsers returns the names of every browser in match order.
func (db *Database) Browsers() []string {
	return append([]string(nil), db.order...)
}

// JA3 returns the JA3 string of browser at version.  A positive iosVersion
// selects the Safari table keyed by the iOS version.
func (db *Database) JA3(browser string, version, iosVersion int, mode Mode) (string, error) {
	if !mode.Valid() {
		return "", fmt.Errorf("database: %v: %w", mode, ErrUnknownMode)
	}
	b, err := db.Browser(browser)
	if err != nil {
		return "", err
	}
	table, tolerance := b.JA3, b.Tolerance
	if iosVersion > 0 {
		// Every iOS browser runs on WebKit, so the Safari table and tolerance apply.
		table, tolerance, version = safari.JA3, safari.Tolerance, iosVersion
	}
	s, ok, err := Find(version, table, tolerance, mode)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("database: no matching ja3 string found for %s: %w",
			b.describe("", version, iosVersion), ErrNoFingerprintForVersion)
	}
	return s, nil
}

// Akamai returns the Akamai string of browser at version on device.  For
// IOS, iosVersion must be positive and replaces version.
func (db *Database) Akamai(browser string, version int, device Device, iosVersion int, mode Mode) (string, error) {
	if !mode.Valid() {
		return "", fmt.Errorf("database: %v: %w", mode, ErrUnknownMode)
	}
	if _, err := ParseDevice(string(device)); err != nil {
		return "", err
	}
	if device == IOS && iosVersion <= 0 {
		return "", fmt.Errorf("database: device %q requested without an iOS version: %w", device, ErrMissingIOSVersion)
	}
	b, err := db.Browser(browser)
	if err != nil {
		return "", err
	}
	table, ok := b.HTTP2[device]
	if !ok {
		return "", fmt.Errorf("database: device %q for browser %q: %w", device, b.Name, ErrUnsupportedDeviceForBrowser)
	}
	if device != IOS {
		iosVersion = 0
	} else {
		version = iosVersion
	}
	s, ok, err := Find(version, table, b.Tolerance, mode)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("database: no matching akamai string found for %s: %w",
			b.describe(device, version, iosVersion), ErrNoFingerprintForVersion)
	}
	return s, nil
}

func (b *Browser) describe(device Device, version, iosVersion int) string {
	var who string
	switch {
	case iosVersion > 0:
		return fmt.Sprintf("%s on iOS version %d", b.Name, iosVersion)
	case b.Chromium:
		who = fmt.Sprintf("%s based on chromium version %d", b.Name, version)
	default:
		who = fmt.Sprintf("%s version %d", b.Name, version)
	}
	if device != "" {
		who = string(device) + " " + who
	}
	return who
}

// Find returns the entry of table whose range contains version.  Failing
// that, in BestEffort mode, it returns the entry with the closest bound if
// the distance is at most tolerance; the first entry seen wins ties.
func Find(version int, table Table, tolerance int, mode Mode) (string, bool, error) {
	closest, minDiff := "", -1
	for _, e := range table {
		lo, hi, err := parseRange(e.Versions)
		if err != nil {
			return "", false, err
		}
		if lo <= version && version <= hi {
			return e.Fingerprint, true, nil
		}
		for _, bound := range []int{lo, hi} {
			if d := abs(bound - version); minDiff < 0 || d < minDiff {
				closest, minDiff = e.Fingerprint, d
			}
		}
	}
	if minDiff >= 0 && minDiff <= tolerance && mode == BestEffort {
		return closest, true, nil
	}
	return "", false, nil
}

func parseRange(s string) (lo, hi int, err error) {
	l, h, isRange := strings.Cut(s, "-")
	if lo, err = strconv.Atoi(l); err != nil {
		return 0, 0, fmt.Errorf("database: version range %q: %w", s, ErrMalformedTable)
	}
	if !isRange {
		return lo, lo, nil
	}
	if hi, err = strconv.Atoi(h); err != nil || hi < lo {
		return 0, 0, fmt.Errorf("database: version range %q: %w", s, ErrMalformedTable)
	}
	return lo, hi, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
