package database

import (
	"fmt"

	"github.com/firasghr/GoImpersonate/fingerprint"
)

// TLSProfile looks up and parses the JA3 string of browser.
func (db *Database) TLSProfile(browser string, version, iosVersion int, mode Mode) (*fingerprint.TLSProfile, error) {
	s, err := db.JA3(browser, version, iosVersion, mode)
	if err != nil {
		return nil, err
	}
	p, err := fingerprint.TLSProfileFromJA3(s)
	if err != nil {
		return nil, fmt.Errorf("database: ja3 for %s %d: %w", browser, version, err)
	}
	return p, nil
}

// HTTP2Profile looks up and parses the Akamai string of browser on device.
func (db *Database) HTTP2Profile(browser string, version int, device Device, iosVersion int, mode Mode) (*fingerprint.HTTP2Profile, error) {
	s, err := db.Akamai(browser, version, device, iosVersion, mode)
	if err != nil {
		return nil, err
	}
	p, err := fingerprint.HTTP2ProfileFromAkamai(s)
	if err != nil {
		return nil, fmt.Errorf("database: akamai for %s %d: %w", browser, version, err)
	}
	return p, nil
}

// Profile resolves every signal of c: TLS, HTTP/2 and the browser's default
// request headers.  The user agent is left empty.
func (db *Database) Profile(c Client, mode Mode) (*fingerprint.Profile, error) {
	b, err := db.Browser(c.Browser)
	if err != nil {
		return nil, err
	}
	iosVersion := 0
	if c.Device == IOS {
		iosVersion = c.IOSVersion
	}
	tlsProfile, err := db.TLSProfile(c.Browser, c.Version, iosVersion, mode)
	if err != nil {
		return nil, err
	}
	h2Profile, err := db.HTTP2Profile(c.Browser, c.Version, c.Device, c.IOSVersion, mode)
	if err != nil {
		return nil, err
	}
	return &fingerprint.Profile{
		TLS:         tlsProfile,
		HTTP2:       h2Profile,
		Headers:     profileHeaders(b),
		HeaderOrder: headerOrder(b),
	}, nil
}

// ProfileFromUserAgent parses ua and resolves its profile.  The returned
// profile sends ua as its User-Agent.
func (db *Database) ProfileFromUserAgent(ua string, mode Mode) (*fingerprint.Profile, error) {
	c, err := db.ParseUserAgent(ua)
	if err != nil {
		return nil, err
	}
	p, err := db.Profile(c, mode)
	if err != nil {
		return nil, err
	}
	p.UserAgent = ua
	return p, nil
}
