package database

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mssola/useragent"
)

var (
	chromiumVersionPattern = regexp.MustCompile(` Chrome/(.+?)(?: |$)`)
	iosVersionPattern      = regexp.MustCompile(`(?:iPhone|CPU) OS (\d+)(?:_\d+)*`)
)

// Client is the browser, device and versions a user agent describes.
type Client struct {
	Device  Device
	Browser string
	// Version is the browser major version; for Chromium-based browsers it
	// is the Chromium major version.
	Version    int
	IOSVersion int
}

// ParseUserAgent resolves ua to a Client using the browsers of db.
func (db *Database) ParseUserAgent(ua string) (Client, error) {
	parsed := useragent.New(ua)
	var c Client

	switch {
	case isIOS(parsed):
		c.Device = IOS
		m := iosVersionPattern.FindStringSubmatch(ua)
		if m == nil {
			return Client{}, fmt.Errorf("database: cannot parse iOS version from %q: %w", ua, ErrUnparsableUserAgent)
		}
		c.IOSVersion, _ = strconv.Atoi(m[1])
	case strings.EqualFold(parsed.OSInfo().Name, "Android"):
		c.Device = Android
	case !parsed.Mobile() && !parsed.Bot() && parsed.Platform() != "":
		c.Device = Desktop
	case parsed.Mobile():
		return Client{}, fmt.Errorf("database: unknown mobile OS %q: %w", parsed.OS(), ErrUnparsableUserAgent)
	default:
		return Client{}, fmt.Errorf("database: cannot parse user agent %q: %w", ua, ErrUnparsableUserAgent)
	}

	name, version := parsed.Browser()
	family := strings.ToLower(name)
	for _, key := range db.order {
		if strings.Contains(family, key) {
			c.Browser = key
			break
		}
	}
	if c.Browser == "" {
		return Client{}, fmt.Errorf("database: unsupported browser %q in user agent: %w", name, ErrUnparsableUserAgent)
	}

	major, err := majorVersion(version)
	if err != nil {
		return Client{}, fmt.Errorf("database: cannot parse browser version from %q: %w", ua, ErrUnparsableUserAgent)
	}
	c.Version = major

	// iOS browsers wrap WebKit, so only other platforms carry a Chromium
	// version worth looking up.
	if db.browsers[c.Browser].Chromium && c.Device != IOS {
		m := chromiumVersionPattern.FindStringSubmatch(ua)
		if m == nil {
			return Client{}, fmt.Errorf("database: could not parse the chromium version from %q: %w", ua, ErrUnparsableUserAgent)
		}
		if c.Version, err = majorVersion(m[1]); err != nil {
			return Client{}, fmt.Errorf("database: could not parse the chromium version from %q: %w", ua, ErrUnparsableUserAgent)
		}
	}
	return c, nil
}

func isIOS(ua *useragent.UserAgent) bool {
	switch ua.Platform() {
	case "iPhone", "iPad", "iPod", "iPod touch":
		return true
	}
	return false
}

func majorVersion(v string) (int, error) {
	major, _, _ := strings.Cut(v, ".")
	return strconv.Atoi(major)
}
