package database_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/firasghr/GoImpersonate/database"
)

func TestFind_ExactRangeWins(t *testing.T) {
	table := database.Table{
		{Versions: "80-105", Fingerprint: "old"},
		{Versions: "106-114", Fingerprint: "new"},
	}
	got, ok, err := database.Find(108, table, 10, database.Strict)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", got)
}

func TestFind_SingleVersionEntry(t *testing.T) {
	table := database.Table{{Versions: "13", Fingerprint: "thirteen"}}
	got, ok, err := database.Find(13, table, 0, database.Strict)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "thirteen", got)
}

func TestFind_ApproximateOnlyInBestEffort(t *testing.T) {
	table := database.Table{{Versions: "106-114", Fingerprint: "new"}}

	_, ok, err := database.Find(118, table, 10, database.Strict)
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := database.Find(118, table, 10, database.BestEffort)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", got)

	_, ok, err = database.Find(125, table, 10, database.BestEffort)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFind_TieGoesToFirstEntry(t *testing.T) {
	table := database.Table{
		{Versions: "10-12", Fingerprint: "first"},
		{Versions: "16-18", Fingerprint: "second"},
	}
	got, ok, err := database.Find(14, table, 5, database.BestEffort)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "first", got)
}

func TestFind_MalformedRange(t *testing.T) {
	_, _, err := database.Find(1, database.Table{{Versions: "a-b"}}, 1, database.Strict)
	assert.ErrorIs(t, err, database.ErrMalformedTable)
}

func TestFind_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lo := rapid.IntRange(1, 200).Draw(t, "lo")
		hi := lo + rapid.IntRange(0, 20).Draw(t, "width")
		version := rapid.IntRange(1, 250).Draw(t, "version")
		tolerance := rapid.IntRange(0, 10).Draw(t, "tolerance")
		mode := rapid.SampledFrom([]database.Mode{database.Strict, database.BestEffort}).Draw(t, "mode")
		table := database.Table{{Versions: itoa(lo) + "-" + itoa(hi), Fingerprint: "fp"}}

		_, ok, err := database.Find(version, table, tolerance, mode)
		require.NoError(t, err)

		dist := min(abs(lo-version), abs(hi-version))
		inside := lo <= version && version <= hi
		want := inside || (mode == database.BestEffort && dist <= tolerance)
		assert.Equal(t, want, ok)
	})
}

func TestJA3_ChromiumFamilies(t *testing.T) {
	db := database.Default()
	chrome, err := db.JA3("chrome", 112, 0, database.Strict)
	require.NoError(t, err)
	edge, err := db.JA3("Edge", 112, 0, database.Strict)
	require.NoError(t, err)
	assert.Equal(t, chrome, edge)
	assert.Contains(t, chrome, "51-35-13-16-5-11-17513")
}

func TestJA3_IOSUsesSafariTable(t *testing.T) {
	db := database.Default()
	got, err := db.JA3("chrome", 112, 14, database.Strict)
	require.NoError(t, err)
	safari, err := db.JA3("safari", 14, 0, database.Strict)
	require.NoError(t, err)
	assert.Equal(t, safari, got)
}

func TestJA3_NoMatchMessages(t *testing.T) {
	db := database.Default()

	_, err := db.JA3("chrome", 20, 0, database.BestEffort)
	require.ErrorIs(t, err, database.ErrNoFingerprintForVersion)
	assert.Contains(t, err.Error(), "Chrome based on chromium version 20")

	_, err = db.JA3("firefox", 20, 0, database.BestEffort)
	require.ErrorIs(t, err, database.ErrNoFingerprintForVersion)
	assert.Contains(t, err.Error(), "Firefox version 20")

	_, err = db.JA3("chrome", 100, 9, database.BestEffort)
	require.ErrorIs(t, err, database.ErrNoFingerprintForVersion)
	assert.Contains(t, err.Error(), "Chrome on iOS version 9")
}

func TestJA3_SafariToleranceIsOne(t *testing.T) {
	db := database.Default()
	_, err := db.JA3("safari", 17, 0, database.BestEffort)
	assert.NoError(t, err)
	_, err = db.JA3("safari", 18, 0, database.BestEffort)
	assert.ErrorIs(t, err, database.ErrNoFingerprintForVersion)
}

func TestAkamai_Devices(t *testing.T) {
	db := database.Default()

	desktop, err := db.Akamai("firefox", 100, database.Desktop, 0, database.Strict)
	require.NoError(t, err)
	assert.Contains(t, desktop, "1:65536,4:131072")

	android, err := db.Akamai("firefox", 100, database.Android, 0, database.Strict)
	require.NoError(t, err)
	assert.Contains(t, android, "1:4096,4:32768")

	ios, err := db.Akamai("firefox", 100, database.IOS, 15, database.Strict)
	require.NoError(t, err)
	assert.Equal(t, "4:2097152,3:100|10485760|0|m,s,p,a", ios)
}

func TestAkamai_Errors(t *testing.T) {
	db := database.Default()

	_, err := db.Akamai("chrome", 100, database.IOS, 0, database.Strict)
	assert.ErrorIs(t, err, database.ErrMissingIOSVersion)

	_, err = db.Akamai("chrome", 100, database.Device("tablet"), 0, database.Strict)
	assert.ErrorIs(t, err, database.ErrUnknownDevice)

	_, err = db.Akamai("netscape", 4, database.Desktop, 0, database.Strict)
	assert.ErrorIs(t, err, database.ErrUnknownBrowser)

	_, err = db.Akamai("chrome", 100, database.Desktop, 0, database.Mode(7))
	assert.ErrorIs(t, err, database.ErrUnknownMode)

	_, err = db.Akamai("chrome", 20, database.Desktop, 0, database.Strict)
	require.ErrorIs(t, err, database.ErrNoFingerprintForVersion)
	assert.Contains(t, err.Error(), "desktop Chrome based on chromium version 20")
}

func TestAkamai_UnsupportedDevice(t *testing.T) {
	db := database.New(&database.Browser{
		Name:  "Desktoponly",
		HTTP2: map[database.Device]database.Table{database.Desktop: {{Versions: "1-2", Fingerprint: "x"}}},
	})
	_, err := db.Akamai("desktoponly", 1, database.Android, 0, database.Strict)
	assert.ErrorIs(t, err, database.ErrUnsupportedDeviceForBrowser)
}

func TestParseDevice(t *testing.T) {
	d, err := database.ParseDevice("iOS")
	require.NoError(t, err)
	assert.Equal(t, database.IOS, d)

	_, err = database.ParseDevice("watch")
	assert.ErrorIs(t, err, database.ErrUnknownDevice)
}

func TestDefaultTables_AllParse(t *testing.T) {
	db := database.Default()
	for _, name := range db.Browsers() {
		b, err := db.Browser(name)
		require.NoError(t, err)
		for _, e := range b.JA3 {
			lo, _, _ := cutRange(e.Versions)
			_, err := db.TLSProfile(name, lo, 0, database.Strict)
			assert.NoError(t, err, "%s ja3 %s", name, e.Versions)
		}
		for device, table := range b.HTTP2 {
			for _, e := range table {
				lo, _, _ := cutRange(e.Versions)
				ios := 0
				if device == database.IOS {
					ios = lo
				}
				_, err := db.HTTP2Profile(name, lo, device, ios, database.Strict)
				assert.NoError(t, err, "%s %s akamai %s", name, device, e.Versions)
			}
		}
	}
}

func TestProfile_CarriesHeaderOrder(t *testing.T) {
	db := database.Default()
	p, err := db.Profile(database.Client{Device: database.Desktop, Browser: "chrome", Version: 110}, database.Strict)
	require.NoError(t, err)

	require.NotNil(t, p.TLS)
	require.NotNil(t, p.HTTP2)
	assert.Contains(t, p.HeaderOrder, "user-agent")
	for _, h := range p.Headers {
		assert.NotEmpty(t, h.Value, h.Name)
	}
}
