package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoImpersonate/database"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestJA3Command(t *testing.T) {
	ja3 := "772,4865-4866-4867-49195,0-10-11-13-16-43-45-51,29-23,0"
	out, err := run(t, "ja3", ja3)
	require.NoError(t, err)
	assert.Contains(t, out, "ja3:        "+ja3)
	assert.Contains(t, out, "key shares:")

	_, err = run(t, "ja3", "not,a,ja3")
	assert.Error(t, err)
}

func TestAkamaiCommand(t *testing.T) {
	out, err := run(t, "akamai", "1:65536;4:6291456|15663105|0|m,a,s,p")
	require.NoError(t, err)
	assert.Contains(t, out, "window:     15663105")
	assert.Contains(t, out, "pseudo:     :method,:authority,:scheme,:path")
}

func TestLookupCommand(t *testing.T) {
	out, err := run(t, "lookup", "--browser", "firefox", "--version", "110")
	require.NoError(t, err)
	want, err := database.Default().JA3("firefox", 110, 0, database.BestEffort)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ja3:    "+want+"\n"), out)

	_, err = run(t, "lookup", "--browser", "chrome", "--version", "1", "--strict")
	assert.ErrorIs(t, err, database.ErrNoFingerprintForVersion)
}

func TestGetCommand_RejectsBadHeader(t *testing.T) {
	_, err := run(t, "get", "https://example.invalid", "-H", "no-colon")
	assert.ErrorContains(t, err, "not name: value")
}
