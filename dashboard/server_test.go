package dashboard_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoImpersonate/dashboard"
	"github.com/firasghr/GoImpersonate/database"
	"github.com/firasghr/GoImpersonate/metrics"
)

func newServer(t *testing.T) (*dashboard.Server, *metrics.Metrics, *httptest.Server) {
	t.Helper()
	m := metrics.NewMetrics()
	s := dashboard.New(m, database.Default(), nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, m, ts
}

func TestProfile(t *testing.T) {
	s, _, ts := newServer(t)

	resp, err := http.Get(ts.URL + "/api/profile")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	p, err := database.Default().Profile(database.Client{Browser: "firefox", Version: 110, Device: database.Desktop}, database.BestEffort)
	require.NoError(t, err)
	s.SetProfile(p)

	resp, err = http.Get(ts.URL + "/api/profile")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view dashboard.ProfileView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, p.TLS.JA3(), view.JA3)
	assert.Equal(t, p.HTTP2.Akamai(), view.Akamai)
}

func TestLookup(t *testing.T) {
	_, m, ts := newServer(t)

	resp, err := http.Get(ts.URL + "/api/lookup?browser=chrome&version=110")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res dashboard.LookupResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	wantJA3, err := database.Default().JA3("chrome", 110, 0, database.BestEffort)
	require.NoError(t, err)
	assert.Equal(t, wantJA3, res.JA3)
	assert.NotEmpty(t, res.Akamai)
	assert.Equal(t, "desktop", res.Device)
	assert.Equal(t, "best-effort", res.Mode)

	n, err := testutil.GatherAndCount(m.Registry(), "impersonate_lookups_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLookup_Errors(t *testing.T) {
	_, _, ts := newServer(t)

	cases := map[string]int{
		"/api/lookup?browser=chrome":                        http.StatusBadRequest,
		"/api/lookup?browser=chrome&version=x":              http.StatusBadRequest,
		"/api/lookup?browser=chrome&version=110&device=fax": http.StatusBadRequest,
		"/api/lookup?browser=netscape&version=4":            http.StatusBadRequest,
		"/api/lookup?browser=chrome&version=1&mode=strict":  http.StatusNotFound,
		"/api/lookup?browser=chrome&version=110&device=ios": http.StatusNotFound,
	}
	for path, want := range cases {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, path)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, _, ts := newServer(t)
	resp, err := http.Post(ts.URL+"/api/profile", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPrometheusExposition(t *testing.T) {
	_, m, ts := newServer(t)
	m.IncrementTotal()
	m.IncrementSuccess()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	found := false
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), `impersonate_requests_total{result="success"} 1`) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestMetricsStream_SendsSnapshot(t *testing.T) {
	_, m, ts := newServer(t)
	m.IncrementTotal()
	m.IncrementFailed()

	resp, err := http.Get(ts.URL + "/api/metrics/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var snap dashboard.MetricsSnapshot
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
	assert.Equal(t, uint64(1), snap.Total)
	assert.Equal(t, uint64(1), snap.Failed)
}
