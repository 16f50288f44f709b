package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/trialsync/internal/audio"
	"github.com/audiolibrelab/trialsync/internal/config"
	"github.com/audiolibrelab/trialsync/internal/routing"
	"github.com/audiolibrelab/trialsync/internal/service"
)

func newTestServer(t *testing.T, configFile string) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Simulate = true
	cfg.Output.Directory = t.TempDir()
	cfg.Stimuli = []config.StimulusType{{Name: "pink", File: "pink.wav"}}

	svc, err := service.New(cfg, service.Options{Backend: audio.NewSimulated(audio.SimulatedDevices(), false)})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	ts := httptest.NewServer(New(svc, configFile, "bench", "0").Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, "")

	var st StatusResponse
	code := getJSON(t, ts.URL+"/status", &st)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bench", st.ActiveProfile)
	assert.True(t, st.Simulate)
	assert.Equal(t, audio.BackendTypeSimulated, st.Status.Backend)
	assert.Equal(t, audio.StatusStandby, st.Status.Recorder)
	assert.Equal(t, []string{"pink"}, st.Stimuli)
}

func TestStatus_YAML(t *testing.T) {
	ts := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/status?format=yaml")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	var out map[string]interface{}
	require.NoError(t, yaml.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "bench", out["active_profile"])
}

func TestLines(t *testing.T) {
	ts := newTestServer(t, "")

	var lines LinesResponse
	code := getJSON(t, ts.URL+"/lines", &lines)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, lines.Lines, 10)
	assert.Equal(t, LineInfo{Line: 1, Device: 1, Channel: 2, Name: "Analog (1+2) (Fireface Analog (1+2))"}, lines.Lines[1])
	assert.NotEmpty(t, lines.Source)
}

func TestDevices(t *testing.T) {
	ts := newTestServer(t, "")

	var all []routing.DeviceInfo
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/devices", &all))
	assert.Len(t, all, 7)

	var candidates []routing.DeviceInfo
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/devices?candidates=true", &candidates))
	assert.Len(t, candidates, 5)
}

func TestOrder(t *testing.T) {
	ts := newTestServer(t, "")

	var order OrderResponse
	code := getJSON(t, ts.URL+"/order?items=3&trials=9", &order)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, order.Order, 9)
	counts := map[int]int{}
	for _, idx := range order.Order {
		counts[idx]++
	}
	assert.Equal(t, map[int]int{0: 3, 1: 3, 2: 3}, counts)

	var errResp map[string]interface{}
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/order?items=3&trials=7", &errResp))
	assert.Equal(t, false, errResp["success"])
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/order?items=x", &errResp))
}

func TestOrder_SizeLimits(t *testing.T) {
	ts := newTestServer(t, "")

	for _, query := range []string{
		"items=2&trials=9223372036854775806",
		"items=2&trials=10002",
		"items=1001&trials=1001",
		"items=2000000000",
	} {
		var errResp map[string]interface{}
		assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/order?"+query, &errResp), query)
		assert.Equal(t, false, errResp["success"], query)
	}

	var order OrderResponse
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/order?items=1000&trials=10000", &order))
	assert.Len(t, order.Order, 10000)
}

func TestProfiles(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "trialsync.yaml")
	content := "active_config: bench\nconfigs:\n  default:\n    simulate: false\n  bench:\n    simulate: true\n"
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	ts := newTestServer(t, configFile)

	var out struct {
		Profiles []string `json:"profiles"`
		Active   string   `json:"active"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/config/profiles", &out))
	assert.Equal(t, []string{"bench", "default"}, out.Profiles)
	assert.Equal(t, "bench", out.Active)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, "")

	resp, err := http.Post(ts.URL+"/status", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsAndIndex(t *testing.T) {
	ts := newTestServer(t, "")

	var order OrderResponse
	getJSON(t, ts.URL+"/order?items=2&trials=2", &order)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "trialsync_balanced_orders_total 1")

	index, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	index.Body.Close()
	assert.Equal(t, http.StatusOK, index.StatusCode)

	missing, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
