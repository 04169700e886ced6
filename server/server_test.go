package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/reminsight/artifact"
	"github.com/rushteam/reminsight/config"
	"github.com/rushteam/reminsight/explain"
	"github.com/rushteam/reminsight/feature"
	"github.com/rushteam/reminsight/pkg/logger"
	"github.com/rushteam/reminsight/service"
	"github.com/rushteam/reminsight/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const lrModel = `{"classes":[0,1],"coef":[[1.0,-1.0,0.5]],"intercept":[0.0]}`

func writeVersion(t *testing.T, root, version string) {
	t.Helper()
	dir := filepath.Join(root, version)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "features.json"), []byte(`["a","b","c"]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model_lr.json"), []byte(lrModel), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "training_provenance.json"),
		[]byte(`{"dataset_size":120,"created_at":"2025-01-01T00:00:00Z","metrics":{"auc":0.81}}`), 0o644))
}

type testEnv struct {
	root   string
	server *Server
}

func newTestEnv(t *testing.T, mutate func(*config.ServerConfig), withVersion bool) *testEnv {
	t.Helper()
	root := t.TempDir()
	if withVersion {
		writeVersion(t, root, "v1")
	}
	nop := logger.Nop()
	fs := artifact.NewFileStore(root, artifact.WithLogger(nop))
	resolver := service.NewResolver(fs, service.WithResolverLogger(nop))
	mem := store.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })

	p := service.NewPredictor(resolver,
		service.WithPredictorLogger(nop),
		service.WithEngine(explain.NewEngine(explain.WithLogger(nop))),
		service.WithMonitor(feature.NewCoverageMonitor(100)),
		service.WithHistory(service.NewHistory(mem, service.WithHistoryLogger(nop))),
	)
	cfg := config.Default().Server
	if mutate != nil {
		mutate(&cfg)
	}
	return &testEnv{root: root, server: New(p, cfg, nop)}
}

func (e *testEnv) do(t *testing.T, method, path, contentType string, body []byte, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil, true)
	w := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["model_loaded"])
	assert.Equal(t, "v1", body["model_version"])
	assert.Equal(t, float64(3), body["features"])
	assert.Equal(t, "generic_probabilistic", body["runtime"])
}

func TestHealth_DegradedWithoutModels(t *testing.T) {
	env := newTestEnv(t, nil, false)
	w := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["model_loaded"])

	w = env.do(t, http.MethodGet, "/features", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Empty(t, body["features"])
	assert.Nil(t, body["model_version"])

	w = env.do(t, http.MethodPost, "/predict", "application/json", []byte(`{"a":1}`))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	errBody := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "NOT_FOUND", errBody["code"])
}

func TestPredict_Shapes(t *testing.T) {
	env := newTestEnv(t, nil, true)

	w := env.do(t, http.MethodPost, "/predict?explain=true&top_k=2", "application/json", []byte(`{"a":1,"b":0,"c":0}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	single := decode(t, w)
	assert.Equal(t, float64(1), single["prediction"])
	assert.Equal(t, "v1", single["version"])
	exp := single["explanation"].(map[string]any)
	assert.Equal(t, "linear", exp["method"])
	assert.Len(t, exp["top"], 2)

	w = env.do(t, http.MethodPost, "/predict", "application/json", []byte(`{"rows":[{"a":1},{"b":3}],"subject_id":"s-1"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	batch := decode(t, w)
	results := batch["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, float64(0), results[1].(map[string]any)["prediction"])
	assert.Contains(t, results[1].(map[string]any)["warning"], "missing 2 of 3 features")

	w = env.do(t, http.MethodPost, "/predict", "application/json", []byte(`[{"a":1},{"a":2}]`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["results"], 2)

	w = env.do(t, http.MethodGet, "/history/s-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["entries"], 2)

	w = env.do(t, http.MethodGet, "/history/s-1/latest", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "v1", decode(t, w)["version"])

	w = env.do(t, http.MethodDelete, "/history/s-1", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/history/s-1/latest", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/monitor/features", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), decode(t, w)["rows"])
}

func TestPredict_Errors(t *testing.T) {
	env := newTestEnv(t, nil, true)
	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"empty body", "/predict", "", http.StatusBadRequest, "INVALID_INPUT"},
		{"not json", "/predict", "a=1", http.StatusBadRequest, "INVALID_INPUT"},
		{"rows not array", "/predict", `{"rows": 1}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"empty batch", "/predict", `[]`, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad explain flag", "/predict?shap=maybe", `{"a":1}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad top_k", "/predict?top_k=-1", `{"a":1}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown version", "/predict?version=v9", `{"a":1}`, http.StatusNotFound, "NOT_FOUND"},
		{"traversal", "/predict?version=..", `{"a":1}`, http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, "application/json", []byte(tt.body))
			require.Equal(t, tt.status, w.Code, w.Body.String())
			errBody := decode(t, w)["error"].(map[string]any)
			assert.Equal(t, tt.code, errBody["code"])
		})
	}
}

func TestPredictCSV(t *testing.T) {
	env := newTestEnv(t, nil, true)
	csvData := "a,b,c\n1,0,0\n0,2,\n"

	w := env.do(t, http.MethodPost, "/predict_csv", "text/csv", []byte(csvData))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(2), body["rows"])
	results := body["results"].([]any)
	assert.Equal(t, float64(1), results[0].(map[string]any)["prediction"])
	assert.Equal(t, float64(0), results[1].(map[string]any)["prediction"])

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "rows.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(csvData))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w = env.do(t, http.MethodPost, "/predict_csv", mw.FormDataContentType(), buf.Bytes())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(2), decode(t, w)["rows"])

	w = env.do(t, http.MethodPost, "/predict_csv", "text/csv", []byte("a,b,c\n"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVersions(t *testing.T) {
	env := newTestEnv(t, nil, true)
	writeVersion(t, env.root, "v2")

	w := env.do(t, http.MethodGet, "/versions", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, []any{"v1", "v2"}, body["versions"])
	assert.Equal(t, "v2", body["latest"])
	assert.Nil(t, body["active"])

	w = env.do(t, http.MethodGet, "/versions/v1", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	info := decode(t, w)
	assert.Equal(t, "v1", info["version"])
	assert.Equal(t, "model_lr.json", info["model_file"])
	prov := info["provenance"].(map[string]any)
	assert.Equal(t, float64(120), prov["dataset_size"])

	w = env.do(t, http.MethodGet, "/versions/v404", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReload(t *testing.T) {
	env := newTestEnv(t, func(c *config.ServerConfig) { c.ReloadSecret = "s3cret" }, true)

	w := env.do(t, http.MethodPost, "/predict", "application/json", []byte(`{"a":1}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "v1", decode(t, w)["version"])

	writeVersion(t, env.root, "v2")
	w = env.do(t, http.MethodPost, "/predict", "application/json", []byte(`{"a":1}`))
	assert.Equal(t, "v1", decode(t, w)["version"], "latest is cached until reload")

	w = env.do(t, http.MethodPost, "/reload", "", nil, "X-Reload-Secret", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/reload", "", nil, "X-Reload-Secret", "s3cret")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "v2", decode(t, w)["model_version"])

	w = env.do(t, http.MethodPost, "/predict", "application/json", []byte(`{"a":1}`))
	assert.Equal(t, "v2", decode(t, w)["version"])
}

func TestReload_Disabled(t *testing.T) {
	env := newTestEnv(t, nil, true)
	w := env.do(t, http.MethodPost, "/reload", "", nil, "X-Reload-Secret", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, func(c *config.ServerConfig) { c.AllowedOrigins = []string{"https://app.example"} }, true)

	w := env.do(t, http.MethodOptions, "/predict", "", nil, "Origin", "https://app.example")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = env.do(t, http.MethodGet, "/health", "", nil, "Origin", "https://evil.example")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, true)
	env.do(t, http.MethodPost, "/predict", "application/json", []byte(`{"a":1}`))
	w := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "reminsight_predict_rows_total"))
}

func TestParseCSV(t *testing.T) {
	rows, err := ParseCSV(strings.NewReader("\ufeffa, b\n1, \n, 2\n"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]any{"a": "1"}, rows[0])
	assert.Equal(t, map[string]any{"b": "2"}, rows[1])

	_, err = ParseCSV(strings.NewReader(""))
	assert.Error(t, err)
	_, err = ParseCSV(strings.NewReader("a\n1,2\n"))
	assert.Error(t, err)
}

func TestParsePredictBody(t *testing.T) {
	body, err := ParsePredictBody([]byte(`{"a":1,"subject_id":"s-1"}`))
	require.NoError(t, err)
	assert.True(t, body.Single)
	assert.Equal(t, "s-1", body.SubjectID)
	require.Len(t, body.Rows, 1)
	assert.NotContains(t, body.Rows[0], "subject_id")
	assert.Contains(t, body.Rows[0], "a")

	body, err = ParsePredictBody([]byte(`{"rows":[{"a":1},{"b":2}],"subject_id":"s-2"}`))
	require.NoError(t, err)
	assert.False(t, body.Single)
	assert.Equal(t, "s-2", body.SubjectID)
	assert.Len(t, body.Rows, 2)

	body, err = ParsePredictBody([]byte(` [{"a":1}] `))
	require.NoError(t, err)
	assert.Len(t, body.Rows, 1)

	for _, bad := range []string{"", `"x"`, `{"rows":3}`, `{"rows":[1]}`} {
		_, err := ParsePredictBody([]byte(bad))
		assert.Error(t, err, bad)
	}
}
