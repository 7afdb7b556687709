package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkodi/snaplink/internal/logger"
	"github.com/darkodi/snaplink/internal/middleware"
	"github.com/darkodi/snaplink/internal/model"
	"github.com/darkodi/snaplink/internal/repository"
	"github.com/darkodi/snaplink/internal/service"
	"github.com/darkodi/snaplink/internal/shortid"
	"github.com/darkodi/snaplink/internal/web"
)

const testBaseURL = "http://sl.test"

type testEnv struct {
	server *httptest.Server
	client *http.Client
	repo   repository.Repository
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	log := logger.Discard()
	repo, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "links.db"), log.Logger)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	pages, err := web.NewRenderer()
	require.NoError(t, err)

	svc := service.NewLinkService(repo, testBaseURL, log.Logger)
	h := NewLinkHandler(svc, pages, testBaseURL, log)
	server := httptest.NewServer(middleware.Chain(h.Routes(middleware.Metrics), middleware.RequestID, middleware.Recovery(log)))
	t.Cleanup(server.Close)

	return &testEnv{
		server: server,
		repo:   repo,
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) create(t *testing.T, url, machineID string) model.Link {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{"originalUrl": url, "machineId": machineID})
	resp, body := e.do(t, http.MethodPost, "/api/urls", string(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out model.LinkResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotNil(t, out.URL)
	return *out.URL
}

func errorMessage(t *testing.T, body []byte) string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out["error"]
}

// The end-to-end flow: create, look up, visit three times, read stats
func TestShortenVisitStatsFlow(t *testing.T) {
	env := setupTestServer(t)

	link := env.create(t, "https://example.com/abc123", "device-1")
	assert.Len(t, link.ShortID, shortid.Length)
	assert.Equal(t, "https://example.com/abc123", link.OriginalURL)
	assert.Zero(t, link.VisitCount)

	resp, body := env.do(t, http.MethodGet, "/api/urls/"+link.ShortID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got model.LinkResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "https://example.com/abc123", got.URL.OriginalURL)

	for i := 0; i < 3; i++ {
		resp, _ := env.do(t, http.MethodGet, "/"+link.ShortID, "")
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "https://example.com/abc123", resp.Header.Get("Location"))
	}

	resp, body = env.do(t, http.MethodGet, "/stats/"+link.ShortID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := string(body)
	assert.Contains(t, page, `<dd id="visit-count" class="big">3</dd>`)
	assert.Contains(t, page, testBaseURL+"/"+link.ShortID)
	assert.Contains(t, page, "device-1")
}

func TestHandleCreate_Validation(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"missing url", `{"machineId":"device-1"}`, http.StatusBadRequest, "Invalid URL"},
		{"empty url", `{"originalUrl":"","machineId":"device-1"}`, http.StatusBadRequest, "Invalid URL"},
		{"non-string url", `{"originalUrl":42,"machineId":"device-1"}`, http.StatusBadRequest, "Invalid URL"},
		{"missing machine", `{"originalUrl":"https://example.com"}`, http.StatusBadRequest, "Machine ID required"},
		{"non-string machine", `{"originalUrl":"https://example.com","machineId":7}`, http.StatusBadRequest, "Machine ID required"},
		{"url checked first", `{}`, http.StatusBadRequest, "Invalid URL"},
		{"broken json", `{"originalUrl":`, http.StatusBadRequest, "Invalid JSON in request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/urls", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantError, errorMessage(t, body))
		})
	}
}

func TestHandleCreate_ReusesLinkForSameDevice(t *testing.T) {
	env := setupTestServer(t)

	first := env.create(t, "https://example.com", "device-1")
	again := env.create(t, "https://example.com", "device-1")
	other := env.create(t, "https://example.com", "device-2")

	assert.Equal(t, first.ShortID, again.ShortID)
	assert.NotEqual(t, first.ShortID, other.ShortID)
}

func TestHandleList(t *testing.T) {
	env := setupTestServer(t)

	a := env.create(t, "https://a.example", "device-1")
	time.Sleep(5 * time.Millisecond)
	b := env.create(t, "https://b.example", "device-1")
	env.create(t, "https://c.example", "device-2")

	resp, body := env.do(t, http.MethodGet, "/api/urls?machineId=device-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out model.LinkListResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.URLs, 2)
	assert.Equal(t, b.ShortID, out.URLs[0].ShortID)
	assert.Equal(t, a.ShortID, out.URLs[1].ShortID)
}

func TestHandleList_EmptyIsArray(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, http.MethodGet, "/api/urls?machineId=nobody", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"urls":[]}`, string(body))
}

func TestHandleList_RequiresMachineID(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, http.MethodGet, "/api/urls", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Machine ID required", errorMessage(t, body))
}

func TestHandleGet_NotFound(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, http.MethodGet, "/api/urls/nope123", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Not found", errorMessage(t, body))
}

func TestHandleGet_DoesNotCountVisits(t *testing.T) {
	env := setupTestServer(t)
	link := env.create(t, "https://example.com", "device-1")

	env.do(t, http.MethodGet, "/api/urls/"+link.ShortID, "")
	env.do(t, http.MethodGet, "/stats/"+link.ShortID, "")

	stored, err := env.repo.GetByShortID(context.Background(), link.ShortID)
	require.NoError(t, err)
	assert.Zero(t, stored.VisitCount)
	assert.Nil(t, stored.LastVisited)
}

func TestHandleRedirect_NotFound(t *testing.T) {
	env := setupTestServer(t)

	for _, path := range []string{"/nope123", "/favicon.ico", "/stats/nope123"} {
		t.Run(path, func(t *testing.T) {
			resp, body := env.do(t, http.MethodGet, path, "")
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.Empty(t, resp.Header.Get("Location"))
			assert.Contains(t, string(body), "The short URL you requested does not exist.")
		})
	}
}

func TestHandleRedirect_KeepsStoredURLVerbatim(t *testing.T) {
	env := setupTestServer(t)
	link := env.create(t, "not a url", "device-1")

	resp, _ := env.do(t, http.MethodGet, "/"+link.ShortID, "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "not a url", resp.Header.Get("Location"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestUnknownAPIRouteIsJSON(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, http.MethodGet, "/api/nothing/here", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Not found", errorMessage(t, body))
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"healthy"}`, string(body))
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))

	require.NoError(t, env.repo.Close())
	resp, _ = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHomeStaticAndMetrics(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "shorten-form")

	resp, body = env.do(t, http.MethodGet, "/static/fingerprint.js", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bytes.Contains(body, []byte("machineId")))

	env.create(t, "https://example.com", "device-1")
	resp, body = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "snaplink_links_created_total")
	assert.Contains(t, string(body), "snaplink_http_requests_total")
}
