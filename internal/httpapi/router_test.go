package httpapi

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"corekit/internal/config"
	"corekit/internal/orchestrator"
	"corekit/internal/transport"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*gin.Engine, config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		CatalogPath:        filepath.Join(t.TempDir(), "test.catalog"),
		CatalogPassword:    "pw",
		Credentials:        []string{"cred-a", "cred-b"},
		ChatID:             "chat",
		ChunkSize:          1 << 20,
		ChunkThreshold:     1 << 20,
		MaxParallelChunks:  2,
		MaxRetriesPerChunk: 1,
		SignSecret:         "sign-secret",
		CookieDomain:       "localhost",
		AllowOrigins:       []string{"http://localhost:5173"},
	}
	o, err := orchestrator.Init(cfg, transport.NewFake(), nil)
	require.NoError(t, err)

	return NewRouter(o, cfg, nil), cfg
}

func login(t *testing.T, router *gin.Engine, password string) (token, csrf string, status int) {
	t.Helper()
	form := url.Values{"password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		switch c.Name {
		case "session_token":
			token = c.Value
		case "csrf_token":
			csrf = c.Value
		}
	}
	return token, csrf, rec.Code
}

func TestLoginWrongPasswordIsUnauthorized(t *testing.T) {
	router, _ := newTestServer(t)
	_, _, status := login(t, router, "wrong")
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestLoginThenListRequiresCSRF(t *testing.T) {
	router, _ := newTestServer(t)
	token, csrf, status := login(t, router, "pw")
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, token)
	require.NotEmpty(t, csrf)

	req := httptest.NewRequest(http.MethodGet, "/api/files/ls", nil)
	req.AddCookie(&http.Cookie{Name: "session_token", Value: token})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/files/ls", nil)
	req2.AddCookie(&http.Cookie{Name: "session_token", Value: token})
	req2.Header.Set("X-CSRF-TOKEN", csrf)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}

func TestUploadAndListRoundTrip(t *testing.T) {
	router, _ := newTestServer(t)
	token, csrf, status := login(t, router, "pw")
	require.Equal(t, http.StatusOK, status)

	buf := make([]byte, 1000)
	rand.New(rand.NewSource(1)).Read(buf)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "hello.bin")
	require.NoError(t, err)
	_, err = part.Write(buf)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(&http.Cookie{Name: "session_token", Value: token})
	req.Header.Set("X-CSRF-TOKEN", csrf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var uploadResp struct {
		FileID string `json:"file_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploadResp))
	require.NotEmpty(t, uploadResp.FileID)

	lsReq := httptest.NewRequest(http.MethodGet, "/api/files/ls", nil)
	lsReq.AddCookie(&http.Cookie{Name: "session_token", Value: token})
	lsReq.Header.Set("X-CSRF-TOKEN", csrf)
	lsRec := httptest.NewRecorder()
	router.ServeHTTP(lsRec, lsReq)
	require.Equal(t, http.StatusOK, lsRec.Code)
	require.Contains(t, lsRec.Body.String(), "hello.bin")
}

func TestHealthAndUnauthenticatedRoutesNeedNoSession(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}
