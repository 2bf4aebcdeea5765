package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediatranscoder/config"
	"mediatranscoder/task"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAcquirer struct{}

func (mockAcquirer) Acquire(ctx context.Context, sourceCID string, encrypted bool) (string, error) {
	return "/cache/src/abc", nil
}

type mockTranscoder struct{}

func (mockTranscoder) Transcode(ctx context.Context, job task.Job) (string, error) {
	return fmt.Sprintf("uOUT%d", job.Format.ID), nil
}

func setupTestRouter(t *testing.T) (*gin.Engine, *config.Config, *task.Manager, *Handler) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		AuthEnable:    false,
		TranscodedDir: t.TempDir(),
	}
	tm := task.NewManager(cfg, mockAcquirer{}, mockTranscoder{}, nil)
	h := NewHandler(tm, cfg, nil)
	h.pollInterval = 10 * time.Millisecond
	router := gin.New()
	router.Use(CORSMiddleware())
	registerRoutes(router, h, cfg)
	return router, cfg, tm, h
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleTranscode_SubmitAndQuery(t *testing.T) {
	router, _, tm, _ := setupTestRouter(t)

	q := url.Values{}
	q.Set("source_cid", "s5://abc")
	q.Set("media_formats", `[{"id":1,"ext":"mp4"}]`)
	q.Set("is_encrypted", "false")
	q.Set("is_gpu", "false")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/transcode?"+q.Encode(), nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, float64(200), resp["status_code"])
	assert.Equal(t, "Transcoding task queued", resp["message"])
	taskID, _ := resp["task_id"].(string)
	require.NotEmpty(t, taskID)
	assert.Equal(t, 1, tm.Pending())

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/get_transcoded/"+taskID, nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	assert.Equal(t, float64(200), resp["status_code"])
	assert.Equal(t, "Transcoding in progress", resp["metadata"])
	assert.Equal(t, float64(0), resp["progress"])
}

func TestHandleTranscode_PostJSON(t *testing.T) {
	router, _, tm, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	body := `{"source_cid":"ipfs://bafy","is_gpu":true}`
	req, _ := http.NewRequest("POST", "/transcode", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, tm.Pending())
}

func TestHandleTranscode_BadRequests(t *testing.T) {
	router, _, tm, _ := setupTestRouter(t)

	for _, target := range []string{
		"/transcode",
		"/transcode?media_formats=%5B%5D",
		"/transcode?source_cid=s5://abc&is_encrypted=maybe",
		"/transcode?source_cid=%20",
	} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", target, nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
	assert.Equal(t, 0, tm.Pending())
}

func TestHandleGetTranscoded_Finished(t *testing.T) {
	router, _, tm, _ := setupTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tm.Start(ctx)

	submitted, err := tm.Submit(ctx, task.Request{SourceCID: "s5://abc", MediaFormats: `[{"id":1,"ext":"mp4","dest":"ipfs"}]`})
	require.NoError(t, err)

	var resp map[string]any
	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/get_transcoded/"+submitted.ID, nil)
		router.ServeHTTP(w, req)
		resp = decode(t, w)
		return resp["metadata"] != task.InProgressMessage
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, float64(100), resp["progress"])
	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp["metadata"].(string)), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "ipfs://uOUT1", results[0]["cid"])
}

func TestProgressStream(t *testing.T) {
	router, _, tm, _ := setupTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	submitted, err := tm.Submit(context.Background(), task.Request{SourceCID: "s5://abc", MediaFormats: `[{"id":2,"ext":"webm"}]`})
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/progress/" + submitted.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first statusResponse
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, task.InProgressMessage, first.Metadata)
	assert.Equal(t, 0, first.Progress)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tm.Start(ctx)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg statusResponse
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Metadata != task.InProgressMessage {
			assert.Equal(t, 100, msg.Progress)
			assert.Contains(t, msg.Metadata, "s5://uOUT2")
			break
		}
	}
}

func TestHandleGetFile(t *testing.T) {
	router, cfg, _, _ := setupTestRouter(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.TranscodedDir, "abc_1.mp4"), []byte("video"), 0o644))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/files/abc_1.mp4", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video", w.Body.String())

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/files/missing.mp4", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndCORS(t *testing.T) {
	router, cfg, _, _ := setupTestRouter(t)
	cfg.AuthEnable = true

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(0), resp["pending"])
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("OPTIONS", "/transcode", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func signToken(t *testing.T, secret string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "client",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthMiddleware(t *testing.T) {
	router, cfg, _, _ := setupTestRouter(t)
	valid := signToken(t, "secret", time.Now().Add(time.Hour))

	do := func(header string) int {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/get_transcoded/some-task", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		router.ServeHTTP(w, req)
		return w.Code
	}

	t.Run("Auth disabled", func(t *testing.T) {
		cfg.AuthEnable = false
		assert.Equal(t, http.StatusOK, do(""))
	})

	cfg.AuthEnable = true
	cfg.AuthSecret = "secret"
	cfg.AuthToken = valid

	t.Run("Auth enabled, no token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(""))
	})

	t.Run("Auth enabled, bad header format", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("Token "+valid))
	})

	t.Run("Auth enabled, wrong token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("Bearer "+signToken(t, "secret", time.Now().Add(2*time.Hour))))
	})

	t.Run("Auth enabled, correct token", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do("Bearer "+valid))
	})

	t.Run("Auth enabled, token signed with another secret", func(t *testing.T) {
		other := signToken(t, "other", time.Now().Add(time.Hour))
		cfg.AuthToken = other
		defer func() { cfg.AuthToken = valid }()
		assert.Equal(t, http.StatusUnauthorized, do("Bearer "+other))
	})

	t.Run("Auth enabled, expired token", func(t *testing.T) {
		expired := signToken(t, "secret", time.Now().Add(-time.Minute))
		cfg.AuthToken = expired
		defer func() { cfg.AuthToken = valid }()
		assert.Equal(t, http.StatusUnauthorized, do("Bearer "+expired))
	})
}

func TestValidateToken(t *testing.T) {
	assert.NoError(t, ValidateToken(signToken(t, "s", time.Now().Add(time.Minute)), "s"))
	assert.Error(t, ValidateToken("not-a-jwt", "s"))
	assert.Error(t, ValidateToken(signToken(t, "s", time.Now().Add(time.Minute)), ""))

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("s"))
	require.NoError(t, err)
	assert.Error(t, ValidateToken(noExp, "s"), "tokens without exp are rejected")
}

func TestIssueToken(t *testing.T) {
	now := time.Now()
	tok, err := IssueToken("s", "client", time.Hour, now)
	require.NoError(t, err)
	assert.NoError(t, ValidateToken(tok, "s"))
	assert.Error(t, ValidateToken(tok, "other"))

	expired, err := IssueToken("s", "client", time.Hour, now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Error(t, ValidateToken(expired, "s"))

	_, err = IssueToken("", "client", time.Hour, now)
	assert.Error(t, err)
}
