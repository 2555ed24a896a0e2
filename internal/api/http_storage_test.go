package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"mediastore/internal/config"
	"mediastore/internal/storage"
)

type testServer struct {
	router *gin.Engine
	engine *storage.Service
	cfg    config.Config
}

// newTestServer 基于本地提供者搭一个完整的处理器栈
func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		StorageProvider:        storage.ProviderLocal,
		StorageLocalDir:        t.TempDir(),
		StorageLocalSignSecret: "handler-test-secret",
		StoragePublicBaseURL:   "/files",
		StorageKeyLayout:       storage.LayoutDate,
		UploadMaxBytes:         4 << 20,
		URLDefaultExpiry:       time.Hour,
		URLCacheSize:           64,
		URLPublicCacheTTL:      time.Hour,
		RetryMaxAttempts:       1,
		RetryInitialInterval:   time.Millisecond,
		RetryMaxInterval:       5 * time.Millisecond,
		RetryMultiplier:        2.0,
		OperationTimeout:       10 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	pc, ok := cfg.ProviderConfigFor(cfg.StorageProvider)
	if !ok {
		t.Fatalf("no provider mapping for %s", cfg.StorageProvider)
	}
	primary, err := storage.NewProvider(context.Background(), pc)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	keys := storage.NewKeyManager(cfg.StorageKeyLayout, cfg.StorageKeyTemplate)
	urls := storage.NewURLService(primary, cfg.URLServiceOptions(), nil)
	engine := storage.NewService(primary, keys, urls, storage.NewImageOptimizer(1), nil, cfg.ServiceOptions())

	router := gin.New()
	NewHTTPHandler(cfg, engine).RegisterRoutes(router)
	return &testServer{router: router, engine: engine, cfg: cfg}
}

func (s *testServer) do(t *testing.T, method, target, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) doJSON(t *testing.T, method, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return s.do(t, method, target, "application/json", bytes.NewReader(body))
}

// uploadFile 通过 multipart 接口上传文件并返回结果
func (s *testServer) uploadFile(t *testing.T, filename string, data []byte, fields map[string]string) storage.UploadResult {
	t.Helper()
	w := s.doUpload(t, filename, data, fields)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload returned %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Object storage.UploadResult `json:"object"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal upload response: %v", err)
	}
	return resp.Object
}

func (s *testServer) doUpload(t *testing.T, filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write form field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return s.do(t, http.MethodPost, "/api/storage/upload", mw.FormDataContentType(), &buf)
}

func decodeAPIError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("unmarshal error response: %v", err)
	}
	return apiErr
}

func TestUploadObjectRoundtrip(t *testing.T) {
	s := newTestServer(t, nil)

	payload := []byte("hello object store")
	obj := s.uploadFile(t, "notes.txt", payload, nil)

	if obj.Key == "" {
		t.Fatal("expected a generated key")
	}
	if obj.Provider != storage.ProviderLocal {
		t.Errorf("provider = %q, want %q", obj.Provider, storage.ProviderLocal)
	}
	if obj.Size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", obj.Size, len(payload))
	}
	if !strings.HasPrefix(obj.URL, "/files/") {
		t.Errorf("url = %q, want /files/ prefix", obj.URL)
	}

	w := s.do(t, http.MethodGet, "/api/storage/objects/"+obj.Key, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metadata returned %d: %s", w.Code, w.Body.String())
	}
	var metaResp struct {
		Object storage.ObjectMetadata `json:"object"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &metaResp); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if metaResp.Object.Key != obj.Key {
		t.Errorf("metadata key = %q, want %q", metaResp.Object.Key, obj.Key)
	}
	if metaResp.Object.Size != int64(len(payload)) {
		t.Errorf("metadata size = %d, want %d", metaResp.Object.Size, len(payload))
	}

	w = s.do(t, http.MethodDelete, "/api/storage/objects/"+obj.Key, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete returned %d: %s", w.Code, w.Body.String())
	}
	var delResp struct {
		Result storage.DeleteResult `json:"result"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &delResp); err != nil {
		t.Fatalf("unmarshal delete response: %v", err)
	}
	if !delResp.Result.Deleted {
		t.Error("expected deleted=true for existing object")
	}

	// 再删一次应是幂等的
	w = s.do(t, http.MethodDelete, "/api/storage/objects/"+obj.Key, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("second delete returned %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &delResp); err != nil {
		t.Fatalf("unmarshal delete response: %v", err)
	}
	if delResp.Result.Deleted {
		t.Error("expected deleted=false for missing object")
	}
}

func TestUploadObjectHonorsExplicitKey(t *testing.T) {
	s := newTestServer(t, nil)

	obj := s.uploadFile(t, "photo.png", []byte("not really a png"), map[string]string{
		"key":           "media/custom/photo.png",
		"skip_optimize": "true",
	})
	if obj.Key != "media/custom/photo.png" {
		t.Errorf("key = %q, want the explicit key", obj.Key)
	}
	if obj.URL != "/files/media/custom/photo.png" {
		t.Errorf("url = %q, want /files/media/custom/photo.png", obj.URL)
	}
}

func TestUploadObjectRequiresFile(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/storage/upload", "application/json", strings.NewReader("{}"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if apiErr := decodeAPIError(t, w); apiErr.Code != ErrCodeMissingField {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeMissingField)
	}
}

func TestUploadObjectRejectsOversizedPayload(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.UploadMaxBytes = 8
	})

	w := s.doUpload(t, "big.bin", bytes.Repeat([]byte("x"), 64), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
	if apiErr := decodeAPIError(t, w); apiErr.Code != ErrCodeStorageValidation {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeStorageValidation)
	}
}

func TestUploadObjectRejectsDisallowedExtension(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.UploadAllowedExtensions = []string{"png", "jpg"}
	})

	w := s.doUpload(t, "tool.exe", []byte("MZ"), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
	if apiErr := decodeAPIError(t, w); apiErr.Code != ErrCodeStorageValidation {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeStorageValidation)
	}
}

func TestUploadObjectRejectsMalformedMetadata(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.doUpload(t, "a.txt", []byte("x"), map[string]string{"metadata": "not-json"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
	if apiErr := decodeAPIError(t, w); apiErr.Code != ErrCodeInvalidRequest {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeInvalidRequest)
	}
}

func TestGetObjectMetadataNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/storage/objects/media/ghost.bin", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", w.Code, w.Body.String())
	}
	if apiErr := decodeAPIError(t, w); apiErr.Code != ErrCodeObjectNotFound {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeObjectNotFound)
	}
}

func TestGenerateURLPublicObject(t *testing.T) {
	s := newTestServer(t, nil)
	obj := s.uploadFile(t, "pic.txt", []byte("data"), map[string]string{"key": "media/pic.txt"})

	w := s.do(t, http.MethodGet, "/api/storage/url?key="+obj.Key, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.URL != "/files/media/pic.txt" {
		t.Errorf("url = %q, want /files/media/pic.txt", resp.URL)
	}
}

func TestGenerateURLPrivateIsSigned(t *testing.T) {
	s := newTestServer(t, nil)
	obj := s.uploadFile(t, "secret.txt", []byte("data"), map[string]string{"key": "media/secret.txt"})

	w := s.do(t, http.MethodGet, "/api/storage/url?key="+obj.Key+"&private=true&expires_in=120", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(resp.URL, "token=") {
		t.Errorf("url = %q, want a signed token", resp.URL)
	}
}

func TestGenerateURLRequiresKey(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/storage/url", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if apiErr := decodeAPIError(t, w); apiErr.Code != ErrCodeMissingField {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeMissingField)
	}
}

func TestGenerateURLRejectsBadExpiry(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/storage/url?key=media/a.txt&expires_in=tomorrow", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if apiErr := decodeAPIError(t, w); apiErr.Code != ErrCodeInvalidRequest {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeInvalidRequest)
	}
}

func TestGenerateURLVariantFallsBackToBase(t *testing.T) {
	s := newTestServer(t, nil)
	obj := s.uploadFile(t, "banner.txt", []byte("data"), map[string]string{"key": "media/banner.txt"})

	w := s.do(t, http.MethodGet, "/api/storage/url?key="+obj.Key+"&variant=thumbnail", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// 变体文件不存在时退回原始对象
	if resp.URL != "/files/media/banner.txt" {
		t.Errorf("url = %q, want the base object URL", resp.URL)
	}
}

func TestGenerateDownloadURL(t *testing.T) {
	s := newTestServer(t, nil)
	obj := s.uploadFile(t, "report.txt", []byte("data"), map[string]string{"key": "media/report.txt"})

	w := s.do(t, http.MethodGet, "/api/storage/download-url?key="+obj.Key+"&filename=annual.txt", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(resp.URL, "token=") {
		t.Errorf("url = %q, want a signed token", resp.URL)
	}
}

func TestBatchGenerateURLsKeepsOrder(t *testing.T) {
	s := newTestServer(t, nil)
	s.uploadFile(t, "a.txt", []byte("a"), map[string]string{"key": "media/a.txt"})
	s.uploadFile(t, "b.txt", []byte("b"), map[string]string{"key": "media/b.txt"})

	w := s.doJSON(t, http.MethodPost, "/api/storage/urls/batch", gin.H{
		"keys": []string{"media/b.txt", "media/a.txt"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		URLs []storage.BatchURLItem `json:"urls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.URLs) != 2 {
		t.Fatalf("len(urls) = %d, want 2", len(resp.URLs))
	}
	if resp.URLs[0].Key != "media/b.txt" || resp.URLs[1].Key != "media/a.txt" {
		t.Errorf("batch order not preserved: %+v", resp.URLs)
	}
	if resp.URLs[0].URL != "/files/media/b.txt" {
		t.Errorf("urls[0] = %q, want /files/media/b.txt", resp.URLs[0].URL)
	}
}

func TestBatchGenerateURLsValidatesInput(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.doJSON(t, http.MethodPost, "/api/storage/urls/batch", gin.H{"keys": []string{}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty keys: status = %d, want 400", w.Code)
	}

	tooMany := make([]string, maxBatchURLKeys+1)
	for i := range tooMany {
		tooMany[i] = "media/k.txt"
	}
	w = s.doJSON(t, http.MethodPost, "/api/storage/urls/batch", gin.H{"keys": tooMany})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("too many keys: status = %d, want 400", w.Code)
	}
}
