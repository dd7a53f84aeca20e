package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/scoutline/discovery/internal/config"
	"github.com/scoutline/discovery/internal/db"
	"github.com/scoutline/discovery/internal/discovery"
	"github.com/scoutline/discovery/internal/provider"
	"github.com/scoutline/discovery/internal/signing"
)

type stubProvider struct {
	page *provider.Page
}

func (s *stubProvider) FetchPage(ctx context.Context, req provider.PageRequest) (*provider.Page, error) {
	_ = ctx
	_ = req
	return s.page, nil
}

type stubDispatcher struct {
	enqueued []string
}

func (s *stubDispatcher) Enqueue(ctx context.Context, jobID string, delay time.Duration, maxRetries int) (string, error) {
	_ = ctx
	_ = delay
	_ = maxRetries
	s.enqueued = append(s.enqueued, jobID)
	return "msg-1", nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:         "test-secret",
		SigningKeyCurrent: "signing-key",
	}
}

func newTestRouter(t *testing.T, page *provider.Page) (*gin.Engine, *stubDispatcher, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	reg := provider.NewRegistry()
	reg.Register("tiktok", func(ctx context.Context) (provider.Provider, error) {
		_ = ctx
		return &stubProvider{page: page}, nil
	})

	disp := &stubDispatcher{}
	return NewRouter(gdb, testConfig(), nil, reg, disp), disp, gdb
}

func bearerToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid": 1,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign bearer: %v", err)
	}
	return token
}

func signedRequest(t *testing.T, method, path string, body []byte) *http.Request {
	t.Helper()
	sig, err := signing.Sign(body, "signing-key")
	if err != nil {
		t.Fatalf("sign body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Discovery-Signature", sig)
	return req
}

func TestProcessWebhook_RejectsUnsignedCall(t *testing.T) {
	r, _, _ := newTestRouter(t, &provider.Page{})

	body := []byte(`{"job_id":"01ABC"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/process", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned call passed with %d", w.Code)
	}
}

func TestProcessWebhook_RejectsBadSignature(t *testing.T) {
	r, _, _ := newTestRouter(t, &provider.Page{})

	body := []byte(`{"job_id":"01ABC"}`)
	sig, err := signing.Sign(body, "wrong-key")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/process", bytes.NewReader(body))
	req.Header.Set("X-Discovery-Signature", sig)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("badly signed call passed with %d", w.Code)
	}
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	page := &provider.Page{
		Candidates: []provider.Candidate{
			{Platform: "tiktok", Handle: "a", RankScore: 1},
			{Platform: "tiktok", Handle: "b", RankScore: 2},
			{Platform: "tiktok", Handle: "c", RankScore: 3},
		},
		HasMore: false,
	}
	r, disp, _ := newTestRouter(t, page)

	// 1) create the job
	createBody := []byte(`{"platform":"tiktok","keywords":["dance"],"target_results":100}`)
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(createBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearerToken(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("create job: %d %s", w.Code, w.Body.String())
	}

	var created struct {
		Data struct {
			JobID string `json:"job_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Data.JobID == "" {
		t.Fatalf("no job id returned")
	}
	if len(disp.enqueued) != 1 || disp.enqueued[0] != created.Data.JobID {
		t.Fatalf("first message not dispatched: %v", disp.enqueued)
	}

	// 2) queue transport delivers the signed process call
	processBody := []byte(fmt.Sprintf(`{"job_id":%q}`, created.Data.JobID))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(t, http.MethodPost, "/webhooks/process", processBody))
	if w.Code != http.StatusOK {
		t.Fatalf("process webhook: %d %s", w.Code, w.Body.String())
	}

	// 3) provider was exhausted below target: client sees partial
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/status?jobId="+created.Data.JobID+"&offset=0&limit=10", nil)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}

	var statusResp struct {
		Data discovery.StatusReport `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &statusResp); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if statusResp.Data.Status != discovery.StatusPartial {
		t.Fatalf("expected partial, got %s", statusResp.Data.Status)
	}
	if statusResp.Data.TotalCreators != 3 {
		t.Fatalf("expected 3 creators, got %d", statusResp.Data.TotalCreators)
	}
	if len(statusResp.Data.Results[0].Creators) != 3 {
		t.Fatalf("wrong page size: %d", len(statusResp.Data.Results[0].Creators))
	}
}

func TestStatus_HidesOtherUsersJobs(t *testing.T) {
	r, _, gdb := newTestRouter(t, &provider.Page{})

	repo := discovery.NewRepo(gdb)
	id, _ := discovery.NewJobID()
	job := &discovery.Job{
		ID: id, UserID: 42, Platform: "tiktok", Keywords: []string{"x"},
		TargetResults: 10, Status: discovery.JobPending,
		LastActivityAt: time.Now(), TimeoutAt: time.Now().Add(time.Hour),
	}
	if err := repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/status?jobId="+id, nil)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t)) // uid 1, not 42
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign job leaked: %d", w.Code)
	}
}

func TestDeadLetterWebhook_RecordsAndAcks(t *testing.T) {
	r, _, gdb := newTestRouter(t, &provider.Page{})

	body := []byte(`{"job_id":"01DEAD"}`)
	req := signedRequest(t, http.MethodPost, "/webhooks/dead-letter", body)
	req.Header.Set("X-Message-ID", "msg-9")
	req.Header.Set("X-Job-ID", "01DEAD")
	req.Header.Set("X-Retry-Count", "3")
	req.Header.Set("X-Original-URL", "http://api/webhooks/process")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("dead letter webhook: %d", w.Code)
	}

	var dl discovery.DeadLetter
	if err := gdb.First(&dl, "message_id = ?", "msg-9").Error; err != nil {
		t.Fatalf("dead letter not recorded: %v", err)
	}
	if dl.JobID != "01DEAD" || dl.RetryCount != 3 {
		t.Fatalf("wrong dead letter row: %+v", dl)
	}
}
