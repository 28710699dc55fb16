//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/recall/internal/api/handlers"
	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/extract"
	"github.com/cloo-solutions/recall/internal/jobs"
	"github.com/cloo-solutions/recall/internal/openai"
	"github.com/cloo-solutions/recall/internal/repository"
	"github.com/cloo-solutions/recall/internal/server"
	"github.com/cloo-solutions/recall/internal/service"
	"github.com/cloo-solutions/recall/internal/storage"
	"github.com/cloo-solutions/recall/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap/zaptest"
)

// embeddingKeywords are the axes of the fake embedding model
var embeddingKeywords = []string{"cat", "dog", "fish", "reject"}

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	Embeddings   *httptest.Server
	ServerURL    string
	ServerCloser func()
	AuthSvc      *service.AuthService
	BinaryDir    string
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with containers, a fake
// embedding provider, the API server and the ingest worker
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.S3AccessKey,
		SecretAccessKey: testutil.S3SecretKey,
		Bucket:          "test-sources",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	embeddings := httptest.NewServer(http.HandlerFunc(fakeEmbeddings))

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		RustFSC:    s3C,
		Pool:       pool,
		Embeddings: embeddings,
		AuthSvc:    service.NewAuthService(repository.NewAPIKeyRepository(pool), &service.DefaultUUIDGenerator{}),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	env.ServerURL, env.ServerCloser = startServer(t, pool, s3Client, embeddings.URL, env.AuthSvc, port)

	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Embeddings != nil {
		e.Embeddings.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// CreateAPIKey issues a key for scope and returns its token
func (e *E2ETestEnv) CreateAPIKey(scope string) string {
	issued, err := e.AuthSvc.IssueAPIKey(e.Ctx, scope, "e2e-"+scope)
	if err != nil {
		e.T.Fatalf("failed to create API key: %v", err)
	}
	return issued.Token
}

// BuildBinaries builds the recall and recalld binaries
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "recall-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	for _, name := range []string{"recalld", "recall"} {
		cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, name), "./cmd/"+name)
		cmd.Dir = "../.."
		if out, err := cmd.CombinedOutput(); err != nil {
			e.T.Fatalf("failed to build %s: %v\n%s", name, err, out)
		}
	}
}

// RunRecall runs the recall CLI with the given token
func (e *E2ETestEnv) RunRecall(token, stdin string, args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "recall"), args...)
	cmd.Dir = e.T.TempDir()
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = append(os.Environ(),
		"RECALL_API_KEY="+token,
		"RECALL_API_URL="+e.ServerURL,
		"RECALL_SUBJECT=",
		"XDG_CONFIG_HOME="+cmd.Dir,
		"HOME="+cmd.Dir,
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse represents a standard API response
type APIResponse struct {
	StatusCode int             `json:"-"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error,omitempty"`
	Code       string          `json:"code,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path, token string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil, token, "")
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}, token string) (*APIResponse, error) {
	return e.doRequest("POST", path, body, token, "")
}

// PostAs performs a POST request narrowed to a subject
func (e *E2ETestEnv) PostAs(path string, body interface{}, token, subject string) (*APIResponse, error) {
	return e.doRequest("POST", path, body, token, subject)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path, token string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil, token, "")
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, token, subject string) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return e.send(req, token, subject)
}

// Upload posts a document to /files
func (e *E2ETestEnv) Upload(token, filename, sourceID string, content []byte) (*APIResponse, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if sourceID != "" {
		if err := form.WriteField("source_id", sourceID); err != nil {
			return nil, err
		}
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest("POST", e.ServerURL+"/files", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return e.send(req, token, "")
}

func (e *E2ETestEnv) send(req *http.Request, token, subject string) (*APIResponse, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if subject != "" {
		req.Header.Set("X-Recall-Subject", subject)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}
	apiResp.StatusCode = resp.StatusCode

	if resp.StatusCode >= 400 {
		return &apiResp, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// WaitForJob polls a job until it leaves pending/processing
func (e *E2ETestEnv) WaitForJob(token, id string, timeout time.Duration) map[string]interface{} {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := e.Get("/jobs/"+id, token)
		if err != nil {
			e.T.Fatalf("failed to get job: %v", err)
		}
		var job map[string]interface{}
		if err := json.Unmarshal(resp.Data, &job); err != nil {
			e.T.Fatalf("failed to parse job: %v", err)
		}
		if status := job["status"]; status != "pending" && status != "processing" {
			return job
		}
		time.Sleep(200 * time.Millisecond)
	}
	e.T.Fatalf("job %s did not finish within %v", id, timeout)
	return nil
}

// fakeEmbeddings answers OpenAI embedding requests with keyword vectors.
// Input containing "reject" gets a 400 so rejected chunks can be exercised.
func fakeEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Input) == 0 {
		http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
		return
	}

	data := make([]map[string]interface{}, 0, len(req.Input))
	for i, text := range req.Input {
		vec := keywordVector(text)
		if vec == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"input rejected","type":"invalid_request_error"}}`))
			return
		}
		data = append(data, map[string]interface{}{"object": "embedding", "index": i, "embedding": vec})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"object": "list",
		"data":   data,
		"model":  req.Model,
		"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
	})
}

func keywordVector(text string) []float32 {
	text = strings.ToLower(text)
	vec := make([]float32, domain.DefaultEmbeddingDimensions)
	vec[len(vec)-1] = 0.01
	for i, word := range embeddingKeywords {
		if strings.Contains(text, word) {
			if word == "reject" {
				return nil
			}
			vec[i] = 1
		}
	}
	return vec
}

// startServer wires the API exactly like recalld serve, against the test containers
func startServer(t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, embeddingsURL string, authSvc *service.AuthService, port int) (string, func()) {
	logger := zaptest.NewLogger(t)

	jobRepo := repository.NewIngestJobRepository(pool)
	store := repository.NewEmbeddingRecordRepository(pool, domain.DefaultEmbeddingDimensions)
	embedder := openai.NewClientWithConfig(openai.Config{
		APIKey:              "test",
		BaseURL:             embeddingsURL,
		EmbeddingDimensions: domain.DefaultEmbeddingDimensions,
	})

	retrievalSvc := service.NewRetrievalService(embedder, store,
		service.WithRetryPolicy(service.RetryPolicy{
			MaxAttempts:     2,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     20 * time.Millisecond,
			Multiplier:      2,
		}),
		service.WithLogger(logger),
	)
	jobSvc := service.NewIngestJobService(jobRepo, s3Client, extract.NewRegistry(), &service.DefaultUUIDGenerator{}, logger)
	sourceSvc := service.NewSourceService(retrievalSvc, s3Client)

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	ingestWorker := jobs.NewIngestWorker(jobRepo, retrievalSvc, jobSvc, nil, 5, logger,
		jobs.WithTxRunner(repository.NewTxRunner(pool)))
	worker := jobs.NewWorker(ingestWorker, 100*time.Millisecond, logger)
	go worker.Start(workerCtx)

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:    authSvc,
		RetrievalHandler: handlers.NewRetrievalHandler(retrievalSvc, sourceSvc, jobSvc, 1000),
		JobHandler:       handlers.NewJobHandler(jobSvc, 1000),
		Logger:           logger,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		cancelWorker()
		worker.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
