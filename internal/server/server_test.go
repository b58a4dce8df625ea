package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/livewatch/livewatch/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		PollInterval:     time.Second,
		WorkerCount:      2,
		BroadcastTimeout: 100 * time.Millisecond,
		RateLimitRPM:     100000, // effectively off for tests
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	s.router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health/live", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health/ready", "")
	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"GET:/ws/sessions/:id",
		"POST:/v1/watchlist",
		"GET:/v1/watchlist",
		"GET:/v1/watchlist/:handle",
		"DELETE:/v1/watchlist/:handle",
		"PUT:/v1/watchlist/:handle/live",
		"PUT:/v1/watchlist/:handle/recording",
		"POST:/v1/watchlist/:handle/stats",
		"GET:/v1/watchlist/:handle/sessions",
		"POST:/v1/sessions",
		"GET:/v1/sessions",
		"GET:/v1/sessions/:id",
		"POST:/v1/sessions/:id/chunks",
		"GET:/v1/sessions/:id/chunks",
		"POST:/v1/sessions/:id/end",
		"GET:/v1/notifications",
		"POST:/v1/notifications/:id/ack",
		"POST:/v1/score",
		"POST:/v1/ingest",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// End-to-end session flow over HTTP
// ---------------------------------------------------------------------------

func TestSessionFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	// Watch an account
	w := doJSON(t, s, "POST", "/v1/watchlist", `{"handle":"creator_one","displayName":"Creator One"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("watch: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Start a session
	w = doJSON(t, s, "POST", "/v1/sessions", `{"handle":"creator_one"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var startResp struct {
		Session struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"session"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &startResp); err != nil {
		t.Fatalf("parse start response: %v", err)
	}
	if startResp.Session.Status != "active" {
		t.Errorf("expected active session, got %q", startResp.Session.Status)
	}
	id := startResp.Session.ID

	// Second start for the same handle conflicts
	w = doJSON(t, s, "POST", "/v1/sessions", `{"handle":"creator_one"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate start: expected 409, got %d", w.Code)
	}

	// Append a classified chunk
	chunkBody := `{
		"transcription": "flagged speech",
		"classification": {
			"tier": "High", "subcategory": "politics",
			"daysSincePosted": 3, "shares": 10, "saves": 5,
			"comments": 3, "likes": 20, "videoCount": 2
		}
	}`
	w = doJSON(t, s, "POST", "/v1/sessions/"+id+"/chunks", chunkBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("chunk: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var chunkResp struct {
		Chunk struct {
			ChunkNumber int    `json:"chunkNumber"`
			RiskLevel   string `json:"riskLevel"`
		} `json:"chunk"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &chunkResp); err != nil {
		t.Fatalf("parse chunk response: %v", err)
	}
	if chunkResp.Chunk.ChunkNumber != 1 {
		t.Errorf("expected chunk number 1, got %d", chunkResp.Chunk.ChunkNumber)
	}
	if chunkResp.Chunk.RiskLevel == "" {
		t.Error("classified chunk should carry a risk level")
	}

	// End the session
	w = doJSON(t, s, "POST", "/v1/sessions/"+id+"/end", `{"fullVideoUrl":"https://cdn.example/v.mp4"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Chunks after end are rejected
	w = doJSON(t, s, "POST", "/v1/sessions/"+id+"/chunks", `{"caption":"late"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("late chunk: expected 409, got %d", w.Code)
	}
}

func TestSessionForUnwatchedHandle(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/sessions", `{"handle":"stranger"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Scoring endpoint tests
// ---------------------------------------------------------------------------

func TestScoreEndpoint(t *testing.T) {
	s := newTestServer(t)

	body := `{
		"tier": "High", "subcategory": "finance",
		"daysSincePosted": 3, "shares": 10, "saves": 5,
		"comments": 3, "likes": 20, "videoCount": 2
	}`
	w := doJSON(t, s, "POST", "/v1/score", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Assessment struct {
			EngagementScore float64 `json:"engagementScore"`
			CombinedScore   float64 `json:"combinedScore"`
			Level           string  `json:"level"`
		} `json:"assessment"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Assessment.EngagementScore != 19.0 {
		t.Errorf("EngagementScore: got %v, want 19.0", resp.Assessment.EngagementScore)
	}
	// 19 * 25 * 1.0 * 0.8 = 380
	if resp.Assessment.CombinedScore != 380.0 {
		t.Errorf("CombinedScore: got %v, want 380.0", resp.Assessment.CombinedScore)
	}
	if resp.Assessment.Level != "High" {
		t.Errorf("Level: got %q, want High", resp.Assessment.Level)
	}
}

func TestScoreEndpoint_BadTier(t *testing.T) {
	s := newTestServer(t)

	body := `{"tier": "Catastrophic", "subcategory": "politics", "videoCount": 1}`
	w := doJSON(t, s, "POST", "/v1/score", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestScoreEndpoint_ZeroVideos(t *testing.T) {
	s := newTestServer(t)

	body := `{"tier": "High", "subcategory": "politics", "videoCount": 0}`
	w := doJSON(t, s, "POST", "/v1/score", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Ingest endpoint tests
// ---------------------------------------------------------------------------

func TestIngestEndpoint_UnknownKind(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/ingest", `{"kind":"account_exploded","handle":"creator_one"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestIngestEndpoint_Accepted(t *testing.T) {
	s := newTestServer(t)
	s.orch.Start(t.Context())
	defer s.orch.Stop(t.Context())

	w := doJSON(t, s, "POST", "/v1/watchlist", `{"handle":"creator_one"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("watch: expected 201, got %d", w.Code)
	}

	w = doJSON(t, s, "POST", "/v1/ingest", `{"kind":"account_live","handle":"creator_one","sessionId":"ses_http"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		get := doJSON(t, s, "GET", "/v1/sessions/ses_http", "")
		if get.Code == http.StatusOK {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("ingested live event never produced a session")
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
