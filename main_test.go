package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// happyPipelineReply answers every pipeline stage successfully.
func happyPipelineReply(req ChatRequest) chatReply {
	switch req.Model {
	case "question-model":
		return chatReply{content: "Generated question?"}
	case "judge-model":
		return chatReply{content: `{"results":[2,1,3]}`}
	default:
		return chatReply{content: "answer from " + req.Model}
	}
}

// newTestHTTPServer wires a full router against a mock chat backend and an
// in-memory store.
func newTestHTTPServer(t *testing.T, reply func(req ChatRequest) chatReply) (*gin.Engine, *memStore, *JWTManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := newMockChatServer(t, reply)
	t.Cleanup(backend.Close)

	config := newTestConfig(backend.URL)
	client := NewChatClient(config.OllamaBaseURL, config.OllamaAPIKey, config.MaxTokens)
	store := newMemStore()
	jwtManager := NewJWTManager(config.JWTSecret)

	server := NewServer(config, NewOrchestrator(config, client), store, jwtManager, NewSessionCache(config.SessionCacheTTL))
	return server.Routes(), store, jwtManager
}

// authToken issues a token for a user created directly in the store.
func authToken(t *testing.T, store *memStore, jwtManager *JWTManager, email string) (string, string) {
	t.Helper()

	hashed, err := HashPassword("password123")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	userID, err := store.CreateUser(context.Background(), email, hashed)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	token, err := jwtManager.GenerateToken(userID, email, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	return token, userID
}

func doJSON(router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestHealthCheck tests GET /.
func TestHealthCheck(t *testing.T) {
	router, _, _ := newTestHTTPServer(t, happyPipelineReply)

	w := doJSON(router, "GET", "/", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

// TestSignupAndLogin tests the account flow end to end.
func TestSignupAndLogin(t *testing.T) {
	router, _, _ := newTestHTTPServer(t, happyPipelineReply)

	t.Run("signup succeeds", func(t *testing.T) {
		w := doJSON(router, "POST", "/signup", "", SignupRequest{Email: "a@b.com", Password: "password123"})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
		}
	})

	t.Run("duplicate signup is rejected", func(t *testing.T) {
		w := doJSON(router, "POST", "/signup", "", SignupRequest{Email: "a@b.com", Password: "password123"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("short password is rejected", func(t *testing.T) {
		w := doJSON(router, "POST", "/signup", "", SignupRequest{Email: "c@d.com", Password: "short"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("login returns a usable bearer token", func(t *testing.T) {
		w := doJSON(router, "POST", "/login", "", LoginRequest{Email: "a@b.com", Password: "password123"})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
		}

		var resp LoginResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse login response: %v", err)
		}
		if resp.AccessToken == "" || resp.TokenType != "bearer" {
			t.Errorf("login response = %+v", resp)
		}

		runs := doJSON(router, "GET", "/api/runs", resp.AccessToken, nil)
		if runs.Code != http.StatusOK {
			t.Errorf("protected call with fresh token: status = %d, want 200", runs.Code)
		}
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		w := doJSON(router, "POST", "/login", "", LoginRequest{Email: "a@b.com", Password: "wrong-password"})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("unknown user is rejected", func(t *testing.T) {
		w := doJSON(router, "POST", "/login", "", LoginRequest{Email: "nobody@b.com", Password: "password123"})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}

// TestOrchestrateEndpoint tests POST /api/orchestrate.
func TestOrchestrateEndpoint(t *testing.T) {
	t.Run("requires authentication", func(t *testing.T) {
		router, _, _ := newTestHTTPServer(t, happyPipelineReply)

		w := doJSON(router, "POST", "/api/orchestrate", "", OrchestrateRequest{SessionID: "s1"})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("happy path persists the run", func(t *testing.T) {
		router, store, jwtManager := newTestHTTPServer(t, happyPipelineReply)
		token, _ := authToken(t, store, jwtManager, "a@b.com")

		w := doJSON(router, "POST", "/api/orchestrate", token, OrchestrateRequest{SessionID: "s1"})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
		}

		var resp OrchestrateResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Question != "Generated question?" {
			t.Errorf("question = %q", resp.Question)
		}
		if len(resp.Competitors) != 3 || len(resp.Answers) != 3 {
			t.Errorf("competitors/answers = %d/%d, want 3/3", len(resp.Competitors), len(resp.Answers))
		}
		if fmt.Sprint(resp.Ranking) != "[2 1 3]" {
			t.Errorf("ranking = %v, want [2 1 3]", resp.Ranking)
		}
		if len(resp.Conversation) != 1 {
			t.Errorf("conversation length = %d, want 1", len(resp.Conversation))
		}

		if store.runCount() != 1 {
			t.Errorf("persisted runs = %d, want 1", store.runCount())
		}
	})

	t.Run("second call without conversation uses the cached window", func(t *testing.T) {
		recorder := newPromptRecorder()
		router, store, jwtManager := newTestHTTPServer(t, func(req ChatRequest) chatReply {
			recorder.record(req)
			return happyPipelineReply(req)
		})
		token, _ := authToken(t, store, jwtManager, "a@b.com")

		first := doJSON(router, "POST", "/api/orchestrate", token, OrchestrateRequest{SessionID: "s1"})
		if first.Code != http.StatusOK {
			t.Fatalf("first call status = %d: %s", first.Code, first.Body.String())
		}

		second := doJSON(router, "POST", "/api/orchestrate", token, OrchestrateRequest{SessionID: "s1"})
		if second.Code != http.StatusOK {
			t.Fatalf("second call status = %d: %s", second.Code, second.Body.String())
		}

		prompt := recorder.lastPrompt("competitor-1")
		if !strings.Contains(prompt, "Turn 1:") {
			t.Errorf("second run's prompt missing cached context:\n%s", prompt)
		}
	})

	t.Run("validation failures", func(t *testing.T) {
		router, store, jwtManager := newTestHTTPServer(t, happyPipelineReply)
		token, _ := authToken(t, store, jwtManager, "a@b.com")

		tests := []struct {
			name string
			body map[string]interface{}
		}{
			{"missing session_id", map[string]interface{}{}},
			{"num_competitors too high", map[string]interface{}{"session_id": "s1", "num_competitors": 9}},
			{"temperature out of range", map[string]interface{}{"session_id": "s1", "temperature": 2.5}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				w := doJSON(router, "POST", "/api/orchestrate", token, tt.body)
				if w.Code != http.StatusBadRequest {
					t.Errorf("status = %d, want 400", w.Code)
				}
			})
		}

		if store.runCount() != 0 {
			t.Errorf("persisted runs = %d, want 0", store.runCount())
		}
	})

	t.Run("backend failure returns bad gateway and persists nothing", func(t *testing.T) {
		router, store, jwtManager := newTestHTTPServer(t, func(req ChatRequest) chatReply {
			return chatReply{status: http.StatusInternalServerError}
		})
		token, _ := authToken(t, store, jwtManager, "a@b.com")

		w := doJSON(router, "POST", "/api/orchestrate", token, OrchestrateRequest{SessionID: "s1"})
		if w.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", w.Code)
		}
		if store.runCount() != 0 {
			t.Errorf("persisted runs = %d, want 0", store.runCount())
		}
	})
}

// TestRunsEndpoints tests run listing and retrieval.
func TestRunsEndpoints(t *testing.T) {
	router, store, jwtManager := newTestHTTPServer(t, happyPipelineReply)
	token, _ := authToken(t, store, jwtManager, "a@b.com")

	w := doJSON(router, "POST", "/api/orchestrate", token, OrchestrateRequest{SessionID: "s1"})
	if w.Code != http.StatusOK {
		t.Fatalf("orchestrate status = %d: %s", w.Code, w.Body.String())
	}

	t.Run("list returns the run metadata", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/runs", token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}

		var runs []RunMetadata
		if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
			t.Fatalf("failed to parse runs: %v", err)
		}
		if len(runs) != 1 {
			t.Fatalf("runs = %d, want 1", len(runs))
		}
		if runs[0].SessionID != "s1" || runs[0].Question != "Generated question?" {
			t.Errorf("run metadata = %+v", runs[0])
		}
	})

	t.Run("get returns the full run", func(t *testing.T) {
		list := doJSON(router, "GET", "/api/runs", token, nil)
		var runs []RunMetadata
		if err := json.Unmarshal(list.Body.Bytes(), &runs); err != nil || len(runs) == 0 {
			t.Fatalf("failed to list runs: %v", err)
		}

		w := doJSON(router, "GET", "/api/runs/"+runs[0].ID, token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}

		var run OrchestrationRun
		if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
			t.Fatalf("failed to parse run: %v", err)
		}
		if run.JudgeModel != "judge-model" || len(run.Answers) != 3 {
			t.Errorf("run = %+v", run)
		}
	})

	t.Run("unknown run is 404", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/runs/does-not-exist", token, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("another user's run is 404", func(t *testing.T) {
		otherToken, _ := authToken(t, store, jwtManager, "other@b.com")

		list := doJSON(router, "GET", "/api/runs", token, nil)
		var runs []RunMetadata
		if err := json.Unmarshal(list.Body.Bytes(), &runs); err != nil || len(runs) == 0 {
			t.Fatalf("failed to list runs: %v", err)
		}

		w := doJSON(router, "GET", "/api/runs/"+runs[0].ID, otherToken, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})
}
