package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// chatReply is what a mock backend returns for one chat-completion call.
type chatReply struct {
	content string
	status  int
}

// newMockChatServer starts an httptest server speaking the chat-completions
// protocol. The reply function receives the decoded request and decides the
// response content and status per call.
func newMockChatServer(t *testing.T, reply func(req ChatRequest) chatReply) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}

		res := reply(req)
		if res.status != 0 && res.status != http.StatusOK {
			http.Error(w, "mock backend error", res.status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": res.content}},
			},
		})
	}))
}

// promptRecorder captures the user prompt sent to each model, keyed by model
// name, so tests can assert on prompt construction.
type promptRecorder struct {
	mu      sync.Mutex
	prompts map[string][]string
}

func newPromptRecorder() *promptRecorder {
	return &promptRecorder{prompts: make(map[string][]string)}
}

func (r *promptRecorder) record(req ChatRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range req.Messages {
		if msg.Role == "user" {
			r.prompts[req.Model] = append(r.prompts[req.Model], msg.Content)
		}
	}
}

func (r *promptRecorder) lastPrompt(model string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	recorded := r.prompts[model]
	if len(recorded) == 0 {
		return ""
	}
	return recorded[len(recorded)-1]
}

// newTestConfig builds a pipeline config pointed at the given backend URL.
func newTestConfig(backendURL string) *Config {
	return &Config{
		OllamaBaseURL:    backendURL,
		OllamaAPIKey:     "test-key",
		QuestionModel:    "question-model",
		CompetitorModels: []string{"competitor-1", "competitor-2", "competitor-3"},
		JudgeModel:       "judge-model",
		HistoryWindow:    5,
		MaxTokens:        500,
		JWTSecret:        "test-secret",
		SessionCacheTTL:  time.Minute,
	}
}

// newTestOrchestrator builds an orchestrator against the given backend URL.
func newTestOrchestrator(backendURL string) *Orchestrator {
	config := newTestConfig(backendURL)
	return NewOrchestrator(config, NewChatClient(config.OllamaBaseURL, config.OllamaAPIKey, config.MaxTokens))
}

// memStore is an in-memory Store used by handler tests.
type memStore struct {
	mu    sync.Mutex
	users map[string]User             // keyed by email
	runs  map[string]OrchestrationRun // keyed by run id
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[string]User),
		runs:  make(map[string]OrchestrationRun),
	}
}

func (s *memStore) CreateUser(_ context.Context, email, hashedPassword string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[email]; ok {
		return "", ErrUserExists
	}

	user := User{
		ID:             uuid.New().String(),
		Email:          email,
		HashedPassword: hashedPassword,
		CreatedAt:      time.Now().UTC(),
	}
	s.users[email] = user
	return user.ID, nil
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[email]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (s *memStore) SaveRun(_ context.Context, run *OrchestrationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = *run
	return nil
}

func (s *memStore) ListRuns(_ context.Context, userID string) ([]RunMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]RunMetadata, 0)
	for _, run := range s.runs {
		if run.UserID != userID {
			continue
		}
		runs = append(runs, RunMetadata{
			ID:        run.ID,
			SessionID: run.SessionID,
			Question:  run.Question,
			LatencyMS: run.LatencyMS,
			CreatedAt: run.CreatedAt,
		})
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	return runs, nil
}

func (s *memStore) GetRun(_ context.Context, userID, runID string) (*OrchestrationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok || run.UserID != userID {
		return nil, nil
	}
	return &run, nil
}

func (s *memStore) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.runs)
}
