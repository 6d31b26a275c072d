package main

import "time"

// ConversationTurn is one completed question/answers/ranking triple produced
// by a single orchestration run. Turns are immutable once appended.
type ConversationTurn struct {
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
	Ranking  []int    `json:"ranking"`
}

// OrchestrateRequest is the payload for POST /api/orchestrate.
// The conversation carries the caller's recent history; when omitted the
// server falls back to its per-session cache. NumCompetitors is validated
// but the competitor roster itself comes from static configuration.
type OrchestrateRequest struct {
	SessionID      string             `json:"session_id" binding:"required"`
	Question       string             `json:"question,omitempty"`
	Conversation   []ConversationTurn `json:"conversation"`
	NumCompetitors int                `json:"num_competitors" binding:"omitempty,min=1,max=5"`
	Temperature    float64            `json:"temperature" binding:"omitempty,min=0,max=1.5"`
}

// LatencyBreakdown reports per-stage wall-clock durations in seconds.
type LatencyBreakdown struct {
	QuestionGenerationSec   float64 `json:"question_generation_sec"`
	CompetitorGenerationSec float64 `json:"competitor_generation_sec"`
	JudgeSec                float64 `json:"judge_sec"`
	TotalSec                float64 `json:"total_sec"`
}

// OrchestrateResponse is the result of one full pipeline run.
// Answers is index-aligned with Competitors; Ranking holds 1-based
// competitor numbers best to worst and may be empty when the judge's
// output could not be parsed.
type OrchestrateResponse struct {
	Question     string             `json:"question"`
	Competitors  []string           `json:"competitors"`
	Answers      []string           `json:"answers"`
	Ranking      []int              `json:"ranking"`
	Latency      LatencyBreakdown   `json:"latency"`
	Conversation []ConversationTurn `json:"conversation"`
}

// ChatMessage is a single role-tagged message for the chat-completion API.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body for an OpenAI-compatible
// chat-completions endpoint. Format is "json" when the backend should
// constrain its output to JSON (a hint, not a guarantee).
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Format      string        `json:"format,omitempty"`
}

// ChatAPIResponse is the subset of the chat-completions response we read.
type ChatAPIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// SignupRequest is the payload for POST /signup.
type SignupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest is the payload for POST /login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// User is a registered account.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// OrchestrationRun is a persisted pipeline execution.
type OrchestrationRun struct {
	ID           string             `json:"id"`
	UserID       string             `json:"user_id"`
	SessionID    string             `json:"session_id"`
	Question     string             `json:"question"`
	Competitors  []string           `json:"competitors"`
	Answers      []string           `json:"answers"`
	Ranking      []int              `json:"ranking"`
	Latency      LatencyBreakdown   `json:"latency"`
	Conversation []ConversationTurn `json:"conversation"`
	JudgeModel   string             `json:"judge_model"`
	LatencyMS    float64            `json:"latency_ms"`
	CreatedAt    time.Time          `json:"created_at"`
}

// RunMetadata is the listing view of a persisted run.
type RunMetadata struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Question  string    `json:"question"`
	LatencyMS float64   `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}
