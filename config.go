package main

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default model roster. Matches the reference local-Ollama setup; override
// via environment variables.
var defaultCompetitorModels = []string{
	"mistral:latest",
	"gemma3:1b",
	"llama3.2",
}

const (
	defaultOllamaBaseURL = "http://localhost:11434/v1/chat/completions"
	defaultOllamaAPIKey  = "ollama"
	defaultQuestionModel = "llama3.2"
	defaultJudgeModel    = "llama3.2"
	defaultPort          = "8001"

	// HistoryWindow is the number of prior turns kept as context.
	defaultHistoryWindow = 5

	// MaxTokens caps every model completion.
	defaultMaxTokens = 500

	// SessionCacheTTL is how long a session's conversation window is
	// retained server-side between orchestrate calls.
	defaultSessionCacheTTL = 30 * time.Minute

	// MaxRequestBodySize is the maximum allowed request body size (1MB).
	MaxRequestBodySize int64 = 1 << 20
)

// Config holds the full runtime configuration. The pipeline portion
// (models, history window, token cap) is injected into the Orchestrator at
// construction rather than read from globals so the roster is swappable in
// tests.
type Config struct {
	// Chat backend (Ollama-compatible chat-completions endpoint).
	OllamaBaseURL string
	OllamaAPIKey  string

	// Pipeline model roster.
	QuestionModel    string
	CompetitorModels []string
	JudgeModel       string

	// Pipeline tuning.
	HistoryWindow int
	MaxTokens     int

	// HTTP / collaborators.
	Port               string
	JWTSecret          string
	DatabaseURL        string
	CORSAllowedOrigins []string
	SessionCacheTTL    time.Duration
}

// LoadConfig loads configuration from the environment, reading a .env file
// first when one can be found. Exits the process when required settings
// are missing.
func LoadConfig() *Config {
	// Load .env file - try multiple locations
	envLocations := []string{
		".env",    // Current directory
		"../.env", // Parent directory
	}

	envLoaded := false
	for _, envPath := range envLocations {
		absPath, err := filepath.Abs(envPath)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			if err := godotenv.Load(absPath); err == nil {
				log.Printf("Loaded .env from: %s", absPath)
				envLoaded = true
				break
			}
		}
	}

	if !envLoaded {
		log.Printf("Warning: .env file not found in any expected location")
	}

	config := &Config{
		OllamaBaseURL:    envOrDefault("OLLAMA_BASE_URL", defaultOllamaBaseURL),
		OllamaAPIKey:     envOrDefault("OLLAMA_API_KEY", defaultOllamaAPIKey),
		QuestionModel:    envOrDefault("QUESTION_MODEL", defaultQuestionModel),
		CompetitorModels: defaultCompetitorModels,
		JudgeModel:       envOrDefault("JUDGE_MODEL", defaultJudgeModel),
		HistoryWindow:    defaultHistoryWindow,
		MaxTokens:        defaultMaxTokens,
		Port:             envOrDefault("PORT", defaultPort),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SessionCacheTTL:  defaultSessionCacheTTL,
	}

	if models := os.Getenv("COMPETITOR_MODELS"); models != "" {
		config.CompetitorModels = splitAndTrim(models)
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		config.CORSAllowedOrigins = splitAndTrim(corsOrigins)
	}

	if config.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if config.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}
	if len(config.CompetitorModels) == 0 {
		log.Fatal("COMPETITOR_MODELS must name at least one model")
	}

	log.Println("Configuration loaded successfully")
	return config
}

// envOrDefault returns the environment value for key, or fallback when unset.
func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// splitAndTrim splits a comma-separated list, dropping empty entries.
func splitAndTrim(value string) []string {
	var parts []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
