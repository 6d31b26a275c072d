package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Server wires the HTTP handlers to their collaborators.
type Server struct {
	config       *Config
	orchestrator *Orchestrator
	store        Store
	jwt          *JWTManager
	sessions     *SessionCache
}

// NewServer creates a server from its collaborators.
func NewServer(config *Config, orchestrator *Orchestrator, store Store, jwt *JWTManager, sessions *SessionCache) *Server {
	return &Server{
		config:       config,
		orchestrator: orchestrator,
		store:        store,
		jwt:          jwt,
		sessions:     sessions,
	}
}

func main() {
	// Load configuration
	config := LoadConfig()

	// Connect storage
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, config.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Build the pipeline
	client := NewChatClient(config.OllamaBaseURL, config.OllamaAPIKey, config.MaxTokens)
	orchestrator := NewOrchestrator(config, client)

	server := NewServer(config, orchestrator, store, NewJWTManager(config.JWTSecret), NewSessionCache(config.SessionCacheTTL))

	router := server.Routes()

	// Start server
	log.Printf("Starting LLM Arena backend on port %s...", config.Port)
	if err := router.Run(":" + config.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// Routes builds the gin router with middleware and all endpoints.
func (s *Server) Routes() *gin.Engine {
	router := gin.Default()

	// Request size limit middleware
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)
		c.Next()
	})

	// CORS middleware with dynamic origin validation
	allowedOrigins := s.config.CORSAllowedOrigins
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			// In production, use environment-configured origins
			if len(allowedOrigins) > 0 {
				for _, allowedOrigin := range allowedOrigins {
					if origin == allowedOrigin {
						return true
					}
				}
				return false
			}
			// In development, allow any localhost/127.0.0.1 origin
			return len(origin) > 0 && (len(origin) >= 16 && origin[:16] == "http://localhost" ||
				len(origin) >= 14 && origin[:14] == "http://127.0.0")
		},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	// Routes
	router.GET("/", s.healthCheck)
	router.POST("/signup", s.signup)
	router.POST("/login", s.login)

	api := router.Group("/api", s.jwt.RequireAuth())
	api.POST("/orchestrate", s.orchestrate)
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)
	api.POST("/fetch-url", s.fetchURL)

	return router
}

// healthCheck returns a simple health check response.
// GET / - Returns service status information.
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "LLM Arena API",
	})
}

// signup registers a new account.
// POST /signup - Body: {"email": ..., "password": ...}
func (s *Server) signup(c *gin.Context) {
	var request SignupRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	hashedPassword, err := HashPassword(request.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to process password",
		})
		return
	}

	if _, err := s.store.CreateUser(c.Request.Context(), request.Email, hashedPassword); err != nil {
		if err == ErrUserExists {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "User already exists",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "User created successfully",
	})
}

// login verifies credentials and issues a bearer token.
// POST /login - Body: {"email": ..., "password": ...}
func (s *Server) login(c *gin.Context) {
	var request LoginRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	user, err := s.store.GetUserByEmail(c.Request.Context(), request.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to look up user",
		})
		return
	}

	if user == nil || !CheckPassword(user.HashedPassword, request.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Incorrect email or password",
		})
		return
	}

	token, err := s.jwt.GenerateToken(user.ID, user.Email, AccessTokenDuration)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
	})
}

// orchestrate runs the full question/answers/judge pipeline.
// POST /api/orchestrate - Protected. Runs the pipeline, persists the run,
// and returns the result with the updated conversation window.
func (s *Server) orchestrate(c *gin.Context) {
	var request OrchestrateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	userID := currentUserID(c)
	requestID := uuid.New().String()
	start := time.Now()

	log.Printf("Orchestration started: request_id=%s user=%s session=%s", requestID, userID, request.SessionID)

	// Fall back to the cached window when the caller didn't send one.
	if len(request.Conversation) == 0 {
		if cached, ok := s.sessions.Get(request.SessionID); ok {
			request.Conversation = cached
		}
	}

	result, err := s.orchestrator.Run(c.Request.Context(), request)
	if err != nil {
		log.Printf("Orchestration failed: request_id=%s error=%v", requestID, err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": fmt.Sprintf("Orchestration failed: %v", err),
		})
		return
	}

	totalMS := float64(time.Since(start).Milliseconds())

	run := &OrchestrationRun{
		ID:           requestID,
		UserID:       userID,
		SessionID:    request.SessionID,
		Question:     result.Question,
		Competitors:  result.Competitors,
		Answers:      result.Answers,
		Ranking:      result.Ranking,
		Latency:      result.Latency,
		Conversation: result.Conversation,
		JudgeModel:   s.config.JudgeModel,
		LatencyMS:    totalMS,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.SaveRun(c.Request.Context(), run); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to persist run: %v", err),
		})
		return
	}

	s.sessions.Set(request.SessionID, result.Conversation)

	log.Printf("Orchestration completed: request_id=%s latency_ms=%.0f", requestID, totalMS)

	c.JSON(http.StatusOK, result)
}

// listRuns lists the caller's persisted runs, newest first.
// GET /api/runs - Protected. Returns run metadata only.
func (s *Server) listRuns(c *gin.Context) {
	runs, err := s.store.ListRuns(c.Request.Context(), currentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to list runs: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, runs)
}

// getRun returns one of the caller's runs in full.
// GET /api/runs/:id - Protected. 404 when absent or owned by someone else.
func (s *Server) getRun(c *gin.Context) {
	run, err := s.store.GetRun(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get run: %v", err),
		})
		return
	}

	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Run not found",
		})
		return
	}

	c.JSON(http.StatusOK, run)
}

// fetchURL fetches and extracts readable content from a given URL.
// POST /api/fetch-url - Body: {"url": "https://..."}
func (s *Server) fetchURL(c *gin.Context) {
	var request struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	content, err := FetchURLContent(c.Request.Context(), request.URL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to fetch URL content: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"content": content,
	})
}
