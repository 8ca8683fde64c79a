package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stemsi/exstem-evaluation/internal/config"
	"github.com/stemsi/exstem-evaluation/internal/handler"
	"github.com/stemsi/exstem-evaluation/internal/middleware"
	"github.com/stemsi/exstem-evaluation/internal/response"
	"github.com/stemsi/exstem-evaluation/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Candidate *handler.CandidateHandler
	Stream    *handler.SessionStreamHandler
	Evaluator *handler.EvaluatorHandler
	Monitor   *handler.MonitorHandler
	System    *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// The returned limiter must be stopped on shutdown.
func SetupRouter(
	invites *service.InviteService,
	handlers *Handlers,
	cfg *config.Config,
) (*gin.Engine, *middleware.RateLimiter) {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", middleware.HeaderAPIKey}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Metrics())
	router.Use(middleware.Brotli())

	// ─── Ops ───────────────────────────────────────────────────────────
	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ─── 1. Candidate Group (Access Token) ─────────────────────────────
	candidateLimiter := middleware.NewRateLimiter(cfg.CandidateRateLimit, time.Minute).ByCandidate()

	candidateAPI := router.Group("/api/v1/candidate")
	candidateAPI.Use(
		middleware.RequireAccessToken(invites),
		middleware.NoStore(),
		candidateLimiter.Middleware(),
	)
	{
		candidateAPI.POST("/session", handlers.Candidate.StartSession)
		candidateAPI.GET("/session", handlers.Candidate.GetSession)
		candidateAPI.PUT("/session/current", handlers.Candidate.Navigate)
		candidateAPI.PUT("/session/answers/:question_id", handlers.Candidate.Answer)
		candidateAPI.DELETE("/session/answers/:question_id", handlers.Candidate.ClearAnswer)
		candidateAPI.POST("/session/flags/:question_id", handlers.Candidate.ToggleFlag)
		candidateAPI.POST("/session/submit", handlers.Candidate.Submit)
		candidateAPI.GET("/result", handlers.Candidate.GetResult)
	}

	// ─── 2. WebSocket Group (Access Token in query) ────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAccessTokenWS(invites))
	{
		ws.GET("/candidate/session/stream", handlers.Stream.Stream)
	}

	// ─── 3. Evaluator Group (API Key) ──────────────────────────────────
	evaluatorAPI := router.Group("/api/v1/evaluator")
	evaluatorAPI.Use(middleware.RequireAPIKey(cfg.EvaluatorAPIKey))
	{
		evaluatorAPI.POST("/evaluations", handlers.Evaluator.CreateEvaluation)
		evaluatorAPI.GET("/evaluations/:id", handlers.Evaluator.GetEvaluation)
		evaluatorAPI.POST("/evaluations/:id/publish", handlers.Evaluator.PublishEvaluation)
		evaluatorAPI.GET("/evaluations/:id/results", handlers.Evaluator.ListResults)
		evaluatorAPI.GET("/evaluations/:id/monitor", handlers.Monitor.MonitorSSE)

		evaluatorAPI.POST("/invitations", handlers.Evaluator.IssueInvitation)
		evaluatorAPI.POST("/invitations/revoke", handlers.Evaluator.RevokeInvitation)

		evaluatorAPI.GET("/system", handlers.System.Status)
	}

	return router, candidateLimiter
}
