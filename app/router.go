// Package app wires shared HTTP routes for both local and Lambda execution.
package app

import (
	"context"
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tristan-Hancock/maya-web-sub000/app/config"
	"github.com/Tristan-Hancock/maya-web-sub000/auth"
)

// NewApp builds the process-wide context: secrets fetched once, the
// upstream clients, and the two engines.
func NewApp(ctx context.Context) (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	secrets, err := LoadSecrets(ctx, cfg)
	if err != nil {
		return nil, err
	}

	completion := NewCompletionClient(cfg.Completion.BaseURL, cfg.Completion.APIKey, cfg.Completion.AssistantID)
	realtime := NewRealtimeClient(cfg.Voice.BaseURL, cfg.Voice.APIKey, cfg.Voice.Model)

	orch := NewOrchestrator(completion, secrets)
	orch.PollInterval = time.Duration(cfg.Completion.PollMs) * time.Millisecond
	orch.Budget = time.Duration(cfg.Completion.BudgetSec) * time.Second
	orch.DocBudget = time.Duration(cfg.Completion.DocBudget) * time.Second

	return &App{
		Secrets:      secrets,
		Orchestrator: orch,
		Voice:        NewVoiceManager(realtime),
	}, nil
}

// NewRouter builds the shared HTTP router for both local and Lambda execution.
func NewRouter(a *App) (*gin.Engine, error) {
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/health", Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/api/stripe/webhook", StripeWebhook)

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	var verifier *auth.Verifier
	if !auth.AuthDisabled() {
		verifier, err = auth.NewVerifier(cfg.Auth.Issuer, cfg.Auth.Audience, "")
		if err != nil {
			return nil, err
		}
	}

	protected := router.Group("/")
	protected.Use(auth.Middleware(verifier, auth.MiddlewareConfig{
		OnAuthenticated: func(c *gin.Context, claims *auth.Claims) error {
			// Lazy account creation on every authenticated request;
			// idempotent under concurrent first requests.
			anonUser := AnonUserID(a.Secrets.AnonSalt, claims.Subject)
			if _, err := EnsureAccount(c.Request.Context(), anonUser, time.Now()); err != nil {
				log.Printf("account ensure failed user=%s err=%v", anonUser, err)
				return err
			}
			return nil
		},
	}))
	protected.GET("/me", a.Me)
	protected.POST("/chat/message", a.SendMessage)
	protected.DELETE("/chat/thread/:handle", a.DeleteThread)
	protected.POST("/voice/preflight", a.VoicePreflight)
	protected.POST("/voice/end", a.VoiceEnd)
	protected.GET("/voice/status", a.VoiceStatus)

	return router, nil
}
