package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gemini-chat-relay/internal/config"
	"gemini-chat-relay/internal/database"
	"gemini-chat-relay/internal/handlers"
	"gemini-chat-relay/internal/middleware"
	"gemini-chat-relay/internal/router"
	"gemini-chat-relay/internal/services"
)

func main() {
	log.Println("🚀 Starting Gemini Chat Relay...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize Gemini Client ────
	geminiService, err := services.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiConcurrentReqs, cfg.GeminiSlotWait)
	if err != nil {
		log.Fatalf("✗ Gemini client initialization failed: %v", err)
	}
	defer geminiService.Close()
	if geminiService.Configured() {
		log.Printf("✓ Gemini client initialized (model %s, %d concurrent requests, %s slot wait)", cfg.GeminiModel, cfg.GeminiConcurrentReqs, cfg.GeminiSlotWait)
	} else {
		log.Println("⚠ GOOGLE_API_KEY is not set; /api/chat will answer with a configuration error")
	}

	// ──── Step 3: Rate Limiting ────
	var chatLimiter func(http.Handler) http.Handler
	var memLimiter *middleware.RateLimiter
	switch {
	case cfg.RateLimitPerMin <= 0:
		log.Println("✓ Chat rate limiting disabled")
	case cfg.RedisURL != "":
		redisClient, err := database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("✗ Redis connection failed: %v", err)
		}
		defer redisClient.Close()
		chatLimiter = middleware.NewRedisRateLimiter(redisClient, "ratelimit:chat", cfg.RateLimitPerMin, time.Minute).Middleware
		log.Printf("✓ Redis rate limiter connected (%d req/min per client)", cfg.RateLimitPerMin)
	default:
		memLimiter = middleware.NewRateLimiter(cfg.RateLimitPerMin, time.Minute)
		chatLimiter = memLimiter.Middleware
		log.Printf("✓ In-memory rate limiter enabled (%d req/min per client)", cfg.RateLimitPerMin)
	}

	// ──── Initialize Handlers ────
	chatHandler := handlers.NewChatHandler(geminiService)
	healthHandler := handlers.NewHealthHandler(cfg.APIKeyConfigured())

	// ──── Step 4: Start HTTP Server ────
	r := router.New(
		chatHandler,
		healthHandler,
		chatLimiter,
		cfg.CORSOrigins,
		cfg.StaticDir,
		cfg.TrustProxy,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		if memLimiter != nil {
			memLimiter.Stop()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ Server is running on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/chat", cfg.Port)
	if !cfg.APIKeyConfigured() {
		log.Println("  Make sure to set GOOGLE_API_KEY in .env file")
	}

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
