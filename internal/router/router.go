package router

import (
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"gemini-chat-relay/internal/handlers"
	"gemini-chat-relay/internal/middleware"
	"gemini-chat-relay/internal/models"
)

const chatPage = "chatbot.html"

func New(
	chatHandler *handlers.ChatHandler,
	healthHandler *handlers.HealthHandler,
	chatLimiter func(http.Handler) http.Handler,
	corsOrigins []string,
	staticDir string,
	trustProxy bool,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	// RealIP believes X-Forwarded-For / X-Real-IP, so it is only safe behind
	// a proxy that sets them. Otherwise the limiter keys on the TCP peer.
	if trustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)

		r.Group(func(r chi.Router) {
			if chatLimiter != nil {
				r.Use(chatLimiter)
			}
			r.Post("/chat", chatHandler.Chat)
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(models.ErrorResponse{Error: "Route not found"})
		})
	})

	// ──── Chat UI ────
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(staticDir, chatPage))
	})
	r.Handle("/*", http.FileServer(http.Dir(staticDir)))

	return r
}
