package app

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"quizlms/internal/app/observability"
	"quizlms/internal/auth"
	"quizlms/internal/db"
	"quizlms/internal/directory"
	"quizlms/internal/notify"
	"quizlms/internal/question"
	"quizlms/internal/result"
	"quizlms/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server bundles the HTTP handler with the services the CLI also drives.
type Server struct {
	Handler    http.Handler
	Sessions   *session.Service
	Dispatcher *notify.Dispatcher
}

// NewServices wires the core services without the HTTP layer.
func NewServices(cfg Config, conn *sql.DB, dialect db.Dialect, logger *slog.Logger) (*question.Service, *result.Service, *session.Service, *notify.Dispatcher) {
	var sink notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.NotifyOutbox {
		sink = notify.Fanout{notify.NewOutbox(conn), sink}
	}
	dispatcher := notify.NewDispatcher(sink, logger)

	quizSvc := question.NewService(conn)
	resultSvc := result.NewService(conn, dialect)
	sessionSvc := session.NewService(conn, dialect, resultSvc, directory.New(conn), dispatcher, session.Config{
		CodeAttempts: cfg.SessionCodeAttempts,
		AutoPublish:  cfg.AutoPublishOnComplete,
		Logger:       logger,
	})
	return quizSvc, resultSvc, sessionSvc, dispatcher
}

func NewServer(cfg Config, conn *sql.DB, dialect db.Dialect, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	quizSvc, resultSvc, sessionSvc, dispatcher := NewServices(cfg, conn, dialect, logger)

	quizHandler := question.NewHandler(quizSvc, logger)
	resultHandler := result.NewHandler(resultSvc, logger)
	sessionHandler := session.NewHandler(sessionSvc, logger)

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	collector := observability.NewCollector(conn, logger)
	limiter := NewIPRateLimiter(cfg.RateLimitPerMin, time.Minute)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", csrfHeaderName},
			ExposedHeaders:   []string{"Content-Length", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.With(auth.RequireAuth(verifier), auth.RequireRoles(auth.RoleAdmin)).Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(auth.RequireAuth(verifier))
		api.Use(collector.Middleware)
		api.Use(RateLimitMiddleware(limiter))
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))

		api.Get("/results/{id}", resultHandler.Get)

		api.Group(func(student chi.Router) {
			student.Use(auth.RequireRoles(auth.RoleStudent))
			student.Post("/sessions/join", sessionHandler.Join)
			student.Post("/results/{id}/responses", resultHandler.SubmitResponses)
		})

		api.Group(func(staff chi.Router) {
			staff.Use(auth.RequireRoles(auth.RoleTeacher, auth.RoleAdmin))

			staff.Post("/quizzes", quizHandler.CreateQuiz)
			staff.Get("/quizzes/{id}", quizHandler.GetQuiz)
			staff.Post("/quizzes/{id}/questions", quizHandler.AddQuestion)
			staff.Post("/quizzes/{id}/publish", quizHandler.PublishQuiz)

			staff.Post("/sessions", sessionHandler.Create)
			staff.Get("/sessions", sessionHandler.List)
			staff.Get("/sessions/{id}", sessionHandler.Get)
			staff.Patch("/sessions/{id}", sessionHandler.Update)
			staff.Delete("/sessions/{id}", sessionHandler.Destroy)
			staff.Patch("/sessions/{id}/activate", sessionHandler.Activate)
			staff.Patch("/sessions/{id}/complete", sessionHandler.Complete)
			staff.Patch("/sessions/{id}/cancel", sessionHandler.Cancel)
			staff.Post("/sessions/{id}/publish-results", sessionHandler.PublishResults)
			staff.Get("/sessions/{id}/results", sessionHandler.Results)
			staff.Get("/sessions/{id}/statistics", sessionHandler.Statistics)

			staff.Patch("/results/{id}", resultHandler.Review)
			staff.Post("/results/{id}/mark-graded", resultHandler.MarkGraded)
			staff.Post("/results/{id}/publish", resultHandler.Publish)
		})
	})

	return &Server{Handler: r, Sessions: sessionSvc, Dispatcher: dispatcher}
}
