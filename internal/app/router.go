package app

import (
	"net/http"
	"time"

	"academy/internal/app/apiresp"
	"academy/internal/identity"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(a *App) http.Handler {
	cfg := a.Config
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.Collector.Middleware)
	r.NotFound(apiresp.NotFound)
	r.MethodNotAllowed(apiresp.MethodNotAllowed)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Handle("/metrics", a.Collector.MetricsHandler())

	limiter := NewIPRateLimiter(cfg.RateLimitPerMin, time.Minute)
	staff := identity.RequireRoles(identity.RoleTeacher, identity.RoleAdmin)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(RateLimitMiddleware(limiter))
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))
		api.Use(identity.Middleware)

		api.Get("/questions/taxonomy", a.Questions.Taxonomy)
		api.Get("/exams", a.Exams.ListExams)
		api.Get("/exams/available", a.Exams.ListAvailable)
		api.Get("/exams/{id}", a.Exams.GetExam)

		api.Post("/exams/{id}/session", a.Exams.StartSession)
		api.Get("/exams/{id}/session", a.Exams.GetSession)
		api.Post("/exams/{id}/session/retry", a.Exams.RetrySession)
		api.Put("/exams/{id}/session/answers/{questionID}", a.Exams.SaveAnswer)
		api.Post("/exams/{id}/session/flags/{questionID}", a.Exams.ToggleFlag)
		api.Post("/exams/{id}/session/navigate", a.Exams.Navigate)
		api.Post("/exams/{id}/session/submit", a.Exams.Submit)

		api.Get("/attempts", a.Exams.ListAttempts)
		api.Get("/attempts/{id}", a.Exams.GetAttempt)

		api.Get("/wrong-notes", a.WrongNotes.List)
		api.Post("/wrong-notes/review", a.WrongNotes.ReviewBatch)
		api.Post("/wrong-notes/review-all", a.WrongNotes.ReviewAll)
		api.Post("/wrong-notes/{id}/review", a.WrongNotes.Review)

		api.Get("/reports/me", a.Reports.Me)
		api.Get("/reports/weak-areas", a.Reports.WeakAreas)

		api.Group(func(admin chi.Router) {
			admin.Use(staff)
			admin.Get("/questions", a.Questions.List)
			admin.Post("/questions", a.Questions.Create)
			admin.Get("/questions/export.xlsx", a.Questions.ExportExcel)
			admin.Post("/questions/import", a.Questions.ImportExcel)
			admin.Get("/questions/{id}", a.Questions.Get)
			admin.Put("/questions/{id}", a.Questions.Update)
			admin.Delete("/questions/{id}", a.Questions.Delete)

			admin.Post("/exams", a.Exams.CreateExam)
			admin.Put("/exams/{id}", a.Exams.UpdateExam)

			admin.Get("/reports/students/{id}", a.Reports.Student)
		})
	})

	return r
}
