package router

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/parisxmas/OxiDB/OxiField/internal/auth"
	"github.com/parisxmas/OxiDB/OxiField/internal/handler"
	mw "github.com/parisxmas/OxiDB/OxiField/internal/middleware"
)

type Handlers struct {
	Auth        *handler.AuthHandler
	Surveys     *handler.SurveyHandler
	Submissions *handler.SubmissionHandler
	Mutations   *handler.MutationHandler
	Sync        *handler.SyncHandler
}

func New(jwtSecret string, logger *slog.Logger, h Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Recovery(logger))
	r.Use(mw.Logger(logger))
	r.Use(mw.CORS)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/auth/login", h.Auth.Login)
		r.Post("/auth/register", h.Auth.Register)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(jwtSecret))

			// Auth
			r.Get("/auth/me", h.Auth.Me)

			// Surveys and locations of interest
			r.Get("/surveys", h.Surveys.List)
			r.Get("/surveys/{surveyId}", h.Surveys.Get)
			r.Get("/surveys/{surveyId}/lois", h.Surveys.ListLocations)
			r.Get("/surveys/{surveyId}/lois/{loiId}", h.Surveys.GetLocation)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole("admin"))
				r.Put("/surveys/{surveyId}", h.Surveys.Put)
				r.Post("/surveys/{surveyId}/sync", h.Surveys.Sync)
				r.Put("/surveys/{surveyId}/lois/{loiId}", h.Surveys.PutLocation)
			})

			// Submissions
			r.Get("/surveys/{surveyId}/lois/{loiId}/tasks/{taskId}/submissions", h.Submissions.List)
			r.Post("/surveys/{surveyId}/lois/{loiId}/tasks/{taskId}/submissions", h.Submissions.Create)
			r.Get("/surveys/{surveyId}/lois/{loiId}/submissions/{subId}", h.Submissions.Get)
			r.Patch("/surveys/{surveyId}/lois/{loiId}/submissions/{subId}", h.Submissions.Update)
			r.Delete("/surveys/{surveyId}/lois/{loiId}/submissions/{subId}", h.Submissions.Delete)

			// Mutation queue
			r.Get("/surveys/{surveyId}/lois/{loiId}/mutations", h.Mutations.List)
			r.Get("/surveys/{surveyId}/lois/{loiId}/mutations/stream", h.Mutations.Stream)

			// Sync
			r.Get("/sync/status", h.Sync.Status)
		})
	})

	return r
}
