package httpx

import (
	"log/slog"
	"net/http"
)

// RouterServices holds the services and handlers the HTTP router needs.
type RouterServices struct {
	Webhooks *WebhookHandlers
	Jobs     *JobHandlers
	// MaxBodyBytes caps request body size; zero disables the cap.
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	registerWebhookRoutes(mux, services.Webhooks)
	registerJobRoutes(mux, services.Jobs)
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	var handler http.Handler = mux
	handler = MaxBody(services.MaxBodyBytes)(handler)
	if services.Logger != nil {
		handler = Logging(services.Logger)(handler)
		handler = Recover(services.Logger)(handler)
	}
	return handler
}

func registerWebhookRoutes(mux *http.ServeMux, h *WebhookHandlers) {
	mux.HandleFunc("POST /api/webhooks/github", h.HandleGitHub)
	mux.HandleFunc("POST /api/repos/ingest", h.Ingest)
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/jobs", h.CreateJob)
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/stats", h.Stats)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /api/jobs/{id}/delivery", h.GetDelivery)
	mux.HandleFunc("GET /api/jobs/{id}/result", h.GetResult)
	mux.HandleFunc("GET /api/repos/{repo_id}/results", h.ListRepoResults)
}
