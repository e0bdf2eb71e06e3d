package httpx

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/docsmith/docsmith/internal/domain/model"
	"github.com/docsmith/docsmith/internal/service"
)

// GitHub webhook delivery headers.
const (
	headerEvent     = "X-GitHub-Event"
	headerDelivery  = "X-GitHub-Delivery"
	headerSignature = "X-Hub-Signature-256"
)

// WebhookHandlers provides HTTP handlers for forge webhook deliveries.
type WebhookHandlers struct {
	Intake *service.IntakeService
	Logger *slog.Logger
}

// HandleGitHub verifies and routes one webhook delivery. The signature is
// checked before the payload is parsed; unverified bodies are never decoded.
func (h *WebhookHandlers) HandleGitHub(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "unreadable_body", Err: err})
		return
	}

	if err := h.Intake.VerifyWebhookSignature(body, r.Header.Get(headerSignature)); err != nil {
		if h.Logger != nil {
			h.Logger.WarnContext(r.Context(), "webhook signature rejected",
				"delivery_id", r.Header.Get(headerDelivery),
				"error", err,
			)
		}
		WriteAppError(w, err)
		return
	}

	event := r.Header.Get(headerEvent)
	deliveryID := r.Header.Get(headerDelivery)

	switch event {
	case "ping":
		WriteJSON(w, http.StatusOK, map[string]string{"status": "pong"})
	case "pull_request":
		h.submitPR(w, r, body, deliveryID)
	case "push":
		h.submitPush(w, r, body, deliveryID)
	default:
		// Unhandled event types are acknowledged so the forge does not retry.
		WriteJSON(w, http.StatusOK, &service.SubmitOutcome{
			Accepted: false,
			Reason:   "event type not handled",
		})
	}
}

func (h *WebhookHandlers) submitPR(w http.ResponseWriter, r *http.Request, body []byte, deliveryID string) {
	event, err := service.DecodePREvent(body)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_payload", Err: err})
		return
	}

	outcome, err := h.Intake.SubmitPREvent(r.Context(), event)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	h.writeOutcome(w, r, outcome, deliveryID)
}

func (h *WebhookHandlers) submitPush(w http.ResponseWriter, r *http.Request, body []byte, deliveryID string) {
	event, err := service.DecodePushEvent(body)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_payload", Err: err})
		return
	}

	outcome, err := h.Intake.SubmitPushEvent(r.Context(), event)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	h.writeOutcome(w, r, outcome, deliveryID)
}

func (h *WebhookHandlers) writeOutcome(w http.ResponseWriter, r *http.Request, outcome *service.SubmitOutcome, deliveryID string) {
	if outcome.Accepted {
		if h.Logger != nil {
			h.Logger.InfoContext(r.Context(), "webhook accepted",
				"delivery_id", deliveryID,
				"job_id", outcome.Job.ID,
				"job_type", outcome.Job.Type,
			)
		}
		WriteJSON(w, http.StatusAccepted, outcome)
		return
	}
	WriteJSON(w, http.StatusOK, outcome)
}

// IngestRequest triggers a full-repository ingestion outside the webhook flow.
type IngestRequest struct {
	RepoID        int64  `json:"repo_id"`
	RepoFullName  string `json:"repo_full_name"`
	CloneURL      string `json:"clone_url,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

// Repository converts the request to the repository shape intake expects.
func (req IngestRequest) Repository() model.WebhookRepository {
	return model.WebhookRepository{
		ID:            req.RepoID,
		FullName:      req.RepoFullName,
		CloneURL:      req.CloneURL,
		DefaultBranch: req.DefaultBranch,
	}
}

// Ingest handles manual initial-ingestion requests.
func (h *WebhookHandlers) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.RepoID == 0 || req.RepoFullName == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "validation_failed",
			Err:     errors.New("repo_id and repo_full_name are required"),
		})
		return
	}

	outcome, err := h.Intake.SubmitIngestion(r.Context(), req.Repository(), req.DefaultBranch)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, outcome)
}
