package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parisxmas/OxiDB/OxiField/internal/models"
	"github.com/parisxmas/OxiDB/OxiField/internal/service"
)

type SubmissionHandler struct {
	svc *service.SubmissionService
}

func NewSubmissionHandler(svc *service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{svc: svc}
}

type deltasRequest struct {
	Deltas []models.ResponseDelta `json:"deltas"`
}

type mutationResponse struct {
	Submission *models.Submission         `json:"submission,omitempty"`
	Mutation   *models.SubmissionMutation `json:"mutation"`
}

func (h *SubmissionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.svc.GetSubmissions(r.Context(),
		chi.URLParam(r, "surveyId"), chi.URLParam(r, "loiId"), chi.URLParam(r, "taskId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"submissions": subs,
		"total":       len(subs),
	})
}

// Create starts a submission for the task and stores it with the given
// responses as a CREATE mutation.
func (h *SubmissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req deltasRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sub, err := h.svc.CreateSubmission(r.Context(),
		chi.URLParam(r, "surveyId"), chi.URLParam(r, "loiId"), chi.URLParam(r, "taskId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := resolveDeltas(&sub.Task, req.Deltas); err != nil {
		writeServiceError(w, err)
		return
	}
	m, err := h.svc.CreateOrUpdateSubmission(r.Context(), sub, req.Deltas, true)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	sub.Responses = sub.Responses.Apply(req.Deltas)
	writeJSON(w, http.StatusCreated, mutationResponse{Submission: sub, Mutation: m})
}

func (h *SubmissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.load(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// Update records the deltas as an UPDATE mutation.
func (h *SubmissionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req deltasRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Deltas) == 0 {
		writeError(w, http.StatusBadRequest, "deltas are required")
		return
	}
	sub, err := h.load(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := resolveDeltas(&sub.Task, req.Deltas); err != nil {
		writeServiceError(w, err)
		return
	}
	m, err := h.svc.CreateOrUpdateSubmission(r.Context(), sub, req.Deltas, false)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	sub.Responses = sub.Responses.Apply(req.Deltas)
	sub.LastModified = models.AuditInfo{UserID: m.UserID, ClientTimestamp: m.ClientTimestamp}
	writeJSON(w, http.StatusOK, mutationResponse{Submission: sub, Mutation: m})
}

func (h *SubmissionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sub, err := h.load(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	m, err := h.svc.DeleteSubmission(r.Context(), sub)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Mutation: m})
}

func (h *SubmissionHandler) load(r *http.Request) (*models.Submission, error) {
	return h.svc.GetSubmission(r.Context(),
		chi.URLParam(r, "surveyId"), chi.URLParam(r, "loiId"), chi.URLParam(r, "subId"))
}

// resolveDeltas checks every delta against the task's fields and fills in
// the field type from the task definition.
func resolveDeltas(task *models.Task, deltas []models.ResponseDelta) error {
	for i := range deltas {
		field, ok := task.Field(deltas[i].FieldID)
		if !ok {
			return fmt.Errorf("%w: field %q is not part of task %s", service.ErrInvalidInput, deltas[i].FieldID, task.ID)
		}
		deltas[i].FieldType = field.Type
	}
	return nil
}
