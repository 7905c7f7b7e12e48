package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parisxmas/OxiDB/OxiField/internal/models"
	"github.com/parisxmas/OxiDB/OxiField/internal/service"
)

type SurveyHandler struct {
	svc *service.LocationOfInterestService
}

func NewSurveyHandler(svc *service.LocationOfInterestService) *SurveyHandler {
	return &SurveyHandler{svc: svc}
}

func (h *SurveyHandler) List(w http.ResponseWriter, r *http.Request) {
	surveys, err := h.svc.ListSurveys(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, surveys)
}

func (h *SurveyHandler) Get(w http.ResponseWriter, r *http.Request) {
	survey, err := h.svc.GetSurvey(r.Context(), chi.URLParam(r, "surveyId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, survey)
}

// Put imports a survey definition. The id in the path wins over the body.
func (h *SurveyHandler) Put(w http.ResponseWriter, r *http.Request) {
	var survey models.Survey
	if err := readJSON(r, &survey); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	survey.ID = chi.URLParam(r, "surveyId")
	if err := h.svc.SaveSurvey(r.Context(), &survey); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, survey)
}

// Sync pulls the survey and its locations of interest from the remote store.
func (h *SurveyHandler) Sync(w http.ResponseWriter, r *http.Request) {
	survey, n, err := h.svc.SyncSurvey(r.Context(), chi.URLParam(r, "surveyId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"survey":              survey,
		"locationsOfInterest": n,
	})
}

func (h *SurveyHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	lois, err := h.svc.ListLocationsOfInterest(r.Context(), chi.URLParam(r, "surveyId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lois)
}

func (h *SurveyHandler) GetLocation(w http.ResponseWriter, r *http.Request) {
	surveyID, loiID := chi.URLParam(r, "surveyId"), chi.URLParam(r, "loiId")
	loi, err := h.svc.GetLocationOfInterest(r.Context(), surveyID, loiID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if loi == nil {
		writeError(w, http.StatusNotFound, "location of interest not found")
		return
	}
	writeJSON(w, http.StatusOK, loi)
}

func (h *SurveyHandler) PutLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID     string  `json:"jobId"`
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	loi := &models.LocationOfInterest{
		ID:        chi.URLParam(r, "loiId"),
		SurveyID:  chi.URLParam(r, "surveyId"),
		Job:       models.Job{ID: req.JobID},
		Name:      req.Name,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}
	if err := h.svc.SaveLocationOfInterest(r.Context(), loi); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loi)
}
