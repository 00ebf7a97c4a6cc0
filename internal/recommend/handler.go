package recommend

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/skilltrace/backend/internal/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id, err == nil && id > 0
}

// GetRecommendation handles GET /learners/{id}/recommendation.
func (h *Handler) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid learner id"})
		return
	}

	resp, err := h.service.Recommend(r.Context(), learnerID)
	if err != nil {
		log.Printf("WARN: [recommend] recommendation for learner %d: %v", learnerID, err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "recommendation failed"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// SubmitAttempt handles POST /attempts.
func (h *Handler) SubmitAttempt(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.LearnerID <= 0 || req.TaskID <= 0 {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "learner_id and task_id are required"})
		return
	}
	if req.TimeSpentSeconds != nil && *req.TimeSpentSeconds < 0 {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "time_spent_seconds must be non-negative"})
		return
	}

	resp, err := h.service.SubmitAttempt(r.Context(), req)
	if err != nil {
		var nf *models.NotFoundError
		if errors.As(err, &nf) {
			writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: nf.Error()})
			return
		}
		log.Printf("WARN: [recommend] attempt for learner %d task %d: %v", req.LearnerID, req.TaskID, err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "attempt processing failed"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRecommendationHistory handles GET /learners/{id}/recommendations.
func (h *Handler) GetRecommendationHistory(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid learner id"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	recs, err := h.service.History(r.Context(), learnerID, limit)
	if err != nil {
		log.Printf("WARN: [recommend] history for learner %d: %v", learnerID, err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "history lookup failed"})
		return
	}
	if recs == nil {
		recs = []models.Recommendation{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetProfile handles GET /learners/{id}/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid learner id"})
		return
	}

	resp, err := h.service.Profile(r.Context(), learnerID)
	if err != nil {
		log.Printf("WARN: [recommend] profile for learner %d: %v", learnerID, err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "profile lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSkills handles GET /skills: the curriculum with each skill's
// prerequisites resolved.
func (h *Handler) GetSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Graph().SkillList())
}

// GetGraphValidation handles GET /skills/validate.
func (h *Handler) GetGraphValidation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Graph().Validate())
}

// TriggerTraining handles POST /training/run for operator-driven runs.
func (h *Handler) TriggerTraining(w http.ResponseWriter, r *http.Request) {
	if err := h.service.TrainOnce(r.Context()); err != nil {
		log.Printf("WARN: [recommend] manual training run: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "training failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "trained"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
