package feedback

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

// Submit handles POST /feedback.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	fb, err := h.service.Submit(r.Context(), req)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: verr.Error()})
			return
		}
		var nf *models.NotFoundError
		if errors.As(err, &nf) {
			writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: nf.Error()})
			return
		}
		log.Printf("WARN: [feedback] submit for recommendation %d: %v", req.RecommendationID, err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "feedback submission failed"})
		return
	}
	writeJSON(w, http.StatusCreated, fb)
}

// ListForRecommendation handles GET /recommendations/{id}/feedback.
func (h *Handler) ListForRecommendation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid recommendation id"})
		return
	}

	rows, err := h.service.ForRecommendation(r.Context(), id)
	if err != nil {
		log.Printf("WARN: [feedback] list for recommendation %d: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "feedback lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// Stats handles GET /feedback/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		log.Printf("WARN: [feedback] stats: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "stats lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
