package handlers

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/civic-classifier/internal/category"
	"github.com/Brownie44l1/civic-classifier/internal/preprocess"
)

const (
	classifierServiceName = "SIH AI Classification Service"
	classifierVersion     = "1.0.0"
)

// ClassifierHandler serves the Keras-exported model behind /classify.
type ClassifierHandler struct {
	*Pipeline
	table *category.Table
}

func NewClassifierHandler(p *Pipeline, table *category.Table) *ClassifierHandler {
	return &ClassifierHandler{Pipeline: p, table: table}
}

func (h *ClassifierHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/classify", h.Classify)
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/categories", h.Categories)
}

type classifierError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func classifierFail(w http.ResponseWriter, message string, status int) {
	respondJSON(w, classifierError{Success: false, Error: message}, status)
}

func (h *ClassifierHandler) Classify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	snap, release := h.Registry.Acquire()
	defer release()

	if !snap.ModelLoaded() {
		classifierFail(w, "Model not loaded. Please check server logs.", http.StatusServiceUnavailable)
		return
	}

	data, filename, err := h.readUpload(w, r, "image")
	switch {
	case errors.Is(err, errNoUpload):
		classifierFail(w, "No image provided in request", http.StatusBadRequest)
		return
	case errors.Is(err, errEmptyUpload):
		classifierFail(w, "Empty image file", http.StatusBadRequest)
		return
	case err != nil:
		classifierFail(w, err.Error(), http.StatusBadRequest)
		return
	}

	log := requestLogger(h.Logger, r)
	log.WithFields(logrus.Fields{"filename": filename, "size": len(data)}).Debug("processing image")

	pred, err := h.infer(snap, data)
	if err != nil {
		if errors.Is(err, preprocess.ErrInvalidImage) {
			log.WithError(err).Info("validation error")
			classifierFail(w, "Image preprocessing failed: "+invalidImageReason(err), http.StatusBadRequest)
			return
		}
		h.logInternal(r, err, "classification failed")
		classifierFail(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	result := h.Builder.Classification(pred, h.table)
	log.WithFields(logrus.Fields{
		"category":   result.Category,
		"confidence": result.Confidence,
	}).Info("classification complete")

	respondJSON(w, map[string]interface{}{
		"success": true,
		"data":    result,
	}, http.StatusOK)
}

func (h *ClassifierHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	snap := h.Registry.Current()
	respondJSON(w, map[string]interface{}{
		"status":       "healthy",
		"service":      classifierServiceName,
		"model_loaded": snap.ModelLoaded(),
		"model_state":  snap.State(),
		"categories":   h.table.Codes(),
		"version":      classifierVersion,
	}, http.StatusOK)
}

func (h *ClassifierHandler) Categories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	respondJSON(w, map[string]interface{}{
		"success":     true,
		"categories":  h.table.Index(),
		"priorities":  h.table.Priorities(),
		"departments": h.table.Departments(),
	}, http.StatusOK)
}
