package handlers

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/civic-classifier/internal/category"
	"github.com/Brownie44l1/civic-classifier/internal/preprocess"
)

const (
	predictorServiceName = "Urban Issues Classifier API"
	predictorDevice      = "cpu"
)

// PredictorHandler serves the ResNet model and its class mapping.
type PredictorHandler struct {
	*Pipeline
}

func NewPredictorHandler(p *Pipeline) *PredictorHandler {
	return &PredictorHandler{Pipeline: p}
}

func (h *PredictorHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/{$}", h.Root)
	mux.HandleFunc("/predict", h.Predict)
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/categories", h.Categories)
	mux.HandleFunc("/reload", h.Reload)
}

type errorDetail struct {
	Detail string `json:"detail"`
}

func detail(w http.ResponseWriter, message string, status int) {
	respondJSON(w, errorDetail{Detail: message}, status)
}

func (h *PredictorHandler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	snap, release := h.Registry.Acquire()
	defer release()

	if !snap.ModelLoaded() {
		detail(w, "Model not loaded. Please train the model first.", http.StatusServiceUnavailable)
		return
	}

	data, filename, err := h.readUpload(w, r, "file")
	switch {
	case errors.Is(err, errNoUpload):
		detail(w, "No file uploaded", http.StatusBadRequest)
		return
	case errors.Is(err, errEmptyUpload):
		detail(w, "Uploaded file is empty", http.StatusBadRequest)
		return
	case err != nil:
		detail(w, err.Error(), http.StatusBadRequest)
		return
	}

	log := requestLogger(h.Logger, r).WithField("filename", filename)

	pred, err := h.infer(snap, data)
	if err != nil {
		if errors.Is(err, preprocess.ErrInvalidImage) {
			log.WithError(err).Info("rejected upload")
			detail(w, "Invalid image: "+invalidImageReason(err), http.StatusBadRequest)
			return
		}
		h.logInternal(r, err, "prediction failed")
		detail(w, "Prediction error", http.StatusInternalServerError)
		return
	}

	result := h.Builder.Prediction(pred, snap.Mapping)
	log.WithFields(logrus.Fields{
		"class_index": result.ClassIndex,
		"category":    result.Category,
		"confidence":  result.Confidence,
	}).Info("prediction complete")

	respondJSON(w, result, http.StatusOK)
}

func (h *PredictorHandler) Root(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	snap := h.Registry.Current()
	respondJSON(w, map[string]interface{}{
		"status":          "running",
		"service":         predictorServiceName,
		"model_loaded":    snap.ModelLoaded(),
		"mappings_loaded": snap.MappingsLoaded(),
		"device":          predictorDevice,
	}, http.StatusOK)
}

func (h *PredictorHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	snap := h.Registry.Current()

	status := "healthy"
	if !snap.ModelLoaded() {
		status = "degraded"
	}
	categories := []string{}
	if snap.MappingsLoaded() {
		categories = category.DescribedCodes()
	}

	respondJSON(w, map[string]interface{}{
		"status":          status,
		"model_loaded":    snap.ModelLoaded(),
		"mappings_loaded": snap.MappingsLoaded(),
		"model_state":     snap.State(),
		"device":          predictorDevice,
		"categories":      categories,
	}, http.StatusOK)
}

type categoryEntry struct {
	Index          int               `json:"index"`
	Category       string            `json:"category"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Department     string            `json:"department"`
	Priority       category.Priority `json:"priority"`
	LegacyCategory string            `json:"legacy_category"`
}

func (h *PredictorHandler) Categories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	snap := h.Registry.Current()
	if !snap.MappingsLoaded() {
		respondJSON(w, map[string]interface{}{
			"categories": []categoryEntry{},
			"message":    "No mappings loaded",
		}, http.StatusOK)
		return
	}

	indices := snap.Mapping.Indices()
	entries := make([]categoryEntry, 0, len(indices))
	for _, idx := range indices {
		e, _ := snap.Mapping.Lookup(idx)
		entries = append(entries, categoryEntry{
			Index:          idx,
			Category:       e.Category,
			Name:           e.OriginalName,
			Description:    category.Describe(e.Category),
			Department:     e.Department,
			Priority:       e.Priority,
			LegacyCategory: category.Legacy(e.Category),
		})
	}
	respondJSON(w, map[string]interface{}{"categories": entries}, http.StatusOK)
}

// Reload reopens the model and mapping from disk. Requests already holding
// the old snapshot finish on it.
func (h *PredictorHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	snap, err := h.Registry.Reload(r.Context())
	if err != nil {
		h.logInternal(r, err, "reload failed")
		detail(w, "Reload error", http.StatusInternalServerError)
		return
	}

	fields := logrus.Fields{"state": snap.State()}
	if snap.ModelErr != nil {
		fields["model_error"] = snap.ModelErr.Error()
	}
	if snap.MappingErr != nil && !errors.Is(snap.MappingErr, category.ErrNoMapping) {
		fields["mapping_error"] = snap.MappingErr.Error()
	}
	requestLogger(h.Logger, r).WithFields(fields).Info("reload requested")

	respondJSON(w, map[string]interface{}{
		"status":          "reloaded",
		"model_loaded":    snap.ModelLoaded(),
		"mappings_loaded": snap.MappingsLoaded(),
	}, http.StatusOK)
}
