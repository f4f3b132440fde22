package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/civic-classifier/internal/category"
	"github.com/Brownie44l1/civic-classifier/internal/model"
	"github.com/Brownie44l1/civic-classifier/internal/preprocess"
)

var datasetFolders = []string{
	"Potholes and RoadCracks",
	"Garbage",
	"DamagedElectricalPoles",
	"Damaged concrete structures",
	"DamagedRoadSigns",
	"DeadAnimalsPollution",
	"FallenTrees",
	"Graffitti",
	"IllegalParking",
}

func testMapping(t *testing.T) *category.ClassMapping {
	t.Helper()
	m, err := category.BuildMapping(datasetFolders)
	require.NoError(t, err)
	return m
}

func newPredictorServer(t *testing.T, snap *model.Snapshot) *http.ServeMux {
	t.Helper()
	h := NewPredictorHandler(newPipeline(registryWith(t, snap), preprocess.TorchOptions(), true))
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func getJSON(t *testing.T, mux http.Handler, method, target string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body map[string]interface{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec.Code, body
}

func TestPredict_Success(t *testing.T) {
	// Sorted folder order puts "Potholes and RoadCracks" last.
	logits := []float32{0.1, 0.3, 0.2, -1, 0, 1.5, -2, 0.4, 4}
	runner := &fakeRunner{out: logits}
	mux := newPredictorServer(t, &model.Snapshot{Runner: runner, Mapping: testMapping(t), NumClasses: 9})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "road.png", pngBytes(t)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Success        bool    `json:"success"`
		ClassIndex     int     `json:"class_index"`
		Category       string  `json:"category"`
		CategoryName   string  `json:"category_name"`
		Description    string  `json:"description"`
		Confidence     float64 `json:"confidence"`
		Department     string  `json:"department"`
		Priority       string  `json:"priority"`
		LegacyCategory string  `json:"legacy_category"`
		AllPredictions []struct {
			Category   string  `json:"category"`
			Confidence float64 `json:"confidence"`
		} `json:"all_predictions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.True(t, body.Success)
	assert.Equal(t, 8, body.ClassIndex)
	assert.Equal(t, "ROAD_POTHOLE", body.Category)
	assert.Equal(t, "Potholes and RoadCracks", body.CategoryName)
	assert.Equal(t, "Road damage including potholes and cracks", body.Description)
	assert.Equal(t, "Public Works Department (PWD)", body.Department)
	assert.Equal(t, "high", body.Priority)
	assert.Equal(t, "pothole", body.LegacyCategory)
	assert.True(t, body.Confidence > 0 && body.Confidence <= 100)

	require.Len(t, body.AllPredictions, 5)
	assert.Equal(t, "ROAD_POTHOLE", body.AllPredictions[0].Category)
	assert.Equal(t, "GARBAGE", body.AllPredictions[1].Category)
	for i := 1; i < len(body.AllPredictions); i++ {
		assert.GreaterOrEqual(t, body.AllPredictions[i-1].Confidence, body.AllPredictions[i].Confidence)
	}
}

func TestPredict_WithoutMapping(t *testing.T) {
	runner := &fakeRunner{out: []float32{0, 0, 3}}
	mux := newPredictorServer(t, &model.Snapshot{Runner: runner, NumClasses: 3})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "a.png", pngBytes(t)))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UNKNOWN", body["category"])
	assert.Equal(t, "Unknown", body["category_name"])
	assert.Equal(t, "other", body["legacy_category"])
	assert.Empty(t, body["all_predictions"])
}

func TestPredict_ModelNotLoaded(t *testing.T) {
	mux := newPredictorServer(t, &model.Snapshot{Mapping: testMapping(t)})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "a.png", []byte("garbage bytes")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"detail":"Model not loaded. Please train the model first."}`, rec.Body.String())
}

func TestPredict_BadUploads(t *testing.T) {
	tests := []struct {
		name  string
		field string
		file  string
		data  []byte
	}{
		{name: "wrong field", field: "image", file: "a.png", data: []byte{1}},
		{name: "empty filename", field: "file", file: "", data: []byte{1}},
		{name: "empty content", field: "file", file: "a.png"},
		{name: "undecodable", field: "file", file: "a.png", data: []byte("%PDF-1.4")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{out: make([]float32, 9)}
			mux := newPredictorServer(t, &model.Snapshot{Runner: runner, Mapping: testMapping(t)})

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, uploadRequest(t, "/predict", tt.field, tt.file, tt.data))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body errorDetail
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Detail)
			assert.Zero(t, runner.calls.Load())
		})
	}
}

func TestPredict_InvalidImageMessage(t *testing.T) {
	mux := newPredictorServer(t, &model.Snapshot{Runner: &fakeRunner{out: make([]float32, 9)}})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, uploadRequest(t, "/predict", "file", "scan.pdf", []byte("%PDF-1.4")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"Invalid image: image: unknown format"}`, rec.Body.String())
}

func TestPredictorRoot(t *testing.T) {
	mux := newPredictorServer(t, &model.Snapshot{Runner: &fakeRunner{}})

	code, body := getJSON(t, mux, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "Urban Issues Classifier API", body["service"])
	assert.Equal(t, true, body["model_loaded"])
	assert.Equal(t, false, body["mappings_loaded"])
	assert.Equal(t, "cpu", body["device"])

	code, _ = getJSON(t, mux, http.MethodGet, "/does-not-exist")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPredictorHealth(t *testing.T) {
	mux := newPredictorServer(t, &model.Snapshot{ModelErr: os.ErrNotExist})

	code, body := getJSON(t, mux, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["model_loaded"])
	assert.Equal(t, "load_failed", body["model_state"])
	assert.Empty(t, body["categories"])

	mux = newPredictorServer(t, &model.Snapshot{Runner: &fakeRunner{}, Mapping: testMapping(t)})
	_, body = getJSON(t, mux, http.MethodGet, "/health")
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "loaded", body["model_state"])
	assert.Len(t, body["categories"], len(category.CategoryDescriptions))
}

func TestPredictorCategories(t *testing.T) {
	mux := newPredictorServer(t, &model.Snapshot{})
	_, body := getJSON(t, mux, http.MethodGet, "/categories")
	assert.Equal(t, "No mappings loaded", body["message"])
	assert.Empty(t, body["categories"])

	mux = newPredictorServer(t, &model.Snapshot{Mapping: testMapping(t)})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/categories", nil))

	var resp struct {
		Categories []categoryEntry `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Categories, 9)
	for i, c := range resp.Categories {
		assert.Equal(t, i, c.Index)
	}
	assert.Equal(t, "INFRASTRUCTURE", resp.Categories[0].Category)
	assert.Equal(t, "Damaged concrete structures", resp.Categories[0].Name)
	assert.Equal(t, "traffic", resp.Categories[2].LegacyCategory)
}

func TestPredictorReload_TracksFilesOnDisk(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "civic_classifier.onnx")
	mappingsPath := filepath.Join(dir, "class_mappings.json")

	var opened []string
	loader := &model.Loader{
		ModelPath:     modelPath,
		BestModelPath: filepath.Join(dir, "civic_classifier_best.onnx"),
		MappingsPath:  mappingsPath,
		NumClasses:    category.DefaultClasses,
		Logger:        quietLogger(),
		Open: func(path string, numClasses int) (model.Runner, error) {
			opened = append(opened, path)
			return &fakeRunner{out: make([]float32, numClasses)}, nil
		},
	}
	reg := model.NewRegistry(loader.Load, quietLogger())
	h := NewPredictorHandler(newPipeline(reg, preprocess.TorchOptions(), true))
	mux := http.NewServeMux()
	h.Register(mux)

	code, body := getJSON(t, mux, http.MethodPost, "/reload")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "reloaded", body["status"])
	assert.Equal(t, false, body["model_loaded"])
	assert.Equal(t, false, body["mappings_loaded"])

	require.NoError(t, os.WriteFile(modelPath, []byte("onnx"), 0o644))
	require.NoError(t, category.SaveMapping(mappingsPath, testMapping(t)))

	_, body = getJSON(t, mux, http.MethodPost, "/reload")
	assert.Equal(t, true, body["model_loaded"])
	assert.Equal(t, true, body["mappings_loaded"])
	assert.Equal(t, []string{modelPath}, opened)

	_, health := getJSON(t, mux, http.MethodGet, "/health")
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, true, health["mappings_loaded"])

	code, _ = getJSON(t, mux, http.MethodGet, "/reload")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}
