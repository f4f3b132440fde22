package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nfnt/resize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/civic-classifier/internal/preprocess"
)

func TestLoad_PredictorDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), Predictor)
	require.NoError(t, err)

	assert.Equal(t, Predictor, cfg.Service)
	assert.Equal(t, "0.0.0.0:8001", cfg.Addr())
	assert.Equal(t, "model/civic_classifier.onnx", cfg.Model.Path)
	assert.Equal(t, "model/civic_classifier_best.onnx", cfg.Model.BestPath)
	assert.Equal(t, "model/class_mappings.json", cfg.Model.MappingsPath)
	assert.Equal(t, 9, cfg.Model.NumClasses)
	assert.Equal(t, preprocess.NCHW, cfg.Model.Layout)
	assert.True(t, cfg.Model.Softmax)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)

	opts, err := cfg.Preprocess()
	require.NoError(t, err)
	assert.Equal(t, preprocess.TorchOptions(), opts)
}

func TestLoad_ClassifierDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), Classifier)
	require.NoError(t, err)

	assert.Equal(t, 5001, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Model.NumClasses)
	assert.Equal(t, "", cfg.Model.MappingsPath)
	assert.False(t, cfg.Model.Softmax)

	opts, err := cfg.Preprocess()
	require.NoError(t, err)
	assert.Equal(t, preprocess.KerasOptions(), opts)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	doc := `server:
  port: 9100
  read_timeout: 5s
model:
  path: /srv/models/a.onnx
  layout: NHWC
  interpolation: lanczos3
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "predictor.yaml"), []byte(doc), 0o644))
	t.Setenv("PREDICTOR_SERVER_PORT", "9200")
	t.Setenv("PREDICTOR_MODEL_MEAN", "0.5,0.5,0.5")
	t.Setenv("PREDICTOR_SERVER_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(dir, Predictor)
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/srv/models/a.onnx", cfg.Model.Path)
	assert.Equal(t, preprocess.NHWC, cfg.Model.Layout)
	assert.Equal(t, []float32{0.5, 0.5, 0.5}, cfg.Model.Mean)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)

	opts, err := cfg.Preprocess()
	require.NoError(t, err)
	assert.Equal(t, resize.Lanczos3, opts.Interpolation)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(t.TempDir(), "trainer")
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "classifier.yaml"), []byte("model:\n  layout: hwc\n"), 0o644))
	_, err = Load(dir, Classifier)
	assert.Error(t, err)

	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "classifier.yaml"), []byte("model:\n  std: [1, 0, 1]\n  interpolation: sinc\n"), 0o644))
	_, err = Load(dir, Classifier)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "std")
	assert.Contains(t, err.Error(), "sinc")
}
