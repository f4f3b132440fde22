package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// SessionConfig describes an exported ONNX classifier.
type SessionConfig struct {
	ModelPath         string
	InputName         string
	OutputName        string
	InputShape        []int64
	NumClasses        int
	IntraOpThreads    int
	SharedLibraryPath string
}

// Session runs an ONNX model through preallocated tensors. Runs are
// serialised because the tensors are shared.
type Session struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputLen     int

	mu sync.Mutex
}

var envMu sync.Mutex

func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath = resolveSharedLibraryPath(libPath); libPath == "" {
		return errors.New("onnxruntime shared library not found; set model.shared_library_path or ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// Shutdown releases the process-wide ONNX environment.
func Shutdown() {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		_ = ort.DestroyEnvironment()
	}
}

func OpenSession(cfg SessionConfig) (*Session, error) {
	if cfg.NumClasses <= 0 {
		return nil, fmt.Errorf("invalid class count %d", cfg.NumClasses)
	}
	if len(cfg.InputShape) == 0 {
		return nil, errors.New("input shape is empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", cfg.ModelPath, err)
	}
	if err := initEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	inputShape := ort.NewShape(cfg.InputShape...)
	outputShape := ort.NewShape(1, int64(cfg.NumClasses))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	var options *ort.SessionOptions
	if cfg.IntraOpThreads > 0 {
		options, err = ort.NewSessionOptions()
		if err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, fmt.Errorf("failed to create session options: %w", err)
		}
		defer options.Destroy()
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor},
		options)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Session{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputLen:     int(inputShape.FlattenedSize()),
	}, nil
}

func (s *Session) Run(input []float32) ([]float32, error) {
	if len(input) != s.inputLen {
		return nil, fmt.Errorf("expected %d input values, got %d", s.inputLen, len(input))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.inputTensor.GetData(), input)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	out := make([]float32, len(s.outputTensor.GetData()))
	copy(out, s.outputTensor.GetData())
	return out, nil
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
}

// resolveSharedLibraryPath picks the configured library, then the
// ONNXRUNTIME_SHARED_LIBRARY_PATH env var, then common install locations.
func resolveSharedLibraryPath(configured string) string {
	if p := strings.TrimSpace(configured); p != "" {
		return p
	}
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.so",
		"libonnxruntime.dylib",
		"onnxruntime.dll",
	}
	dirs := []string{
		".",
		"lib",
		"/usr/local/lib",
		"/usr/lib",
		"/opt/homebrew/lib",
	}
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
