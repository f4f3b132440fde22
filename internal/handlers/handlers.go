package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/civic-classifier/internal/classify"
	"github.com/Brownie44l1/civic-classifier/internal/metrics"
	"github.com/Brownie44l1/civic-classifier/internal/model"
	"github.com/Brownie44l1/civic-classifier/internal/preprocess"
)

var (
	errNoUpload    = errors.New("no file uploaded")
	errEmptyUpload = errors.New("empty upload")
)

// Pipeline is the inference path shared by both services.
type Pipeline struct {
	Registry    *model.Registry
	Preprocess  preprocess.Options
	Softmax     bool
	MaxUploadMB int64
	Logger      *logrus.Logger
	Metrics     *metrics.Metrics
	Builder     *classify.Builder
}

func (p *Pipeline) maxUploadBytes() int64 {
	if p.MaxUploadMB <= 0 {
		return 10 << 20
	}
	return p.MaxUploadMB << 20
}

// readUpload returns the bytes of the named multipart file field.
func (p *Pipeline) readUpload(w http.ResponseWriter, r *http.Request, field string) ([]byte, string, error) {
	limit := p.maxUploadBytes()
	// Leave room for the multipart envelope around the file.
	bodyLimit := limit + 1<<20
	if r.ContentLength > bodyLimit {
		return nil, "", fmt.Errorf("upload exceeds %d MB", limit>>20)
	}
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", fmt.Errorf("upload exceeds %d MB", limit>>20)
		}
		return nil, "", errNoUpload
	}
	// The server only cleans up the form of the request it created, and
	// middleware may have replaced r with a copy.
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", errNoUpload
	}
	defer file.Close()

	if header.Filename == "" {
		return nil, "", errNoUpload
	}
	if header.Size > limit {
		return nil, header.Filename, fmt.Errorf("upload exceeds %d MB", limit>>20)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, header.Filename, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, header.Filename, errEmptyUpload
	}
	return data, header.Filename, nil
}

// infer decodes, preprocesses and classifies one image with the pinned
// snapshot.
func (p *Pipeline) infer(snap *model.Snapshot, data []byte) (*model.Prediction, error) {
	start := time.Now()
	input, err := preprocess.FromBytes(data, p.Preprocess)
	if err != nil {
		return nil, err
	}

	pred, err := model.Infer(snap.Runner, input, p.Softmax)
	if err != nil {
		return nil, err
	}
	if p.Metrics != nil {
		p.Metrics.ObserveInference(time.Since(start))
	}
	return pred, nil
}

func (p *Pipeline) logInternal(r *http.Request, err error, msg string) {
	requestLogger(p.Logger, r).
		WithError(err).
		WithField("stack", string(debug.Stack())).
		Error(msg)
}

// invalidImageReason strips the sentinel prefix from a preprocessing error.
func invalidImageReason(err error) string {
	return strings.TrimPrefix(err.Error(), preprocess.ErrInvalidImage.Error()+": ")
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
