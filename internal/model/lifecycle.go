package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/Brownie44l1/civic-classifier/internal/category"
)

// Snapshot is one immutable load of the model and its class mapping.
type Snapshot struct {
	Runner     Runner
	Mapping    *category.ClassMapping
	ModelPath  string
	NumClasses int
	ModelErr   error
	MappingErr error
	LoadedAt   time.Time

	inflight sync.WaitGroup
}

func (s *Snapshot) State() State {
	switch {
	case s.Runner != nil:
		return StateLoaded
	case s.ModelErr != nil:
		return StateLoadFailed
	}
	return StateUnloaded
}

func (s *Snapshot) ModelLoaded() bool    { return s.Runner != nil }
func (s *Snapshot) MappingsLoaded() bool { return s.Mapping != nil }

// OpenFunc opens a runner for the weights at path.
type OpenFunc func(path string, numClasses int) (Runner, error)

// Loader builds snapshots from files on disk.
type Loader struct {
	ModelPath string
	// BestModelPath wins over ModelPath when the file exists.
	BestModelPath string
	// MappingsPath is optional; its num_classes overrides NumClasses.
	MappingsPath string
	NumClasses   int
	Open         OpenFunc
	Logger       *logrus.Logger
}

func (l *Loader) modelPath() string {
	if l.BestModelPath != "" {
		if _, err := os.Stat(l.BestModelPath); err == nil {
			return l.BestModelPath
		}
	}
	return l.ModelPath
}

// Load reads the mapping first so the output size is known, then opens
// the model. Failures are recorded on the snapshot, never returned.
func (l *Loader) Load() *Snapshot {
	snap := &Snapshot{LoadedAt: time.Now(), NumClasses: l.NumClasses}

	if l.MappingsPath != "" {
		m, err := category.LoadMapping(l.MappingsPath)
		switch {
		case err == nil:
			snap.Mapping = m
			snap.NumClasses = m.NumClasses
			l.Logger.WithFields(logrus.Fields{
				"path":        l.MappingsPath,
				"num_classes": m.NumClasses,
			}).Info("class mappings loaded")
		case errors.Is(err, category.ErrNoMapping):
			l.Logger.WithField("path", l.MappingsPath).Warn("class mappings not found, using defaults")
		default:
			snap.MappingErr = err
			l.Logger.WithError(err).WithField("path", l.MappingsPath).Error("failed to load class mappings")
		}
	}

	path := l.modelPath()
	snap.ModelPath = path
	if _, err := os.Stat(path); err != nil {
		snap.ModelErr = fmt.Errorf("model not found at %s: %w", path, err)
		l.Logger.WithField("path", path).Warn("model not found; serving in degraded mode")
		return snap
	}

	runner, err := l.Open(path, snap.NumClasses)
	if err != nil {
		snap.ModelErr = err
		l.Logger.WithError(err).WithField("path", path).Error("failed to load model")
		return snap
	}
	snap.Runner = runner
	l.Logger.WithFields(logrus.Fields{
		"path":        path,
		"num_classes": snap.NumClasses,
	}).Info("model loaded")
	return snap
}

// Registry owns the current snapshot. Reloads swap in a new snapshot; the
// retired one is closed once every request holding it has released it.
type Registry struct {
	load   func() *Snapshot
	logger *logrus.Logger
	onSwap func(*Snapshot)

	mu      sync.RWMutex
	current *Snapshot

	// Callers that arrive before a load starts share it under the key of
	// the pending batch. Loads run one at a time.
	group   singleflight.Group
	loadMu  sync.Mutex
	batchMu sync.Mutex
	batch   uint64
}

func NewRegistry(load func() *Snapshot, logger *logrus.Logger) *Registry {
	return &Registry{
		load:    load,
		logger:  logger,
		current: &Snapshot{},
	}
}

// OnSwap registers a hook called after every snapshot swap.
func (r *Registry) OnSwap(fn func(*Snapshot)) {
	r.onSwap = fn
}

// Current returns the active snapshot for read-only status checks. Callers
// that run inference must use Acquire.
func (r *Registry) Current() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Acquire pins the active snapshot until release is called.
func (r *Registry) Acquire() (*Snapshot, func()) {
	r.mu.RLock()
	s := r.current
	s.inflight.Add(1)
	r.mu.RUnlock()

	var once sync.Once
	return s, func() { once.Do(s.inflight.Done) }
}

// Reload loads a fresh snapshot and swaps it in. Concurrent callers share
// one load, but never one that started before they called, so the result
// reflects the files on disk at the time of the call.
func (r *Registry) Reload(ctx context.Context) (*Snapshot, error) {
	r.batchMu.Lock()
	id := r.batch
	r.batchMu.Unlock()

	ch := r.group.DoChan(strconv.FormatUint(id, 10), func() (interface{}, error) {
		r.loadMu.Lock()
		defer r.loadMu.Unlock()

		r.batchMu.Lock()
		if r.batch == id {
			r.batch++
		}
		r.batchMu.Unlock()

		snap := r.load()
		r.swap(snap)
		return snap, nil
	})

	select {
	case res := <-ch:
		return res.Val.(*Snapshot), res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) swap(next *Snapshot) {
	r.mu.Lock()
	prev := r.current
	r.current = next
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"state":           next.State(),
		"model_loaded":    next.ModelLoaded(),
		"mappings_loaded": next.MappingsLoaded(),
	}).Info("model snapshot swapped")

	if r.onSwap != nil {
		r.onSwap(next)
	}
	if prev != nil && prev.Runner != nil {
		go retire(prev)
	}
}

func retire(s *Snapshot) {
	s.inflight.Wait()
	s.Runner.Close()
}

// Close retires the active snapshot and waits for in-flight requests.
func (r *Registry) Close() {
	r.mu.Lock()
	prev := r.current
	r.current = &Snapshot{}
	r.mu.Unlock()

	if prev.Runner != nil {
		retire(prev)
	}
}
