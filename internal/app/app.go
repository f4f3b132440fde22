package app

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/klauspost/compress/gzhttp"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/civic-classifier/internal/classify"
	"github.com/Brownie44l1/civic-classifier/internal/config"
	"github.com/Brownie44l1/civic-classifier/internal/handlers"
	"github.com/Brownie44l1/civic-classifier/internal/logger"
	"github.com/Brownie44l1/civic-classifier/internal/metrics"
	"github.com/Brownie44l1/civic-classifier/internal/model"
	"github.com/Brownie44l1/civic-classifier/internal/server"
)

// App is the wiring shared by the classifier and predictor binaries.
type App struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics
	Registry *model.Registry
	Pipeline *handlers.Pipeline
}

// LoadEnv reads ENV_FILE (default .env) into the process environment.
// A missing file is not an error.
func LoadEnv() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		logrus.WithField("file", envFile).Debug("no env file found, using system environment variables")
	}
}

// New loads configuration from configDir and builds the model registry. The
// model is not loaded until Load or Run is called.
func New(service, configDir string) (*App, error) {
	cfg, err := config.Load(configDir, service)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	log := logger.New(service, level, cfg.Log.Format)

	opts, err := cfg.Preprocess()
	if err != nil {
		return nil, err
	}

	m := metrics.New(service)
	loader := &model.Loader{
		ModelPath:     cfg.Model.Path,
		BestModelPath: cfg.Model.BestPath,
		MappingsPath:  cfg.Model.MappingsPath,
		NumClasses:    cfg.Model.NumClasses,
		Open:          sessionOpener(cfg.Model, opts.Shape()),
		Logger:        log,
	}

	registry := model.NewRegistry(loader.Load, log)
	registry.OnSwap(func(s *model.Snapshot) {
		m.ModelState(string(s.State()), s.ModelLoaded(), s.MappingsLoaded())
	})

	return &App{
		Config:   cfg,
		Logger:   log,
		Metrics:  m,
		Registry: registry,
		Pipeline: &handlers.Pipeline{
			Registry:    registry,
			Preprocess:  opts,
			Softmax:     cfg.Model.Softmax,
			MaxUploadMB: cfg.Server.MaxUploadMB,
			Logger:      log,
			Metrics:     m,
			Builder:     &classify.Builder{Logger: log, Recorder: m},
		},
	}, nil
}

func sessionOpener(mc config.ModelConfig, shape []int64) model.OpenFunc {
	return func(path string, numClasses int) (model.Runner, error) {
		s, err := model.OpenSession(model.SessionConfig{
			ModelPath:         path,
			InputName:         mc.InputName,
			OutputName:        mc.OutputName,
			InputShape:        shape,
			NumClasses:        numClasses,
			IntraOpThreads:    mc.IntraOpThreads,
			SharedLibraryPath: mc.SharedLibraryPath,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Load performs the startup load. A missing model leaves the service
// degraded rather than failing.
func (a *App) Load(ctx context.Context) error {
	snap, err := a.Registry.Reload(ctx)
	if err != nil {
		return err
	}
	if !snap.ModelLoaded() {
		a.Logger.WithField("state", snap.State()).Warn("starting without a model; inference returns 503")
	}
	return nil
}

// Handler mounts the service routes plus /metrics behind the middleware
// chain.
func (a *App) Handler(register func(*http.ServeMux)) http.Handler {
	mux := http.NewServeMux()
	register(mux)
	if a.Config.Metrics.Enabled {
		mux.Handle("GET "+a.Config.Metrics.Path, a.Metrics.Handler())
	}

	// Observe must receive the same *http.Request the mux sees so the
	// matched pattern is visible to it.
	h := handlers.Chain(mux,
		handlers.RequestID(),
		handlers.Observe(a.Logger, a.Metrics),
		handlers.Recover(a.Logger),
		handlers.CORS(a.Config.Server.AllowedOrigins),
	)
	if a.Config.Server.Gzip {
		h = gzhttp.GzipHandler(h)
	}
	return h
}

// Run loads the model and serves until ctx is cancelled, then releases the
// ONNX runtime.
func (a *App) Run(ctx context.Context, register func(*http.ServeMux)) error {
	defer model.Shutdown()
	defer a.Registry.Close()

	if err := a.Load(ctx); err != nil {
		return err
	}

	srv := server.New(a.Config.Addr(), a.Config.Server, a.Handler(register), a.Logger)
	return srv.Run(ctx)
}
