package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/Brownie44l1/civic-classifier/internal/preprocess"
)

const (
	Classifier = "classifier"
	Predictor  = "predictor"
)

type Config struct {
	Service string        `mapstructure:"-"`
	Server  ServerConfig  `mapstructure:"server"`
	Model   ModelConfig   `mapstructure:"model"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	MaxUploadMB     int64         `mapstructure:"max_upload_mb"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	Gzip            bool          `mapstructure:"gzip"`
}

type ModelConfig struct {
	Path              string            `mapstructure:"path"`
	BestPath          string            `mapstructure:"best_path"`
	MappingsPath      string            `mapstructure:"mappings_path"`
	CategoriesPath    string            `mapstructure:"categories_path"`
	NumClasses        int               `mapstructure:"num_classes"`
	InputName         string            `mapstructure:"input_name"`
	OutputName        string            `mapstructure:"output_name"`
	ImageSize         int               `mapstructure:"image_size"`
	Layout            preprocess.Layout `mapstructure:"layout"`
	Mean              []float32         `mapstructure:"mean"`
	Std               []float32         `mapstructure:"std"`
	Interpolation     string            `mapstructure:"interpolation"`
	Softmax           bool              `mapstructure:"softmax"`
	IntraOpThreads    int               `mapstructure:"intra_op_threads"`
	SharedLibraryPath string            `mapstructure:"shared_library_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Preprocess builds the image pipeline options from the model section.
func (c *Config) Preprocess() (preprocess.Options, error) {
	interp, err := preprocess.ParseInterpolation(c.Model.Interpolation)
	if err != nil {
		return preprocess.Options{}, err
	}
	opts := preprocess.Options{
		Size:          c.Model.ImageSize,
		Layout:        c.Model.Layout,
		Interpolation: interp,
	}
	copy(opts.Mean[:], c.Model.Mean)
	copy(opts.Std[:], c.Model.Std)
	return opts, nil
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.gzip", true)

	v.SetDefault("model.image_size", 224)
	v.SetDefault("model.interpolation", "bilinear")
	v.SetDefault("model.intra_op_threads", 0)
	v.SetDefault("model.shared_library_path", "")
	v.SetDefault("model.best_path", "")
	v.SetDefault("model.mappings_path", "")
	v.SetDefault("model.categories_path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	switch service {
	case Classifier:
		v.SetDefault("server.port", 5001)
		v.SetDefault("model.path", "model/civic_issues_model.onnx")
		v.SetDefault("model.num_classes", 8)
		v.SetDefault("model.input_name", "input_1")
		v.SetDefault("model.output_name", "output_1")
		v.SetDefault("model.layout", string(preprocess.NHWC))
		v.SetDefault("model.mean", []float32{0, 0, 0})
		v.SetDefault("model.std", []float32{1, 1, 1})
		v.SetDefault("model.softmax", false)
	case Predictor:
		v.SetDefault("server.port", 8001)
		v.SetDefault("model.path", "model/civic_classifier.onnx")
		v.SetDefault("model.best_path", "model/civic_classifier_best.onnx")
		v.SetDefault("model.mappings_path", "model/class_mappings.json")
		v.SetDefault("model.num_classes", 9)
		v.SetDefault("model.input_name", "input")
		v.SetDefault("model.output_name", "output")
		v.SetDefault("model.layout", string(preprocess.NCHW))
		v.SetDefault("model.mean", []float32{0.485, 0.456, 0.406})
		v.SetDefault("model.std", []float32{0.229, 0.224, 0.225})
		v.SetDefault("model.softmax", true)
	}
}

// Load reads <dir>/<service>.yaml when present and applies environment
// overrides, e.g. PREDICTOR_SERVER_PORT or CLASSIFIER_MODEL_PATH.
func Load(dir, service string) (*Config, error) {
	if service != Classifier && service != Predictor {
		return nil, fmt.Errorf("unknown service %q", service)
	}

	v := viper.New()
	setDefaults(v, service)

	v.SetConfigName(service)
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix(service)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file %s.yaml: %w", service, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		layoutHook(),
		float32SliceHook(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s config: %w", service, err)
	}
	cfg.Service = service

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb must be positive"))
	}
	if strings.TrimSpace(c.Model.Path) == "" {
		errs = append(errs, errors.New("model.path is required"))
	}
	if c.Model.NumClasses <= 0 {
		errs = append(errs, fmt.Errorf("model.num_classes must be positive"))
	}
	if c.Model.ImageSize <= 0 {
		errs = append(errs, fmt.Errorf("model.image_size must be positive"))
	}
	if len(c.Model.Mean) != 3 || len(c.Model.Std) != 3 {
		errs = append(errs, errors.New("model.mean and model.std need exactly 3 values"))
	}
	for _, s := range c.Model.Std {
		if s == 0 {
			errs = append(errs, errors.New("model.std must not contain zero"))
			break
		}
	}
	if _, err := preprocess.ParseInterpolation(c.Model.Interpolation); err != nil {
		errs = append(errs, err)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path))
	}
	return errors.Join(errs...)
}

func layoutHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(preprocess.Layout("")) {
			return data, nil
		}
		return preprocess.ParseLayout(data.(string))
	}
}

// float32SliceHook accepts "0.485,0.456,0.406" from the environment.
func float32SliceHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf([]float32(nil)) || from.Kind() != reflect.Slice {
			return data, nil
		}
		raw, ok := data.([]string)
		if !ok {
			return data, nil
		}
		out := make([]float32, 0, len(raw))
		for _, s := range raw {
			var f float32
			if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &f); err != nil {
				return nil, fmt.Errorf("invalid number %q: %w", s, err)
			}
			out = append(out, f)
		}
		return out, nil
	}
}
