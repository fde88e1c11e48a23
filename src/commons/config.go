package commons

import (
	"flag"
	"os"
	"strconv"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
)

type Config struct {
	Host                string
	Port                int
	ReleaseMode         bool
	LogLevel            string
	ModelPath           string
	ClassNamesFile      string
	Detector            string
	InferenceURL        string
	ConfidenceThreshold float64
	HistoryFile         string
	HistoryBackend      string
	RedisAddress        string
	RedisMaxConnections int
	RedisKey            string
	OutputDir           string
	MaxWorkers          int
	MaxWorkerQueueSize  int
	MaxUploadSize       int64
	SentryDSN           string
}

func (c Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// RegisterFlags binds every config field to a flag on fs. Flag defaults are
// taken from the environment so HOST, PORT etc. keep working without flags.
func RegisterFlags(fs *flag.FlagSet) func() (Config, error) {
	var cfg Config
	var maxUploadSize string

	fs.StringVar(&cfg.Host, "host", GetEnv("HOST", "0.0.0.0"), "Address to listen on")
	fs.IntVar(&cfg.Port, "port", GetEnvInt("PORT", 8001), "Port to listen on")
	fs.BoolVar(&cfg.ReleaseMode, "release", GetEnvBool("RELEASE", false), "Run in release mode")
	fs.StringVar(&cfg.LogLevel, "log-level", GetEnv("LOG_LEVEL", "debug"), "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.ModelPath, "model-path", GetEnv("MODEL_PATH", "best.pt"), "Location of the detection model")
	fs.StringVar(&cfg.ClassNamesFile, "class-names", GetEnv("CLASS_NAMES_FILE", "data.yaml"), "YAML document holding the class names")
	fs.StringVar(&cfg.Detector, "detector", GetEnv("DETECTOR", "remote"), "Detector backend (remote, tensorflow)")
	fs.StringVar(&cfg.InferenceURL, "inference-url", GetEnv("INFERENCE_URL", "http://localhost:5000/predict"), "URL of the remote inference service")
	fs.Float64Var(&cfg.ConfidenceThreshold, "confidence-threshold", GetEnvFloat("CONFIDENCE_THRESHOLD", 0), "Drop detections below this confidence")
	fs.StringVar(&cfg.HistoryFile, "history-file", GetEnv("HISTORY_FILE", "request_history.json"), "Location of the JSON history")
	fs.StringVar(&cfg.HistoryBackend, "history-backend", GetEnv("HISTORY_BACKEND", "file"), "History backend (file, redis)")
	fs.StringVar(&cfg.RedisAddress, "redis-address", GetEnv("REDIS_ADDRESS", ":6379"), "Address to the Redis server")
	fs.IntVar(&cfg.RedisMaxConnections, "redis-max-connections", GetEnvInt("REDIS_MAX_CONNECTIONS", 10), "Max connections to Redis")
	fs.StringVar(&cfg.RedisKey, "redis-key", GetEnv("REDIS_KEY", "request_history"), "Redis list holding the history")
	fs.StringVar(&cfg.OutputDir, "output-dir", GetEnv("OUTPUT_DIR", "outputs"), "Directory for processed files and reports")
	fs.IntVar(&cfg.MaxWorkers, "max-workers", GetEnvInt("MAX_WORKERS", 4), "The number of detection workers to start")
	fs.IntVar(&cfg.MaxWorkerQueueSize, "max-worker-queue-size", GetEnvInt("MAX_WORKER_QUEUE_SIZE", 100), "The size of the detection job queue")
	fs.StringVar(&maxUploadSize, "max-upload-size", GetEnv("MAX_UPLOAD_SIZE", "512MB"), "Max size of an uploaded file")
	fs.StringVar(&cfg.SentryDSN, "sentry-dsn", GetEnv("SENTRY_DSN", ""), "Sentry DSN, empty disables error reporting")

	return func() (Config, error) {
		size, err := units.RAMInBytes(maxUploadSize)
		if err != nil {
			return cfg, errors.Wrapf(err, "invalid max upload size %q", maxUploadSize)
		}
		cfg.MaxUploadSize = size
		return cfg, cfg.Validate()
	}
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("port %d out of range", c.Port)
	}
	if c.MaxWorkers < 1 {
		return errors.New("max-workers must be at least 1")
	}
	if c.MaxWorkerQueueSize < 0 {
		return errors.New("max-worker-queue-size can't be negative")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.New("confidence-threshold must be between 0 and 1")
	}
	switch c.HistoryBackend {
	case "file", "redis":
	default:
		return errors.Errorf("unknown history backend %q", c.HistoryBackend)
	}
	switch c.Detector {
	case "remote", "tensorflow":
	default:
		return errors.Errorf("unknown detector %q", c.Detector)
	}
	return nil
}

// EnsureDir creates dir if it doesn't exist yet.
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// LoadClassNames reads the `names` key of a YAML document. Both the list form
// (`names: [pistol, knife]`) and the index mapping form (`names: {0: pistol}`)
// are accepted.
func LoadClassNames(path string) (datastructures.ClassNames, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't read class names")
	}
	return ParseClassNames(data)
}

func ParseClassNames(data []byte) (datastructures.ClassNames, error) {
	var doc struct {
		Names yaml.Node `yaml:"names"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "couldn't parse class names")
	}

	switch doc.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := doc.Names.Decode(&names); err != nil {
			return nil, errors.Wrap(err, "couldn't decode class name list")
		}
		return names, nil
	case yaml.MappingNode:
		var byIndex map[int]string
		if err := doc.Names.Decode(&byIndex); err != nil {
			return nil, errors.Wrap(err, "couldn't decode class name mapping")
		}
		size := 0
		for idx := range byIndex {
			if idx < 0 {
				return nil, errors.Errorf("negative class index %d", idx)
			}
			if idx+1 > size {
				size = idx + 1
			}
		}
		names := make(datastructures.ClassNames, size)
		for idx, name := range byIndex {
			names[idx] = name
		}
		return names, nil
	case 0:
		return nil, errors.New("class names document has no 'names' key")
	default:
		return nil, errors.New("'names' must be a list or a mapping")
	}
}

func GetEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func GetEnvInt(key string, defaultVal int) int {
	if val, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return val
	}
	return defaultVal
}

func GetEnvFloat(key string, defaultVal float64) float64 {
	if val, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return val
	}
	return defaultVal
}

func GetEnvBool(key string, defaultVal bool) bool {
	if val, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return val
	}
	return defaultVal
}
