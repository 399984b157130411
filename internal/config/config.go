package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Redis      RedisConfig      `yaml:"redis"`
	Vision     VisionConfig     `yaml:"vision"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Thumbnails ThumbnailConfig  `yaml:"thumbnails"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	APIKey    string `yaml:"api_key"`
	JWTSecret string `yaml:"jwt_secret"`
	// MaxUploadMB caps multipart image uploads.
	MaxUploadMB int `yaml:"max_upload_mb"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// RedisConfig configures the run lock backend. An empty Addr selects the
// in-process locker, which only serialises runs inside a single process.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type VisionConfig struct {
	Backend            string  `yaml:"backend"` // onnx | dlib
	ModelsDir          string  `yaml:"models_dir"`
	ONNXLibPath        string  `yaml:"onnx_lib_path"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	WorkerCount        int     `yaml:"worker_count"`
}

type ClusteringConfig struct {
	BatchTolerance       float64 `yaml:"batch_tolerance"`
	IncrementalTolerance float64 `yaml:"incremental_tolerance"`
	// SweepCron schedules incremental runs for owners with pending
	// embeddings. Empty disables the sweep.
	SweepCron string `yaml:"sweep_cron"`
}

type ThumbnailConfig struct {
	Padding int    `yaml:"padding"`
	Size    int    `yaml:"size"`
	Quality int    `yaml:"quality"`
	Prefix  string `yaml:"prefix"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SweepWithoutSharedLocks reports whether the scheduled sweep would guard
// its runs with process-local locks only.
func (c *Config) SweepWithoutSharedLocks() bool {
	return c.Clustering.SweepCron != "" && c.Redis.Addr == ""
}

// Load reads config from YAML file and applies environment variable overrides.
// A .env file in the working directory, if present, is loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

// DefaultTolerances returns the Euclidean match cutoffs for a vision
// backend. dlib descriptors use the reference 0.6 and 0.5. ArcFace vectors
// are unit length, so distance d maps to cosine similarity 1 - d*d/2:
// 1.1 and 1.0 are cosine 0.4 and 0.5.
func DefaultTolerances(backend string) (batch, incremental float64) {
	if strings.EqualFold(backend, "dlib") {
		return 0.6, 0.5
	}
	return 1.1, 1.0
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 32
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 30 * time.Minute
	}
	if cfg.Vision.Backend == "" {
		cfg.Vision.Backend = "onnx"
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	batch, incremental := DefaultTolerances(cfg.Vision.Backend)
	if cfg.Clustering.BatchTolerance == 0 {
		cfg.Clustering.BatchTolerance = batch
	}
	if cfg.Clustering.IncrementalTolerance == 0 {
		cfg.Clustering.IncrementalTolerance = incremental
	}
	if cfg.Thumbnails.Padding == 0 {
		cfg.Thumbnails.Padding = 150
	}
	if cfg.Thumbnails.Size == 0 {
		cfg.Thumbnails.Size = 80
	}
	if cfg.Thumbnails.Quality == 0 {
		cfg.Thumbnails.Quality = 85
	}
	if cfg.Thumbnails.Prefix == "" {
		cfg.Thumbnails.Prefix = "thumbnails/"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FG_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FG_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FG_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("FG_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FG_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FG_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FG_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FG_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FG_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FG_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FG_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FG_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FG_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FG_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FG_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FG_VISION_BACKEND"); v != "" {
		cfg.Vision.Backend = v
	}
	if v := os.Getenv("FG_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FG_ONNX_LIB_PATH"); v != "" {
		cfg.Vision.ONNXLibPath = v
	}
	if v := os.Getenv("FG_VISION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("FG_BATCH_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Clustering.BatchTolerance = f
		}
	}
	if v := os.Getenv("FG_INCREMENTAL_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Clustering.IncrementalTolerance = f
		}
	}
	if v := os.Getenv("FG_SWEEP_CRON"); v != "" {
		cfg.Clustering.SweepCron = v
	}
	if v := os.Getenv("FG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
