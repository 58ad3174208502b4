package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/your-org/lanewatch/internal/lanes"
	"github.com/your-org/lanewatch/internal/tracking"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Vision   VisionConfig   `yaml:"vision"`
	Tracking TrackingConfig `yaml:"tracking"`
	Lanes    LanesConfig    `yaml:"lanes"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	APIKey      string `yaml:"api_key"`
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

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	ModelFile          string  `yaml:"model_file"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	NMSThreshold       float64 `yaml:"nms_threshold"`
	VehicleClasses     []int   `yaml:"vehicle_classes"`
	WorkerCount        int     `yaml:"worker_count"`
	FrameWidth         int     `yaml:"frame_width"`
}

type TrackingConfig struct {
	IOUThreshold float64 `yaml:"iou_threshold"`
	Matcher      string  `yaml:"matcher"`
	MaxHistory   int     `yaml:"max_history"`
}

// TrackerConfig converts the YAML section into a tracker configuration.
func (t TrackingConfig) TrackerConfig() tracking.Config {
	return tracking.Config{
		IOUThreshold: t.IOUThreshold,
		MaxHistory:   t.MaxHistory,
		Matcher:      tracking.NewMatcher(t.Matcher),
	}
}

type LanesConfig struct {
	Count          int     `yaml:"count"`
	MinSlope       float64 `yaml:"min_slope"`
	Method         string  `yaml:"method"`
	CannyLow       float32 `yaml:"canny_low"`
	CannyHigh      float32 `yaml:"canny_high"`
	HoughThreshold int     `yaml:"hough_threshold"`
	HoughMinLength float32 `yaml:"hough_min_length"`
	HoughMaxGap    float32 `yaml:"hough_max_gap"`
}

// SessionConfig assembles the per-stream session configuration. An empty
// method falls back to the configured default.
func (c *Config) SessionConfig(method string) tracking.SessionConfig {
	if method == "" {
		method = c.Lanes.Method
	}
	return tracking.SessionConfig{
		Tracker:    c.Tracking.TrackerConfig(),
		LaneCount:  c.Lanes.Count,
		MinSlope:   c.Lanes.MinSlope,
		LaneMethod: lanes.ParseMethod(method),
	}
}

type IngestConfig struct {
	DefaultFPS     int           `yaml:"default_fps"`
	MaxFPS         int           `yaml:"max_fps"`
	JPEGQuality    int           `yaml:"jpeg_quality"`
	MaxRetries     int           `yaml:"max_retries"`
	FrameRetention time.Duration `yaml:"frame_retention"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML bytes, then applies environment overrides and defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "lanewatch"
	}
	if cfg.Vision.ModelFile == "" {
		cfg.Vision.ModelFile = "yolov8n.onnx"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.NMSThreshold == 0 {
		cfg.Vision.NMSThreshold = 0.45
	}
	if len(cfg.Vision.VehicleClasses) == 0 {
		// COCO car, motorcycle, bus, truck
		cfg.Vision.VehicleClasses = []int{2, 3, 5, 7}
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Vision.FrameWidth == 0 {
		cfg.Vision.FrameWidth = 640
	}
	if cfg.Tracking.IOUThreshold == 0 {
		cfg.Tracking.IOUThreshold = tracking.DefaultIOUThreshold
	}
	if cfg.Tracking.Matcher == "" {
		cfg.Tracking.Matcher = tracking.MatcherGreedy
	}
	if cfg.Lanes.Count == 0 {
		cfg.Lanes.Count = lanes.DefaultCount
	}
	if cfg.Lanes.MinSlope == 0 {
		cfg.Lanes.MinSlope = lanes.DefaultMinSlope
	}
	if cfg.Lanes.Method == "" {
		cfg.Lanes.Method = string(lanes.MethodAuto)
	}
	if cfg.Lanes.CannyLow == 0 {
		cfg.Lanes.CannyLow = 50
	}
	if cfg.Lanes.CannyHigh == 0 {
		cfg.Lanes.CannyHigh = 150
	}
	if cfg.Lanes.HoughThreshold == 0 {
		cfg.Lanes.HoughThreshold = 50
	}
	if cfg.Lanes.HoughMinLength == 0 {
		cfg.Lanes.HoughMinLength = 100
	}
	if cfg.Lanes.HoughMaxGap == 0 {
		cfg.Lanes.HoughMaxGap = 50
	}
	if cfg.Ingest.DefaultFPS == 0 {
		cfg.Ingest.DefaultFPS = 2
	}
	if cfg.Ingest.MaxFPS == 0 {
		cfg.Ingest.MaxFPS = 10
	}
	if cfg.Ingest.JPEGQuality == 0 {
		cfg.Ingest.JPEGQuality = 90
	}
	if cfg.Ingest.MaxRetries == 0 {
		cfg.Ingest.MaxRetries = 3
	}
	if cfg.Ingest.FrameRetention == 0 {
		cfg.Ingest.FrameRetention = 24 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	envInt("LW_SERVER_PORT", &cfg.Server.Port)
	envInt("LW_METRICS_PORT", &cfg.Server.MetricsPort)
	envString("LW_API_KEY", &cfg.Server.APIKey)

	envString("LW_DB_HOST", &cfg.Database.Host)
	envInt("LW_DB_PORT", &cfg.Database.Port)
	envString("LW_DB_NAME", &cfg.Database.Name)
	envString("LW_DB_USER", &cfg.Database.User)
	envString("LW_DB_PASSWORD", &cfg.Database.Password)

	envString("LW_NATS_URL", &cfg.NATS.URL)

	envString("LW_MINIO_ENDPOINT", &cfg.MinIO.Endpoint)
	envString("LW_MINIO_ACCESS_KEY", &cfg.MinIO.AccessKey)
	envString("LW_MINIO_SECRET_KEY", &cfg.MinIO.SecretKey)
	envString("LW_MINIO_BUCKET", &cfg.MinIO.Bucket)

	envString("LW_MODELS_DIR", &cfg.Vision.ModelsDir)
	envInt("LW_VISION_WORKER_COUNT", &cfg.Vision.WorkerCount)

	envFloat("LW_IOU_THRESHOLD", &cfg.Tracking.IOUThreshold)
	envString("LW_MATCHER", &cfg.Tracking.Matcher)
	envInt("LW_LANE_COUNT", &cfg.Lanes.Count)
	envString("LW_LANE_METHOD", &cfg.Lanes.Method)

	envString("LW_LOG_LEVEL", &cfg.Logging.Level)
	envString("LW_LOG_FORMAT", &cfg.Logging.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
