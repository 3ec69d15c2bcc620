package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"catalogexport/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig          `yaml:"app"`
	Database      DatabaseConfig     `yaml:"database"`
	Redis         RedisConfig        `yaml:"redis"`
	Queue         QueueConfig        `yaml:"queue"`
	Exports       ExportConfig       `yaml:"exports"`
	Storage       StorageConfig      `yaml:"storage"`
	Notifications NotificationConfig `yaml:"notifications"`
	API           APIConfig          `yaml:"api"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Logging       LoggingConfig      `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// QueueConfig holds the queue runtime parameters: delivery, retries and
// per-worker limits.
type QueueConfig struct {
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
	// VisibilityTimeout is how long a delivery may stay unacknowledged
	// before the message is handed out again.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxTries          int           `yaml:"max_tries"`
	Workers           int           `yaml:"workers"`
	MemoryLimitMB     int64         `yaml:"memory_limit_mb"`
	PollWait          time.Duration `yaml:"poll_wait"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffFactor     float64       `yaml:"backoff_factor"`
}

type ExportConfig struct {
	Directory     string `yaml:"directory"`
	FilePrefix    string `yaml:"file_prefix"`
	FileExtension string `yaml:"file_extension"`
	DirMode       string `yaml:"dir_mode"`
	Format        string `yaml:"format"`
	// KeepLocalFiles leaves the generated file on disk after upload.
	KeepLocalFiles bool `yaml:"keep_local_files"`
	// StrictSuccessNotification fails the attempt when the success
	// notification cannot be delivered.
	StrictSuccessNotification *bool         `yaml:"strict_success_notification"`
	CleanupRetention          time.Duration `yaml:"cleanup_retention"`
	CleanupInterval           time.Duration `yaml:"cleanup_interval"`
}

// Strict reports whether success notification errors fail the attempt.
func (c ExportConfig) Strict() bool {
	return c.StrictSuccessNotification == nil || *c.StrictSuccessNotification
}

// Mode parses DirMode as an octal permission.
func (c ExportConfig) Mode() (os.FileMode, error) {
	raw := strings.TrimSpace(c.DirMode)
	if raw == "" {
		return 0o755, nil
	}
	v, err := strconv.ParseUint(raw, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid dir_mode %q: %w", c.DirMode, err)
	}
	if v > 0o777 {
		return 0, fmt.Errorf("invalid dir_mode %q: out of range", c.DirMode)
	}
	return os.FileMode(v), nil
}

const (
	PartitionByEnqueue = "enqueue"
	PartitionByUpload  = "upload"
)

type StorageConfig struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	UsePathStyle   bool   `yaml:"use_path_style"`
	KeyPrefix      string `yaml:"key_prefix"`
	PartitionClock string `yaml:"partition_clock"`
}

type NotificationConfig struct {
	FromAddress   string `yaml:"from_address"`
	LogDirectory  string `yaml:"log_directory"`
	FilePrefix    string `yaml:"file_prefix"`
	HTMLExtension string `yaml:"html_extension"`
	JSONExtension string `yaml:"json_extension"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

// APIClientKey identifies an administrator. Email receives export outcomes.
type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Email       string   `yaml:"email"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Storage.Bucket == "" {
		return errors.New("storage bucket is required")
	}

	switch c.Exports.Format {
	case models.FormatCSV, models.FormatXLSX:
	default:
		return fmt.Errorf("unsupported export format %q", c.Exports.Format)
	}

	if _, err := c.Exports.Mode(); err != nil {
		return err
	}

	switch c.Storage.PartitionClock {
	case PartitionByEnqueue, PartitionByUpload:
	default:
		return fmt.Errorf("unsupported partition_clock %q", c.Storage.PartitionClock)
	}

	if c.Queue.MaxTries < 1 {
		return errors.New("queue max_tries must be at least 1")
	}
	if c.Queue.VisibilityTimeout <= c.Queue.Timeout {
		return errors.New("queue visibility_timeout must exceed queue timeout")
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if k.Key == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	// Queue defaults
	if c.Queue.Name == "" {
		c.Queue.Name = models.DefaultQueueName
	}
	if c.Queue.Timeout == 0 {
		c.Queue.Timeout = models.DefaultTaskTimeoutSeconds * time.Second
	}
	if c.Queue.VisibilityTimeout == 0 {
		c.Queue.VisibilityTimeout = c.Queue.Timeout + time.Minute
	}
	if c.Queue.MaxTries == 0 {
		c.Queue.MaxTries = models.DefaultMaxTries
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = models.DefaultWorkers
	}
	if c.Queue.PollWait == 0 {
		c.Queue.PollWait = time.Second
	}
	if c.Queue.InitialBackoff == 0 {
		c.Queue.InitialBackoff = 10 * time.Second
	}
	if c.Queue.MaxBackoff == 0 {
		c.Queue.MaxBackoff = 5 * time.Minute
	}
	if c.Queue.BackoffFactor == 0 {
		c.Queue.BackoffFactor = 2
	}

	// Export defaults
	if c.Exports.Directory == "" {
		c.Exports.Directory = "storage/exports"
	}
	if c.Exports.FilePrefix == "" {
		c.Exports.FilePrefix = "catalog_export_"
	}
	if c.Exports.Format == "" {
		c.Exports.Format = models.FormatCSV
	}
	if c.Exports.FileExtension == "" {
		c.Exports.FileExtension = "." + c.Exports.Format
	}
	if c.Exports.DirMode == "" {
		c.Exports.DirMode = "0755"
	}
	if c.Exports.CleanupRetention == 0 {
		c.Exports.CleanupRetention = 24 * time.Hour
	}
	if c.Exports.CleanupInterval == 0 {
		c.Exports.CleanupInterval = time.Hour
	}

	// Storage defaults
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "catalog-exports"
	}
	if c.Storage.PartitionClock == "" {
		c.Storage.PartitionClock = PartitionByEnqueue
	}

	// Notification defaults
	if c.Notifications.FromAddress == "" {
		c.Notifications.FromAddress = "noreply@catalog.local"
	}
	if c.Notifications.LogDirectory == "" {
		c.Notifications.LogDirectory = "storage/notifications"
	}
	if c.Notifications.FilePrefix == "" {
		c.Notifications.FilePrefix = "export_email_"
	}
	if c.Notifications.HTMLExtension == "" {
		c.Notifications.HTMLExtension = ".html"
	}
	if c.Notifications.JSONExtension == "" {
		c.Notifications.JSONExtension = ".json"
	}
}
