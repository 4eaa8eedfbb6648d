package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete node configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Index     IndexConfig     `yaml:"index"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Rolling   RollingConfig   `yaml:"rolling"`
	Pruner    PrunerConfig    `yaml:"pruner"`
	Storage   StorageConfig   `yaml:"storage"`
	Source    SourceConfig    `yaml:"source"`
	Resources ResourcesConfig `yaml:"resources"`
	Facets    []FacetConfig   `yaml:"facets" validate:"dive"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// NodeConfig identifies the node and the partitions it owns.
type NodeConfig struct {
	ID         int   `yaml:"id" validate:"gte=0"`
	Partitions []int `yaml:"partitions" validate:"required,min=1,unique,dive,gte=0"`
}

// IndexConfig selects the engine flavor and the ingestion parameters.
type IndexConfig struct {
	Directory string `yaml:"directory"`
	Flavor    string `yaml:"flavor" validate:"oneof=realtime rolling"`
	// SharedLocation backs all partitions of the node with one engine.
	SharedLocation bool          `yaml:"shared_location"`
	BatchSize      int           `yaml:"batch_size" validate:"gte=1"`
	BatchDelay     time.Duration `yaml:"batch_delay" validate:"gte=0"`
	// MaxBatchSize bounds the events queued by the memory source; publishers
	// get a queue-full error beyond it. 0 is unbounded.
	MaxBatchSize int `yaml:"max_batch_size" validate:"gte=0"`
	// IngestRate caps events per second handed to engines; 0 is unlimited.
	IngestRate float64 `yaml:"ingest_rate" validate:"gte=0"`
	// MaxPartitionID sizes the uid router. Defaults to the highest owned
	// partition.
	MaxPartitionID    int    `yaml:"max_partition_id" validate:"gte=0"`
	VersionComparator string `yaml:"version_comparator" validate:"oneof=string numeric"`
}

// RealtimeConfig tunes realtime engines.
type RealtimeConfig struct {
	SyncWrites     bool          `yaml:"sync_writes"`
	GCInterval     time.Duration `yaml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

// RollingConfig tunes rolling engines.
type RollingConfig struct {
	Frequency     string `yaml:"frequency" validate:"oneof=minute hour day"`
	TrimThreshold int    `yaml:"trim_threshold" validate:"gte=1"`
	Compression   string `yaml:"compression" validate:"oneof=none zstd lz4"`
	// TrimInterval schedules age-based trimming of expired periods; 0 trims
	// only when a bucket is sealed.
	TrimInterval time.Duration `yaml:"trim_interval" validate:"gte=0"`
}

// PrunerConfig selects the index pruner.
type PrunerConfig struct {
	Kind          string        `yaml:"kind" validate:"oneof=none noop retention"`
	RetentionDays int           `yaml:"retention_days" validate:"required_if=Kind retention,gte=0"`
	Interval      time.Duration `yaml:"interval" validate:"gte=0"`
}

// StorageConfig selects where rolling engines keep their segments.
type StorageConfig struct {
	Backend   string `yaml:"backend" validate:"oneof=local memory minio s3"`
	Bucket    string `yaml:"bucket" validate:"required_if=Backend minio,required_if=Backend s3"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint" validate:"required_if=Backend minio"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
	// DynamoDBTable enables atomic manifest commits on S3.
	DynamoDBTable string `yaml:"dynamodb_table"`
}

// SourceConfig selects the upstream data provider.
type SourceConfig struct {
	// Kind "memory" accepts events over the admin API; "jsonl" replays a file.
	Kind string `yaml:"kind" validate:"oneof=memory jsonl"`
	Path string `yaml:"path" validate:"required_if=Kind jsonl"`
}

// ResourcesConfig bounds node-wide resource use.
type ResourcesConfig struct {
	MemoryLimitBytes     int64 `yaml:"memory_limit_bytes" validate:"gte=0"`
	MaxBackgroundWorkers int64 `yaml:"max_background_workers" validate:"gte=1"`
}

// FacetConfig declares a facet exposed in the system info.
type FacetConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Runtime bool   `yaml:"runtime"`
}

// ServerConfig configures the admin HTTP API.
type ServerConfig struct {
	Listen          string        `yaml:"listen" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	// MaxSyncTimeout caps the timeout a /sync caller may request.
	MaxSyncTimeout time.Duration `yaml:"max_sync_timeout" validate:"gt=0"`
}

// LogConfig configures process logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Default returns a configuration with every default applied and no node
// identity.
func Default() Config {
	return Config{
		Index: IndexConfig{
			Flavor:            "realtime",
			BatchSize:         500,
			MaxBatchSize:      10000,
			VersionComparator: "string",
		},
		Realtime: RealtimeConfig{
			GCInterval:     5 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Rolling: RollingConfig{
			Frequency:     "hour",
			TrimThreshold: 24,
			Compression:   "zstd",
			TrimInterval:  10 * time.Minute,
		},
		Pruner: PrunerConfig{
			Kind:     "none",
			Interval: time.Hour,
		},
		Storage: StorageConfig{
			Backend: "local",
		},
		Source: SourceConfig{
			Kind: "memory",
		},
		Resources: ResourcesConfig{
			MaxBackgroundWorkers: 2,
		},
		Server: ServerConfig{
			Listen:          ":8080",
			ShutdownTimeout: 30 * time.Second,
			MaxSyncTimeout:  time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterStructValidation(validateStorage, Config{})
}

// validateStorage checks the cross-section constraints.
func validateStorage(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)
	needsDir := c.Index.Flavor == "realtime" || c.Storage.Backend == "local"
	if needsDir && c.Index.Directory == "" {
		sl.ReportError(c.Index.Directory, "Index.Directory", "Directory", "required_for_local_storage", "")
	}
	if c.Storage.DynamoDBTable != "" && c.Storage.Backend != "s3" {
		sl.ReportError(c.Storage.DynamoDBTable, "Storage.DynamoDBTable", "DynamoDBTable", "s3_only", "")
	}
}

// Parse decodes YAML on top of the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if cfg.Index.MaxPartitionID == 0 {
		for _, p := range cfg.Node.Partitions {
			cfg.Index.MaxPartitionID = max(cfg.Index.MaxPartitionID, p)
		}
	}
	cfg.Index.VersionComparator = strings.ToLower(cfg.Index.VersionComparator)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
