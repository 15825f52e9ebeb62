package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// BinlogConfiguration controls the output log files
type BinlogConfiguration struct {
	Dir           string `toml:"dir"` // Relative paths resolve against data_dir
	Prefix        string `toml:"prefix"`
	MaxFileSize   uint64 `toml:"max_file_size"`
	RotateReserve uint64 `toml:"rotate_reserve"`
	SyncMode      string `toml:"sync_mode"` // "none", "batch" or "always"
	Checksum      string `toml:"checksum"`  // "off" or "crc32"
	ServerVersion string `toml:"server_version"`
}

// PipelineConfiguration controls batching and concurrency
type PipelineConfiguration struct {
	QueueCapacity  int `toml:"queue_capacity"`
	BatchSize      int `toml:"batch_size"`
	Workers        int `toml:"workers"` // 0 = number of CPUs
	PollIntervalMS int `toml:"poll_interval_ms"`
	BatchLingerMS  int `toml:"batch_linger_ms"`
}

// TransformConfiguration controls how records become events
type TransformConfiguration struct {
	Tables        []string `toml:"tables"`
	Databases     []string `toml:"databases"`
	Exclude       []string `toml:"exclude"`
	CharsetClient uint16   `toml:"charset_client"`
	CollationConn uint16   `toml:"collation_connection"`
	CollationSrv  uint16   `toml:"collation_server"`
	CollationDB   uint16   `toml:"collation_database"`
	SQLMode       uint64   `toml:"sql_mode"`
	TimeZone      string   `toml:"time_zone"`
	FullMetadata  bool     `toml:"full_metadata"`
	CacheSize     int      `toml:"cache_size"`
}

// CheckpointConfiguration controls the persisted checkpoint log
type CheckpointConfiguration struct {
	Enabled        bool `toml:"enabled"`
	RetentionCount int  `toml:"retention_count"` // Checkpoints kept after all sinks consumed them
}

// ArchiveConfiguration controls compression of sealed log files
type ArchiveConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
	Level   int    `toml:"level"` // 1 (fastest) to 4 (best)
}

// SinkConfiguration describes one checkpoint publishing destination
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"`   // "kafka" or "nats"
	Format          string   `toml:"format"` // "json" (default) or "msgpack"
	Brokers         []string `toml:"brokers"`
	NatsURL         string   `toml:"nats_url"`
	Topic           string   `toml:"topic"`
	FilterTables    []string `toml:"filter_tables"`
	FilterDatabases []string `toml:"filter_databases"`
	BatchSize       int      `toml:"batch_size"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
}

// AdminConfiguration for the HTTP admin server
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	AuthToken   string `toml:"auth_token"` // Optional bearer token; empty disables auth
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	ServerID   uint32 `toml:"server_id"`
	ServerUUID string `toml:"server_uuid"` // Optional; becomes the Gtid SID
	DataDir    string `toml:"data_dir"`

	Binlog     BinlogConfiguration     `toml:"binlog"`
	Pipeline   PipelineConfiguration   `toml:"pipeline"`
	Transform  TransformConfiguration  `toml:"transform"`
	Checkpoint CheckpointConfiguration `toml:"checkpoint"`
	Archive    ArchiveConfiguration    `toml:"archive"`
	Sinks      []SinkConfiguration     `toml:"sinks"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	ServerIDFlag   = flag.Uint("server-id", 0, "Server ID (overrides config, 0=auto)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
	InputFlag      = flag.String("input", "-", "Record frame stream to read, - for stdin")
)

// Default configuration
var Config = Default()

// Default returns a configuration populated with defaults.
func Default() *Configuration {
	return &Configuration{
		ServerID: 0, // Auto-generate
		DataDir:  "./binlogd-data",

		Binlog: BinlogConfiguration{
			Dir:           "binlog",
			Prefix:        "binlog",
			MaxFileSize:   1 << 30,
			RotateReserve: 0,
			SyncMode:      "batch",
			Checksum:      "off",
			ServerVersion: "8.0.32",
		},

		Pipeline: PipelineConfiguration{
			QueueCapacity:  10000,
			BatchSize:      2000,
			Workers:        0,
			PollIntervalMS: 5,
			BatchLingerMS:  10,
		},

		Transform: TransformConfiguration{
			CharsetClient: 255, // utf8mb4_0900_ai_ci
			CollationConn: 255,
			CollationSrv:  255,
			CollationDB:   255,
			TimeZone:      "SYSTEM",
			CacheSize:     1024,
		},

		Checkpoint: CheckpointConfiguration{
			Enabled:        true,
			RetentionCount: 100000,
		},

		Archive: ArchiveConfiguration{
			Enabled: false,
			Dir:     "archive",
			Level:   1,
		},

		Admin: AdminConfiguration{
			Enabled:     true,
			BindAddress: "127.0.0.1",
			Port:        8090,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},
	}
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *ServerIDFlag != 0 {
		Config.ServerID = uint32(*ServerIDFlag)
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	// Auto-generate server ID if not set
	if Config.ServerID == 0 {
		var err error
		Config.ServerID, err = generateServerID()
		if err != nil {
			return fmt.Errorf("failed to generate server ID: %w", err)
		}
		log.Info().Uint32("server_id", Config.ServerID).Msg("Auto-generated server ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateServerID folds the machine ID into a non-zero 32-bit server ID
func generateServerID() (uint32, error) {
	id, err := machineid.ProtectedID("binlogd")
	if err != nil {
		return 0, err
	}
	return foldServerID(id), nil
}

func foldServerID(id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(id))
	if v := h.Sum32(); v != 0 {
		return v
	}
	return 1
}

// Validate checks configuration for errors
func Validate() error {
	return Config.Validate()
}

// Validate checks c for errors
func (c *Configuration) Validate() error {
	if c.Binlog.Prefix == "" {
		return fmt.Errorf("binlog prefix must not be empty")
	}
	if filepath.Base(c.Binlog.Prefix) != c.Binlog.Prefix {
		return fmt.Errorf("binlog prefix must not contain a path: %s", c.Binlog.Prefix)
	}
	if c.Binlog.MaxFileSize < 4096 || c.Binlog.MaxFileSize > 1<<32-1 {
		return fmt.Errorf("binlog max file size must be between 4096 and 4294967295: %d", c.Binlog.MaxFileSize)
	}
	if c.Binlog.RotateReserve >= c.Binlog.MaxFileSize {
		return fmt.Errorf("binlog rotate reserve must be smaller than max file size")
	}

	switch c.Binlog.SyncMode {
	case "", "none", "batch", "always":
	default:
		return fmt.Errorf("invalid sync mode: %s", c.Binlog.SyncMode)
	}
	switch c.Binlog.Checksum {
	case "", "off", "none", "crc32":
	default:
		return fmt.Errorf("invalid checksum: %s", c.Binlog.Checksum)
	}

	if c.ServerUUID != "" {
		if _, err := uuid.Parse(c.ServerUUID); err != nil {
			return fmt.Errorf("invalid server uuid %q: %w", c.ServerUUID, err)
		}
	}

	// Validate pipeline configuration
	if c.Pipeline.QueueCapacity < 1 {
		return fmt.Errorf("pipeline queue capacity must be >= 1")
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline batch size must be >= 1")
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline workers must be >= 0")
	}
	if c.Pipeline.PollIntervalMS < 1 {
		return fmt.Errorf("pipeline poll interval must be >= 1ms")
	}
	if c.Pipeline.BatchLingerMS < 0 {
		return fmt.Errorf("pipeline batch linger must be >= 0")
	}

	if c.Archive.Enabled && (c.Archive.Level < 1 || c.Archive.Level > 4) {
		return fmt.Errorf("archive level must be between 1 and 4: %d", c.Archive.Level)
	}

	names := make(map[string]bool, len(c.Sinks))
	for i, s := range c.Sinks {
		if s.Name == "" {
			return fmt.Errorf("sink %d: name must not be empty", i)
		}
		if names[s.Name] {
			return fmt.Errorf("sink %s: duplicate name", s.Name)
		}
		names[s.Name] = true
		if !c.Checkpoint.Enabled {
			return fmt.Errorf("sink %s: sinks require checkpoint.enabled", s.Name)
		}
		switch s.Type {
		case "kafka":
			if len(s.Brokers) == 0 {
				return fmt.Errorf("sink %s: kafka sink requires brokers", s.Name)
			}
		case "nats":
			if s.NatsURL == "" {
				return fmt.Errorf("sink %s: nats sink requires nats_url", s.Name)
			}
		default:
			return fmt.Errorf("sink %s: unknown type %q", s.Name, s.Type)
		}
		if s.Topic == "" {
			return fmt.Errorf("sink %s: topic must not be empty", s.Name)
		}
	}

	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
	}

	return nil
}

// BinlogDir returns the directory log files are written to.
func (c *Configuration) BinlogDir() string {
	return c.resolve(c.Binlog.Dir)
}

// ArchiveDir returns the directory sealed files are compressed into.
func (c *Configuration) ArchiveDir() string {
	return c.resolve(c.Archive.Dir)
}

// CheckpointDir returns the pebble directory of the checkpoint log.
func (c *Configuration) CheckpointDir() string {
	return filepath.Join(c.DataDir, "checkpoints")
}

// SID returns the Gtid source id: the configured server UUID, or zeros.
func (c *Configuration) SID() [16]byte {
	if c.ServerUUID == "" {
		return [16]byte{}
	}
	id, err := uuid.Parse(c.ServerUUID)
	if err != nil {
		return [16]byte{}
	}
	return id
}

func (c *Configuration) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.DataDir, dir)
}
