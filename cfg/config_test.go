package cfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidate_DefaultConfig(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Expected no error for default config, got: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Configuration)
		want   string
	}{
		{"empty prefix", func(c *Configuration) { c.Binlog.Prefix = "" }, "prefix"},
		{"prefix with path", func(c *Configuration) { c.Binlog.Prefix = "logs/binlog" }, "prefix"},
		{"max size too small", func(c *Configuration) { c.Binlog.MaxFileSize = 100 }, "max file size"},
		{"max size too large", func(c *Configuration) { c.Binlog.MaxFileSize = 1 << 33 }, "max file size"},
		{"reserve too large", func(c *Configuration) { c.Binlog.RotateReserve = c.Binlog.MaxFileSize }, "reserve"},
		{"sync mode", func(c *Configuration) { c.Binlog.SyncMode = "sometimes" }, "sync mode"},
		{"checksum", func(c *Configuration) { c.Binlog.Checksum = "md5" }, "checksum"},
		{"server uuid", func(c *Configuration) { c.ServerUUID = "not-a-uuid" }, "uuid"},
		{"queue capacity", func(c *Configuration) { c.Pipeline.QueueCapacity = 0 }, "queue capacity"},
		{"batch size", func(c *Configuration) { c.Pipeline.BatchSize = 0 }, "batch size"},
		{"workers", func(c *Configuration) { c.Pipeline.Workers = -1 }, "workers"},
		{"poll interval", func(c *Configuration) { c.Pipeline.PollIntervalMS = 0 }, "poll interval"},
		{"archive level", func(c *Configuration) {
			c.Archive.Enabled = true
			c.Archive.Level = 9
		}, "archive level"},
		{"admin port", func(c *Configuration) { c.Admin.Port = 70000 }, "admin port"},
		{"unnamed sink", func(c *Configuration) {
			c.Sinks = []SinkConfiguration{{Type: "kafka", Brokers: []string{"b:9092"}, Topic: "t"}}
		}, "name"},
		{"duplicate sink", func(c *Configuration) {
			s := SinkConfiguration{Name: "a", Type: "nats", NatsURL: "nats://x", Topic: "t"}
			c.Sinks = []SinkConfiguration{s, s}
		}, "duplicate"},
		{"kafka without brokers", func(c *Configuration) {
			c.Sinks = []SinkConfiguration{{Name: "k", Type: "kafka", Topic: "t"}}
		}, "brokers"},
		{"nats without url", func(c *Configuration) {
			c.Sinks = []SinkConfiguration{{Name: "n", Type: "nats", Topic: "t"}}
		}, "nats_url"},
		{"unknown sink type", func(c *Configuration) {
			c.Sinks = []SinkConfiguration{{Name: "x", Type: "redis", Topic: "t"}}
		}, "unknown type"},
		{"sink without checkpoints", func(c *Configuration) {
			c.Checkpoint.Enabled = false
			c.Sinks = []SinkConfiguration{{Name: "n", Type: "nats", NatsURL: "nats://x", Topic: "t"}}
		}, "checkpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_PackageLevel(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.Pipeline.BatchSize = 0
	if err := Validate(); err == nil {
		t.Error("Expected error for zero batch size")
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(t.TempDir(), "data")
	Config = Default()
	Config.DataDir = tempDir
	Config.ServerID = 7

	if err := Load("non-existent-file.toml"); err != nil {
		t.Errorf("Expected no error for non-existent file, got: %v", err)
	}
	if Config.Binlog.Prefix != "binlog" {
		t.Errorf("Expected default prefix, got %s", Config.Binlog.Prefix)
	}
	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Error("Data directory was not created")
	}
}

func TestLoad_File(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
server_id = 42
server_uuid = "3e11fa47-71ca-11e1-9e33-c80aa9429562"
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"

[binlog]
prefix = "mysql-bin"
max_file_size = 1048576
checksum = "crc32"

[pipeline]
batch_size = 500
workers = 3

[transform]
tables = ["orders*"]
exclude = ["shop.orders_tmp"]

[[sinks]]
name = "positions"
type = "kafka"
brokers = ["localhost:9092"]
topic = "binlog-positions"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	Config = Default()
	if err := Load(path); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := Validate(); err != nil {
		t.Fatalf("Expected loaded config to validate, got: %v", err)
	}

	if Config.ServerID != 42 {
		t.Errorf("Expected server id 42, got %d", Config.ServerID)
	}
	if Config.Binlog.Prefix != "mysql-bin" || Config.Binlog.MaxFileSize != 1048576 {
		t.Errorf("Unexpected binlog section: %+v", Config.Binlog)
	}
	if Config.Binlog.SyncMode != "batch" {
		t.Errorf("Expected default sync mode to survive, got %s", Config.Binlog.SyncMode)
	}
	if Config.Pipeline.BatchSize != 500 || Config.Pipeline.Workers != 3 {
		t.Errorf("Unexpected pipeline section: %+v", Config.Pipeline)
	}
	if len(Config.Sinks) != 1 || Config.Sinks[0].Topic != "binlog-positions" {
		t.Errorf("Unexpected sinks: %+v", Config.Sinks)
	}
	sid := Config.SID()
	if sid[0] != 0x3e || sid[15] != 0x62 {
		t.Errorf("Unexpected SID: %x", sid)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(t.TempDir(), "override")
	*DataDirFlag = tempDir
	*ServerIDFlag = 12345
	*AdminPortFlag = 9999
	defer func() {
		*DataDirFlag = ""
		*ServerIDFlag = 0
		*AdminPortFlag = 0
	}()

	Config = Default()
	if err := Load(""); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if Config.DataDir != tempDir {
		t.Errorf("Expected data dir %s, got %s", tempDir, Config.DataDir)
	}
	if Config.ServerID != 12345 {
		t.Errorf("Expected server id 12345, got %d", Config.ServerID)
	}
	if Config.Admin.Port != 9999 {
		t.Errorf("Expected admin port 9999, got %d", Config.Admin.Port)
	}
}

func TestFoldServerID(t *testing.T) {
	id1 := foldServerID("machine-a")
	if id1 == 0 {
		t.Error("Folded server ID should not be 0")
	}
	if id1 != foldServerID("machine-a") {
		t.Error("Server ID should be deterministic for same machine")
	}
	if id1 == foldServerID("machine-b") {
		t.Error("Different machines should fold to different IDs")
	}
}

func TestDirectories(t *testing.T) {
	c := Default()
	c.DataDir = "/var/lib/binlogd"
	if got := c.BinlogDir(); got != filepath.Join("/var/lib/binlogd", "binlog") {
		t.Errorf("Unexpected binlog dir %s", got)
	}
	c.Archive.Dir = "/mnt/archive"
	if got := c.ArchiveDir(); got != "/mnt/archive" {
		t.Errorf("Unexpected archive dir %s", got)
	}
	if c.SID() != [16]byte{} {
		t.Error("Expected zero SID without server uuid")
	}
}

func BenchmarkValidate(b *testing.B) {
	c := Default()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Validate()
	}
}
