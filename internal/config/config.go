package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	InputDir       string   `yaml:"input_dir"       json:"input_dir"`
	IncludeExts    []string `yaml:"include_exts"    json:"include_exts"`
	ExcludePaths   []string `yaml:"exclude_paths"   json:"exclude_paths"`
	DBPath         string   `yaml:"db_path"         json:"-"`
	CheckpointPath string   `yaml:"checkpoint_path" json:"-"`
	ReportDir      string   `yaml:"report_dir"      json:"-"`
	StatusAddr     string   `yaml:"status_addr"     json:"-"`
	Schedule       string   `yaml:"schedule"        json:"schedule"`
	LogLevel       string   `yaml:"log_level"       json:"-"`
	LogFile        string   `yaml:"log_file"        json:"-"`
	Pipeline       Pipeline `yaml:"pipeline"        json:"pipeline"`
}

// Pipeline holds concurrency and resource knobs for the extraction pipeline.
// Zero Workers/Writers means "let the resource planner decide"; other zero
// fields take the defaults below.
type Pipeline struct {
	Workers           int           `yaml:"workers"             json:"workers"`
	Writers           int           `yaml:"writers"             json:"writers"`
	WorkerMemLimitMB  int           `yaml:"worker_mem_limit_mb" json:"worker_mem_limit_mb"`
	BatchSize         int           `yaml:"batch_size"          json:"batch_size"`
	FlushInterval     time.Duration `yaml:"flush_interval"      json:"flush_interval"`
	ExtractTimeout    time.Duration `yaml:"extract_timeout"     json:"extract_timeout"`
	MaxFileSizeMB     int           `yaml:"max_file_size_mb"    json:"max_file_size_mb"`
	MaxRetries        int           `yaml:"max_retries"         json:"max_retries"`
	SaveEvery         int           `yaml:"save_every"          json:"save_every"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"  json:"heartbeat_interval"`
	ReportInterval    time.Duration `yaml:"report_interval"     json:"report_interval"`
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "docmill.db"
	}
	if c.CheckpointPath == "" {
		c.CheckpointPath = "docmill.checkpoint.json"
	}
	if c.ReportDir == "" {
		c.ReportDir = "."
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.IncludeExts) == 0 {
		c.IncludeExts = []string{".txt", ".log", ".md", ".csv", ".tsv", ".jsonl"}
	}
	p := &c.Pipeline
	if p.BatchSize == 0 {
		p.BatchSize = 1000
	}
	if p.FlushInterval == 0 {
		p.FlushInterval = 2 * time.Second
	}
	if p.ExtractTimeout == 0 {
		p.ExtractTimeout = 30 * time.Second
	}
	if p.MaxFileSizeMB == 0 {
		p.MaxFileSizeMB = 512
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	if p.SaveEvery == 0 {
		p.SaveEvery = 10
	}
	if p.HeartbeatInterval == 0 {
		p.HeartbeatInterval = 5 * time.Second
	}
	if p.ReportInterval == 0 {
		p.ReportInterval = 10 * time.Second
	}
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so a run can
// start from flags alone without a config file on disk.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		var cfg Config
		cfg.applyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}
