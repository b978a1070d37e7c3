// Package config provides configuration management for upsess.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/rescale/upsess/internal/constants"
)

// Config is the upsess configuration file.
//
// Config file location:
//   - Windows: %APPDATA%\Rescale\upsess\upsess.conf
//   - Unix: ~/.config/upsess/upsess.conf
//
// INI format:
//
//	[engine]
//	in_memory_threshold_mb = 128
//	read_quantum_kb = 512
//	hash_chunk_kb = 4096
//	progress_step_mb = 128
//	native_digest = true
//	include_hidden = false
//
//	[store]
//	path = ~/.config/upsess/upsess.db
//	open_timeout_seconds = 5
//
//	[log]
//	level = info
//	file =
//
//	[proxy]
//	mode = system
//	host =
//	port = 0
//	user =
//	password =
//	no_proxy =
//
//	[s3]
//	region =
//	endpoint =
//	access_key_id =
//	secret_access_key =
//	path_style = false
//
//	[azure]
//	account =
//	account_key =
//	sas_url =
type Config struct {
	Engine EngineConfig
	Store  StoreConfig
	Log    LogConfig
	Proxy  ProxyConfig
	S3     S3Config
	Azure  AzureConfig
}

// EngineConfig tunes sessions, reads and hashing.
type EngineConfig struct {
	// InMemoryThresholdMB: files smaller than this are buffered at session
	// creation. Minimum: 0 (never buffer), Maximum: 4096, Default: 128
	InMemoryThresholdMB int `ini:"in_memory_threshold_mb"`

	// ReadQuantumKB is the default chunk length when a read asks for 0 bytes.
	// Minimum: 1, Maximum: 65536, Default: 512
	ReadQuantumKB int `ini:"read_quantum_kb"`

	// HashChunkKB is the number of bytes hashed between cancel checks.
	// Minimum: 64, Maximum: 65536, Default: 4096
	HashChunkKB int `ini:"hash_chunk_kb"`

	// ProgressStepMB is the minimum distance between hash progress reports.
	// Minimum: 1, Default: 128
	ProgressStepMB int `ini:"progress_step_mb"`

	// NativeDigest prefers the runtime MD5/SHA-1 when they pass the self test.
	// Default: true
	NativeDigest bool `ini:"native_digest"`

	// IncludeHidden walks dot-files and dot-directories in dropped folders.
	// Default: false
	IncludeHidden bool `ini:"include_hidden"`
}

// StoreConfig locates the durable store.
type StoreConfig struct {
	// Path of the database file. A leading ~ expands to the home directory.
	Path string `ini:"path"`

	// OpenTimeoutSeconds bounds the wait for the file lock.
	// Minimum: 1, Maximum: 300, Default: 5
	OpenTimeoutSeconds int `ini:"open_timeout_seconds"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `ini:"level"`
	// File, when set, receives a copy of the log output.
	File string `ini:"file"`
}

// ProxyConfig is shared by every cloud platform.
type ProxyConfig struct {
	// Mode is one of no-proxy, system, basic, ntlm. Default: system
	Mode     string `ini:"mode"`
	Host     string `ini:"host"`
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
	// NoProxy is a comma-separated bypass list (hosts, domains, CIDRs).
	NoProxy string `ini:"no_proxy"`
}

// S3Config configures the s3:// platform. Empty credentials fall back to the
// AWS default chain.
type S3Config struct {
	Region          string `ini:"region"`
	Endpoint        string `ini:"endpoint"`
	AccessKeyID     string `ini:"access_key_id"`
	SecretAccessKey string `ini:"secret_access_key"`
	PathStyle       bool   `ini:"path_style"`
}

// AzureConfig configures the azure:// platform. Either a SAS URL or an
// account name plus key.
type AzureConfig struct {
	Account    string `ini:"account"`
	AccountKey string `ini:"account_key"`
	SASURL     string `ini:"sas_url"`
}

// Config validation errors
var (
	ErrInvalidInMemoryThreshold = errors.New("in_memory_threshold_mb must be between 0 and 4096")
	ErrInvalidReadQuantum       = errors.New("read_quantum_kb must be between 1 and 65536")
	ErrInvalidHashChunk         = errors.New("hash_chunk_kb must be between 64 and 65536")
	ErrInvalidProgressStep      = errors.New("progress_step_mb must be at least 1")
	ErrInvalidOpenTimeout       = errors.New("open_timeout_seconds must be between 1 and 300")
	ErrInvalidProxyMode         = errors.New("proxy mode must be one of no-proxy, system, basic, ntlm")
)

// ProxyModes lists the accepted [proxy] mode values.
var ProxyModes = []string{"no-proxy", "system", "basic", "ntlm"}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			InMemoryThresholdMB: int(constants.InMemoryThreshold >> 20),
			ReadQuantumKB:       constants.ReadQuantum >> 10,
			HashChunkKB:         constants.HashChunkSize >> 10,
			ProgressStepMB:      int(constants.ProgressStep >> 20),
			NativeDigest:        true,
			IncludeHidden:       false,
		},
		Store: StoreConfig{
			Path:               DefaultStorePath(),
			OpenTimeoutSeconds: int(constants.StoreOpenTimeout / time.Second),
		},
		Log: LogConfig{
			Level: "info",
		},
		Proxy: ProxyConfig{
			Mode: "system",
		},
	}
}

// Load reads configuration from path. If path is empty, uses the default
// path. If the file doesn't exist, returns defaults and no error. If the file
// exists but is invalid, returns an error.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	engine := iniFile.Section("engine")
	cfg.Engine.InMemoryThresholdMB = engine.Key("in_memory_threshold_mb").MustInt(cfg.Engine.InMemoryThresholdMB)
	cfg.Engine.ReadQuantumKB = engine.Key("read_quantum_kb").MustInt(cfg.Engine.ReadQuantumKB)
	cfg.Engine.HashChunkKB = engine.Key("hash_chunk_kb").MustInt(cfg.Engine.HashChunkKB)
	cfg.Engine.ProgressStepMB = engine.Key("progress_step_mb").MustInt(cfg.Engine.ProgressStepMB)
	cfg.Engine.NativeDigest = engine.Key("native_digest").MustBool(true)
	cfg.Engine.IncludeHidden = engine.Key("include_hidden").MustBool(false)

	store := iniFile.Section("store")
	cfg.Store.Path = ExpandHome(store.Key("path").MustString(cfg.Store.Path))
	cfg.Store.OpenTimeoutSeconds = store.Key("open_timeout_seconds").MustInt(cfg.Store.OpenTimeoutSeconds)

	logSection := iniFile.Section("log")
	cfg.Log.Level = logSection.Key("level").MustString("info")
	cfg.Log.File = ExpandHome(logSection.Key("file").String())

	proxy := iniFile.Section("proxy")
	cfg.Proxy.Mode = strings.ToLower(proxy.Key("mode").MustString("system"))
	cfg.Proxy.Host = proxy.Key("host").String()
	cfg.Proxy.Port = proxy.Key("port").MustInt(0)
	cfg.Proxy.User = proxy.Key("user").String()
	cfg.Proxy.Password = proxy.Key("password").String()
	cfg.Proxy.NoProxy = proxy.Key("no_proxy").String()

	s3 := iniFile.Section("s3")
	cfg.S3.Region = s3.Key("region").String()
	cfg.S3.Endpoint = s3.Key("endpoint").String()
	cfg.S3.AccessKeyID = s3.Key("access_key_id").String()
	cfg.S3.SecretAccessKey = s3.Key("secret_access_key").String()
	cfg.S3.PathStyle = s3.Key("path_style").MustBool(false)

	azure := iniFile.Section("azure")
	cfg.Azure.Account = azure.Key("account").String()
	cfg.Azure.AccountKey = azure.Key("account_key").String()
	cfg.Azure.SASURL = azure.Key("sas_url").String()

	return cfg, nil
}

// Save writes cfg to path. If path is empty, uses the default path.
// Creates parent directories if they don't exist.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()
	sections := []struct {
		name string
		v    any
	}{
		{"engine", &cfg.Engine},
		{"store", &cfg.Store},
		{"log", &cfg.Log},
		{"proxy", &cfg.Proxy},
		{"s3", &cfg.S3},
		{"azure", &cfg.Azure},
	}
	for _, s := range sections {
		section, err := iniFile.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		if err := section.ReflectFrom(s.v); err != nil {
			return fmt.Errorf("failed to write %s section: %w", s.name, err)
		}
	}

	// Credentials live in this file; keep it owner-only and replace atomically.
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid.
func (cfg *Config) Validate() error {
	e := cfg.Engine
	if e.InMemoryThresholdMB < 0 || e.InMemoryThresholdMB > 4096 {
		return ErrInvalidInMemoryThreshold
	}
	if e.ReadQuantumKB < 1 || e.ReadQuantumKB > 65536 {
		return ErrInvalidReadQuantum
	}
	if e.HashChunkKB < 64 || e.HashChunkKB > 65536 {
		return ErrInvalidHashChunk
	}
	if e.ProgressStepMB < 1 {
		return ErrInvalidProgressStep
	}
	if cfg.Store.OpenTimeoutSeconds < 1 || cfg.Store.OpenTimeoutSeconds > 300 {
		return ErrInvalidOpenTimeout
	}

	mode := strings.ToLower(cfg.Proxy.Mode)
	valid := mode == ""
	for _, m := range ProxyModes {
		if mode == m {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("%w: %q", ErrInvalidProxyMode, cfg.Proxy.Mode)
	}

	return nil
}

func (e EngineConfig) InMemoryThreshold() int64 { return int64(e.InMemoryThresholdMB) << 20 }
func (e EngineConfig) ReadQuantum() int         { return e.ReadQuantumKB << 10 }
func (e EngineConfig) HashChunkSize() int       { return e.HashChunkKB << 10 }
func (e EngineConfig) ProgressStep() int64      { return int64(e.ProgressStepMB) << 20 }

func (s StoreConfig) OpenTimeout() time.Duration {
	return time.Duration(s.OpenTimeoutSeconds) * time.Second
}

// ProxyActive reports whether requests will go through a proxy.
func (p ProxyConfig) ProxyActive() bool {
	switch strings.ToLower(p.Mode) {
	case "no-proxy", "":
		return false
	case "system":
		return os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
			os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	default:
		return true
	}
}
