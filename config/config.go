package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// DefaultConfigDir is searched when no -C directory is given
const DefaultConfigDir = "/etc/repack"

// ConfigFileName is the name of the INI file inside the config directory
const ConfigFileName = "repack.ini"

const globalSection = "Global Configuration"

// Config holds repack configuration
type Config struct {
	Profile    string
	ConfigPath string

	BaseDir    string
	AdminDir   string // dpkg admin directory holding status and info/
	RootDir    string // filesystem root package files are read from
	OutputPath string // where rebuilt archives are written
	LogsPath   string

	MaxWorkers int

	Compression      string // xz, gzip or none
	CompressionLevel int

	OnlyLeaves  bool
	WatchStatus bool
	LogLevel    string

	Debug bool

	// Database settings
	Database struct {
		Path string // Default: ${BaseDir}/cache.db
	}
}

// LoadConfig loads configuration from configDir/repack.ini. A missing file
// is not an error: defaults are used and a warning is printed.
func LoadConfig(configDir, profile string) (*Config, error) {
	cfg := &Config{
		Profile:          profile,
		MaxWorkers:       defaultWorkers(),
		CompressionLevel: -1,
	}

	if configDir == "" {
		configDir = DefaultConfigDir
	}
	configFile := filepath.Join(configDir, ConfigFileName)
	cfg.ConfigPath = configFile

	configFileExists := false
	if _, err := os.Stat(configFile); err == nil {
		configFileExists = true
		iniFile, err := ini.InsensitiveLoad(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}

		globalSec, _ := iniFile.GetSection(globalSection)

		// If no profile specified, read from global section
		if globalSec != nil && (cfg.Profile == "" || cfg.Profile == "default") {
			if key, err := globalSec.GetKey("profile_selected"); err == nil {
				cfg.Profile = key.String()
			}
		}

		// Profile values override global ones
		cfg.loadFromSection(globalSec)
		if cfg.Profile != "" {
			if profileSec, err := iniFile.GetSection(cfg.Profile); err == nil {
				cfg.loadFromSection(profileSec)
			}
		}
	}

	if !configFileExists {
		fmt.Fprintf(os.Stderr, "Warning: No config file found at %s\n", configFile)
		fmt.Fprintf(os.Stderr, "Run 'repack init' to create one.\n")
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	// Archive compression is CPU bound; more than 8 writers rarely helps
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (cfg *Config) applyDefaults() {
	if cfg.BaseDir == "" {
		cfg.BaseDir = "/var/lib/repack"
	}
	if cfg.AdminDir == "" {
		cfg.AdminDir = "/var/lib/dpkg"
	}
	if cfg.RootDir == "" {
		cfg.RootDir = "/"
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = filepath.Join(cfg.BaseDir, "debs")
	}
	if cfg.LogsPath == "" {
		cfg.LogsPath = filepath.Join(cfg.BaseDir, "logs")
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.BaseDir, "cache.db")
	}
	if cfg.Compression == "" {
		cfg.Compression = "xz"
	}
	if cfg.CompressionLevel < 0 {
		cfg.CompressionLevel = 6
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
		if cfg.Debug {
			cfg.LogLevel = "debug"
		}
	}
}

// Validate checks values that cannot be defaulted
func (cfg *Config) Validate() error {
	switch cfg.Compression {
	case "xz", "gzip", "none":
	default:
		return &ValidationError{Key: "Compression_type", Value: cfg.Compression, Reason: "must be xz, gzip or none"}
	}
	if cfg.CompressionLevel > 9 {
		return &ValidationError{Key: "Compression_level", Value: strconv.Itoa(cfg.CompressionLevel), Reason: "must be between 0 and 9"}
	}
	return nil
}

// loadFromSection loads config values present in an INI section
func (cfg *Config) loadFromSection(sec *ini.Section) {
	if sec == nil {
		return
	}

	str := func(name string, dst *string) {
		if !sec.HasKey(name) {
			return
		}
		if v := strings.TrimSpace(sec.Key(name).String()); v != "" {
			*dst = v
		}
	}

	// Directory paths
	str("Directory_base", &cfg.BaseDir)
	str("Directory_admin", &cfg.AdminDir)
	str("Directory_root", &cfg.RootDir)
	str("Directory_output", &cfg.OutputPath)
	str("Directory_logs", &cfg.LogsPath)
	str("Database_path", &cfg.Database.Path)

	str("Compression_type", &cfg.Compression)
	str("Log_level", &cfg.LogLevel)
	cfg.Compression = strings.ToLower(cfg.Compression)

	if sec.HasKey("Number_of_builders") {
		if n, err := sec.Key("Number_of_builders").Int(); err == nil && n > 0 {
			cfg.MaxWorkers = n
		}
	}
	if sec.HasKey("Compression_level") {
		if n, err := sec.Key("Compression_level").Int(); err == nil && n >= 0 {
			cfg.CompressionLevel = n
		}
	}

	if sec.HasKey("Only_leaves") {
		cfg.OnlyLeaves = parseBool(sec.Key("Only_leaves").String())
	}
	if sec.HasKey("Watch_status") {
		cfg.WatchStatus = parseBool(sec.Key("Watch_status").String())
	}
}

// SaveConfig writes cfg into path as a single global section and records
// the path in cfg.ConfigPath.
func SaveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file := ini.Empty()
	sec, err := file.NewSection(globalSection)
	if err != nil {
		return err
	}

	profile := cfg.Profile
	if profile == "" {
		profile = "default"
	}

	values := []struct{ key, value string }{
		{"profile_selected", profile},
		{"Directory_base", cfg.BaseDir},
		{"Directory_admin", cfg.AdminDir},
		{"Directory_root", cfg.RootDir},
		{"Directory_output", cfg.OutputPath},
		{"Directory_logs", cfg.LogsPath},
		{"Database_path", cfg.Database.Path},
		{"Number_of_builders", strconv.Itoa(cfg.MaxWorkers)},
		{"Compression_type", cfg.Compression},
		{"Compression_level", strconv.Itoa(cfg.CompressionLevel)},
		{"Only_leaves", formatBool(cfg.OnlyLeaves)},
		{"Watch_status", formatBool(cfg.WatchStatus)},
		{"Log_level", cfg.LogLevel},
	}
	for _, v := range values {
		if _, err := sec.NewKey(v.key, v.value); err != nil {
			return err
		}
	}

	if err := file.SaveTo(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	cfg.ConfigPath = path
	return nil
}

// ValidationError reports a configuration value that cannot be used
type ValidationError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Key, e.Value, e.Reason)
}

func parseBool(s string) bool {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	// Handle yes/no
	switch strings.ToLower(s) {
	case "yes", "on":
		return true
	}
	return false
}

func formatBool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
