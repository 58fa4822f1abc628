// Package config loads the adapter's optional on-disk defaults file. Every
// field has a sane default; the file itself need not exist.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the config file's name, looked for only in the directory
// passed to Load.
const FileName = ".uc-debugger.toml"

// Config holds adapter-side defaults that would otherwise have to be
// supplied on every launch request.
type Config struct {
	// Port the adapter connects to when no launch/attach argument supplies
	// one explicitly.
	Port int `toml:"port"`

	// SourceRoots are searched, in order, when resolving a class name to a
	// .uc file on disk.
	SourceRoots []string `toml:"source_roots,omitempty"`

	// EnableStackHack turns on the legacy call-stack workaround; it is off
	// by default.
	EnableStackHack bool `toml:"enable_stack_hack"`

	Log LogConfig `toml:"log,omitempty"`
}

// LogConfig controls the adapter's own diagnostic log file, independent of
// anything forwarded from the engine.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level"`

	// Directory the rotated log files are written under. Empty means no log
	// file is written; only the in-memory log buffer is kept.
	Directory string `toml:"directory,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Port:            12345,
		EnableStackHack: false,
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads FileName from dir, falling back to Default when it doesn't
// exist. Fields present in the file override the default; fields absent
// from the file keep their default value.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
