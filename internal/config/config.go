// Package config loads edgecache's YAML configuration, following the
// source's flag > env > file > default precedence for the handful of
// settings that can come from more than one place.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Origin describes one upstream a proxy route forwards to.
type Origin struct {
	Name        string `yaml:"name"`
	Scheme      string `yaml:"scheme"`
	Host        string `yaml:"host"`
	PathPattern string `yaml:"pathPattern"`
}

// Route describes a single routable path and, for proxy routes, which
// origin it forwards to.
type Route struct {
	Pattern   string `yaml:"pattern"`
	Origin    string `yaml:"origin,omitempty"`
	Cacheable *bool  `yaml:"cacheable,omitempty"`
}

// CORS mirrors corsutil.Policy's fields for YAML loading.
type CORS struct {
	Enabled          bool   `yaml:"enabled"`
	AllowOrigin      string `yaml:"allowOrigin"`
	AllowMethods     string `yaml:"allowMethods"`
	AllowHeaders     string `yaml:"allowHeaders"`
	AllowCredentials bool   `yaml:"allowCredentials"`
}

// Config is the top-level shape of the YAML config file.
type Config struct {
	Port          int      `yaml:"port"`
	Host          string   `yaml:"host"`
	SidecarPath   string   `yaml:"sidecarPath"`
	MaxCacheBytes int64    `yaml:"maxCacheBytes"`
	DumpInterval  string   `yaml:"dumpInterval"`
	LogLevel      string   `yaml:"logLevel"`
	Origins       []Origin `yaml:"origins"`
	Routes        []Route  `yaml:"routes"`
	CORS          CORS     `yaml:"cors"`
	PreferBrotli  bool     `yaml:"preferBrotli"`
}

// Defaults returns the built-in configuration used when no file, flag, or
// env var overrides a setting.
func Defaults() Config {
	return Config{
		Port:          3000,
		Host:          "localhost",
		SidecarPath:   "./edgecache.sidecar",
		MaxCacheBytes: 0, // 0 means "derive from memprobe"
		DumpInterval:  "5s",
		LogLevel:      "info",
		PreferBrotli:  true,
	}
}

// Load reads and parses a YAML config file at path. A missing file is not
// an error: Defaults() is returned unchanged, since every setting can also
// come from a flag or environment variable.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays a small set of operational env vars onto cfg, used
// between Load and flag parsing so flags remain the final, highest-priority
// override. PORT and HOST/HOSTNAME are the source's documented external
// interface; the EDGECACHE_-prefixed vars are additional operational knobs.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Port = n
		}
	} else if v := os.Getenv("EDGECACHE_PORT"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	} else if v := os.Getenv("HOSTNAME"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("EDGECACHE_SIDECAR_PATH"); v != "" {
		cfg.SidecarPath = v
	}
	if v := os.Getenv("EDGECACHE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

func parseInt(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
