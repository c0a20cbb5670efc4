// Package config loads the YAML configuration file and parses the CLI
// plugin option-string grammar ("name:opt1=val1;opt2=val2"), per
// SPEC_FULL.md's ambient configuration stack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level flowmeter configuration file shape.
type Config struct {
	Input struct {
		Interface string `yaml:"interface"`
		PcapFile  string `yaml:"pcap_file"`
		Workers   int    `yaml:"workers"`
	} `yaml:"input"`

	FragmentCache struct {
		BucketCount int           `yaml:"bucket_count"`
		RingSize    int           `yaml:"ring_size"`
		TimeoutSec  int           `yaml:"timeout_sec"`
	} `yaml:"fragment_cache"`

	FlowCache struct {
		BucketBits        uint `yaml:"bucket_bits"`
		BucketSize        int  `yaml:"bucket_size"`
		ActiveTimeoutSec  int  `yaml:"active_timeout_sec"`
		InactiveTimeoutSec int `yaml:"inactive_timeout_sec"`
	} `yaml:"flow_cache"`

	Plugins []string `yaml:"plugins"` // each entry is an option string, e.g. "pstats:skipdup=1"

	Export struct {
		Protocol       string `yaml:"protocol"` // "udp" or "tcp"
		Collector      string `yaml:"collector"`
		TemplateRefreshSec int `yaml:"template_refresh_sec"`
		MTU            int    `yaml:"mtu"`
		FlushIntervalMs int   `yaml:"flush_interval_ms"` // max time a record waits in the pending IPFIX message buffer
	} `yaml:"export"`

	Analytics struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database string `yaml:"database"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"analytics"`

	CTT struct {
		Enabled    bool   `yaml:"enabled"`
		URL        string `yaml:"url"`
		Exchange   string `yaml:"exchange"`
		RoutingKey string `yaml:"routing_key"`
	} `yaml:"ctt"`

	Monitoring struct {
		Enabled        bool `yaml:"enabled"`
		PrometheusPort int  `yaml:"prometheus_port"`
		StatsIntervalSec int `yaml:"stats_interval_sec"`
	} `yaml:"monitoring"`
}

// Load reads and parses a YAML config file, filling in the same style of
// defaults a production collector config applies.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Input.Workers == 0 {
		cfg.Input.Workers = 1
	}
	if cfg.FragmentCache.BucketCount == 0 {
		cfg.FragmentCache.BucketCount = 10007
	}
	if cfg.FragmentCache.RingSize == 0 {
		cfg.FragmentCache.RingSize = 16
	}
	if cfg.FragmentCache.TimeoutSec == 0 {
		cfg.FragmentCache.TimeoutSec = 3
	}
	if cfg.FlowCache.BucketBits == 0 {
		cfg.FlowCache.BucketBits = 20
	}
	if cfg.FlowCache.BucketSize == 0 {
		cfg.FlowCache.BucketSize = 16
	}
	if cfg.FlowCache.ActiveTimeoutSec == 0 {
		cfg.FlowCache.ActiveTimeoutSec = 300
	}
	if cfg.FlowCache.InactiveTimeoutSec == 0 {
		cfg.FlowCache.InactiveTimeoutSec = 30
	}
	if cfg.Export.TemplateRefreshSec == 0 {
		cfg.Export.TemplateRefreshSec = 300
	}
	if cfg.Export.MTU == 0 {
		cfg.Export.MTU = 1400
	}
	if cfg.Export.FlushIntervalMs == 0 {
		cfg.Export.FlushIntervalMs = 1000
	}
	if cfg.Analytics.PoolSize == 0 {
		cfg.Analytics.PoolSize = 10
	}
	if cfg.Monitoring.StatsIntervalSec == 0 {
		cfg.Monitoring.StatsIntervalSec = 30
	}
}

// PluginOptions is one parsed CLI/YAML plugin option string: the plugin
// name and its opt=val pairs, per SPEC_FULL.md §6's grammar
// "name:opt1=val1;opt2=val2".
type PluginOptions struct {
	Name string
	Opts map[string]string
}

// ParsePluginOption parses one option string into name + key/value pairs.
func ParsePluginOption(s string) (PluginOptions, error) {
	name, rest, hasOpts := strings.Cut(s, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return PluginOptions{}, fmt.Errorf("config: empty plugin name in option string %q", s)
	}
	out := PluginOptions{Name: name, Opts: map[string]string{}}
	if !hasOpts || rest == "" {
		return out, nil
	}
	for _, pair := range strings.Split(rest, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return PluginOptions{}, fmt.Errorf("config: malformed option %q in %q, want key=value", pair, s)
		}
		out.Opts[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// BoolOpt parses opts[key] as a bool, defaulting to def if absent or
// unparsable.
func (p PluginOptions) BoolOpt(key string, def bool) bool {
	v, ok := p.Opts[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// IntOpt parses opts[key] as an int, defaulting to def if absent or
// unparsable.
func (p PluginOptions) IntOpt(key string, def int) int {
	v, ok := p.Opts[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
