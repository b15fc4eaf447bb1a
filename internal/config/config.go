// Package config loads the node configuration from YAML, filling in
// defaults for anything the file omits.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"

	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	KoiNet KoiNetConfig `yaml:"koi_net"`
	Cache  CacheConfig  `yaml:"cache"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// URL returns the externally reachable base URL including the API path.
func (s ServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d%s", s.Host, s.Port, s.Path)
}

type KoiNetConfig struct {
	NodeName        string          `yaml:"node_name"`
	NodeProfile     NodeProfileYAML `yaml:"node_profile"`
	CacheDirectory  string          `yaml:"cache_directory"`
	IdentityPath    string          `yaml:"identity_path"`
	EventQueuesPath string          `yaml:"event_queues_path"`
	FirstContact    string          `yaml:"first_contact"`
}

// NodeProfileYAML mirrors protocol.NodeProfile with yaml tags; RID
// types appear as plain namespace strings in the config file.
type NodeProfileYAML struct {
	BaseURL  string           `yaml:"base_url"`
	NodeType string           `yaml:"node_type"`
	Provides NodeProvidesYAML `yaml:"provides"`
}

type NodeProvidesYAML struct {
	Event []string `yaml:"event"`
	State []string `yaml:"state"`
}

type CacheConfig struct {
	Backend   string `yaml:"backend"` // leveldb (default), memory, redis
	RedisAddr string `yaml:"redis_addr"`
}

// Load reads the config file at path, resolves KOI_* environment
// overrides (the cmds load .env first), and backfills defaults. When
// the file is absent or incomplete the completed config is written
// back, so a first run leaves a usable file behind.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	missing := os.IsNotExist(err)
	if err != nil && !missing {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if !missing {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	before, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	completed, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if missing || !bytes.Equal(before, completed) {
		if err := os.WriteFile(path, completed, 0o644); err != nil {
			return nil, fmt.Errorf("write config %s: %w", path, err)
		}
	}
	return cfg, nil
}

// applyEnv overlays environment variables on top of the file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("KOI_SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("KOI_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("KOI_SERVER_PATH"); v != "" {
		c.Server.Path = v
	}
	if v := os.Getenv("KOI_NODE_NAME"); v != "" {
		c.KoiNet.NodeName = v
	}
	if v := os.Getenv("KOI_FIRST_CONTACT"); v != "" {
		c.KoiNet.FirstContact = v
	}
	if v := os.Getenv("KOI_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := os.Getenv("KOI_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.Path == "" {
		c.Server.Path = protocol.DefaultAPIPath
	}
	if c.KoiNet.NodeName == "" {
		c.KoiNet.NodeName = "node"
	}
	if c.KoiNet.NodeProfile.NodeType == "" {
		c.KoiNet.NodeProfile.NodeType = string(protocol.NodeFull)
	}
	if c.KoiNet.CacheDirectory == "" {
		c.KoiNet.CacheDirectory = ".rid_cache"
	}
	if c.KoiNet.IdentityPath == "" {
		c.KoiNet.IdentityPath = "identity.json"
	}
	if c.KoiNet.EventQueuesPath == "" {
		c.KoiNet.EventQueuesPath = "event_queues.json"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "leveldb"
	}
	// FULL nodes serve HTTP; default their advertised URL to the server
	// section so peers can reach back.
	if c.KoiNet.NodeProfile.BaseURL == "" &&
		c.KoiNet.NodeProfile.NodeType == string(protocol.NodeFull) {
		c.KoiNet.NodeProfile.BaseURL = c.Server.URL()
	}
}

func (c *Config) validate() error {
	switch protocol.NodeType(c.KoiNet.NodeProfile.NodeType) {
	case protocol.NodeFull, protocol.NodePartial:
	default:
		return fmt.Errorf("config: invalid node_type %q", c.KoiNet.NodeProfile.NodeType)
	}
	switch c.Cache.Backend {
	case "leveldb", "memory", "redis":
	default:
		return fmt.Errorf("config: invalid cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("config: redis backend requires redis_addr")
	}
	return nil
}

// Profile converts the YAML profile into the wire model.
func (c *Config) Profile() protocol.NodeProfile {
	profile := protocol.NodeProfile{
		BaseURL:  c.KoiNet.NodeProfile.BaseURL,
		NodeType: protocol.NodeType(c.KoiNet.NodeProfile.NodeType),
	}
	for _, t := range c.KoiNet.NodeProfile.Provides.Event {
		profile.Provides.Event = append(profile.Provides.Event, rid.Type(t))
	}
	for _, t := range c.KoiNet.NodeProfile.Provides.State {
		profile.Provides.State = append(profile.Provides.State, rid.Type(t))
	}
	return profile
}
