package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"flood_mesh/internal/dataType"
	"flood_mesh/internal/utils"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	AdmissionOpen      = "open"
	AdmissionAllowList = "allowlist"
)

type MainConfig struct {
	LogPath      string       `yaml:"log_path" validate:"required"`
	LogStdout    bool         `yaml:"log_stdout"`
	LogLevel     string       `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Compress     bool         `yaml:"compress"`
	MaxFrameSize uint64       `yaml:"max_frame_size" validate:"gte=64"`
	Nodes        []NodeConfig `yaml:"nodes" validate:"required,min=1,unique=Name,dive"`
}

type DialConfig struct {
	Attempts       int           `yaml:"attempts" validate:"gte=0"`
	InitialBackoff time.Duration `yaml:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" validate:"gtefield=InitialBackoff"`
	Factor         float64       `yaml:"factor" validate:"gte=1"`
	Timeout        time.Duration `yaml:"timeout" validate:"gte=0"`
}

type NodeConfig struct {
	Name              string        `yaml:"name" validate:"required"`
	ListenAddr        string        `yaml:"listen_addr" validate:"required,hostname_port"`
	AdvertiseAddr     string        `yaml:"advertise_addr" validate:"omitempty,hostname_port"`
	Peers             []string      `yaml:"peers" validate:"dive,hostname_port"`
	Admission         string        `yaml:"admission" validate:"oneof=open allowlist"`
	KnownPeers        []string      `yaml:"known_peers" validate:"required_if=Admission allowlist,dive,ip|cidr"`
	SeenCacheSize     int           `yaml:"seen_cache_size" validate:"gte=1"`
	CommandBuffer     int           `yaml:"command_buffer" validate:"gte=1"`
	InboundBuffer     int           `yaml:"inbound_buffer" validate:"gte=1"`
	DeliveryBuffer    int           `yaml:"delivery_buffer" validate:"gte=1"`
	MaxSendFailures   int           `yaml:"max_send_failures" validate:"gte=0"`
	WriteTimeout      time.Duration `yaml:"write_timeout" validate:"gte=0"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"gte=0"`
	PeerRateLimit     string        `yaml:"peer_rate_limit"`
	BanDuration       time.Duration `yaml:"ban_duration" validate:"gte=0"`
	EventLogSize      int           `yaml:"event_log_size" validate:"gte=0"`
	Dial              DialConfig    `yaml:"dial"`

	// Filled from MainConfig, not read from the node section.
	Compress     bool   `yaml:"-"`
	MaxFrameSize uint64 `yaml:"-"`
}

// RateLimit returns the parsed peer_rate_limit. ok is false when unset.
func (n NodeConfig) RateLimit() (limit int, window time.Duration, ok bool, err error) {
	if n.PeerRateLimit == "" {
		return 0, 0, false, nil
	}
	limit, window, err = utils.ParseRate(n.PeerRateLimit)
	if err != nil {
		return 0, 0, false, err
	}
	return limit, window, true, nil
}

func DefaultDialConfig() DialConfig {
	return DialConfig{
		Attempts:       0,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Factor:         2,
		Timeout:        3 * time.Second,
	}
}

// DefaultNodeConfig is a node on listen with no neighbors.
func DefaultNodeConfig(name, listen string) NodeConfig {
	return NodeConfig{
		Name:              name,
		ListenAddr:        listen,
		Admission:         AdmissionOpen,
		SeenCacheSize:     dataType.DefaultSeenCacheSize,
		CommandBuffer:     16,
		InboundBuffer:     128,
		DeliveryBuffer:    128,
		MaxSendFailures:   3,
		WriteTimeout:      5 * time.Second,
		HeartbeatInterval: 0,
		BanDuration:       time.Minute,
		EventLogSize:      dataType.DefaultEventLogSize,
		Dial:              DefaultDialConfig(),
	}
}

func defaultMainConfig() MainConfig {
	return MainConfig{
		LogPath:      "/var/log/flood_mesh/",
		LogStdout:    true,
		LogLevel:     "info",
		MaxFrameSize: 16 << 20,
		Nodes:        []NodeConfig{DefaultNodeConfig("node", "127.0.0.1:7000")},
	}
}

// LoadMainConfig Read <basePath>/config/mesh.yml, fill defaults and validate it
func LoadMainConfig(basePath string) (*MainConfig, error) {
	defaultCfg := defaultMainConfig()

	if basePath == "" {
		exePath, err := os.Executable()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Dir(exePath)
	}
	configPath := filepath.Join(basePath, "config", "mesh.yml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return &defaultCfg, err
	}

	cfg, err := ParseMainConfig(data)
	if err != nil {
		return &defaultCfg, fmt.Errorf("%s: %w", configPath, err)
	}
	return cfg, nil
}

// ParseMainConfig decodes YAML, applies defaults and validates.
func ParseMainConfig(data []byte) (*MainConfig, error) {
	cfg := defaultMainConfig()
	cfg.Nodes = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for i := range cfg.Nodes {
		cfg.Nodes[i].Compress = cfg.Compress
		cfg.Nodes[i].MaxFrameSize = cfg.MaxFrameSize
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UnmarshalYAML starts every node section from DefaultNodeConfig so omitted
// keys keep their defaults.
func (n *NodeConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain NodeConfig
	p := plain(DefaultNodeConfig("", ""))
	if err := value.Decode(&p); err != nil {
		return err
	}
	*n = NodeConfig(p)
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Validate(cfg *MainConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, n := range cfg.Nodes {
		if _, _, _, err := n.RateLimit(); err != nil {
			return fmt.Errorf("invalid node %q: peer_rate_limit: %w", n.Name, err)
		}
	}
	return nil
}

// ValidateNode checks a single node section, including the rate limit string.
func ValidateNode(n NodeConfig) error {
	if err := validate.Struct(n); err != nil {
		return fmt.Errorf("invalid node %q: %w", n.Name, err)
	}
	if _, _, _, err := n.RateLimit(); err != nil {
		return fmt.Errorf("invalid node %q: peer_rate_limit: %w", n.Name, err)
	}
	return nil
}
