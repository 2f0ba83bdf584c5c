package config

import (
	"fmt"
	"os"
	"time"

	"lumen-core/internal/packet"
	"lumen-core/internal/protocol/handshake"
	"lumen-core/internal/session"
	"lumen-core/internal/token"
	"lumen-core/internal/utils"

	"gopkg.in/yaml.v3"
)

// ListenerConfig 单个监听端点
type ListenerConfig struct {
	Protocol string `yaml:"protocol"` // tcp/websocket/quic/kcp
	Addr     string `yaml:"addr"`
}

// ServerConfig 节点服务端配置
type ServerConfig struct {
	Listeners    []ListenerConfig       `yaml:"listeners"`
	MaxFrameSize int                    `yaml:"max_frame_size"`
	BacklogSize  int                    `yaml:"backlog_size"`
	Handshake    handshake.Config       `yaml:"handshake"`
	Registry     session.RegistryConfig `yaml:"registry"`
	Token        token.Config           `yaml:"token"`
	// HandshakeRate 每秒接受的新连接数上限，0为不限
	HandshakeRate float64 `yaml:"handshake_rate"`
	// HandshakeBurst 突发接受额度
	HandshakeBurst int `yaml:"handshake_burst"`
	// HeartbeatInterval 服务端心跳间隔
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// IdleTimeout 已认证连接的空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// Config 顶层配置
type Config struct {
	Log    utils.LogConfig `yaml:"log"`
	Server ServerConfig    `yaml:"server"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Log: utils.LogConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Listeners: []ListenerConfig{
				{Protocol: "tcp", Addr: ":7740"},
			},
			MaxFrameSize:      packet.DefaultMaxFrameSize,
			BacklogSize:       32,
			HandshakeBurst:    64,
			HeartbeatInterval: 30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

// Load 从YAML文件加载配置，未设置的字段保留默认值
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if len(c.Server.Listeners) == 0 {
		return fmt.Errorf("at least one listener is required")
	}
	for _, l := range c.Server.Listeners {
		switch l.Protocol {
		case "tcp", "websocket", "quic", "kcp":
		default:
			return fmt.Errorf("unsupported listener protocol: %s", l.Protocol)
		}
		if l.Addr == "" {
			return fmt.Errorf("listener addr is required for protocol %s", l.Protocol)
		}
	}
	if c.Server.MaxFrameSize < 0 {
		return fmt.Errorf("max_frame_size must be non-negative")
	}
	if c.Server.HandshakeRate < 0 {
		return fmt.Errorf("handshake_rate must be non-negative")
	}
	return nil
}
