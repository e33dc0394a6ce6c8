package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type daemonConfig struct {
	StreamAddr     string `toml:"stream_addr"`
	DatagramAddr   string `toml:"datagram_addr"`
	MaxMessageSize uint32 `toml:"max_message_size"`
	Workers        int    `toml:"workers"`
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		StreamAddr:     "/tmp/wirelinkd.stream.sock",
		DatagramAddr:   "/tmp/wirelinkd.dgram.sock",
		MaxMessageSize: 4096,
		Workers:        1,
	}
}

func loadDaemonConfig(path string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return daemonConfig{}, fmt.Errorf("load config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return daemonConfig{}, fmt.Errorf("parse config: %w", err)
	}
	if err := validateDaemonConfig(cfg); err != nil {
		return daemonConfig{}, err
	}
	return cfg, nil
}

func validateDaemonConfig(cfg daemonConfig) error {
	if strings.TrimSpace(cfg.StreamAddr) == "" && strings.TrimSpace(cfg.DatagramAddr) == "" {
		return fmt.Errorf("config: at least one of stream_addr, datagram_addr required")
	}
	if cfg.MaxMessageSize < 12 {
		return fmt.Errorf("config: max_message_size below frame header size")
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1")
	}
	return nil
}
