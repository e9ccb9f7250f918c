package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/HaPhanBaoMinh/kinsight/help"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// StreamPath is where the server publishes the snapshot stream.
const StreamPath = "/api/overview/stream"

type Config struct {
	Debug     bool            `json:"debug"`
	Kube      KubeConfig      `json:"kube"`
	Server    ServerConfig    `json:"server"`
	Dashboard DashboardConfig `json:"dashboard"`
}

type KubeConfig struct {
	Kubeconfig string `json:"kubeconfig"`
	Context    string `json:"context"`
	// Mock serves a synthetic cluster instead of talking to the API server.
	Mock bool `json:"mock"`
}

type ServerConfig struct {
	Addr     string          `json:"addr"`
	Interval metav1.Duration `json:"interval"`
}

type DashboardConfig struct {
	Endpoint      string `json:"endpoint"`
	AutoReconnect bool   `json:"autoReconnect"`
	// LogFile receives logs while the dashboard owns the terminal. Empty
	// discards them.
	LogFile string `json:"logFile"`
}

func Default() *Config {
	return &Config{
		Kube: KubeConfig{
			Kubeconfig: help.DefaultKubeconfig(),
		},
		Server: ServerConfig{
			Addr:     ":3000",
			Interval: metav1.Duration{Duration: 5 * time.Second},
		},
		Dashboard: DashboardConfig{
			Endpoint:      "http://localhost:3000" + StreamPath,
			AutoReconnect: true,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path, if any.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is empty", ErrInvalid)
	}
	if c.Server.Interval.Duration <= 0 {
		return fmt.Errorf("%w: server.interval must be positive, got %s", ErrInvalid, c.Server.Interval.Duration)
	}
	u, err := url.Parse(c.Dashboard.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: dashboard.endpoint: %v", ErrInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: dashboard.endpoint must be http or https, got %q", ErrInvalid, c.Dashboard.Endpoint)
	}
	return nil
}
