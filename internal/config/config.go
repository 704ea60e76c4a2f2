// Package config loads the orchestrator's YAML configuration, applies
// environment variable overrides, and fills in defaults — the same
// Load -> applyEnvOverrides -> setDefaults pipeline the wider project uses.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the full orchestrator configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Network     NetworkConfig     `yaml:"network"`
	Jailer      JailerConfig      `yaml:"jailer"`
	VM          VMConfig          `yaml:"vm"`
	Queue       QueueConfig       `yaml:"queue"`
	Audit       AuditConfig       `yaml:"audit"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds the HTTP adapter's listen settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// NetworkConfig holds the constants and host interface C2 needs.
type NetworkConfig struct {
	HostInterface string `yaml:"host_interface"`
	CIDRBlock     string `yaml:"cidr_block"`
}

// JailerConfig holds the paths C3 needs to launch the jailer.
type JailerConfig struct {
	JailerPath    string `yaml:"jailer_path"`
	FirecrackerPath string `yaml:"firecracker_path"`
	ChrootBaseDir string `yaml:"chroot_base_dir"`
}

// VMConfig holds the default kernel/rootfs/dummy-drive paths used to
// populate the default VirtualMachineConfig in provide_sandbox.
type VMConfig struct {
	KernelImagePath string `yaml:"kernel_image_path"`
	RootfsPath      string `yaml:"rootfs_path"`
	DummyDrivePath  string `yaml:"dummy_drive_path"`
}

// QueueConfig configures the asynq-backed cleanup reaper.
type QueueConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RedisAddr string `yaml:"redis_addr"`
}

// AuditConfig configures the postgres-backed lifecycle audit trail.
type AuditConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"sslmode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// DiscoveryConfig configures optional Consul self-registration.
type DiscoveryConfig struct {
	ConsulAddr  string `yaml:"consul_addr"`
	ServiceName string `yaml:"service_name"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads a YAML config file, applies env overrides, and sets defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SANDBOXD_HOST_INTERFACE"); v != "" {
		c.Network.HostInterface = v
	}
	if v := os.Getenv("SANDBOXD_CHROOT_BASE_DIR"); v != "" {
		c.Jailer.ChrootBaseDir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Queue.RedisAddr = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Audit.Host = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Audit.Password = v
	}
	if v := os.Getenv("CONSUL_ADDR"); v != "" {
		c.Discovery.ConsulAddr = v
	}
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}

	if c.Network.HostInterface == "" {
		c.Network.HostInterface = "ens4"
	}
	if c.Network.CIDRBlock == "" {
		c.Network.CIDRBlock = "172.16.0.1/30"
	}

	if c.Jailer.JailerPath == "" {
		c.Jailer.JailerPath = "/usr/local/bin/jailer"
	}
	if c.Jailer.FirecrackerPath == "" {
		c.Jailer.FirecrackerPath = "/usr/local/bin/firecracker"
	}
	if c.Jailer.ChrootBaseDir == "" {
		c.Jailer.ChrootBaseDir = "/srv/jailer"
	}

	if c.VM.KernelImagePath == "" {
		c.VM.KernelImagePath = "/var/lib/sandboxd/kernel.bin"
	}
	if c.VM.RootfsPath == "" {
		c.VM.RootfsPath = "/var/lib/sandboxd/rootfs.ext4"
	}
	if c.VM.DummyDrivePath == "" {
		c.VM.DummyDrivePath = "/var/lib/sandboxd/dummy-drive.ext4"
	}

	if c.Queue.RedisAddr == "" {
		c.Queue.RedisAddr = "localhost:6379"
	}

	if c.Audit.Host == "" {
		c.Audit.Host = "localhost"
	}
	if c.Audit.Port == 0 {
		c.Audit.Port = 5432
	}
	if c.Audit.SSLMode == "" {
		c.Audit.SSLMode = "disable"
	}
	if c.Audit.MaxOpenConns == 0 {
		c.Audit.MaxOpenConns = 10
	}
	if c.Audit.MaxIdleConns == 0 {
		c.Audit.MaxIdleConns = 2
	}

	if c.Discovery.ServiceName == "" {
		c.Discovery.ServiceName = "sandboxd"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
