// Package config holds luminaguardd runtime configuration.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Pool sizing and refresh bounds. Values outside these ranges are clamped,
// not rejected — a misconfigured pool must never prevent the daemon from
// starting, since cold boot always works.
const (
	DefaultPoolSize = 5
	MinPoolSize     = 1
	MaxPoolSize     = 20

	DefaultRefreshInterval = 3600 * time.Second
	MinRefreshInterval     = 60 * time.Second
)

// Config holds luminaguardd runtime configuration.
type Config struct {
	// DataDir is the base directory for luminaguard runtime data.
	DataDir string `yaml:"data_dir"`

	// SocketsDir is the directory for per-VM vsock unix sockets.
	SocketsDir string `yaml:"sockets_dir"`

	// SnapshotsDir is the directory for pool snapshots.
	SnapshotsDir string `yaml:"snapshots_dir"`

	// OverlaysDir is the directory for persistent overlay backing files.
	OverlaysDir string `yaml:"overlays_dir"`

	// DBPath is the path to the SQLite snapshot registry.
	DBPath string `yaml:"db_path"`

	// BaseImagePath is the read-only base rootfs image.
	BaseImagePath string `yaml:"base_image_path"`

	// KernelPath is the path to the vmlinux kernel image.
	KernelPath string `yaml:"kernel_path"`

	// HypervisorBin is the path to the microVM engine binary.
	// Empty means search PATH for "firecracker".
	HypervisorBin string `yaml:"hypervisor_bin"`

	// PoolSize is the number of snapshots kept warm. Clamped to [1, 20].
	PoolSize int `yaml:"pool_size"`

	// RefreshInterval is how often pool snapshots are replaced.
	// Clamped to a minimum of 60s.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// SeccompLevel selects the syscall filter tier: "minimal", "basic",
	// or "permissive" (testing only).
	SeccompLevel string `yaml:"seccomp_level"`

	// OverlaySizeMB is the default size for persistent overlay backing
	// files in megabytes.
	OverlaySizeMB int `yaml:"overlay_size_mb"`

	// DefaultMemoryMB is the default VM memory in megabytes.
	DefaultMemoryMB int `yaml:"default_memory_mb"`

	// DefaultVCPUs is the default number of virtual CPUs.
	DefaultVCPUs int `yaml:"default_vcpus"`

	// ShutdownTimeout bounds graceful hypervisor termination before
	// escalating to SIGKILL.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MetricsAddr is the listen address for the Prometheus endpoint.
	// Empty disables metrics serving.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".luminaguard")

	return &Config{
		DataDir:         filepath.Join(baseDir, "data"),
		SocketsDir:      filepath.Join(baseDir, "data", "sockets"),
		SnapshotsDir:    filepath.Join(baseDir, "data", "snapshots"),
		OverlaysDir:     filepath.Join(baseDir, "data", "overlays"),
		DBPath:          filepath.Join(baseDir, "data", "luminaguard.db"),
		BaseImagePath:   filepath.Join(baseDir, "base-rootfs.ext4"),
		KernelPath:      filepath.Join(baseDir, "kernel", "vmlinux"),
		PoolSize:        DefaultPoolSize,
		RefreshInterval: DefaultRefreshInterval,
		SeccompLevel:    "basic",
		OverlaySizeMB:   512,
		DefaultMemoryMB: 512,
		DefaultVCPUs:    1,
		ShutdownTimeout: 5 * time.Second,
		MetricsAddr:     "127.0.0.1:9321",
	}
}

// Load reads configuration from an optional YAML file layered over the
// defaults, after loading a .env file if one exists. Environment handling
// for individual keys is left to the caller; the .env load makes values
// visible via os.Getenv.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.Clamp()
	return cfg, nil
}

// Clamp forces tunables into their supported ranges, logging any adjustment.
func (c *Config) Clamp() {
	if c.PoolSize < MinPoolSize {
		log.Printf("config: pool_size %d below minimum, using %d", c.PoolSize, MinPoolSize)
		c.PoolSize = MinPoolSize
	}
	if c.PoolSize > MaxPoolSize {
		log.Printf("config: pool_size %d above maximum, using %d", c.PoolSize, MaxPoolSize)
		c.PoolSize = MaxPoolSize
	}
	if c.RefreshInterval < MinRefreshInterval {
		log.Printf("config: refresh_interval %v below minimum, using %v", c.RefreshInterval, MinRefreshInterval)
		c.RefreshInterval = MinRefreshInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// EnsureDirs creates all required directories.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.DataDir,
		c.SocketsDir,
		c.SnapshotsDir,
		c.OverlaysDir,
		filepath.Dir(c.DBPath),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// VsockPath returns the deterministic per-VM unix socket path.
func (c *Config) VsockPath(vmID string) string {
	return filepath.Join(c.SocketsDir, vmID+".vsock")
}
