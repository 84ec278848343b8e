// Package config loads the sourcebox configuration.
//
// Configuration comes from one optional YAML file named by --config or the
// SOURCEBOX_CONFIG environment variable. There is no search path. Fields the
// file leaves out keep their defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sourcebox/frontend/cgroup"
	"sourcebox/shim/tools"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable consulted when no --config is given.
const EnvVar = "SOURCEBOX_CONFIG"

type Config struct {
	// StateDir holds the box registry and its lock.
	// Default: /var/lib/sourcebox
	StateDir string `yaml:"state_dir"`

	// InitPath is the anchor executable run as PID 1 of every box.
	// Default: /sbin/sourcebox-init
	InitPath string `yaml:"init_path"`

	// ShimPath is the in-namespace launcher, looked up in PATH when relative.
	// Default: sourcebox_shim
	ShimPath string `yaml:"shim_path"`

	// Hostname given to boxes with a uts namespace.
	// Default: box
	Hostname string `yaml:"hostname"`

	// Namespaces unshared for every box.
	// Default: [pid, uts, ipc, net]
	Namespaces []string `yaml:"namespaces"`

	// StartTimeout bounds how long `box start` waits for the anchor.
	// Default: 5s
	StartTimeout time.Duration `yaml:"start_timeout"`

	// StopTimeout is how long `box stop` waits after SIGTERM before SIGKILL.
	// Default: 1s
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// Env is the environment of commands run with `box exec`.
	// Default: PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin
	Env []string `yaml:"env"`

	// Exec is the identity `box exec` runs commands with.
	Exec ExecConfig `yaml:"exec"`

	// Limits apply to each box as a whole: its anchor plus everything run in
	// it. With none set boxes get no cgroup of their own.
	Limits cgroup.Limits `yaml:"limits"`

	// CgroupRoot is the cgroup v2 directory box groups are created under.
	// Default: /sys/fs/cgroup/sourcebox
	CgroupRoot string `yaml:"cgroup_root"`
}

type ExecConfig struct {
	// User is a user name, uid or uid:gid. Empty keeps the caller's identity.
	User string `yaml:"user"`

	// Dir is the working directory. Empty means the user's home.
	Dir string `yaml:"dir"`

	// Lang is exported as LANG unless Env sets it.
	// Default: C.UTF-8
	Lang string `yaml:"lang"`
}

func Default() *Config {
	return &Config{
		StateDir:     "/var/lib/sourcebox",
		InitPath:     "/sbin/sourcebox-init",
		ShimPath:     "sourcebox_shim",
		Hostname:     "box",
		Namespaces:   []string{"pid", "uts", "ipc", "net"},
		StartTimeout: 5 * time.Second,
		StopTimeout:  time.Second,
		Env:          []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"},
		Exec:         ExecConfig{Lang: "C.UTF-8"},
		CgroupRoot:   "/sys/fs/cgroup/sourcebox",
	}
}

// Load reads path, falling back to $SOURCEBOX_CONFIG when path is empty. With
// neither set the defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.StateDir == "" {
		errs = append(errs, errors.New("state_dir is required"))
	}
	if c.InitPath == "" {
		errs = append(errs, errors.New("init_path is required"))
	} else if !filepath.IsAbs(c.InitPath) {
		errs = append(errs, fmt.Errorf("init_path %q must be absolute", c.InitPath))
	}
	if c.ShimPath == "" {
		errs = append(errs, errors.New("shim_path is required"))
	}
	if !tools.Has(c.Namespaces, "pid") {
		errs = append(errs, errors.New("namespaces must include pid"))
	}
	if _, err := tools.CloneFlags(c.Namespaces); err != nil {
		errs = append(errs, err)
	}
	if tools.Has(c.Namespaces, "uts") && c.Hostname == "" {
		errs = append(errs, errors.New("hostname is required with a uts namespace"))
	}
	if c.StartTimeout <= 0 {
		errs = append(errs, fmt.Errorf("start_timeout must be positive, got %v", c.StartTimeout))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop_timeout must be positive, got %v", c.StopTimeout))
	}
	if c.Exec.Dir != "" && !filepath.IsAbs(c.Exec.Dir) {
		errs = append(errs, fmt.Errorf("exec.dir %q must be absolute", c.Exec.Dir))
	}
	if err := c.Limits.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !c.Limits.IsZero() && !filepath.IsAbs(c.CgroupRoot) {
		errs = append(errs, fmt.Errorf("cgroup_root %q must be absolute when limits are set", c.CgroupRoot))
	}
	return errors.Join(errs...)
}

func (c *Config) RegistryPath() string {
	return filepath.Join(c.StateDir, "boxes.yaml")
}

func (c *Config) LockPath() string {
	return filepath.Join(c.StateDir, "lock")
}
