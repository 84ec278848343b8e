// Package state is the on-disk registry of running boxes.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrBoxExists   = errors.New("box already exists")
	ErrBoxNotFound = errors.New("box not found")
	ErrInvalidName = errors.New("invalid box name")
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidName checks that name can be used as a box name. Names end up as
// cgroup directory names.
func ValidName(name string) error {
	if !nameRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Box is one sandbox, identified by the host pid of its anchor.
type Box struct {
	Name       string   `yaml:"name"`
	Pid        int      `yaml:"pid"`
	Hostname   string   `yaml:"hostname"`
	Namespaces []string `yaml:"namespaces"`
	// StartTime is the anchor's start time since boot, used to tell a
	// recycled pid from the anchor.
	StartTime time.Duration `yaml:"start_time"`
	// Cgroup is the box's cgroup directory, empty when it runs without limits.
	Cgroup  string    `yaml:"cgroup,omitempty"`
	Created time.Time `yaml:"created"`
}

type Registry struct {
	Boxes map[string]*Box `yaml:"boxes"`
}

func New() *Registry {
	return &Registry{Boxes: make(map[string]*Box)}
}

// Load reads the registry at path. A missing file is an empty registry.
func Load(path string) (*Registry, error) {
	r := New()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if r.Boxes == nil {
		r.Boxes = make(map[string]*Box)
	}
	for name, box := range r.Boxes {
		box.Name = name
	}
	return r, nil
}

// Save writes the registry to a temp file next to path and renames it over
// path, so readers never see a partial file.
func (r *Registry) Save(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".boxes-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (r *Registry) Add(box *Box) error {
	if _, ok := r.Boxes[box.Name]; ok {
		return fmt.Errorf("%w: %s", ErrBoxExists, box.Name)
	}
	r.Boxes[box.Name] = box
	return nil
}

func (r *Registry) Get(name string) (*Box, error) {
	box, ok := r.Boxes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBoxNotFound, name)
	}
	return box, nil
}

func (r *Registry) Remove(name string) error {
	if _, ok := r.Boxes[name]; !ok {
		return fmt.Errorf("%w: %s", ErrBoxNotFound, name)
	}
	delete(r.Boxes, name)
	return nil
}

// Names returns the box names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Boxes))
	for name := range r.Boxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
