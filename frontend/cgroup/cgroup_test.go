package cgroup

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// fakeRoot lays out a cgroup v2 parent with one pre-made child group holding
// the given interface files, the way cgroupfs would.
func fakeRoot(t *testing.T, name string, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range []string{"cgroup.controllers", "cgroup.subtree_control"} {
		if err := os.WriteFile(filepath.Join(root, f), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if len(files) == 0 {
		return root
	}
	if err := os.Mkdir(filepath.Join(root, name), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(root, name, f), []byte("max\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	bs, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(bs)
}

func TestLimitsFiles(t *testing.T) {
	tests := []struct {
		name   string
		limits Limits
		want   map[string]string
	}{
		{"none", Limits{}, map[string]string{}},
		{"processes", Limits{Processes: 10}, map[string]string{"pids.max": "11"}},
		{"memory", Limits{Memory: "64MiB"}, map[string]string{"memory.max": "67108864", "memory.swap.max": "0"}},
		{"memory si", Limits{Memory: "1G"}, map[string]string{"memory.max": "1000000000", "memory.swap.max": "0"}},
		{"two cpus", Limits{CPU: 2}, map[string]string{"cpu.max": "200000 100000"}},
		{"half cpu", Limits{CPU: 0.5}, map[string]string{"cpu.max": "50000 100000"}},
		{"tiny cpu", Limits{CPU: 0.001}, map[string]string{"cpu.max": "1000 100000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.limits.files()
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("files() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLimitsValidate(t *testing.T) {
	if err := (Limits{Memory: "512MiB", CPU: 1.5, Processes: 64}).Validate(); err != nil {
		t.Errorf("valid limits: %v", err)
	}
	for _, l := range []Limits{
		{Memory: "plenty"},
		{Memory: "0"},
		{CPU: -1},
		{Processes: -5},
	} {
		if err := l.Validate(); err == nil {
			t.Errorf("%+v accepted", l)
		}
	}
}

func TestCreate(t *testing.T) {
	root := fakeRoot(t, "b", "cpu.max", "memory.max", "pids.max")

	g, err := Create(root, "b", Limits{Memory: "64MiB", CPU: 0.25, Processes: 4})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if g.Path != filepath.Join(root, "b") {
		t.Errorf("Path = %s", g.Path)
	}
	if got := readFile(t, filepath.Join(root, "cgroup.subtree_control")); got != "+cpu +memory +pids" {
		t.Errorf("subtree_control = %q", got)
	}
	for file, want := range map[string]string{
		"cpu.max":    "25000 100000",
		"memory.max": "67108864",
		"pids.max":   "5",
	} {
		if got := readFile(t, filepath.Join(g.Path, file)); got != want {
			t.Errorf("%s = %q, want %q", file, got, want)
		}
	}
	// memory.swap.max is absent without swap accounting and is skipped
	if _, err := os.Stat(filepath.Join(g.Path, "memory.swap.max")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("memory.swap.max created: %v", err)
	}
}

func TestCreateNotCgroup2(t *testing.T) {
	_, err := Create(t.TempDir(), "b", Limits{Processes: 1})
	if !errors.Is(err, ErrNotCgroup2) {
		t.Errorf("err = %v, want ErrNotCgroup2", err)
	}
}

func TestCreateFailureRemovesGroup(t *testing.T) {
	root := fakeRoot(t, "b")

	_, err := Create(root, "b", Limits{CPU: 1})
	if err == nil || !strings.Contains(err.Error(), "cpu.max") {
		t.Fatalf("err = %v, want a cpu.max failure", err)
	}
	if _, err := os.Stat(filepath.Join(root, "b")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("group left behind: %v", err)
	}
}

func TestProcs(t *testing.T) {
	g := &Group{Path: t.TempDir()}
	if err := os.WriteFile(filepath.Join(g.Path, "cgroup.procs"), []byte("1\n42\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	pids, err := g.Procs()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(pids, []int{1, 42}) {
		t.Errorf("Procs = %v", pids)
	}
}

func TestRemove(t *testing.T) {
	g := &Group{Path: filepath.Join(t.TempDir(), "b")}
	if err := os.Mkdir(g.Path, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := g.Remove(0); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	// already gone
	if err := g.Remove(0); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}

func TestOpen(t *testing.T) {
	g := &Group{Path: t.TempDir()}
	f, err := g.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if fi, err := f.Stat(); err != nil || !fi.IsDir() {
		t.Errorf("Open gave %v, %v", fi, err)
	}
}
