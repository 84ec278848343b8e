package state

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadMissingIsEmpty(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "boxes.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(r.Boxes) != 0 {
		t.Errorf("Boxes = %v", r.Boxes)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "boxes.yaml")
	created := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

	r := New()
	for _, name := range []string{"web", "api"} {
		err := r.Add(&Box{
			Name:       name,
			Pid:        4242,
			Hostname:   "box",
			Namespaces: []string{"pid", "uts"},
			StartTime:  1500 * time.Millisecond,
			Created:    created,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(loaded.Names(), []string{"api", "web"}) {
		t.Errorf("Names = %v", loaded.Names())
	}
	web, err := loaded.Get("web")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(web, r.Boxes["web"]) {
		t.Errorf("web = %+v, want %+v", web, r.Boxes["web"])
	}

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("state dir has %d entries", len(entries))
	}
}

func TestRegistryErrors(t *testing.T) {
	r := New()
	if err := r.Add(&Box{Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(&Box{Name: "a"}); !errors.Is(err, ErrBoxExists) {
		t.Errorf("duplicate Add err = %v", err)
	}
	if _, err := r.Get("b"); !errors.Is(err, ErrBoxNotFound) {
		t.Errorf("Get err = %v", err)
	}
	if err := r.Remove("b"); !errors.Is(err, ErrBoxNotFound) {
		t.Errorf("Remove err = %v", err)
	}
	if err := r.Remove("a"); err != nil {
		t.Errorf("Remove: %v", err)
	}
	if len(r.Names()) != 0 {
		t.Errorf("Names = %v", r.Names())
	}
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boxes.yaml")
	if err := os.WriteFile(path, []byte("boxes: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("corrupt registry loaded")
	}
}

func TestValidName(t *testing.T) {
	for _, name := range []string{"b", "box-1", "My_box.2"} {
		if err := ValidName(name); err != nil {
			t.Errorf("ValidName(%q) = %v", name, err)
		}
	}
	for _, name := range []string{"", ".", "..", "-x", "a/b", "a b", string(make([]byte, 65))} {
		if err := ValidName(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidName(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}
