package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogxManager_SplitsByLevel(t *testing.T) {
	base := t.TempDir()
	m := NewManager(base, false, "debug")

	lg := m.Logger("n7000")
	if lg != m.Logger("n7000") {
		t.Fatal("expected the same logger for the same node")
	}
	lg.Info("peer admitted")
	lg.Error("send failed")
	lg.Debug("frame decoded")
	m.Close()

	read := func(name string) string {
		data, err := os.ReadFile(filepath.Join(base, "n7000", name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		return string(data)
	}

	info := read("info.log")
	if !strings.Contains(info, "peer admitted") || strings.Contains(info, "send failed") {
		t.Errorf("unexpected info.log: %q", info)
	}
	if e := read("error.log"); !strings.Contains(e, "send failed") {
		t.Errorf("unexpected error.log: %q", e)
	}
	if d := read("debug.log"); !strings.Contains(d, "frame decoded") {
		t.Errorf("unexpected debug.log: %q", d)
	}
}

func TestLogxManager_LevelFiltersDebug(t *testing.T) {
	base := t.TempDir()
	m := NewManager(base, false, "info")
	m.Logger("n").Debug("hidden")
	m.Close()

	data, err := os.ReadFile(filepath.Join(base, "n", "debug.log"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Errorf("debug.log should be empty, got %q", data)
	}
}
