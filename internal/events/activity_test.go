package events

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestRecordAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	log := NewLog(path)

	if err := log.Record(TypeFeatureStarted, "FEAT-1", "workflow started worker=%s", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := log.Record(TypeFeatureMerged, "FEAT-1", "branch integrated, feature retired"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], TypeFeatureStarted) || !strings.Contains(lines[0], "worker=abc") {
		t.Errorf("first line malformed: %q", lines[0])
	}
	if !strings.Contains(lines[1], TypeFeatureMerged) {
		t.Errorf("second line malformed: %q", lines[1])
	}
}

func TestRecordConcurrentLinesStayWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	log := NewLog(path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = log.Record(TypePhaseResult, "FEAT-1", "pass %d", n)
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 20 {
		t.Fatalf("got %d lines, want 20", len(lines))
	}
	for _, line := range lines {
		if !strings.Contains(line, TypePhaseResult) {
			t.Errorf("interleaved or torn line: %q", line)
		}
	}
}
