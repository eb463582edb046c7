package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func makeArtifact(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("dump"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return path
}

func TestSweepRemovesOnlyExpiredArtifacts(t *testing.T) {
	dir := t.TempDir()
	old := makeArtifact(t, dir, "db_backup_20250101_0000", 40*24*time.Hour)
	fresh := makeArtifact(t, dir, "db_backup_20250810_0000", 2*24*time.Hour)
	unrelated := makeArtifact(t, dir, "notes.txt", 90*24*time.Hour)

	sweeper := NewSweeper(dir, 30*24*time.Hour, time.Hour, 0, nil, nil)
	removed, err := sweeper.Sweep(time.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expired artifact still present: %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh artifact removed: %v", err)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Fatalf("unrelated file touched: %v", err)
	}
}

func TestSweepKeepsMinimumCount(t *testing.T) {
	dir := t.TempDir()
	oldest := makeArtifact(t, dir, "db_backup_20240101_0000", 120*24*time.Hour)
	older := makeArtifact(t, dir, "db_backup_20240201_0000", 100*24*time.Hour)
	old := makeArtifact(t, dir, "db_backup_20240301_0000", 80*24*time.Hour)

	sweeper := NewSweeper(dir, 30*24*time.Hour, time.Hour, 2, nil, nil)
	removed, err := sweeper.Sweep(time.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected exactly 1 removal with minKeep=2, got %d", removed)
	}
	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Fatal("expected the oldest artifact to be removed first")
	}
	for _, path := range []string{older, old} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("minKeep floor not honoured, %q gone: %v", path, err)
		}
	}
}

func TestSweepMissingDirIsNoop(t *testing.T) {
	sweeper := NewSweeper(filepath.Join(t.TempDir(), "absent"), time.Hour, time.Hour, 0, nil, nil)
	removed, err := sweeper.Sweep(time.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected no removals, got %d", removed)
	}
}
