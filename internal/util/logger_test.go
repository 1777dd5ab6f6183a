package util

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingFile_RotatesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	r, err := openRotatingFile(dir, 64, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	line := bytes.Repeat([]byte("x"), 40)
	for i := 0; i < 5; i++ {
		if _, err := r.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		// Backup names have millisecond resolution.
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	backups := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), AppName+"-") {
			backups++
		}
	}
	if backups != 2 {
		t.Fatalf("backups = %d, want 2", backups)
	}

	info, err := os.Stat(filepath.Join(dir, AppName+".log"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(len(line)) {
		t.Fatalf("current log size = %d, want %d", info.Size(), len(line))
	}
}

func TestRotatingFile_ZeroLimitNeverRotates(t *testing.T) {
	dir := t.TempDir()
	r, err := openRotatingFile(dir, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		r.Write([]byte("entry\n"))
	}
	r.Close()

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("files = %d, want 1", len(entries))
	}
	if _, err := r.Write([]byte("late")); err == nil {
		t.Fatal("write after close succeeded")
	}
}
