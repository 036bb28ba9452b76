package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWriteAndVerifyLock(t *testing.T) {
	path := writeConfig(t, "queue:\n  workers: 2\n")

	if err := VerifyLock(path); !errors.Is(err, ErrLockMissing) {
		t.Fatalf("VerifyLock() before lock = %v, want ErrLockMissing", err)
	}

	hash, err := WriteLock(path)
	if err != nil {
		t.Fatalf("WriteLock() failed: %v", err)
	}
	if len(hash) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(hash))
	}

	data, err := os.ReadFile(LockPath(path))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), hash+"  config.yaml") {
		t.Fatalf("lock file = %q", data)
	}

	if err := VerifyLock(path); err != nil {
		t.Fatalf("VerifyLock() after lock = %v", err)
	}
}

func TestLoadRejectsTamperedConfig(t *testing.T) {
	path := writeConfig(t, "queue:\n  workers: 2\n")
	if _, err := WriteLock(path); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() of locked config failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("queue:\n  workers: 9\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Load() of tampered config = %v, want ErrChecksumMismatch", err)
	}
}

func TestComputeBlake3HashIsStable(t *testing.T) {
	path := writeConfig(t, "same bytes")
	a, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("hash changed between runs: %s vs %s", a, b)
	}
}
