package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// LockSuffix is appended to a config path to form its lock file.
const LockSuffix = ".b3"

var (
	ErrLockMissing      = errors.New("config lock file not found")
	ErrChecksumMismatch = errors.New("config checksum mismatch")
)

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// LockPath returns the lock file path for configPath.
func LockPath(configPath string) string {
	return configPath + LockSuffix
}

// WriteLock records the current hash of configPath in its lock file, in
// "<hash>  <file>" form.
func WriteLock(configPath string) (string, error) {
	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return "", err
	}
	line := fmt.Sprintf("%s  %s\n", hash, filepath.Base(configPath))
	if err := os.WriteFile(LockPath(configPath), []byte(line), 0o600); err != nil {
		return "", fmt.Errorf("failed to write lock file: %w", err)
	}
	return hash, nil
}

// VerifyLock checks configPath against its lock file.
func VerifyLock(configPath string) error {
	data, err := os.ReadFile(LockPath(configPath))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrLockMissing
		}
		return fmt.Errorf("failed to read lock file: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return fmt.Errorf("lock file %s is empty", LockPath(configPath))
	}

	actual, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return err
	}
	if actual != fields[0] {
		return fmt.Errorf("%w for %s: expected %s, got %s\n"+
			"If you edited this file intentionally, run: layerqueue config lock",
			ErrChecksumMismatch, filepath.Base(configPath), fields[0], actual)
	}
	return nil
}
