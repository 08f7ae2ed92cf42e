package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const systemIDFile = ".system_id"

// GenerateSystemID creates an anonymous station identifier formatted as
// XXXX-XXXX-XXXX
func GenerateSystemID() (string, error) {
	raw := make([]byte, 6)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	id := strings.ToUpper(hex.EncodeToString(raw))
	return id[0:4] + "-" + id[4:8] + "-" + id[8:12], nil
}

// LoadOrCreateSystemID returns the ID persisted in dir, creating one on
// first use or when the stored value is malformed
func LoadOrCreateSystemID(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(dir, systemIDFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); isValidSystemID(id) {
			return id, nil
		}
	}

	id, err := GenerateSystemID()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("failed to save system ID: %w", err)
	}
	return id, nil
}

func isValidSystemID(id string) bool {
	if len(id) != 14 || id[4] != '-' || id[9] != '-' {
		return false
	}
	for i, r := range id {
		if i == 4 || i == 9 {
			continue
		}
		if !strings.ContainsRune("0123456789ABCDEFabcdef", r) {
			return false
		}
	}
	return true
}
