package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

const (
	settingsKeyFile = "settings.key"
	settingsKeyLen  = 32
)

// KeyFile holds the SQLCipher passphrase for the settings database as a hex
// line in an owner-only file beside it.
type KeyFile struct {
	path string
}

// NewKeyFile returns the key file for dataDir. Nothing is touched on disk.
func NewKeyFile(dataDir string) *KeyFile {
	return &KeyFile{path: filepath.Join(dataDir, settingsKeyFile)}
}

func (k *KeyFile) Path() string { return k.path }

// Ensure returns the stored key, creating the file on first use. When the
// daemon and a CLI command race on a fresh data directory, the loser reads
// the winner's key.
func (k *KeyFile) Ensure() ([]byte, error) {
	key, err := k.read()
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return key, err
	}

	key, err = newSettingsKey()
	if err != nil {
		return nil, err
	}
	err = k.create(key)
	if errors.Is(err, fs.ErrExist) {
		return k.read()
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (k *KeyFile) read() ([]byte, error) {
	data, err := os.ReadFile(k.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("settings key %s is not hex: %w", k.path, err)
	}
	if len(key) != settingsKeyLen {
		return nil, fmt.Errorf("settings key %s has %d bytes, want %d", k.path, len(key), settingsKeyLen)
	}
	return key, nil
}

// create publishes key with a hard link so readers never see a partial file
// and an existing key is never replaced.
func (k *KeyFile) create(key []byte) error {
	dir := filepath.Dir(k.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, settingsKeyFile+".*")
	if err != nil {
		return fmt.Errorf("failed to write settings key: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings key: %w", err)
	}
	return os.Link(tmp.Name(), k.path)
}

func newSettingsKey() ([]byte, error) {
	key := make([]byte, settingsKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate settings key: %w", err)
	}
	return key, nil
}

var _ domain.KeySource = (*KeyFile)(nil)
