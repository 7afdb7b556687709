package fingerprint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileCache persists values as a JSON object in one file
type FileCache struct {
	path string
	mu   sync.Mutex
}

// NewFileCache uses the file at path, created on first Set
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// DefaultCachePath is snaplink/device.json under the user config dir
func DefaultCachePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "snaplink", "device.json"), nil
}

func (c *FileCache) Get(key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	values, err := c.load()
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok {
		return "", ErrNotCached
	}
	return v, nil
}

func (c *FileCache) Set(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	values, err := c.load()
	if err != nil {
		// unreadable file: start over
		values = map[string]string{}
	}
	values[key] = value

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	return os.WriteFile(c.path, data, 0o600)
}

func (c *FileCache) load() (map[string]string, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.path, err)
	}
	return values, nil
}

// MemoryCache keeps values for the life of the process
type MemoryCache struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{values: map[string]string{}}
}

func (c *MemoryCache) Get(key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.values[key]
	if !ok {
		return "", ErrNotCached
	}
	return v, nil
}

func (c *MemoryCache) Set(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values[key] = value
	return nil
}
