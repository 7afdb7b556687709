// Package fingerprint derives a stable device identifier from local machine
// signals and caches it, so a command-line client owns links the same way a
// browser does.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// CacheKey is the single key the identifier is cached under
const CacheKey = "machineId"

// IDLength is the number of hex characters kept from the digest
const IDLength = 16

// Signal is one device trait contributing to the fingerprint
type Signal struct {
	Name string
	Read func() (string, error)
}

// DefaultSignals reads traits that stay stable across runs on one machine
func DefaultSignals() []Signal {
	return []Signal{
		{Name: "platform", Read: func() (string, error) { return runtime.GOOS + "/" + runtime.GOARCH, nil }},
		{Name: "hostname", Read: os.Hostname},
		{Name: "cpus", Read: func() (string, error) { return strconv.Itoa(runtime.NumCPU()), nil }},
		{Name: "timezone", Read: func() (string, error) {
			_, offset := time.Now().Zone()
			return strconv.Itoa(offset / 60), nil
		}},
		{Name: "language", Read: envSignal("LANG")},
		{Name: "shell", Read: envSignal("SHELL")},
		{Name: "user", Read: func() (string, error) {
			u, err := user.Current()
			if err != nil {
				return "", err
			}
			return u.Username, nil
		}},
		{Name: "home", Read: os.UserHomeDir},
	}
}

func envSignal(key string) func() (string, error) {
	return func() (string, error) {
		if v := os.Getenv(key); v != "" {
			return v, nil
		}
		return "unknown", nil
	}
}

// Generate hashes the signal values. A signal that cannot be read
// contributes "<name>-error", so generation never fails.
func Generate(signals []Signal) string {
	parts := make([]string, 0, len(signals))
	for _, s := range signals {
		v, err := s.Read()
		if err != nil {
			v = s.Name + "-error"
		}
		parts = append(parts, v)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:IDLength]
}

// Cache is a small key-value store for the identifier
type Cache interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// ErrNotCached is returned by Cache.Get for absent keys
var ErrNotCached = errors.New("not cached")

// GetOrCreate returns the cached identifier or generates and caches a new one.
// Cache failures are ignored: the identifier is then recomputed on each call.
func GetOrCreate(cache Cache, signals []Signal) string {
	if id, err := cache.Get(CacheKey); err == nil && id != "" {
		return id
	}

	id := Generate(signals)
	_ = cache.Set(CacheKey, id)
	return id
}
