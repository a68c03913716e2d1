package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// Backend is the durable storage behind a stats cell. Keys are
// derived ids, one value per key. Implementations need not be safe for
// concurrent use on the same key; the owning cell serializes access.
type Backend interface {
	// Get returns the stored value for a key, with found=false on a miss.
	Get(key string) ([]byte, bool, error)

	// Put stores the value for a key, overwriting any previous value.
	Put(key string, value []byte) error
}

// safeKeyPattern defines the allowed characters for backend keys.
// Derived ids are hex, but the backend validates anyway so it can never
// be talked into a path traversal.
var safeKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if len(key) > 256 {
		return fmt.Errorf("key too long (max 256 characters)")
	}
	if !safeKeyPattern.MatchString(key) {
		return fmt.Errorf("key contains invalid characters: only alphanumeric, hyphens, and underscores allowed")
	}
	return nil
}

// FileBackend stores each cell as one JSON file under a base directory.
type FileBackend struct {
	baseDir string
}

// NewFileBackend creates the base directory if needed.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create stats directory: %w", err)
	}
	return &FileBackend{baseDir: baseDir}, nil
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.baseDir, key+".json")
}

// Get reads the cell file for a key.
func (b *FileBackend) Get(key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, fmt.Errorf("invalid key: %w", err)
	}

	// G304: Path is constructed from the validated key via path() which uses filepath.Join
	data, err := os.ReadFile(b.path(key)) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read stats file: %w", err)
	}
	return data, true, nil
}

// Put writes the cell file for a key.
func (b *FileBackend) Put(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid key: %w", err)
	}

	if err := os.WriteFile(b.path(key), value, 0600); err != nil {
		return fmt.Errorf("write stats file: %w", err)
	}
	return nil
}

// MemoryBackend implements Backend in memory (useful for testing).
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string][]byte)}
}

// Get returns the stored value for a key.
func (b *MemoryBackend) Get(key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.values[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Put stores the value for a key.
func (b *MemoryBackend) Put(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	b.values[key] = stored
	return nil
}
