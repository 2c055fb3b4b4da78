// Package state persists devbrain's local bookkeeping: analysis signatures,
// seen anti-patterns, strike counts and the monitored project list.
//
// Everything sits behind KV so the daemon and supervisor can be tested
// against an in-memory store. FileKV writes a TOML document and flushes on
// every Set.
package state

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// KV is a small typed key-value store.
type KV interface {
	// Get decodes the value stored under key into dst. It reports false
	// when the key is absent.
	Get(key string, dst any) (bool, error)
	// Set stores value under key and persists before returning.
	Set(key string, value any) error
}

// FileKV is a KV backed by a TOML file. The zero path keeps data in memory.
type FileKV struct {
	path string

	mu     sync.Mutex
	values map[string]any
	prims  map[string]toml.Primitive
	meta   toml.MetaData
}

var _ KV = (*FileKV)(nil)

// Open loads path if it exists. Parent directories are created on first write.
func Open(path string) (*FileKV, error) {
	kv := &FileKV{path: path}
	if err := kv.reload(); err != nil {
		return nil, err
	}
	return kv, nil
}

// NewMemory returns a FileKV that never touches disk.
func NewMemory() *FileKV {
	kv := &FileKV{}
	_ = kv.decode(nil)
	return kv
}

// Path returns the backing file, or "" for memory stores.
func (kv *FileKV) Path() string {
	return kv.path
}

// Get implements KV.
func (kv *FileKV) Get(key string, dst any) (bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	prim, ok := kv.prims[key]
	if !ok {
		return false, nil
	}
	if err := kv.meta.PrimitiveDecode(prim, dst); err != nil {
		return false, fmt.Errorf("failed to decode state key %q: %w", key, err)
	}
	return true, nil
}

// Set implements KV. The file is re-read first so keys written by another
// devbrain process since our last load survive.
func (kv *FileKV) Set(key string, value any) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if err := kv.reloadLocked(); err != nil {
		return err
	}
	kv.values[key] = value

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(kv.values); err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := kv.write(buf.Bytes()); err != nil {
		return err
	}
	return kv.decode(buf.Bytes())
}

func (kv *FileKV) reload() error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return kv.reloadLocked()
}

func (kv *FileKV) reloadLocked() error {
	if kv.path == "" {
		if kv.values == nil {
			return kv.decode(nil)
		}
		return nil
	}
	data, err := os.ReadFile(kv.path)
	if errors.Is(err, os.ErrNotExist) {
		return kv.decode(nil)
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}
	return kv.decode(data)
}

// decode refreshes both the generic and primitive views of data.
func (kv *FileKV) decode(data []byte) error {
	values := map[string]any{}
	prims := map[string]toml.Primitive{}
	meta, err := toml.Decode(string(data), &prims)
	if err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", kv.path, err)
	}
	if _, err := toml.Decode(string(data), &values); err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", kv.path, err)
	}
	kv.values, kv.prims, kv.meta = values, prims, meta
	return nil
}

func (kv *FileKV) write(data []byte) error {
	if kv.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(kv.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := kv.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, kv.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
