package state

import (
	"fmt"
	"slices"
	"sync"
)

const (
	keySignatures = "signatures"
	keySeen       = "seen_anti_patterns"
	keyStrikes    = "strikes"
	keyProjects   = "projects"
)

// SignatureCache maps an absolute file path to the signature of its last
// persisted analysis.
type SignatureCache struct {
	kv KV
	mu sync.Mutex
}

// NewSignatureCache returns a SignatureCache over kv.
func NewSignatureCache(kv KV) *SignatureCache {
	return &SignatureCache{kv: kv}
}

// Get returns the cached signature for path.
func (c *SignatureCache) Get(path string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := loadMap[string](c.kv, keySignatures)
	if err != nil {
		return "", false, err
	}
	sig, ok := m[path]
	return sig, ok, nil
}

// Put records sig for path.
func (c *SignatureCache) Put(path, sig string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := loadMap[string](c.kv, keySignatures)
	if err != nil {
		return err
	}
	m[path] = sig
	return c.kv.Set(keySignatures, m)
}

// SeenSet records which anti-patterns were already reported per file.
type SeenSet struct {
	kv KV
	mu sync.Mutex
}

// NewSeenSet returns a SeenSet over kv.
func NewSeenSet(kv KV) *SeenSet {
	return &SeenSet{kv: kv}
}

// Has reports whether (path, name) was recorded.
func (s *SeenSet) Has(path, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := loadMap[[]string](s.kv, keySeen)
	if err != nil {
		return false, err
	}
	return slices.Contains(m[path], name), nil
}

// Add records (path, name).
func (s *SeenSet) Add(path, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := loadMap[[]string](s.kv, keySeen)
	if err != nil {
		return err
	}
	if slices.Contains(m[path], name) {
		return nil
	}
	m[path] = append(m[path], name)
	return s.kv.Set(keySeen, m)
}

// StrikeTable counts failures per error fingerprint.
type StrikeTable struct {
	kv KV
	mu sync.Mutex
}

// NewStrikeTable returns a StrikeTable over kv.
func NewStrikeTable(kv KV) *StrikeTable {
	return &StrikeTable{kv: kv}
}

// Get returns the strike count for fingerprint, 0 if unseen.
func (t *StrikeTable) Get(fingerprint string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, err := loadMap[int](t.kv, keyStrikes)
	if err != nil {
		return 0, err
	}
	return m[fingerprint], nil
}

// Increment adds one strike and returns the new count.
func (t *StrikeTable) Increment(fingerprint string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, err := loadMap[int](t.kv, keyStrikes)
	if err != nil {
		return 0, err
	}
	m[fingerprint]++
	if err := t.kv.Set(keyStrikes, m); err != nil {
		return 0, err
	}
	return m[fingerprint], nil
}

// Reset forgets fingerprint.
func (t *StrikeTable) Reset(fingerprint string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, err := loadMap[int](t.kv, keyStrikes)
	if err != nil {
		return err
	}
	if _, ok := m[fingerprint]; !ok {
		return nil
	}
	delete(m, fingerprint)
	return t.kv.Set(keyStrikes, m)
}

// Projects is the persisted list of monitored root directories.
type Projects struct {
	kv KV
	mu sync.Mutex
}

// NewProjects returns a Projects list over kv.
func NewProjects(kv KV) *Projects {
	return &Projects{kv: kv}
}

// List returns the monitored roots in insertion order.
func (p *Projects) List() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load()
}

// Add appends path. It reports false if path was already present.
func (p *Projects) Add(path string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list, err := p.load()
	if err != nil {
		return false, err
	}
	if slices.Contains(list, path) {
		return false, nil
	}
	return true, p.kv.Set(keyProjects, append(list, path))
}

// Remove drops path. It reports false if path was not present.
func (p *Projects) Remove(path string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list, err := p.load()
	if err != nil {
		return false, err
	}
	i := slices.Index(list, path)
	if i < 0 {
		return false, nil
	}
	return true, p.kv.Set(keyProjects, slices.Delete(list, i, i+1))
}

func (p *Projects) load() ([]string, error) {
	var list []string
	if _, err := p.kv.Get(keyProjects, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func loadMap[V any](kv KV, key string) (map[string]V, error) {
	m := map[string]V{}
	if _, err := kv.Get(key, &m); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if m == nil {
		m = map[string]V{}
	}
	return m, nil
}
