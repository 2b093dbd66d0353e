package store

import "sync"

// MemoryBackend keeps the Document in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryBackend struct {
	mu  sync.Mutex
	doc *Document
}

// NewMemoryBackend returns a backend holding seed, or an empty Document when
// seed is nil.
func NewMemoryBackend(seed *Document) *MemoryBackend {
	if seed == nil {
		seed = NewDocument()
	}
	return &MemoryBackend{doc: seed.Clone()}
}

func (m *MemoryBackend) Load() (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Clone(), nil
}

func (m *MemoryBackend) Save(doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc.Clone()
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
