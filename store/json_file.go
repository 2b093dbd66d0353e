package store

import (
	"os"
	"path/filepath"
	"sync"
)

// JsonFileBackend persists the Document as one pretty-printed JSON file.
//
// Layout:
//
//	{
//	  "users": [ ... ],
//	  "lists": [ ... ],
//	  "items": [ ... ]
//	}
type JsonFileBackend struct {
	mu   sync.Mutex
	path string
}

func NewJsonFileBackend(path string) (*JsonFileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &JsonFileBackend{path: path}, nil
}

// Path returns the file the Document is written to.
func (s *JsonFileBackend) Path() string { return s.path }

func (s *JsonFileBackend) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), nil
		}
		return nil, err
	}
	return DecodeDocument(data)
}

// Save writes to a temporary file next to the target and renames it into
// place, so a failed write never leaves a truncated document behind.
func (s *JsonFileBackend) Save(doc *Document) error {
	b, err := doc.Encode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *JsonFileBackend) Close() error { return nil }
