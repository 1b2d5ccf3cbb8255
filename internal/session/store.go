package session

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/email-batch-validator/internal/batch"
)

// Store is the load/save hook pair for the session record.
type Store interface {
	Load(ctx context.Context) (Session, error)
	Save(ctx context.Context, s Session) error
}

// FileStore persists the session as a YAML document on disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: strings.TrimSpace(path)}
}

// Load reads the session file. A missing file yields a fresh anonymous session; a newly
// minted per-browser identifier is saved before Load returns so every later load sees it.
func (f *FileStore) Load(_ context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		s := NewAnonymous()
		if err := f.save(s); err != nil {
			return Session{}, err
		}
		return s, nil
	}
	if err != nil {
		return Session{}, eris.Wrapf(err, "session: read %s", f.path)
	}

	var s Session
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Session{}, eris.Wrapf(err, "session: parse %s", f.path)
	}
	s.Role = s.EffectiveRole()
	if strings.TrimSpace(s.UserID) == "" {
		s.UserID = uuid.New().String()
		if err := f.save(s); err != nil {
			return Session{}, err
		}
	}
	return s, nil
}

// Save writes the session atomically (temp file + rename).
func (f *FileStore) Save(_ context.Context, s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(s)
}

func (f *FileStore) save(s Session) error {
	b, err := yaml.Marshal(s)
	if err != nil {
		return eris.Wrap(err, "session: marshal")
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return eris.Wrapf(err, "session: create dir %s", dir)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return eris.Wrapf(err, "session: write %s", tmp)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return eris.Wrapf(err, "session: rename %s", tmp)
	}
	return nil
}

// MemoryStore keeps the session in memory. Useful for embedding and tests.
type MemoryStore struct {
	mu sync.Mutex
	s  Session
}

// NewMemoryStore seeds a store with s.
func NewMemoryStore(s Session) *MemoryStore {
	return &MemoryStore{s: s}
}

func (m *MemoryStore) Load(_ context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.s), nil
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = clone(s)
	return nil
}

// NewAnonymous returns an anonymous session with a freshly generated user id.
func NewAnonymous() Session {
	return Session{
		UserID: uuid.New().String(),
		Role:   batch.RoleAnonymous,
	}
}

func clone(s Session) Session {
	if s.TeamInfo != nil {
		ti := *s.TeamInfo
		s.TeamInfo = &ti
	}
	return s
}
