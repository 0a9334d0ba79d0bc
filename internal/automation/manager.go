//go:build !no_automation

package automation

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrInvalidScriptID is returned for ids that cannot name a script file.
var ErrInvalidScriptID = errors.New("automation: invalid script id")

const (
	scriptExt   = ".lua"
	maxSlugLen  = 40
	defaultSlug = "script"
)

// Manager keeps frame filter scripts as .lua files in one directory.
type Manager struct {
	dir    string
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewManager opens the script directory, creating it if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("automation: create scripts dir: %w", err)
	}
	return &Manager{dir: dir, logger: slog.Default().With("component", "scripts")}, nil
}

// path resolves an id to its file, rejecting anything that could leave
// the directory.
func (m *Manager) path(id string) (string, error) {
	if id == "" || id == "." || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidScriptID, id)
	}
	return filepath.Join(m.dir, id+scriptExt), nil
}

// List returns the scripts ordered by id. Files that fail to parse are
// logged and left out.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(m.dir, "*"+scriptExt))
	if err != nil {
		return nil, fmt.Errorf("automation: list scripts: %w", err)
	}
	sort.Strings(matches)

	scripts := make([]*Script, 0, len(matches))
	for _, path := range matches {
		s, err := m.load(path)
		if err != nil {
			m.logger.Warn("skipping script", "file", path, "err", err)
			continue
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// Get loads one script by id.
func (m *Manager) Get(id string) (*Script, error) {
	path, err := m.path(id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.load(path)
}

// Save writes s, deriving an unused id from its name when it has none.
func (m *Manager) Save(s *Script) (*Script, error) {
	if s.ID != "" {
		if _, err := m.path(s.ID); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = m.freeID(slugify(s.Meta.Name))
	}
	s.FilePath, _ = m.path(s.ID)
	if err := writeAtomic(s.FilePath, s.encode()); err != nil {
		return nil, fmt.Errorf("automation: save %s: %w", s.ID, err)
	}
	return s, nil
}

// Delete removes the script file.
func (m *Manager) Delete(id string) error {
	path, err := m.path(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("automation: delete %s: %w", id, err)
	}
	return nil
}

func (m *Manager) load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := decodeScript(strings.TrimSuffix(filepath.Base(path), scriptExt), data)
	if err != nil {
		return nil, err
	}
	s.FilePath = path
	return s, nil
}

// freeID returns base, or base_N for the first N not taken. Callers hold
// the write lock.
func (m *Manager) freeID(base string) string {
	if base == "" {
		base = defaultSlug
	}
	id := base
	for n := 1; ; n++ {
		if _, err := os.Stat(filepath.Join(m.dir, id+scriptExt)); errors.Is(err, os.ErrNotExist) {
			return id
		}
		id = base + "_" + strconv.Itoa(n)
	}
}

// writeAtomic replaces path through a temp file in the same directory so
// a running engine never reads a half-written script.
func writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".script-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// slugify lowercases name and collapses every run of other characters
// into a single underscore.
func slugify(name string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(name) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	s := b.String()
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "_")
	}
	return s
}
