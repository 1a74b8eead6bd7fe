package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const exportsDir = "exports"

type Storage struct {
	baseDir string
	mu      sync.RWMutex
}

// ExportInfo describes one saved lab report.
type ExportInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

func New(baseDir string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, exportsDir), 0755); err != nil {
		return nil, err
	}
	return &Storage{baseDir: baseDir}, nil
}

func (s *Storage) GetBaseDir() string {
	return s.baseDir
}

func (s *Storage) ExportsDir() string {
	return filepath.Join(s.baseDir, exportsDir)
}

func (s *Storage) SaveState(name string, state interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, name+".json")
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *Storage) LoadState(name string, state interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.baseDir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, state)
}

// SaveExport writes a generated document into the exports directory and
// returns its path. An existing file with the same name is replaced.
func (s *Storage) SaveExport(name string, content []byte) (string, error) {
	path, err := s.ExportPath(name)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("write export %s: %w", name, err)
	}
	return path, nil
}

// ExportPath resolves name inside the exports directory, rejecting anything
// that would escape it.
func (s *Storage) ExportPath(name string) (string, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid export name %q", name)
	}
	return filepath.Join(s.ExportsDir(), name), nil
}

// ListExports returns saved reports, newest first.
func (s *Storage) ListExports() ([]ExportInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.ExportsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var res []ExportInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".html") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		res = append(res, ExportInfo{Name: entry.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ModTime.After(res[j].ModTime) })
	return res, nil
}
