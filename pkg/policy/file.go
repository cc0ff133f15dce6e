package policy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type fileDocument struct {
	Groups []GroupSetting `yaml:"groups"`
}

// FileStore keeps group settings in a YAML file that operators may edit by
// hand. Every lookup re-reads the file; if the file stops parsing, lookups
// keep answering from the last document that did.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex

	goodMu   sync.Mutex
	lastGood *fileDocument
}

func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger.With("component", "policy.file")}
}

func (s *FileStore) read() (fileDocument, error) {
	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileDocument{}, nil
	}
	if err != nil {
		return fileDocument{}, fmt.Errorf("reading group file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return fileDocument{}, fmt.Errorf("parsing group file: %w", err)
	}
	return doc, nil
}

// lookup reads the file for queries, falling back to the last good
// document when the current one cannot be read.
func (s *FileStore) lookup() (fileDocument, error) {
	doc, err := s.read()

	s.goodMu.Lock()
	defer s.goodMu.Unlock()

	if err == nil {
		s.lastGood = &doc
		return cloneDocument(doc), nil
	}
	if s.lastGood == nil {
		return fileDocument{}, err
	}
	s.logger.Warn("Group file unreadable; using last good settings", "path", s.path, "error", err)
	return cloneDocument(*s.lastGood), nil
}

func (s *FileStore) remember(doc fileDocument) {
	s.goodMu.Lock()
	s.lastGood = &doc
	s.goodMu.Unlock()
}

func cloneDocument(doc fileDocument) fileDocument {
	return fileDocument{Groups: append([]GroupSetting(nil), doc.Groups...)}
}

func (s *FileStore) write(doc fileDocument) error {
	sort.Slice(doc.Groups, func(i, j int) bool { return doc.Groups[i].GroupID < doc.Groups[j].GroupID })

	content, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding group file: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating group file directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("writing group file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing group file: %w", err)
	}
	s.remember(cloneDocument(doc))
	return nil
}

// GetGroupSetting returns the last entry for groupID or ErrNotFound.
func (s *FileStore) GetGroupSetting(_ context.Context, groupID int64) (GroupSetting, error) {
	doc, err := s.lookup()
	if err != nil {
		return GroupSetting{}, err
	}

	for i := len(doc.Groups) - 1; i >= 0; i-- {
		if doc.Groups[i].GroupID == groupID {
			return doc.Groups[i], nil
		}
	}
	return GroupSetting{}, ErrNotFound
}

func (s *FileStore) SetGroupSetting(_ context.Context, setting GroupSetting) error {
	if setting.UpdatedAt.IsZero() {
		setting.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	kept := doc.Groups[:0]
	for _, existing := range doc.Groups {
		if existing.GroupID != setting.GroupID {
			kept = append(kept, existing)
		}
	}
	doc.Groups = append(kept, setting)

	if err := s.write(doc); err != nil {
		return err
	}

	s.logger.Debug("Group setting saved", "group_id", setting.GroupID, "enabled", setting.Enabled)
	return nil
}

func (s *FileStore) DeleteGroupSetting(_ context.Context, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	kept := doc.Groups[:0]
	for _, existing := range doc.Groups {
		if existing.GroupID != groupID {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(doc.Groups) {
		return ErrNotFound
	}
	doc.Groups = kept

	return s.write(doc)
}

func (s *FileStore) ListGroupSettings(_ context.Context) ([]GroupSetting, error) {
	doc, err := s.lookup()
	if err != nil {
		return nil, err
	}

	sort.SliceStable(doc.Groups, func(i, j int) bool { return doc.Groups[i].GroupID < doc.Groups[j].GroupID })
	return doc.Groups, nil
}

func (s *FileStore) Close() error { return nil }
