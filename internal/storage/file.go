package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"meshmate/internal/schedule"
	logx "meshmate/pkg/logx"
)

// fileStore keeps the whole collection in one JSON document.
//
// Every Save rewrites the document: write <path>.tmp, fsync, rename over <path>.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context) (Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info("no schedule file yet, starting empty", logx.String("path", s.path))
		return Snapshot{}, nil
	}
	if err != nil {
		s.log.Error("read schedule file failed", logx.String("path", s.path), logx.Err(err))
		return Snapshot{}, fmt.Errorf("%w: read %s: %v", schedule.ErrPersistence, s.path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return Snapshot{}, nil
	}

	var raw map[string][]record
	if err := json.Unmarshal(b, &raw); err != nil {
		s.log.Error("schedule file is corrupt, starting empty", logx.String("path", s.path), logx.Err(err))
		return Snapshot{}, fmt.Errorf("%w: decode %s: %v", schedule.ErrPersistence, s.path, err)
	}
	snap, err := decodeSnapshot(raw)
	if err != nil {
		s.log.Error("schedule file is corrupt, starting empty", logx.String("path", s.path), logx.Err(err))
		return Snapshot{}, fmt.Errorf("%w: %v", schedule.ErrPersistence, err)
	}
	return snap, nil
}

func (s *fileStore) Save(ctx context.Context, snap Snapshot) error {
	_ = ctx
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(encodeSnapshot(snap)); err != nil {
		return fmt.Errorf("%w: encode: %v", schedule.ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.path, buf.Bytes()); err != nil {
		return fmt.Errorf("%w: write %s: %v", schedule.ErrPersistence, s.path, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
