package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// FileStore keeps Usage in a small JSON file guarded by an exclusive flock.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

var _ Store = (*FileStore)(nil)

// Update implements Store.
func (s *FileStore) Update(ctx context.Context, fn func(u *Usage) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create quota dir: %w", err)
		}
	}

	lock, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open quota lock: %w", err)
	}
	defer lock.Close()
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock quota file: %w", err)
	}
	defer unix.Flock(int(lock.Fd()), unix.LOCK_UN)

	usage, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(&usage); err != nil {
		return err
	}
	return s.write(usage)
}

func (s *FileStore) read() (Usage, error) {
	var usage Usage
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return usage, nil
	}
	if err != nil {
		return usage, fmt.Errorf("read quota file: %w", err)
	}
	if len(data) == 0 {
		return usage, nil
	}
	if err := json.Unmarshal(data, &usage); err != nil {
		return usage, fmt.Errorf("decode quota file: %w", err)
	}
	return usage, nil
}

func (s *FileStore) write(usage Usage) error {
	data, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("encode quota file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write quota file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace quota file: %w", err)
	}
	return nil
}
