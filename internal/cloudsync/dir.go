package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/jaakkos/sharedstore/internal/domain"
)

// DirContainer is a Container backed by a directory, e.g. a mounted network
// share or a folder kept in sync by another tool.
type DirContainer struct {
	root string
}

// NewDirContainer returns a container rooted at root. An empty root means no
// remote is configured.
func NewDirContainer(root string) *DirContainer {
	return &DirContainer{root: root}
}

func (c *DirContainer) path(key string) string {
	return filepath.Join(c.root, filepath.FromSlash(key))
}

func translateFSError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	default:
		return err
	}
}

// Get implements Container.
func (c *DirContainer) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, translateFSError(err)
	}
	return data, nil
}

// Put implements Container. The object is written to a temp file and renamed
// into place so readers never see a partial document.
func (c *DirContainer) Put(_ context.Context, key string, data []byte) error {
	dst := c.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return translateFSError(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return translateFSError(err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return translateFSError(os.Rename(tmp.Name(), dst))
}

// Delete implements Container. Deleting a missing object is not an error.
func (c *DirContainer) Delete(_ context.Context, key string) error {
	err := os.Remove(c.path(key))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return translateFSError(err)
}

// Check implements Container.
func (c *DirContainer) Check(_ context.Context) (domain.AccountStatus, error) {
	if c.root == "" {
		return domain.AccountNoAccount, nil
	}
	if err := os.MkdirAll(c.root, 0755); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return domain.AccountRestricted, nil
		}
		return domain.AccountIndeterminate, err
	}
	probe, err := os.CreateTemp(c.root, ".probe-*")
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return domain.AccountRestricted, nil
		}
		return domain.AccountIndeterminate, err
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return domain.AccountAvailable, nil
}

// Watch implements Container using fsnotify on the object's directory.
func (c *DirContainer) Watch(ctx context.Context, key string, onChange func()) error {
	target := c.path(key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return translateFSError(err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", key, err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", key, err)
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					onChange()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

var _ Container = (*DirContainer)(nil)
