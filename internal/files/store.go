package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"remindline/internal/domain"
)

// Store keeps attachment bytes. Paths in descriptors are relative to the
// store root.
type Store interface {
	Put(ctx context.Context, name string, content io.Reader) (domain.FileDescriptor, error)
	Retrieve(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// MaxFileSize bounds a single attachment.
const MaxFileSize = 20 << 20

var ErrTooLarge = errors.New("file exceeds size limit")

// Disk stores each attachment as <uuid>_<name> under Root.
type Disk struct {
	Root string
	Now  func() time.Time
}

func NewDisk(root string) (*Disk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Disk{Root: root, Now: time.Now}, nil
}

func (d *Disk) Put(ctx context.Context, name string, content io.Reader) (domain.FileDescriptor, error) {
	id := uuid.NewString()
	clean := sanitize(name)
	rel := id + "_" + clean
	f, err := os.OpenFile(filepath.Join(d.Root, rel), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.FileDescriptor{}, err
	}
	n, err := io.Copy(f, io.LimitReader(content, MaxFileSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxFileSize {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(filepath.Join(d.Root, rel))
		return domain.FileDescriptor{}, err
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return domain.FileDescriptor{
		ID:         id,
		Name:       clean,
		Path:       rel,
		Size:       n,
		UploadedAt: now().UTC().Format(time.RFC3339),
	}, nil
}

func (d *Disk) Retrieve(ctx context.Context, path string) ([]byte, error) {
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (d *Disk) Delete(ctx context.Context, path string) error {
	full, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// resolve rejects paths that would escape Root.
func (d *Disk) resolve(path string) (string, error) {
	clean := filepath.Clean(path)
	if path == "" || filepath.IsAbs(path) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid file path %q", path)
	}
	return filepath.Join(d.Root, clean), nil
}

func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 32, strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}
