package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Local stores images under a root directory.
type Local struct {
	root string
	now  func() time.Time
}

// NewLocal creates a Local store rooted at dir.
// The directory is created (with parents) if it does not already exist.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating image dir: %w", err)
	}
	return &Local{root: abs, now: time.Now}, nil
}

func (l *Local) resolve(ref string) string {
	return filepath.Join(l.root, filepath.FromSlash(ref))
}

// Save writes data to a new file and returns its relative path as the reference.
// Data that is not a supported image fails with ErrUnsupportedFormat.
func (l *Local) Save(_ context.Context, data []byte, _ string) (string, error) {
	format, _, err := Sniff(data)
	if err != nil {
		return "", err
	}
	ref := NewRef(l.now().UTC(), format)
	full := l.resolve(ref)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating image dir: %w", err)
	}
	if err := writeAtomic(full, data); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return ref, nil
}

// writeAtomic writes data next to path and renames it into place, so readers
// never see a partially written image.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads the file behind ref.
func (l *Local) Load(_ context.Context, ref string) ([]byte, error) {
	if err := validRef(ref); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.resolve(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return data, nil
}

// Delete removes the file behind ref.
func (l *Local) Delete(_ context.Context, ref string) error {
	if err := validRef(ref); err != nil {
		return nil
	}
	err := os.Remove(l.resolve(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

var _ Store = (*Local)(nil)
