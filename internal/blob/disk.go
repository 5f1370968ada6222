package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// DiskStore keeps objects as files under a base directory. Writes go to a
// temporary sibling and are renamed into place, so readers never observe a
// partial object.
type DiskStore struct {
	baseDir string
}

func NewDiskStore(opts map[string]interface{}) (Store, error) {
	baseDir := optString(opts, "path")
	if baseDir == "" {
		return nil, fmt.Errorf("disk store requires 'path' option")
	}
	return &DiskStore{baseDir: baseDir}, nil
}

func (d *DiskStore) path(key string) string {
	return filepath.Join(d.baseDir, filepath.FromSlash(key))
}

func (d *DiskStore) Put(ctx context.Context, key, localPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()
	return d.write(ctx, key, src)
}

func (d *DiskStore) PutBytes(ctx context.Context, key string, body []byte) error {
	return d.write(ctx, key, bytesReader(body))
}

func (d *DiskStore) write(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath := d.path(key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), "."+filepath.Base(fullPath)+".*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (d *DiskStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func init() {
	Register("disk", NewDiskStore)
}
