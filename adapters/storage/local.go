// Package storage persists resized images and their thumbnails.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
)

// Local stores images on the local filesystem.
type Local struct {
	rootDir     string
	baseURL     string
	permissions os.FileMode
}

// NewLocal creates a Local storage adapter rooted at dir. References handed
// out by Ref are baseURL + "/" + key when baseURL is set, file paths otherwise.
func NewLocal(dir, baseURL string, perm os.FileMode) (*Local, error) {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local storage: mkdir %s: %w", dir, err)
	}
	return &Local{rootDir: dir, baseURL: strings.TrimRight(baseURL, "/"), permissions: perm}, nil
}

// absPath maps Bucket to a subdirectory and Path to the file name beneath it.
// Both are cleaned so a key can never climb out of rootDir.
func (l *Local) absPath(key core.StorageKey) string {
	return filepath.Join(l.rootDir, cleanRel(key.Bucket), cleanRel(key.Path))
}

func cleanRel(p string) string {
	return strings.TrimPrefix(filepath.Clean("/"+p), "/")
}

func (l *Local) Put(ctx context.Context, key core.StorageKey, r io.Reader, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put", err)
	}

	path := l.absPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return unavailable("local.put.mkdir", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, l.permissions)
	if err != nil {
		return unavailable("local.put.open", err)
	}
	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		return unavailable("local.put.copy", err)
	}
	if err := f.Close(); err != nil {
		return unavailable("local.put.close", err)
	}

	// Metadata lives in a side-car JSON file.
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return apperrors.Wrap(apperrors.CategoryStorage, "local.put.meta", err)
		}
		if err := os.WriteFile(path+".meta.json", b, l.permissions); err != nil {
			return unavailable("local.put.meta", err)
		}
	}
	return nil
}

func (l *Local) Get(ctx context.Context, key core.StorageKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.get", err)
	}
	f, err := os.Open(l.absPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.New(apperrors.CategoryStorage, "local.get", fmt.Errorf("key not found: %s/%s", key.Bucket, key.Path))
		}
		return nil, unavailable("local.get.open", err)
	}
	return f, nil
}

// Meta reads the side-car metadata written by Put. A key stored without
// metadata yields an empty map.
func (l *Local) Meta(ctx context.Context, key core.StorageKey) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.meta", err)
	}
	b, err := os.ReadFile(l.absPath(key) + ".meta.json")
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, unavailable("local.meta", err)
	}
	meta := map[string]string{}
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.meta", err)
	}
	return meta, nil
}

func (l *Local) Delete(ctx context.Context, key core.StorageKey) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	path := l.absPath(key)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return unavailable("local.delete", err)
	}
	_ = os.Remove(path + ".meta.json")
	return nil
}

func (l *Local) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists", err)
	}
	_, err := os.Stat(l.absPath(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, unavailable("local.exists.stat", err)
}

func (l *Local) Ref(key core.StorageKey) string {
	rel := filepath.ToSlash(filepath.Join(cleanRel(key.Bucket), cleanRel(key.Path)))
	if l.baseURL != "" {
		return l.baseURL + "/" + rel
	}
	return l.absPath(key)
}

func unavailable(op string, err error) error {
	return apperrors.New(apperrors.CategoryStorage, op, apperrors.Join(apperrors.ErrStorageUnavailable, err))
}
