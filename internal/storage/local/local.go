package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"paperplane/internal/storage"
)

// Writer 将文件写入本地文件系统。
type Writer struct {
	BaseDir string
	BaseURL string
}

func NewWriter(baseDir, baseURL string) *Writer {
	return &Writer{BaseDir: baseDir, BaseURL: baseURL}
}

func (w *Writer) resolve(key string) (string, error) {
	if w == nil {
		return "", fmt.Errorf("local writer uninitialized")
	}
	target := filepath.Join(w.BaseDir, filepath.Clean("/"+key))
	base := filepath.Clean(w.BaseDir)
	if target != base && !strings.HasPrefix(target, base+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes base dir", key)
	}
	return target, nil
}

// Write 先写入临时文件并 fsync，再原子 rename 到目标路径。
func (w *Writer) Write(ctx context.Context, key string, r io.Reader) (storage.Location, error) {
	targetPath, err := w.resolve(key)
	if err != nil {
		return storage.Location{}, err
	}

	select {
	case <-ctx.Done():
		return storage.Location{}, ctx.Err()
	default:
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return storage.Location{}, fmt.Errorf("ensure dir: %w", err)
	}

	file, err := os.CreateTemp(filepath.Dir(targetPath), ".write-*")
	if err != nil {
		return storage.Location{}, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := file.Name()

	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("write file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("sync file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("rename temp file: %w", err)
	}

	loc := storage.Location{Path: strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+key)), "/")}
	if w.BaseURL != "" {
		if u, err := url.JoinPath(w.BaseURL, loc.Path); err == nil {
			loc.URL = u
		}
	}

	return loc, nil
}

// Read 打开并返回指定 key 对应的文件内容。
func (w *Writer) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	targetPath, err := w.resolve(key)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	file, err := os.Open(targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}

	return file, nil
}

// Delete 删除指定 key，文件不存在时视为成功。
func (w *Writer) Delete(ctx context.Context, key string) error {
	targetPath, err := w.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(targetPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}
