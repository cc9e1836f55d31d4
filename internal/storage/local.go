package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chestguard/chestguard/internal/logger"
)

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
	copyBufferSize  = 32 * 1024
)

// LocalStore keeps objects in a directory the API serves under /media/.
type LocalStore struct {
	root    string
	baseURL string
	now     func() time.Time
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root, publicBaseURL string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("local: path is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local: resolve path: %w", err)
	}
	if err := os.MkdirAll(abs, dirPermissions); err != nil {
		return nil, uploadError(err, "local", "create-root")
	}
	return &LocalStore{root: abs, baseURL: publicBaseURL, now: time.Now}, nil
}

func (s *LocalStore) Name() string { return "local" }

// Root returns the directory objects are written under.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) Close() error { return nil }

// Put copies localPath to <root>/<key> through a temp file and rename.
func (s *LocalStore) Put(ctx context.Context, localPath, objectName string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	key := NewKey(s.now(), objectName)
	target := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(target, s.root+string(filepath.Separator)) {
		return Object{}, uploadError(fmt.Errorf("key escapes storage root: %s", key), "local", "resolve-key")
	}

	if err := os.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
		return Object{}, uploadError(err, "local", "create-dir")
	}

	src, err := os.Open(localPath) //nolint:gosec // G304: upload temp path created by the API
	if err != nil {
		return Object{}, uploadError(err, "local", "open-source")
	}
	defer src.Close() //nolint:errcheck // read-only

	var size int64
	err = atomicWriteFile(target, "upload-*.tmp", func(f *os.File) error {
		n, err := io.CopyBuffer(f, src, make([]byte, copyBufferSize))
		size = n
		return err
	})
	if err != nil {
		return Object{}, uploadError(err, "local", "write")
	}

	publicURL, err := PublicURL(s.baseURL, key)
	if err != nil {
		return Object{}, uploadError(err, "local", "public-url")
	}

	getLogger().Debug("stored image",
		logger.String("backend", "local"),
		logger.String("key", key),
		logger.Int64("size", size))

	return Object{URL: publicURL, Key: key, Size: size}, nil
}

// atomicWriteFile writes to a temp file beside targetPath and renames it.
func atomicWriteFile(targetPath, tempPattern string, write func(*os.File) error) error {
	tempFile, err := os.CreateTemp(filepath.Dir(targetPath), tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	if err := tempFile.Chmod(filePermissions); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := write(tempFile); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	success = true
	return nil
}
