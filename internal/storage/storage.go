// Package storage writes uploaded X-ray images to durable object storage and
// returns a publicly resolvable URL for each stored object.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
)

// KeyPrefix is the top-level folder of every object key.
const KeyPrefix = "xrays"

// Object describes a stored image.
type Object struct {
	URL  string // publicly resolvable URL
	Key  string // backend-relative key, e.g. xrays/2026/10/18/<uuid>.jpg
	Size int64
}

// ObjectStore is a durable image store.
type ObjectStore interface {
	// Put copies the file at localPath into the store. objectName is the
	// client-supplied file name and only contributes its extension.
	Put(ctx context.Context, localPath, objectName string) (Object, error)
	Name() string
	Close() error
}

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// NormalizeExt lower-cases the extension of name and maps unknown
// extensions to .jpg.
func NormalizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedExtensions[ext] {
		return ".jpg"
	}
	return ext
}

// NewKey builds xrays/YYYY/MM/DD/<uuid><ext> for an upload at t.
func NewKey(t time.Time, objectName string) string {
	return path.Join(KeyPrefix, t.Format("2006/01/02"), uuid.NewString()+NormalizeExt(objectName))
}

// PublicURL joins a base URL and an object key.
func PublicURL(base, key string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("public base url is not configured")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid public base url: %w", err)
	}
	return u.JoinPath(strings.Split(key, "/")...).String(), nil
}

// New returns the object store selected by settings.Type.
func New(settings *conf.StorageSettings) (ObjectStore, error) {
	switch strings.ToLower(settings.Type) {
	case conf.StorageLocal, "":
		return NewLocalStore(settings.Local.Path, settings.PublicBaseURL)
	case conf.StorageFTP:
		return NewFTPStore(&settings.FTP, settings.PublicBaseURL)
	case conf.StorageSFTP:
		return NewSFTPStore(&settings.SFTP, settings.PublicBaseURL)
	default:
		return nil, errors.Newf("unknown storage type %q", settings.Type).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func getLogger() logger.Logger {
	return logger.Global().Module("storage")
}

func uploadError(err error, backend, operation string) error {
	return errors.New(err).
		Component("storage").
		Category(errors.CategoryUpload).
		Context("backend", backend).
		Context("operation", operation).
		Build()
}
