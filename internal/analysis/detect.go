package analysis

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/detection"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
	"github.com/chestguard/chestguard/internal/storage"
)

// DetectFile runs one detection for the image at path. The pipeline
// consumes its input, so the image is staged to a temporary copy first and
// the caller's file is left alone.
func DetectFile(ctx context.Context, settings *conf.Settings, mrNo, path, mode string, opts ...Option) (*detection.Outcome, error) {
	services, err := Build(settings, opts...)
	if err != nil {
		return nil, err
	}
	defer services.Close()

	return detectWith(ctx, services.Pipeline, mrNo, path, mode)
}

func detectWith(ctx context.Context, p *detection.Pipeline, mrNo, path, mode string) (*detection.Outcome, error) {
	staged, err := stageCopy(path)
	if err != nil {
		return nil, err
	}

	GetLogger().Debug("running file detection",
		logger.String("mr_no", mrNo),
		logger.String("file", path),
		logger.String("mode", mode))

	return p.Detect(ctx, detection.Request{
		MRNo:     mrNo,
		FilePath: staged,
		FileName: filepath.Base(path),
		Mode:     mode,
	})
}

func stageCopy(path string) (string, error) {
	src, err := os.Open(path) //nolint:gosec // G304: operator-supplied image path
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.ValidationError("X-ray image not found: " + path)
		}
		return "", fileError(err, path)
	}
	defer src.Close() //nolint:errcheck // read-only

	dst, err := os.CreateTemp("", "xray-*"+storage.NormalizeExt(path))
	if err != nil {
		return "", fileError(err, path)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return "", fileError(err, path)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return "", fileError(err, path)
	}
	return dst.Name(), nil
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component("analysis").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}
