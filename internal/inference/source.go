package inference

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/httpclient"
)

// FetchTimeout bounds a single image download.
const FetchTimeout = 15 * time.Second

var imageSignatures = []struct {
	magic []byte
	ext   string
	mime  string
}{
	{[]byte{0xFF, 0xD8, 0xFF}, ".jpg", "image/jpeg"},
	{[]byte{0x89, 0x50, 0x4E}, ".png", "image/png"},
	{[]byte("GIF"), ".gif", "image/gif"},
	{[]byte("BM"), ".bmp", "image/bmp"},
	{[]byte("RIFF"), ".webp", "image/webp"},
}

// SniffImage identifies an image by its leading bytes. Unknown data is
// reported as JPEG and known is false.
func SniffImage(data []byte) (ext, mime string, known bool) {
	for _, sig := range imageSignatures {
		if bytes.HasPrefix(data, sig.magic) {
			return sig.ext, sig.mime, true
		}
	}
	return ".jpg", "image/jpeg", false
}

// ReadSource returns the image bytes, reading Path when set and otherwise
// downloading URL with FetchTimeout.
func ReadSource(ctx context.Context, client *httpclient.Client, src Source) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case src.Path != "":
		data, err = os.ReadFile(src.Path)
		if err != nil {
			return nil, errors.New(fmt.Errorf("failed to read image: %w", err)).
				Component("inference").
				Category(errors.CategoryFileIO).
				Context("path", src.Path).
				Build()
		}
	case src.URL != "":
		fetchCtx, cancel := context.WithTimeout(ctx, FetchTimeout)
		defer cancel()
		data, err = client.Fetch(fetchCtx, src.URL)
		if err != nil {
			return nil, errors.New(fmt.Errorf("failed to download image: %w", err)).
				Component("inference").
				Category(errors.CategoryImageFetch).
				NetworkContext(src.URL, FetchTimeout).
				Build()
		}
	default:
		return nil, errors.ValidationError("image source is empty")
	}

	if len(data) == 0 {
		return nil, errors.Newf("image is empty").
			Component("inference").
			Category(errors.CategoryImageDecode).
			Build()
	}
	return data, nil
}
