package inference

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/httpclient"
)

func TestSniffImage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		data  []byte
		ext   string
		known bool
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, ".jpg", true},
		{"png", []byte{0x89, 'P', 'N', 'G'}, ".png", true},
		{"gif", []byte("GIF89a"), ".gif", true},
		{"bmp", []byte("BM\x00\x00"), ".bmp", true},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBP"), ".webp", true},
		{"unknown", []byte("%PDF-1.4"), ".jpg", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ext, _, known := SniffImage(tt.data)
			assert.Equal(t, tt.ext, ext)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestReadSource(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "x.jpg")
	require.NoError(t, os.WriteFile(p, []byte{0xFF, 0xD8, 0xFF}, 0o600))

	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodGet, "https://media.example.org/x.png",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, httpclient.DefaultUserAgent, req.Header.Get("User-Agent"))
			return httpmock.NewBytesResponse(http.StatusOK, []byte{0x89, 'P', 'N', 'G'}), nil
		})
	mt.RegisterResponder(http.MethodGet, "https://media.example.org/missing.png",
		httpmock.NewStringResponder(http.StatusNotFound, "gone"))
	client := httpclient.New(&httpclient.Config{Transport: mt})

	data, err := ReadSource(t.Context(), client, Source{Path: p, URL: "https://media.example.org/x.png"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, data, "path wins over URL")

	data, err = ReadSource(t.Context(), client, Source{URL: "https://media.example.org/x.png"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)

	_, err = ReadSource(t.Context(), client, Source{URL: "https://media.example.org/missing.png"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryImageFetch))

	_, err = ReadSource(t.Context(), client, Source{Path: filepath.Join(t.TempDir(), "none.jpg")})
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}
