package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chestguard/chestguard/internal/errors"
)

func TestExpandString(t *testing.T) {
	t.Setenv("CG_TEST_TOKEN", "s3cret")
	t.Setenv("CG_TEST_EMPTY", "")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty", input: "", want: ""},
		{name: "literal", input: "plain-key", want: "plain-key"},
		{name: "variable", input: "${CG_TEST_TOKEN}", want: "s3cret"},
		{name: "embedded", input: "Bearer ${CG_TEST_TOKEN}", want: "Bearer s3cret"},
		{name: "default unused", input: "${CG_TEST_TOKEN:-fallback}", want: "s3cret"},
		{name: "default used", input: "${CG_TEST_UNSET:-fallback}", want: "fallback"},
		{name: "empty default", input: "${CG_TEST_UNSET:-}", want: ""},
		{name: "empty variable counts as unset", input: "${CG_TEST_EMPTY}", wantErr: true},
		{name: "missing", input: "${CG_TEST_UNSET}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandString(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
		return p
	}

	t.Run("trims trailing newlines only", func(t *testing.T) {
		got, err := ReadFile(write("key", " AIza-key \r\n"))
		require.NoError(t, err)
		assert.Equal(t, " AIza-key ", got)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := ReadFile(write("blank", "\n"))
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadFile(filepath.Join(dir, "absent"))
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	})

	t.Run("directory", func(t *testing.T) {
		_, err := ReadFile(dir)
		require.Error(t, err)
	})

	t.Run("too large", func(t *testing.T) {
		big := make([]byte, maxSecretFileSize+1)
		for i := range big {
			big[i] = 'x'
		}
		_, err := ReadFile(write("big", string(big)))
		require.Error(t, err)
	})
}

func TestResolveInto(t *testing.T) {
	t.Setenv("CG_TEST_MQTT_PASS", "from-env")
	dir := t.TempDir()
	file := filepath.Join(dir, "mqtt_password")
	require.NoError(t, os.WriteFile(file, []byte("from-file\n"), 0o600))

	value := "${CG_TEST_MQTT_PASS}"
	require.NoError(t, ResolveInto("mqtt.password", "", &value))
	assert.Equal(t, "from-env", value)

	value = "${CG_TEST_MQTT_PASS}"
	require.NoError(t, ResolveInto("mqtt.password", file, &value))
	assert.Equal(t, "from-file", value, "the file wins over the inline value")

	value = "${CG_TEST_NOT_SET}"
	err := ResolveInto("mqtt.password", "", &value)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CG_TEST_NOT_SET")
	assert.Equal(t, "${CG_TEST_NOT_SET}", value, "value is untouched on failure")
}
