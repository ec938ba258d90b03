package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestReadWriteJSON(t *testing.T) {
	type doc struct {
		Stage string   `json:"stage"`
		Keys  []string `json:"keys"`
	}
	path := filepath.Join(t.TempDir(), "doc.json")

	var missing doc
	found, err := ReadJSON(path, &missing)
	require.NoError(t, err)
	assert.False(t, found)

	in := doc{Stage: "fetch", Keys: []string{"a", "b"}}
	require.NoError(t, WriteJSON(path, in))

	var out doc
	found, err = ReadJSON(path, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))
	found, err = ReadJSON(path, &out)
	assert.True(t, found)
	assert.Error(t, err)
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone")
	assert.NoError(t, RemoveIfExists(path))

	require.NoError(t, os.WriteFile(path, nil, 0644))
	assert.NoError(t, RemoveIfExists(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"daily_trade_20240105", "daily_trade_20240105"},
		{"api/v1:stock", "api_v1_stock"},
		{`a\b*c?d`, "a_b_c_d"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}
