package emoji

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupReturnsFalseForUnknownName(t *testing.T) {
	r := &Registry{entries: make(map[string]Entry)}
	_, ok := r.Lookup("reaver_vandal")
	assert.False(t, ok)
}

func TestEnsureUploadedReturnsCachedReferenceWithoutUploading(t *testing.T) {
	r := &Registry{entries: map[string]Entry{
		"reaver_vandal": {Name: "reaver_vandal", ReferenceID: "ref-123"},
	}}

	id, err := r.EnsureUploaded(context.Background(), "reaver_vandal", nil)
	require.NoError(t, err)
	assert.Equal(t, "ref-123", id)
}

func TestFlushAndReloadFromDiskRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emoji.json")
	r := &Registry{path: path, entries: map[string]Entry{
		"reaver_vandal": {Name: "reaver_vandal", ReferenceID: "ref-123", UploadedAt: 1700000000},
	}}

	r.Flush()

	reloaded := &Registry{path: path, entries: make(map[string]Entry)}
	reloaded.reloadFromDisk()

	id, ok := reloaded.Lookup("reaver_vandal")
	require.True(t, ok)
	assert.Equal(t, "ref-123", id)
}

func TestFlushIsANoOpWithEmptyPath(t *testing.T) {
	r := &Registry{entries: map[string]Entry{"a": {Name: "a", ReferenceID: "r"}}}
	r.Flush()
}
