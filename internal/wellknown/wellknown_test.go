package wellknown

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDocumentLoadsAndCaches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "did.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"did:web:appview.example"}`), 0o600))

	p := NewProvider(path, nil)
	ctx := context.Background()

	doc, err := p.Document(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"did:web:appview.example"}`, string(doc))

	// Cached: a disk change without invalidation is not observed.
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"did:web:other.example"}`), 0o600))
	doc, err = p.Document(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"did:web:appview.example"}`, string(doc))

	p.invalidate()
	doc, err = p.Document(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"did:web:other.example"}`, string(doc))
}

func TestDocumentRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "did.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := NewProvider(path, nil).Document(context.Background())
	require.Error(t, err)
}

func TestDocumentMissingFile(t *testing.T) {
	p := NewProvider(filepath.Join(t.TempDir(), "absent.json"), nil)
	_, err := p.Document(context.Background())
	require.Error(t, err)
}
