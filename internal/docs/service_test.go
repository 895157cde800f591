package docs

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundledDocs(t *testing.T) {
	s := NewService(nil)

	names, err := s.ListDocs()
	require.NoError(t, err)
	assert.Equal(t, []string{"api.adoc", "protocol.adoc"}, names)

	html, err := s.GetDoc(context.Background(), "protocol.adoc")
	require.NoError(t, err)
	assert.Contains(t, html, "Result codes")
}

func TestGetDocRendersAndCaches(t *testing.T) {
	fsys := fstest.MapFS{
		"intro.adoc": {Data: []byte("== Hello\n\nSome *bold* text.\n")},
		"notes.txt":  {Data: []byte("ignored")},
	}
	s := NewService(fsys)

	html, err := s.GetDoc(context.Background(), "intro.adoc")
	require.NoError(t, err)
	assert.Contains(t, html, "<strong>bold</strong>")

	// served from cache even once the source is gone
	delete(fsys, "intro.adoc")
	again, err := s.GetDoc(context.Background(), "intro.adoc")
	require.NoError(t, err)
	assert.Equal(t, html, again)

	names, err := s.ListDocs()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestGetDocRejectsUnknownNames(t *testing.T) {
	s := NewService(fstest.MapFS{"a.adoc": {Data: []byte("= A\n")}})

	for _, name := range []string{"missing.adoc", "../etc/passwd", "a.txt", "dir/a.adoc"} {
		_, err := s.GetDoc(context.Background(), name)
		assert.ErrorIs(t, err, fs.ErrNotExist, name)
	}
}
