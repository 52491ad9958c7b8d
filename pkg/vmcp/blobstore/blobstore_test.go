package blobstore

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStore_PutThenGet_RoundTrips(t *testing.T) {
	s := newTestStore(t)

	meta, err := s.Put("report.csv", "text/csv", bytes.NewBufferString("a,b,c\n"))
	require.NoError(t, err)
	assert.Equal(t, "report.csv", meta.Filename)
	assert.Equal(t, "text/csv", meta.MIMEType)
	assert.Equal(t, int64(6), meta.Size)

	r, gotMeta, err := s.Get(meta.ID)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, meta, gotMeta)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "a,b,c\n", string(data))
}

func TestStore_Get_UnknownID_Errors(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Get("does-not-exist")
	assert.Error(t, err)
}

func TestStore_Delete_RemovesBlob(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.Put("x.txt", "text/plain", bytes.NewBufferString("hi"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(meta.ID))

	_, _, err = s.Get(meta.ID)
	assert.Error(t, err)
}

func TestStore_Rename_UpdatesFilenameOnly(t *testing.T) {
	s := newTestStore(t)
	meta, err := s.Put("old.txt", "text/plain", bytes.NewBufferString("hi"))
	require.NoError(t, err)

	renamed, err := s.Rename(meta.ID, "new.txt")
	require.NoError(t, err)
	assert.Equal(t, "new.txt", renamed.Filename)
	assert.Equal(t, meta.ID, renamed.ID)
	assert.Equal(t, meta.MIMEType, renamed.MIMEType)
}

func TestStore_List_ReturnsAllBlobs(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put("a.txt", "text/plain", bytes.NewBufferString("a"))
	require.NoError(t, err)
	_, err = s.Put("b.txt", "text/plain", bytes.NewBufferString("b"))
	require.NoError(t, err)

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_List_EmptyStore(t *testing.T) {
	s := newTestStore(t)
	all, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, all)
}
