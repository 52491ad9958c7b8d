package composer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oss-vmcp/vmcp/pkg/vmcp"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/blobstore"
)

func TestComposer_DispatchResource_BlobBacked_NoStoreAttached_Errors(t *testing.T) {
	t.Parallel()

	def := vmcp.VMCP{Resources: []vmcp.CustomResource{{URI: "vmcp://report", BlobID: "abc123"}}}
	c := newTestComposer(t, def, nil)

	_, err := c.DispatchResource(newTestIC(), "vmcp://report")
	assert.Error(t, err)
}

func TestComposer_DispatchResource_BlobBacked_ReadsThroughStore(t *testing.T) {
	t.Parallel()

	store, err := blobstore.Open(t.TempDir())
	require.NoError(t, err)
	meta, err := store.Put("report.csv", "text/csv", bytes.NewBufferString("x,y\n1,2\n"))
	require.NoError(t, err)

	def := vmcp.VMCP{Resources: []vmcp.CustomResource{{URI: "vmcp://report", BlobID: meta.ID, MIMEType: "text/csv"}}}
	c := newTestComposer(t, def, nil)
	c.SetBlobStore(store)

	got, err := c.DispatchResource(newTestIC(), "vmcp://report")
	require.NoError(t, err)
	assert.Equal(t, "x,y\n1,2\n", got)
}

func TestComposer_DispatchResource_BlobBacked_UnknownBlobID_Errors(t *testing.T) {
	t.Parallel()

	store, err := blobstore.Open(t.TempDir())
	require.NoError(t, err)

	def := vmcp.VMCP{Resources: []vmcp.CustomResource{{URI: "vmcp://report", BlobID: "does-not-exist"}}}
	c := newTestComposer(t, def, nil)
	c.SetBlobStore(store)

	_, err = c.DispatchResource(newTestIC(), "vmcp://report")
	assert.Error(t, err)
}
