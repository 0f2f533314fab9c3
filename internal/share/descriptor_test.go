package share

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"corekit/internal/catalog"

	"github.com/stretchr/testify/require"
)

func TestWriteReadLinkFileRoundTrip(t *testing.T) {
	cat, err := catalog.Create(filepath.Join(t.TempDir(), "cat.db"), []byte("catpw"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	require.NoError(t, cat.PutFileWithChunks(
		catalog.File{FileID: "f1", Name: "movie.mkv", Size: 12 << 20, Category: catalog.CategoryChunked, UploadTimestamp: time.Now(), IsEncrypted: true},
		[]catalog.Chunk{
			{FileID: "f1", Index: 0, Total: 2, SizeBytes: 6 << 20, ContentHash: "h0", TransportID: "t0", OwnerCredential: "cred-a", State: catalog.ChunkCompleted},
			{FileID: "f1", Index: 1, Total: 2, SizeBytes: 6 << 20, ContentHash: "h1", TransportID: "t1", OwnerCredential: "cred-a", State: catalog.ChunkCompleted},
		},
		catalog.UploadState{FileID: "f1", TotalChunks: 2, State: catalog.StateCompleted},
	))

	d, err := FromCatalog(cat, []string{"f1"})
	require.NoError(t, err)
	require.Equal(t, KindSingle, d.Kind)

	linkPath := filepath.Join(t.TempDir(), "movie.link")
	require.NoError(t, WriteLinkFile(d, "xyz", linkPath))

	// A fresh catalog-less host can still read it.
	got, err := ReadLinkFile(linkPath, "xyz")
	require.NoError(t, err)
	require.Equal(t, d, got)

	_, err = ReadLinkFile(linkPath, "wrong-password")
	require.Error(t, err)
}

func TestReadLinkFileRejectsCorruptPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.link")
	require.NoError(t, writeRaw(path, []byte("not an envelope at all but long enough")))
	_, err := ReadLinkFile(path, "pw")
	require.Error(t, err)
}

func writeRaw(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}
