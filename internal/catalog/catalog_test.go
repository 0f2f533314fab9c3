package catalog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Create(path, []byte("pw"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCreateThenOpenWrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Create(path, []byte("correct"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = Open(path, []byte("incorrect"))
	require.Error(t, err)

	reopened, err := Open(path, []byte("correct"))
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
}

func TestFileRoundTripEncryptsName(t *testing.T) {
	c := newTestCatalog(t)
	f := File{
		FileID:          "f1",
		Name:            "taxes/report.pdf",
		Size:            1000,
		Category:        CategoryDirect,
		UploadTimestamp: time.Now(),
		OwnerCredential: "cred1",
	}
	require.NoError(t, c.PutFile(f))

	got, err := c.GetFile("f1")
	require.NoError(t, err)
	assert.Equal(t, "taxes/report.pdf", got.Name)
	assert.NotContains(t, string(got.EncName), "taxes")
}

func TestChunkedUploadLifecycleAndInvariantI1(t *testing.T) {
	c := newTestCatalog(t)
	f := File{FileID: "f2", Name: "big.bin", Size: 9 << 20, Category: CategoryChunked, UploadTimestamp: time.Now()}
	chunks := []Chunk{
		{FileID: "f2", Index: 0, Total: 3, SizeBytes: 4 << 20, State: ChunkPending},
		{FileID: "f2", Index: 1, Total: 3, SizeBytes: 4 << 20, State: ChunkPending},
		{FileID: "f2", Index: 2, Total: 3, SizeBytes: 1 << 20, State: ChunkPending},
	}
	upload := UploadState{FileID: "f2", SourcePath: "/tmp/big.bin", TotalBytes: 9 << 20, TotalChunks: 3, State: StateActive}
	require.NoError(t, c.PutFileWithChunks(f, chunks, upload))

	for i := 0; i < 3; i++ {
		require.NoError(t, c.CompleteChunk(Chunk{FileID: "f2", Index: i, Total: 3, SizeBytes: 1, State: ChunkCompleted}))
	}

	got, err := c.GetUploadState("f2")
	require.NoError(t, err)
	assert.Equal(t, 3, got.CompletedChunks)

	storedChunks, err := c.GetChunks("f2")
	require.NoError(t, err)
	completed := 0
	for _, ch := range storedChunks {
		if ch.State == ChunkCompleted {
			completed++
		}
	}
	assert.Equal(t, got.CompletedChunks, completed)

	require.NoError(t, c.FinalizeUpload("f2"))
	_, err = c.GetUploadState("f2")
	require.Error(t, err)
}

func TestCancelUploadRemovesEverything(t *testing.T) {
	c := newTestCatalog(t)
	f := File{FileID: "f3", Name: "x.bin", Category: CategoryChunked}
	chunks := []Chunk{{FileID: "f3", Index: 0, Total: 1, State: ChunkCompleted}}
	upload := UploadState{FileID: "f3", TotalChunks: 1, State: StateActive}
	require.NoError(t, c.PutFileWithChunks(f, chunks, upload))

	require.NoError(t, c.CancelUpload("f3"))

	_, err := c.GetFile("f3")
	require.Error(t, err)
	gotChunks, err := c.GetChunks("f3")
	require.NoError(t, err)
	assert.Empty(t, gotChunks)
	_, err = c.GetUploadState("f3")
	require.Error(t, err)
}

func TestMarkAllActiveUploadsPausedOnRestart(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.PutFileWithChunks(
		File{FileID: "f4", Category: CategoryChunked},
		[]Chunk{{FileID: "f4", Index: 0, Total: 1}},
		UploadState{FileID: "f4", TotalChunks: 1, State: StateActive},
	))

	require.NoError(t, c.MarkAllActiveUploadsPaused())

	incomplete, err := c.ListIncompleteUploads()
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, StatePaused, incomplete[0].State)
}

func TestDeleteFileCascades(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.PutFileWithChunks(
		File{FileID: "f5", Category: CategoryChunked},
		[]Chunk{{FileID: "f5", Index: 0, Total: 1}},
		UploadState{FileID: "f5", TotalChunks: 1, State: StateActive},
	))

	require.NoError(t, c.DeleteFile("f5"))

	_, err := c.GetFile("f5")
	require.Error(t, err)
	chunks, err := c.GetChunks("f5")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
