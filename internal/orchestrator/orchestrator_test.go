package orchestrator

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"corekit/internal/config"
	"corekit/internal/transport"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	buf := make([]byte, size)
	rand.New(rand.NewSource(7)).Read(buf)
	require.NoError(t, os.WriteFile(path, buf, 0644))
	return path
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	cfg := config.Config{
		CatalogPath:        filepath.Join(t.TempDir(), "test.catalog"),
		CatalogPassword:    "pw",
		Credentials:        []string{"cred-a", "cred-b"},
		ChatID:             "chat",
		ChunkSize:          1 << 20,
		ChunkThreshold:     1 << 20,
		MaxParallelChunks:  2,
		MaxRetriesPerChunk: 1,
	}
	o, err := Init(cfg, transport.NewFake(), nil)
	require.NoError(t, err)
	return o
}

func TestUploadSmallFileDirect(t *testing.T) {
	o := newTestOrchestrator(t)
	src := writeTempFile(t, 1000)

	fileID, err := o.Upload(src, UploadOptions{})
	require.NoError(t, err)

	files, err := o.ListFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, fileID, files[0].FileID)
}

func TestShareAndImportRoundTrip(t *testing.T) {
	o := newTestOrchestrator(t)
	src := writeTempFile(t, 1000)
	fileID, err := o.Upload(src, UploadOptions{})
	require.NoError(t, err)

	linkPath := filepath.Join(t.TempDir(), "out.link")
	_, err = o.Share([]string{fileID}, "sharepw", linkPath)
	require.NoError(t, err)

	d, err := o.ImportShare(linkPath, "sharepw")
	require.NoError(t, err)
	require.Len(t, d.Files, 1)
	require.Equal(t, "source.bin", d.Files[0].FileName)

	_, err = o.ImportShare(linkPath, "wrong")
	require.Error(t, err)
}

func TestCancelUnknownOperationIsNotFound(t *testing.T) {
	o := newTestOrchestrator(t)
	err := o.Cancel("does-not-exist")
	require.Error(t, err)
}

func newChunkedTestOrchestrator(t *testing.T) (*Orchestrator, *transport.Fake) {
	t.Helper()
	tr := transport.NewFake()
	cfg := config.Config{
		CatalogPath:        filepath.Join(t.TempDir(), "test.catalog"),
		CatalogPassword:    "pw",
		Credentials:        []string{"cred-a", "cred-b"},
		ChatID:             "chat",
		ChunkSize:          256,
		ChunkThreshold:     256,
		MaxParallelChunks:  2,
		MaxRetriesPerChunk: 1,
	}
	o, err := Init(cfg, tr, nil)
	require.NoError(t, err)
	return o, tr
}

// TestShareDescriptorChunkedDownloadRoundTrip exercises the Share
// Descriptor's portable path end to end (spec §4.7, P6): upload a chunked
// file, share it, import the descriptor, and download straight from the
// descriptor; DownloadFromDescriptor reads no File/Chunk records from the
// Catalog.
func TestShareDescriptorChunkedDownloadRoundTrip(t *testing.T) {
	o, _ := newChunkedTestOrchestrator(t)
	src := writeTempFile(t, 4000)

	fileID, err := o.Upload(src, UploadOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := o.cat.GetUploadState(fileID)
		return err != nil // deleted once finalized
	}, 2*time.Second, 10*time.Millisecond)

	linkPath := filepath.Join(t.TempDir(), "out.link")
	_, err = o.Share([]string{fileID}, "sharepw", linkPath)
	require.NoError(t, err)

	d, err := o.ImportShare(linkPath, "sharepw")
	require.NoError(t, err)
	require.Len(t, d.Files, 1)
	require.NotEmpty(t, d.Files[0].Chunks)

	destDir := t.TempDir()
	require.NoError(t, o.DownloadFromDescriptor(d.Files[0], destDir, DownloadOptions{}))

	want, err := os.ReadFile(src)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(destDir, d.Files[0].FileName))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// TestShareDescriptorDownloadDetectsTamperedChunk is the P7 check for the
// portable path: a flipped byte on the wire must either be healed by retry
// or surface as an error — it must never produce a silently corrupted
// destination file.
func TestShareDescriptorDownloadDetectsTamperedChunk(t *testing.T) {
	o, tr := newChunkedTestOrchestrator(t)
	src := writeTempFile(t, 4000)

	fileID, err := o.Upload(src, UploadOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := o.cat.GetUploadState(fileID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	linkPath := filepath.Join(t.TempDir(), "out.link")
	_, err = o.Share([]string{fileID}, "sharepw", linkPath)
	require.NoError(t, err)
	d, err := o.ImportShare(linkPath, "sharepw")
	require.NoError(t, err)
	require.NotEmpty(t, d.Files[0].Chunks)

	tr.CorruptOnFetch[d.Files[0].Chunks[0].TransportID] = true

	destDir := t.TempDir()
	destPath := filepath.Join(destDir, d.Files[0].FileName)
	err = o.DownloadFromDescriptor(d.Files[0], destDir, DownloadOptions{})

	if err != nil {
		_, statErr := os.Stat(destPath)
		require.True(t, os.IsNotExist(statErr))
		return
	}
	want, rerr := os.ReadFile(src)
	require.NoError(t, rerr)
	got, rerr := os.ReadFile(destPath)
	require.NoError(t, rerr)
	require.Equal(t, want, got)
}
