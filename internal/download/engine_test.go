package download

import (
	"crypto/sha256"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"corekit/internal/catalog"
	"corekit/internal/control"
	"corekit/internal/credpool"
	"corekit/internal/progress"
	"corekit/internal/transport"
	"corekit/internal/upload"

	"github.com/stretchr/testify/require"
)

func newHarness(t *testing.T) (*catalog.Catalog, *upload.Engine, *Engine, *transport.Fake, *credpool.Pool) {
	t.Helper()
	cat, err := catalog.Create(filepath.Join(t.TempDir(), "cat.db"), []byte("pw"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	pool, err := credpool.New([]string{"cred-a", "cred-b"})
	require.NoError(t, err)
	fake := transport.NewFake()
	ctrl := control.NewRegistry()

	upCfg := upload.DefaultConfig(2)
	upEng := upload.NewEngine(cat, fake, pool, ctrl, progress.Noop{}, upCfg)

	dlCfg := DefaultConfig(2)
	dlCfg.ScratchBaseDir = t.TempDir()
	dlEng := NewEngine(cat, fake, pool, ctrl, progress.Noop{}, dlCfg)

	return cat, upEng, dlEng, fake, pool
}

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.bin")
	data := make([]byte, size)
	rand.New(rand.NewSource(7)).Read(data)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestUploadThenDownloadRoundTrips(t *testing.T) {
	cat, upEng, dlEng, _, _ := newHarness(t)
	srcPath := writeTempFile(t, 9<<20)
	original, err := os.ReadFile(srcPath)
	require.NoError(t, err)

	fileID, err := upEng.StartUpload(srcPath)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := cat.GetUploadState(fileID)
		return err != nil
	}, 3*time.Second, 10*time.Millisecond)

	destPath := filepath.Join(t.TempDir(), "out.bin")
	downloadID, err := dlEng.StartDownload(fileID, destPath, Options{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := cat.GetDownloadState(downloadID)
		return err != nil
	}, 3*time.Second, 10*time.Millisecond)

	got, err := os.ReadFile(destPath)
	require.NoError(t, err)
	require.Equal(t, sha256.Sum256(original), sha256.Sum256(got))
}

func TestSmallDirectFileRoundTrips(t *testing.T) {
	cat, upEng, dlEng, _, _ := newHarness(t)
	srcPath := writeTempFile(t, 1000)
	original, err := os.ReadFile(srcPath)
	require.NoError(t, err)

	fileID, err := upEng.StartUpload(srcPath)
	require.NoError(t, err)
	f, err := cat.GetFile(fileID)
	require.NoError(t, err)
	require.Equal(t, catalog.CategoryDirect, f.Category)

	destPath := filepath.Join(t.TempDir(), "out.bin")
	_, err = dlEng.StartDownload(fileID, destPath, Options{})
	require.NoError(t, err)

	got, err := os.ReadFile(destPath)
	require.NoError(t, err)
	require.Equal(t, original, got)
}

// TestIntegrityFailureNeverProducesCorruptedDestination is spec property P7:
// flipping a byte in a downloaded chunk causes re-fetch or IntegrityFailure,
// never a corrupted destination file.
func TestIntegrityFailureNeverProducesCorruptedDestination(t *testing.T) {
	cat, upEng, dlEng, fake, _ := newHarness(t)
	srcPath := writeTempFile(t, 9<<20)

	fileID, err := upEng.StartUpload(srcPath)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := cat.GetUploadState(fileID)
		return err != nil
	}, 3*time.Second, 10*time.Millisecond)

	chunks, err := cat.GetChunks(fileID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	fake.CorruptOnFetch[chunks[0].TransportID] = true

	destPath := filepath.Join(t.TempDir(), "out.bin")
	_, err = dlEng.StartDownload(fileID, destPath, Options{})
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	if data, statErr := os.ReadFile(destPath); statErr == nil {
		// If a destination file exists at all, it must be fully correct -
		// a partially/corruptly reassembled file must never appear.
		original, _ := os.ReadFile(srcPath)
		require.Equal(t, sha256.Sum256(original), sha256.Sum256(data))
	}
}

func TestPauseResumeDownloadReusesScratchFiles(t *testing.T) {
	cat, upEng, dlEng, _, _ := newHarness(t)
	srcPath := writeTempFile(t, 9<<20)

	fileID, err := upEng.StartUpload(srcPath)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := cat.GetUploadState(fileID)
		return err != nil
	}, 3*time.Second, 10*time.Millisecond)

	destPath := filepath.Join(t.TempDir(), "out.bin")
	downloadID, err := dlEng.StartDownload(fileID, destPath, Options{})
	require.NoError(t, err)

	dlEng.PauseDownload(downloadID)
	require.Eventually(t, func() bool {
		s, err := cat.GetDownloadState(downloadID)
		return err == nil && s.State == catalog.StatePaused
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, dlEng.ResumeDownload(downloadID, Options{}))
	require.Eventually(t, func() bool {
		_, err := cat.GetDownloadState(downloadID)
		return err != nil
	}, 3*time.Second, 10*time.Millisecond)

	got, err := os.ReadFile(destPath)
	require.NoError(t, err)
	original, err := os.ReadFile(srcPath)
	require.NoError(t, err)
	require.Equal(t, sha256.Sum256(original), sha256.Sum256(got))
}
