// Package download implements the Chunked Download Engine (spec §4.6):
// parallel fetch bounded the same way as the upload engine, integrity
// checking, ordered reassembly, and pause/stop/cancel/resume semantics. It
// also serves the Share Descriptor's portable path (spec §4.7), which
// bypasses the Catalog entirely.
package download

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"corekit/internal/catalog"
	"corekit/internal/control"
	"corekit/internal/corerr"
	"corekit/internal/credpool"
	"corekit/internal/envelope"
	"corekit/internal/progress"
	"corekit/internal/transport"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config holds the tunables shared with the upload engine (spec §4.5/§4.6
// apply identical retry policy to both engines).
type Config struct {
	MaxParallelChunks  int
	MaxRetriesPerChunk int
	RetryBackoff       time.Duration
	ScratchBaseDir     string
}

func DefaultConfig(poolSize int) Config {
	maxParallel := poolSize * 2
	if maxParallel > 5 || maxParallel == 0 {
		maxParallel = 5
	}
	return Config{
		MaxParallelChunks:  maxParallel,
		MaxRetriesPerChunk: 3,
		RetryBackoff:       time.Second,
		ScratchBaseDir:     os.TempDir(),
	}
}

var (
	errPaused   = errors.New("download: paused")
	errCanceled = errors.New("download: canceled")
)

// Engine is the Chunked Download Engine.
type Engine struct {
	cat       *catalog.Catalog
	transport transport.Transport
	pool      *credpool.Pool
	control   *control.Registry
	sink      progress.Sink
	cfg       Config

	progressMu sync.Mutex
}

func NewEngine(cat *catalog.Catalog, tr transport.Transport, pool *credpool.Pool, ctrl *control.Registry, sink progress.Sink, cfg Config) *Engine {
	if sink == nil {
		sink = progress.Noop{}
	}
	return &Engine{cat: cat, transport: tr, pool: pool, control: ctrl, sink: sink, cfg: cfg}
}

// Options control optional post-download decryption (spec §4.6 reassembly
// phase: "if is_encrypted and a file password was supplied...").
type Options struct {
	Password string
}

// StartDownload implements spec §4.6 "start from file_id": loads File and
// ordered Chunks from the Catalog, creates a scratch directory, persists a
// DownloadState, and enters the download loop in the background.
func (e *Engine) StartDownload(fileID, destPath string, opts Options) (string, error) {
	file, err := e.cat.GetFile(fileID)
	if err != nil {
		return "", err
	}
	downloadID := uuid.NewString()

	if file.Category == catalog.CategoryDirect {
		return downloadID, e.directDownload(file.OwnerCredential, file.DirectTransportID, destPath, file.IsEncrypted, opts)
	}

	chunks, err := e.cat.GetChunks(fileID)
	if err != nil {
		return "", err
	}
	scratch := filepath.Join(e.cfg.ScratchBaseDir, "corekit-scratch-"+downloadID)
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return "", fmt.Errorf("download: scratch dir: %w", err)
	}
	state := catalog.DownloadState{
		DownloadID:             downloadID,
		FileID:                 fileID,
		DestinationPath:        destPath,
		ScratchDirectory:       scratch,
		TotalChunks:            len(chunks),
		State:                  catalog.StateActive,
		IsEncrypted:            file.IsEncrypted,
		EnvelopePasswordNeeded: file.IsEncrypted && opts.Password == "",
	}
	if err := e.cat.PutDownloadState(state); err != nil {
		return "", err
	}
	e.control.Start(downloadID)
	go e.runLoop(downloadID, opts)
	return downloadID, nil
}

// ResumeDownload mirrors upload's ResumeUpload: reloads DownloadState and
// re-enters the loop; scratch files already on disk are reused (spec §4.6
// "resume shortcut across process restarts").
func (e *Engine) ResumeDownload(downloadID string, opts Options) error {
	state, err := e.cat.GetDownloadState(downloadID)
	if err != nil {
		return err
	}
	if err := e.cat.SetDownloadState(downloadID, catalog.StateActive); err != nil {
		return err
	}
	e.control.Start(downloadID)
	_ = state
	go e.runLoop(downloadID, opts)
	return nil
}

func (e *Engine) PauseDownload(downloadID string) { e.control.Pause(downloadID) }
func (e *Engine) StopDownload(downloadID string)  { e.control.Stop(downloadID) }

// CancelDownload removes the scratch directory in addition to catalog state
// (spec §4.6 "cancel MUST also remove the scratch directory").
func (e *Engine) CancelDownload(downloadID string) error {
	e.control.Cancel(downloadID)
	state, err := e.cat.GetDownloadState(downloadID)
	if err != nil {
		return err
	}
	if state.State == catalog.StateActive {
		return nil
	}
	_ = os.RemoveAll(state.ScratchDirectory)
	if err := e.cat.DeleteDownloadState(downloadID); err != nil {
		return err
	}
	e.control.Remove(downloadID)
	return nil
}

func (e *Engine) directDownload(credential, transportID, destPath string, isEncrypted bool, opts Options) error {
	remotePath, err := e.transport.GetFilePath(credential, transportID)
	if err != nil {
		return transport.NetworkErr(err)
	}
	var buf bufferWriter
	if err := e.transport.FetchBytes(credential, remotePath, &buf); err != nil {
		return transport.NetworkErr(err)
	}
	return writeAndMaybeDecrypt(buf.data, destPath, isEncrypted, opts.Password)
}

func (e *Engine) runLoop(downloadID string, opts Options) {
	state, err := e.cat.GetDownloadState(downloadID)
	if err != nil {
		log.Printf("download %s: load state: %v", downloadID, err)
		return
	}
	chunks, err := e.cat.GetChunks(state.FileID)
	if err != nil {
		log.Printf("download %s: load chunks: %v", downloadID, err)
		return
	}

	var pending []catalog.Chunk
	for _, c := range chunks {
		scratchPath := filepath.Join(state.ScratchDirectory, scratchName(c.Index))
		if info, statErr := os.Stat(scratchPath); statErr == nil && info.Size() == c.SizeBytes {
			continue // resume shortcut: already fetched
		}
		pending = append(pending, c)
	}

	var eg errgroup.Group
	eg.SetLimit(e.cfg.MaxParallelChunks)

loop:
	for _, c := range pending {
		c := c
		flags := e.control.Snapshot(downloadID)
		if flags.Canceled || flags.Paused {
			break loop
		}
		eg.Go(func() error {
			return e.fetchChunk(downloadID, state.ScratchDirectory, c)
		})
	}
	loopErr := eg.Wait()
	e.finishLoop(downloadID, chunks, opts, loopErr)
}

func (e *Engine) fetchChunk(downloadID, scratchDir string, c catalog.Chunk) error {
	ref := ChunkRef{
		Index:           c.Index,
		TransportID:     c.TransportID,
		OwnerCredential: c.OwnerCredential,
		ContentHash:     c.ContentHash,
	}
	if err := e.fetchRef(downloadID, scratchDir, ref); err != nil {
		return err
	}
	completed, total := e.bumpProgress(downloadID)
	pct := 0.0
	if total > 0 {
		pct = 100 * float64(completed) / float64(total)
	}
	e.sink.Progress(downloadID, completed, total, pct)
	return nil
}

// ChunkRef is the minimal addressing/integrity record needed to fetch and
// hash-check one chunk. catalog.Chunk and the Share Descriptor's ChunkEntry
// both carry enough fields to build one, so the portable path (spec §4.7)
// can drive the exact same fetch+verify code as the catalog-backed loop
// instead of a bespoke, unverified re-implementation.
type ChunkRef struct {
	Index           int
	TransportID     string
	OwnerCredential string
	ContentHash     string
}

// FetchVerifiedChunks fetches refs in parallel (bounded by
// MaxParallelChunks, retried per MaxRetriesPerChunk/RetryBackoff exactly
// like fetchChunk), hash-checks every chunk against its ContentHash, and
// reassembles them in ascending index order. Used by the Share Descriptor's
// portable path (spec §4.7), which has no Catalog File/Chunk records to
// drive the normal StartDownload loop.
func (e *Engine) FetchVerifiedChunks(operationID string, refs []ChunkRef, scratchDir string) ([]byte, error) {
	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return nil, fmt.Errorf("download: scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	var eg errgroup.Group
	eg.SetLimit(e.cfg.MaxParallelChunks)
	for _, ref := range refs {
		ref := ref
		flags := e.control.Snapshot(operationID)
		if flags.Canceled || flags.Paused {
			break
		}
		eg.Go(func() error {
			return e.fetchRef(operationID, scratchDir, ref)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	ordered := append([]ChunkRef(nil), refs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	var all []byte
	for _, ref := range ordered {
		b, err := os.ReadFile(filepath.Join(scratchDir, scratchName(ref.Index)))
		if err != nil {
			return nil, fmt.Errorf("download: read scratch chunk %d: %w", ref.Index, err)
		}
		all = append(all, b...)
	}
	return all, nil
}

func (e *Engine) fetchRef(operationID, scratchDir string, ref ChunkRef) error {
	flags := e.control.Snapshot(operationID)
	if flags.Canceled {
		return errCanceled
	}
	if flags.Paused {
		return errPaused
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetriesPerChunk; attempt++ {
		if attempt > 0 {
			time.Sleep(e.cfg.RetryBackoff * time.Duration(attempt))
		}
		flags = e.control.Snapshot(operationID)
		if flags.Canceled {
			return errCanceled
		}
		remotePath, err := e.transport.GetFilePath(ref.OwnerCredential, ref.TransportID)
		if err != nil {
			lastErr = err
			continue
		}
		var buf bufferWriter
		if err := e.transport.FetchBytes(ref.OwnerCredential, remotePath, &buf); err != nil {
			lastErr = err
			continue
		}
		sum := sha256.Sum256(buf.data)
		if hex.EncodeToString(sum[:]) != ref.ContentHash {
			// Per-chunk integrity failure: retried up to the cap (spec §7).
			lastErr = fmt.Errorf("%w: chunk %d", corerr.ErrIntegrity, ref.Index)
			continue
		}
		if err := os.WriteFile(filepath.Join(scratchDir, scratchName(ref.Index)), buf.data, 0644); err != nil {
			return fmt.Errorf("download: write scratch chunk %d: %w", ref.Index, err)
		}
		return nil
	}
	return fmt.Errorf("download: chunk %d exhausted retries: %w", ref.Index, lastErr)
}

func (e *Engine) bumpProgress(downloadID string) (completed, total int) {
	e.progressMu.Lock()
	defer e.progressMu.Unlock()
	state, err := e.cat.GetDownloadState(downloadID)
	if err != nil {
		return 0, 0
	}
	completed = state.CompletedChunks + 1
	total = state.TotalChunks
	_ = e.cat.UpdateDownloadProgress(downloadID, completed)
	return completed, total
}

func (e *Engine) finishLoop(downloadID string, chunks []catalog.Chunk, opts Options, loopErr error) {
	flags := e.control.Snapshot(downloadID)
	state, stateErr := e.cat.GetDownloadState(downloadID)
	if stateErr != nil {
		log.Printf("download %s: reload state: %v", downloadID, stateErr)
		return
	}

	switch {
	case flags.Canceled || errors.Is(loopErr, errCanceled):
		_ = os.RemoveAll(state.ScratchDirectory)
		_ = e.cat.DeleteDownloadState(downloadID)
		e.control.Remove(downloadID)
		e.sink.Failed(downloadID, corerr.ErrCanceled)
		return
	case flags.Paused || errors.Is(loopErr, errPaused):
		_ = e.cat.SetDownloadState(downloadID, catalog.StatePaused)
		e.control.Remove(downloadID)
		return
	case errors.Is(loopErr, corerr.ErrIntegrity):
		_ = e.cat.SetDownloadState(downloadID, catalog.StateFailed)
		e.control.Remove(downloadID)
		e.sink.Failed(downloadID, corerr.ErrIntegrity)
		return
	case loopErr != nil:
		_ = e.cat.SetDownloadState(downloadID, catalog.StateFailed)
		e.control.Remove(downloadID)
		e.sink.Failed(downloadID, loopErr)
		return
	}

	if state.CompletedChunks < state.TotalChunks {
		return
	}

	if err := e.reassemble(downloadID, state, chunks, opts); err != nil {
		_ = e.cat.SetDownloadState(downloadID, catalog.StateFailed)
		e.control.Remove(downloadID)
		e.sink.Failed(downloadID, err)
		return
	}
	e.control.Remove(downloadID)
	e.sink.Completed(downloadID, state.DestinationPath)
}

// reassemble is spec §4.6's reassembly phase: strict ascending order,
// negated-counter progress events, optional trailing decryption.
func (e *Engine) reassemble(downloadID string, state catalog.DownloadState, chunks []catalog.Chunk, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(state.DestinationPath), 0755); err != nil {
		return fmt.Errorf("download: dest dir: %w", err)
	}
	tmpDest := state.DestinationPath
	if state.IsEncrypted && opts.Password != "" {
		tmpDest += ".encrypted"
	}
	out, err := os.OpenFile(tmpDest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("download: open dest: %w", err)
	}
	total := len(chunks)
	for i := 0; i < total; i++ {
		b, err := os.ReadFile(filepath.Join(state.ScratchDirectory, scratchName(i)))
		if err != nil {
			out.Close()
			return fmt.Errorf("download: read scratch chunk %d: %w", i, err)
		}
		if _, err := out.Write(b); err != nil {
			out.Close()
			return fmt.Errorf("download: write dest chunk %d: %w", i, err)
		}
		// Negated counters distinguish reassembly progress from fetch
		// progress, per spec §4.6.
		e.sink.ReassemblyProgress(downloadID, -(i + 1), -total, 100*float64(i+1)/float64(total))
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("download: close dest: %w", err)
	}
	_ = os.RemoveAll(state.ScratchDirectory)

	if state.IsEncrypted && opts.Password != "" {
		encBytes, err := os.ReadFile(tmpDest)
		if err != nil {
			return fmt.Errorf("download: read encrypted intermediate: %w", err)
		}
		plain, err := envelope.DecryptPortable(encBytes, []byte(opts.Password))
		if err != nil {
			return fmt.Errorf("download: decrypt: %w", corerr.ErrBadPassword)
		}
		if err := os.WriteFile(state.DestinationPath, plain, 0644); err != nil {
			return fmt.Errorf("download: write decrypted dest: %w", err)
		}
		_ = os.Remove(tmpDest)
	}
	return e.cat.DeleteDownloadState(downloadID)
}

func writeAndMaybeDecrypt(data []byte, destPath string, isEncrypted bool, password string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("download: dest dir: %w", err)
	}
	if isEncrypted && password != "" {
		plain, err := envelope.DecryptPortable(data, []byte(password))
		if err != nil {
			return fmt.Errorf("download: decrypt: %w", corerr.ErrBadPassword)
		}
		data = plain
	}
	return os.WriteFile(destPath, data, 0644)
}

func scratchName(index int) string { return fmt.Sprintf("chunk_%08d", index) }

type bufferWriter struct{ data []byte }

func (w *bufferWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

var _ io.Writer = (*bufferWriter)(nil)
