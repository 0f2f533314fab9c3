// Package upload implements the Chunked Upload Engine (spec §4.5): split,
// hash, parallel send across the Credential Pool, state persistence in the
// Catalog, and pause/stop/cancel/resume semantics. Worker fan-out is bounded
// with golang.org/x/sync/errgroup.SetLimit, the errgroup-native equivalent of
// the pack's hand-rolled bounded worker pools (e.g. sambhavthakkar-QuantaraX's
// ChunkWorkerPool), per SPEC_FULL's domain-stack wiring.
package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"corekit/internal/catalog"
	"corekit/internal/control"
	"corekit/internal/corerr"
	"corekit/internal/credpool"
	"corekit/internal/progress"
	"corekit/internal/transport"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config holds the tunables from spec §4.5/§6, with spec defaults.
type Config struct {
	ChunkSize          int64
	ChunkThreshold     int64
	MaxParallelChunks  int
	MaxRetriesPerChunk int
	RetryBackoff       time.Duration
	ChatID             string
}

// DefaultConfig returns the spec §4.5 defaults, sizing MaxParallelChunks to
// min(5, pool_size*2).
func DefaultConfig(poolSize int) Config {
	maxParallel := poolSize * 2
	if maxParallel > 5 || maxParallel == 0 {
		maxParallel = 5
	}
	return Config{
		ChunkSize:          4 << 20,
		ChunkThreshold:     4 << 20,
		MaxParallelChunks:  maxParallel,
		MaxRetriesPerChunk: 3,
		RetryBackoff:       time.Second,
		ChatID:             "default",
	}
}

var (
	errPaused   = errors.New("upload: paused")
	errCanceled = errors.New("upload: canceled")
)

// Engine is the Chunked Upload Engine.
type Engine struct {
	cat       *catalog.Catalog
	transport transport.Transport
	pool      *credpool.Pool
	control   *control.Registry
	sink      progress.Sink
	cfg       Config

	resumeMu sync.Mutex
	resuming map[string]bool
}

func NewEngine(cat *catalog.Catalog, tr transport.Transport, pool *credpool.Pool, ctrl *control.Registry, sink progress.Sink, cfg Config) *Engine {
	if sink == nil {
		sink = progress.Noop{}
	}
	return &Engine{cat: cat, transport: tr, pool: pool, control: ctrl, sink: sink, cfg: cfg, resuming: make(map[string]bool)}
}

// StartUpload implements spec §4.5 "start": stats the source, decides
// direct vs chunked by ChunkThreshold, and either completes the direct path
// synchronously or kicks off the chunked upload loop in the background.
func (e *Engine) StartUpload(sourcePath string) (string, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", fmt.Errorf("upload: stat source: %w", corerr.ErrNotFound)
	}
	fileID := uuid.NewString()

	if info.Size() <= e.cfg.ChunkThreshold {
		if err := e.directUpload(fileID, sourcePath, info.Size()); err != nil {
			return "", err
		}
		return fileID, nil
	}

	totalChunks := int((info.Size() + e.cfg.ChunkSize - 1) / e.cfg.ChunkSize)
	contentHash, err := hashFile(sourcePath)
	if err != nil {
		return "", fmt.Errorf("upload: hash source: %w", err)
	}

	chunks := make([]catalog.Chunk, totalChunks)
	for i := range chunks {
		size := e.cfg.ChunkSize
		if i == totalChunks-1 {
			size = info.Size() - int64(i)*e.cfg.ChunkSize
		}
		chunks[i] = catalog.Chunk{FileID: fileID, Index: i, Total: totalChunks, SizeBytes: size, State: catalog.ChunkPending}
	}
	file := catalog.File{
		FileID:          fileID,
		Name:            filepath.Base(sourcePath),
		Size:            info.Size(),
		Category:        catalog.CategoryChunked,
		UploadTimestamp: time.Now(),
	}
	state := catalog.UploadState{
		FileID:          fileID,
		SourcePath:      sourcePath,
		TotalBytes:      info.Size(),
		TotalChunks:     totalChunks,
		State:           catalog.StateActive,
		FileContentHash: contentHash,
	}
	if err := e.cat.PutFileWithChunks(file, chunks, state); err != nil {
		return "", fmt.Errorf("upload: persist file: %w", err)
	}

	e.control.Start(fileID)
	go e.runLoop(fileID, sourcePath)
	return fileID, nil
}

// ResumeUpload implements spec §4.5 "Resume algorithm". Rejects a second
// concurrent resume for the same file_id via a per-file_id mutex
// (corerr.ErrAlreadyRunning); succeeds after a crash because
// MarkAllActiveUploadsPaused turned active into paused at startup.
func (e *Engine) ResumeUpload(fileID, sourcePath string) (string, error) {
	e.resumeMu.Lock()
	if e.resuming[fileID] {
		e.resumeMu.Unlock()
		return "", fmt.Errorf("upload: %w", corerr.ErrAlreadyRunning)
	}
	e.resuming[fileID] = true
	e.resumeMu.Unlock()
	defer func() {
		e.resumeMu.Lock()
		delete(e.resuming, fileID)
		e.resumeMu.Unlock()
	}()

	state, err := e.cat.GetUploadState(fileID)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", fmt.Errorf("upload: stat source: %w", corerr.ErrSourceMismatch)
	}
	if info.Size() != state.TotalBytes {
		return "", fmt.Errorf("upload: size changed: %w", corerr.ErrSourceMismatch)
	}
	hash, err := hashFile(sourcePath)
	if err != nil || hash != state.FileContentHash {
		return "", fmt.Errorf("upload: content changed: %w", corerr.ErrSourceMismatch)
	}

	if err := e.cat.SetUploadState(fileID, catalog.StateActive); err != nil {
		return "", err
	}
	e.control.Start(fileID)
	go e.runLoop(fileID, sourcePath)
	return fileID, nil
}

func (e *Engine) PauseUpload(fileID string) { e.control.Pause(fileID) }
func (e *Engine) StopUpload(fileID string)  { e.control.Stop(fileID) }

// CancelUpload sets the cancel flag; a running loop observes it and performs
// the removal itself. If no loop is running (the transfer is already
// paused/failed), the removal happens here directly (spec §4.5 cancel).
func (e *Engine) CancelUpload(fileID string) error {
	e.control.Cancel(fileID)
	state, err := e.cat.GetUploadState(fileID)
	if err != nil {
		return err
	}
	if state.State == catalog.StateActive {
		return nil
	}
	if err := e.cat.CancelUpload(fileID); err != nil {
		return err
	}
	e.control.Remove(fileID)
	return nil
}

func (e *Engine) directUpload(fileID, sourcePath string, size int64) error {
	body, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("upload: read source: %w", err)
	}
	cred := e.pool.Acquire()
	res, err := e.transport.SendDocument(cred, e.cfg.ChatID, body, filepath.Base(sourcePath), "")
	if err != nil {
		return transport.NetworkErr(err)
	}
	file := catalog.File{
		FileID:            fileID,
		Name:              filepath.Base(sourcePath),
		Size:              size,
		Category:          catalog.CategoryDirect,
		UploadTimestamp:   time.Now(),
		OwnerCredential:    cred,
		DirectTransportID: res.TransportID,
	}
	return e.cat.PutFile(file)
}

func (e *Engine) pendingIndices(fileID string) ([]int, error) {
	chunks, err := e.cat.GetChunks(fileID)
	if err != nil {
		return nil, err
	}
	var pending []int
	for _, c := range chunks {
		if c.State != catalog.ChunkCompleted {
			pending = append(pending, c.Index)
		}
	}
	return pending, nil
}

func (e *Engine) runLoop(fileID, sourcePath string) {
	pending, err := e.pendingIndices(fileID)
	if err != nil {
		log.Printf("upload %s: list pending: %v", fileID, err)
		_ = e.cat.SetUploadState(fileID, catalog.StateFailed)
		e.sink.Failed(fileID, err)
		return
	}

	state, err := e.cat.GetUploadState(fileID)
	if err != nil {
		log.Printf("upload %s: load state: %v", fileID, err)
		return
	}

	var eg errgroup.Group
	eg.SetLimit(e.cfg.MaxParallelChunks)

loop:
	for _, idx := range pending {
		idx := idx
		flags := e.control.Snapshot(fileID)
		if flags.Canceled {
			break loop
		}
		if flags.Paused {
			break loop
		}
		eg.Go(func() error {
			return e.processChunk(fileID, sourcePath, idx, state.TotalChunks, state.TotalBytes)
		})
	}
	err = eg.Wait()
	e.finishLoop(fileID, sourcePath, err)
}

func (e *Engine) processChunk(fileID, sourcePath string, index, totalChunks int, totalBytes int64) error {
	flags := e.control.Snapshot(fileID)
	if flags.Canceled {
		return errCanceled
	}
	if flags.Paused {
		return errPaused
	}

	data, err := readChunkAt(sourcePath, int64(index)*e.cfg.ChunkSize, e.cfg.ChunkSize, totalBytes)
	if err != nil {
		return fmt.Errorf("upload: read chunk %d: %w", index, err)
	}
	hash := sha256.Sum256(data)
	contentHash := hex.EncodeToString(hash[:])

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetriesPerChunk; attempt++ {
		if attempt > 0 {
			time.Sleep(e.cfg.RetryBackoff * time.Duration(attempt))
		}
		flags = e.control.Snapshot(fileID)
		if flags.Canceled {
			return errCanceled
		}
		cred := e.pool.Acquire()
		res, sendErr := e.transport.SendDocument(cred, e.cfg.ChatID, data, e.cat.DeriveChunkLabel(fileID, index), "")
		if sendErr == nil {
			if err := e.cat.CompleteChunk(catalog.Chunk{
				FileID:          fileID,
				Index:           index,
				Total:           totalChunks,
				SizeBytes:       int64(len(data)),
				ContentHash:     contentHash,
				TransportID:     res.TransportID,
				MessageID:       res.MessageID,
				OwnerCredential: cred,
			}); err != nil {
				return fmt.Errorf("upload: record chunk %d: %w", index, err)
			}
			completed, total := e.bumpProgress(fileID)
			pct := 0.0
			if total > 0 {
				pct = 100 * float64(completed) / float64(total)
			}
			e.sink.Progress(fileID, completed, total, pct)
			return nil
		}
		lastErr = sendErr
	}
	_ = e.cat.SetChunkState(fileID, index, catalog.ChunkFailed)
	return fmt.Errorf("upload: chunk %d exhausted retries: %w", index, transport.NetworkErr(lastErr))
}

func (e *Engine) bumpProgress(fileID string) (completed, total int) {
	state, err := e.cat.GetUploadState(fileID)
	if err != nil {
		return 0, 0
	}
	return state.CompletedChunks, state.TotalChunks
}

func (e *Engine) finishLoop(fileID, sourcePath string, loopErr error) {
	flags := e.control.Snapshot(fileID)

	switch {
	case flags.Canceled || errors.Is(loopErr, errCanceled):
		if err := e.cat.CancelUpload(fileID); err != nil {
			log.Printf("upload %s: cancel cleanup: %v", fileID, err)
		}
		e.control.Remove(fileID)
		e.sink.Failed(fileID, corerr.ErrCanceled)
		return
	case flags.Paused || errors.Is(loopErr, errPaused):
		if err := e.cat.SetUploadState(fileID, catalog.StatePaused); err != nil {
			log.Printf("upload %s: pause transition: %v", fileID, err)
		}
		e.control.Remove(fileID)
		return
	case loopErr != nil:
		if err := e.cat.SetUploadState(fileID, catalog.StateFailed); err != nil {
			log.Printf("upload %s: fail transition: %v", fileID, err)
		}
		e.control.Remove(fileID)
		e.sink.Failed(fileID, loopErr)
		return
	}

	state, err := e.cat.GetUploadState(fileID)
	if err != nil {
		log.Printf("upload %s: reload state before finalize: %v", fileID, err)
		return
	}
	if state.CompletedChunks < state.TotalChunks {
		// Not actually done (e.g. loop exited with nothing pending to
		// schedule because everything was already paused); leave as-is.
		return
	}
	if err := e.cat.FinalizeUpload(fileID); err != nil {
		log.Printf("upload %s: finalize: %v", fileID, err)
		return
	}
	e.control.Remove(fileID)
	e.sink.Completed(fileID, sourcePath)
}

func readChunkAt(path string, offset, chunkSize, totalBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	size := chunkSize
	if remaining := totalBytes - offset; remaining < size {
		size = remaining
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
