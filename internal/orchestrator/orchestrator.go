// Package orchestrator implements the Transfer Orchestrator (spec §4.9):
// dispatches requests to the right engine, optionally wraps sources in the
// Crypto Envelope before upload, registers operations with the Notifier,
// translates engine errors into the §7 error kinds, and sequences shutdown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"corekit/internal/catalog"
	"corekit/internal/config"
	"corekit/internal/control"
	"corekit/internal/corerr"
	"corekit/internal/credpool"
	"corekit/internal/download"
	"corekit/internal/envelope"
	"corekit/internal/notifier"
	"corekit/internal/share"
	"corekit/internal/transport"
	"corekit/internal/upload"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// ShutdownGrace bounds how long Shutdown waits for in-flight chunks before
// forcing catalog state transitions (spec §4.9, §5).
const ShutdownGrace = 5 * time.Second

type UploadOptions struct {
	Encrypt  bool
	Password string
}

type DownloadOptions struct {
	Password string
}

// Orchestrator is the single entry point consumed by UIs and the CLI
// (spec §6 "Orchestrator-facing operations").
type Orchestrator struct {
	cat             *catalog.Catalog
	pool            *credpool.Pool
	tr              transport.Transport
	control         *control.Registry
	notify          *notifier.Notifier
	upload          *upload.Engine
	download        *download.Engine
	catalogPassword string
}

// Init opens (or creates) the catalog, pauses any uploads/downloads left
// active by a prior crash, and wires the engines (spec §6 init,
// spec §4.2/§4.9 startup pause sweep).
func Init(cfg config.Config, tr transport.Transport, notifyRegisterer prometheus.Registerer) (*Orchestrator, error) {
	pool, err := credpool.New(cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	cat, err := catalog.Open(cfg.CatalogPath, []byte(cfg.CatalogPassword))
	if err != nil {
		if err2 := asNotFound(err); err2 {
			cat, err = catalog.Create(cfg.CatalogPath, []byte(cfg.CatalogPassword))
		}
		if err != nil {
			return nil, err
		}
	}

	if err := cat.MarkAllActiveUploadsPaused(); err != nil {
		return nil, fmt.Errorf("orchestrator: pause uploads at startup: %w", err)
	}
	if err := cat.MarkAllActiveDownloadsPaused(); err != nil {
		return nil, fmt.Errorf("orchestrator: pause downloads at startup: %w", err)
	}

	ctrl := control.NewRegistry()
	n := notifier.New(notifyRegisterer, tr, pool.First(), cfg.ChatID)

	upCfg := upload.Config{
		ChunkSize:          cfg.ChunkSize,
		ChunkThreshold:     cfg.ChunkThreshold,
		MaxParallelChunks:  cfg.MaxParallelChunks,
		MaxRetriesPerChunk: cfg.MaxRetriesPerChunk,
		RetryBackoff:       cfg.RetryBackoff,
		ChatID:             cfg.ChatID,
	}
	dlCfg := download.Config{
		MaxParallelChunks:  cfg.MaxParallelChunks,
		MaxRetriesPerChunk: cfg.MaxRetriesPerChunk,
		RetryBackoff:       cfg.RetryBackoff,
		ScratchBaseDir:     os.TempDir(),
	}

	return &Orchestrator{
		cat:             cat,
		pool:            pool,
		tr:              tr,
		control:         ctrl,
		notify:          n,
		upload:          upload.NewEngine(cat, tr, pool, ctrl, n, upCfg),
		download:        download.NewEngine(cat, tr, pool, ctrl, n, dlCfg),
		catalogPassword: cfg.CatalogPassword,
	}, nil
}

// Authenticate reports whether password matches the catalog password this
// Orchestrator was initialized with, used by the HTTP API's login handler
// (spec §6 carries no multi-user model; the Catalog password is the single
// credential gating the API, mirrored from the teacher's session+CSRF flow).
func (o *Orchestrator) Authenticate(password string) bool {
	return password != "" && password == o.catalogPassword
}

func asNotFound(err error) bool {
	return err != nil && errors.Is(err, corerr.ErrNotFound)
}

// Upload dispatches to direct or chunked upload based on size vs
// ChunkThreshold (handled inside the upload engine), optionally wrapping
// the source in the portable Envelope first (spec §4.9).
func (o *Orchestrator) Upload(sourcePath string, opts UploadOptions) (string, error) {
	actualSource := sourcePath
	if opts.Encrypt {
		plain, err := os.ReadFile(sourcePath)
		if err != nil {
			return "", fmt.Errorf("orchestrator: read source: %w", corerr.ErrNotFound)
		}
		enc, err := envelope.EncryptPortable(plain, []byte(opts.Password))
		if err != nil {
			return "", err
		}
		tmp := sourcePath + ".envtmp"
		if err := os.WriteFile(tmp, enc, 0644); err != nil {
			return "", fmt.Errorf("orchestrator: write encrypted temp: %w", err)
		}
		defer os.Remove(tmp)
		actualSource = tmp
	}

	fileID, err := o.upload.StartUpload(actualSource)
	if err != nil {
		return "", translate(err)
	}

	if opts.Encrypt {
		f, ferr := o.cat.GetFile(fileID)
		if ferr == nil {
			f.Name = filepath.Base(sourcePath)
			f.IsEncrypted = true
			_ = o.cat.PutFile(f)
		}
	}

	// Direct uploads complete inside StartUpload itself (no background
	// loop), so there is nothing left to track; only chunked transfers get
	// a Notifier entry.
	if st, serr := o.cat.GetUploadState(fileID); serr == nil {
		f, ferr := o.cat.GetFile(fileID)
		if ferr == nil {
			o.notify.Register(fileID, notifier.KindUpload, f.Name, f.Size, st.TotalChunks)
		}
	}
	return fileID, nil
}

// Download dispatches to the Download Engine from a catalog file_id.
func (o *Orchestrator) Download(fileID, destDir string, opts DownloadOptions) (string, error) {
	f, err := o.cat.GetFile(fileID)
	if err != nil {
		return "", translate(err)
	}
	destPath := filepath.Join(destDir, f.Name)
	downloadID, err := o.download.StartDownload(fileID, destPath, download.Options{Password: opts.Password})
	if err != nil {
		return "", translate(err)
	}
	// The direct path inside StartDownload already completed synchronously;
	// only a chunked transfer has a background loop worth tracking.
	if f.Category == catalog.CategoryChunked {
		o.notify.Register(downloadID, notifier.KindDownload, f.Name, f.Size, len(mustChunks(o.cat, fileID)))
	}
	return downloadID, nil
}

// DownloadFromDescriptor is the Share Descriptor's portable path (spec
// §4.7, P6): it never touches the Catalog for the source data, only
// routing fetches through the local Pool when the descriptor's
// owner_credential is present, falling back to the pool's first credential
// otherwise. Chunked entries are fetched and hash-checked by the same
// Download Engine machinery the catalog-backed path uses (spec §1, P7),
// rather than a bespoke unverified loop.
func (o *Orchestrator) DownloadFromDescriptor(entry share.FileEntry, destDir string, opts DownloadOptions) error {
	destPath := filepath.Join(destDir, entry.FileName)
	if entry.Category == string(catalog.CategoryDirect) {
		cred := entry.OwnerCredential
		if !o.pool.Contains(cred) {
			cred = o.pool.First()
		}
		remote, err := o.tr.GetFilePath(cred, entry.DirectTransportID)
		if err != nil {
			return translate(err)
		}
		w := &memWriter{}
		if err := o.tr.FetchBytes(cred, remote, w); err != nil {
			return translate(err)
		}
		return writeMaybeDecrypt(w.data, destPath, entry.IsEncrypted, opts.Password)
	}

	refs := make([]download.ChunkRef, len(entry.Chunks))
	for i, c := range entry.Chunks {
		cred := c.OwnerCredential
		if !o.pool.Contains(cred) {
			cred = o.pool.First()
		}
		refs[i] = download.ChunkRef{
			Index:           c.Index,
			TransportID:     c.TransportID,
			OwnerCredential: cred,
			ContentHash:     c.ContentHash,
		}
	}

	operationID := uuid.NewString()
	scratch := filepath.Join(os.TempDir(), "corekit-descriptor-"+operationID)
	o.control.Start(operationID)
	defer o.control.Remove(operationID)

	all, err := o.download.FetchVerifiedChunks(operationID, refs, scratch)
	if err != nil {
		return translate(err)
	}
	return writeMaybeDecrypt(all, destPath, entry.IsEncrypted, opts.Password)
}

// inboundPoller is implemented by Transport implementations that can
// simulate/surface an inbound message (spec §1 keeps the real wire-level
// inbox out of Transport's scope, so this is an optional capability rather
// than part of the Transport interface itself).
type inboundPoller interface {
	PollInbound() (string, bool)
}

// RunNotifier starts the Notifier's background "%"-poll loop (spec §4.8)
// and blocks until ctx is canceled. Callers running a long-lived process
// (cmd/coreserver) should invoke this in its own goroutine alongside
// Shutdown's signal handler.
func (o *Orchestrator) RunNotifier(ctx context.Context, chatID string) {
	var pollOnce func(context.Context) (string, bool)
	if poller, ok := o.tr.(inboundPoller); ok {
		pollOnce = func(context.Context) (string, bool) { return poller.PollInbound() }
	}
	o.notify.Run(ctx, chatID, pollOnce)
}

func (o *Orchestrator) Pause(operationID string) { o.control.Pause(operationID) }
func (o *Orchestrator) Stop(operationID string)  { o.control.Stop(operationID) }

func (o *Orchestrator) Cancel(operationID string) error {
	if _, err := o.cat.GetUploadState(operationID); err == nil {
		return o.upload.CancelUpload(operationID)
	}
	if _, err := o.cat.GetDownloadState(operationID); err == nil {
		return o.download.CancelDownload(operationID)
	}
	return fmt.Errorf("orchestrator: %w", corerr.ErrNotFound)
}

func (o *Orchestrator) ListFiles() ([]catalog.File, error) { return o.cat.ListFiles() }

func (o *Orchestrator) ListIncompleteUploads() ([]catalog.UploadState, error) {
	return o.cat.ListIncompleteUploads()
}

func (o *Orchestrator) ListIncompleteDownloads() ([]catalog.DownloadState, error) {
	return o.cat.ListIncompleteDownloads()
}

func (o *Orchestrator) Share(fileIDs []string, password, outPath string) (string, error) {
	d, err := share.FromCatalog(o.cat, fileIDs)
	if err != nil {
		return "", translate(err)
	}
	if err := share.WriteLinkFile(d, password, outPath); err != nil {
		return "", translate(err)
	}
	return outPath, nil
}

func (o *Orchestrator) ImportShare(linkPath, password string) (share.Descriptor, error) {
	d, err := share.ReadLinkFile(linkPath, password)
	if err != nil {
		return share.Descriptor{}, translate(err)
	}
	return d, nil
}

// Shutdown sets a global stop (pausing every currently-incomplete transfer),
// waits up to ShutdownGrace for workers to finish their current chunk, then
// forces catalog state transitions so nothing is left active (spec §4.9,
// §5 "Shutdown").
func (o *Orchestrator) Shutdown() error {
	uploads, err := o.cat.ListIncompleteUploads()
	if err != nil {
		return err
	}
	for _, u := range uploads {
		o.upload.StopUpload(u.FileID)
	}
	downloads, err := o.cat.ListIncompleteDownloads()
	if err != nil {
		return err
	}
	for _, d := range downloads {
		o.download.StopDownload(d.DownloadID)
	}

	time.Sleep(ShutdownGrace)

	if err := o.cat.MarkAllActiveUploadsPaused(); err != nil {
		return err
	}
	if err := o.cat.MarkAllActiveDownloadsPaused(); err != nil {
		return err
	}
	return o.cat.Close()
}

func mustChunks(cat *catalog.Catalog, fileID string) []catalog.Chunk {
	chunks, err := cat.GetChunks(fileID)
	if err != nil {
		return nil
	}
	return chunks
}

func writeMaybeDecrypt(data []byte, destPath string, isEncrypted bool, password string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}
	if isEncrypted && password != "" {
		plain, err := envelope.DecryptPortable(data, []byte(password))
		if err != nil {
			return fmt.Errorf("orchestrator: %w", corerr.ErrBadPassword)
		}
		data = plain
	}
	return os.WriteFile(destPath, data, 0644)
}

type memWriter struct{ data []byte }

func (w *memWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

// translate maps an engine error to its stable §7 kind, wrapping a
// human-readable message (spec §4.9 "Translate engine errors").
func translate(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%v: %w", err, corerr.Kind(err))
}

