package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"corekit/internal/corerr"
	"corekit/internal/envelope"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/hkdf"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Catalog is the single-file, password-protected local store described in
// spec §4.2. Field-level encryption of user-identifying columns (file names,
// source/destination paths) uses the portable PBKDF2 envelope keyed by the
// catalog password; everything else (sizes, hashes, states) is stored plain.
type Catalog struct {
	mu       sync.Mutex
	db       *gorm.DB
	password []byte
}

// Open opens an existing catalog at path. Fails with ErrWrongPassword if the
// stored password check fails, ErrNotFound if the file is absent (caller may
// then Create), wraps ErrCorrupt if the file cannot be read as a store.
func Open(path string, password []byte) (*Catalog, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog: %w", corerr.ErrNotFound)
		}
		return nil, fmt.Errorf("catalog: stat: %w", corerr.ErrCorrupt)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", corerr.ErrCorrupt)
	}
	var m meta
	if err := db.First(&m).Error; err != nil {
		return nil, fmt.Errorf("catalog: read meta: %w", corerr.ErrCorrupt)
	}
	if err := bcrypt.CompareHashAndPassword(m.CheckValue, password); err != nil {
		return nil, fmt.Errorf("catalog: %w", corerr.ErrWrongPassword)
	}
	return &Catalog{db: db, password: password}, nil
}

// Create establishes the schema at path and writes an empty but valid store.
func Create(path string, password []byte) (*Catalog, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("catalog: %s already exists", path)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("catalog: create: %w", err)
	}
	if err := db.AutoMigrate(&File{}, &Chunk{}, &UploadState{}, &DownloadState{}, &meta{}); err != nil {
		return nil, fmt.Errorf("catalog: migrate: %w", err)
	}
	checkValue, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("catalog: hash password: %w", err)
	}
	if err := db.Create(&meta{ID: 1, CheckValue: checkValue}).Error; err != nil {
		return nil, fmt.Errorf("catalog: write meta: %w", err)
	}
	return &Catalog{db: db, password: password}, nil
}

func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (c *Catalog) encField(plain string) []byte {
	if plain == "" {
		return nil
	}
	enc, err := envelope.EncryptPortable([]byte(plain), c.password)
	if err != nil {
		log.Printf("catalog: encrypt field: %v", err)
		return nil
	}
	return enc
}

func (c *Catalog) decField(enc []byte) string {
	if len(enc) == 0 {
		return ""
	}
	plain, err := envelope.DecryptPortable(enc, c.password)
	if err != nil {
		log.Printf("catalog: decrypt field: %v", err)
		return ""
	}
	return string(plain)
}

// DeriveChunkLabel derives an opaque per-chunk artifact name from the
// catalog password, file_id, and chunk index via HKDF-SHA256, so the
// Transport only ever sees an unlinkable label instead of the plaintext
// file_id/index pair (grounded on the teacher's storage/stateless_chunk.go
// deriveHeaderFor/hkdfBytes per-file deterministic derivation, adapted here
// from a per-chunk AEAD header to a chunk-naming label).
func (c *Catalog) DeriveChunkLabel(fileID string, index int) string {
	info := fmt.Sprintf("corekit-chunk-label:%s:%d", fileID, index)
	r := hkdf.New(sha256.New, c.password, []byte(fileID), []byte(info))
	out := make([]byte, 16)
	_, _ = io.ReadFull(r, out)
	return hex.EncodeToString(out)
}

// ---- Files ----

func (c *Catalog) PutFile(f File) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.EncName = c.encField(f.Name)
	return c.db.Save(&f).Error
}

func (c *Catalog) GetFile(fileID string) (File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var f File
	if err := c.db.First(&f, "file_id = ?", fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return File{}, fmt.Errorf("catalog: file %s: %w", fileID, corerr.ErrNotFound)
		}
		return File{}, err
	}
	f.Name = c.decField(f.EncName)
	return f, nil
}

func (c *Catalog) ListFiles() ([]File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var files []File
	if err := c.db.Find(&files).Error; err != nil {
		return nil, err
	}
	for i := range files {
		files[i].Name = c.decField(files[i].EncName)
	}
	return files, nil
}

// DeleteFile cascades to Chunks, UploadState, and DownloadState in one
// transaction (spec §4.2 delete_file contract).
func (c *Catalog) DeleteFile(fileID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Chunk{}, "file_id = ?", fileID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&UploadState{}, "file_id = ?", fileID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&DownloadState{}, "file_id = ?", fileID).Error; err != nil {
			return err
		}
		return tx.Delete(&File{}, "file_id = ?", fileID).Error
	})
}

// ---- Chunks ----

func (c *Catalog) PutChunk(ch Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Save(&ch).Error
}

// GetChunks returns chunks ordered by index (spec §4.2).
func (c *Catalog) GetChunks(fileID string) ([]Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var chunks []Chunk
	if err := c.db.Where("file_id = ?", fileID).Order("idx asc").Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (c *Catalog) SetChunkState(fileID string, index int, state ChunkState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Model(&Chunk{}).
		Where("file_id = ? AND idx = ?", fileID, index).
		Update("state", state).Error
}

// CompleteChunk transactionally marks a chunk completed and bumps the
// owning UploadState's completed_chunks counter (spec §4.5 upload loop).
func (c *Catalog) CompleteChunk(ch Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch.State = ChunkCompleted
	return c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&ch).Error; err != nil {
			return err
		}
		return tx.Model(&UploadState{}).
			Where("file_id = ?", ch.FileID).
			Update("completed_chunks", gorm.Expr("completed_chunks + 1")).Error
	})
}

// ---- UploadState ----

func (c *Catalog) PutUploadState(s UploadState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.EncSourcePath = c.encField(s.SourcePath)
	return c.db.Save(&s).Error
}

func (c *Catalog) GetUploadState(fileID string) (UploadState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s UploadState
	if err := c.db.First(&s, "file_id = ?", fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UploadState{}, fmt.Errorf("catalog: upload state %s: %w", fileID, corerr.ErrNotFound)
		}
		return UploadState{}, err
	}
	s.SourcePath = c.decField(s.EncSourcePath)
	return s, nil
}

func (c *Catalog) UpdateUploadProgress(fileID string, completedChunks int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Model(&UploadState{}).
		Where("file_id = ?", fileID).
		Update("completed_chunks", completedChunks).Error
}

func (c *Catalog) SetUploadState(fileID string, state TransferState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Model(&UploadState{}).
		Where("file_id = ?", fileID).
		Update("state", state).Error
}

func (c *Catalog) DeleteUploadState(fileID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Delete(&UploadState{}, "file_id = ?", fileID).Error
}

func (c *Catalog) ListIncompleteUploads() ([]UploadState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var states []UploadState
	if err := c.db.Where("state IN ?", []TransferState{StateActive, StatePaused, StateFailed}).Find(&states).Error; err != nil {
		return nil, err
	}
	for i := range states {
		states[i].SourcePath = c.decField(states[i].EncSourcePath)
	}
	return states, nil
}

// MarkAllActiveUploadsPaused is called at process start and shutdown so
// in-flight transfers interrupted by a crash appear paused, not active, on
// the next run (spec §4.2, §4.9).
func (c *Catalog) MarkAllActiveUploadsPaused() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Model(&UploadState{}).
		Where("state = ?", StateActive).
		Update("state", StatePaused).Error
}

// ---- DownloadState ----

func (c *Catalog) PutDownloadState(s DownloadState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.EncDestinationPath = c.encField(s.DestinationPath)
	return c.db.Save(&s).Error
}

func (c *Catalog) GetDownloadState(downloadID string) (DownloadState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s DownloadState
	if err := c.db.First(&s, "download_id = ?", downloadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DownloadState{}, fmt.Errorf("catalog: download state %s: %w", downloadID, corerr.ErrNotFound)
		}
		return DownloadState{}, err
	}
	s.DestinationPath = c.decField(s.EncDestinationPath)
	return s, nil
}

func (c *Catalog) UpdateDownloadProgress(downloadID string, completedChunks int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Model(&DownloadState{}).
		Where("download_id = ?", downloadID).
		Update("completed_chunks", completedChunks).Error
}

func (c *Catalog) SetDownloadState(downloadID string, state TransferState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Model(&DownloadState{}).
		Where("download_id = ?", downloadID).
		Update("state", state).Error
}

func (c *Catalog) DeleteDownloadState(downloadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Delete(&DownloadState{}, "download_id = ?", downloadID).Error
}

func (c *Catalog) ListIncompleteDownloads() ([]DownloadState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var states []DownloadState
	if err := c.db.Where("state IN ?", []TransferState{StateActive, StatePaused, StateFailed}).Find(&states).Error; err != nil {
		return nil, err
	}
	for i := range states {
		states[i].DestinationPath = c.decField(states[i].EncDestinationPath)
	}
	return states, nil
}

// MarkAllActiveDownloadsPaused mirrors MarkAllActiveUploadsPaused.
func (c *Catalog) MarkAllActiveDownloadsPaused() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Model(&DownloadState{}).
		Where("state = ?", StateActive).
		Update("state", StatePaused).Error
}

// ---- Statistics ----

// Stats is a consistent snapshot, not a running counter (spec §4.2).
type Stats struct {
	TotalFiles int64
	TotalBytes int64
}

func (c *Catalog) Stats() (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s Stats
	if err := c.db.Model(&File{}).Count(&s.TotalFiles).Error; err != nil {
		return Stats{}, err
	}
	if err := c.db.Model(&File{}).Select("COALESCE(SUM(size), 0)").Scan(&s.TotalBytes).Error; err != nil {
		return Stats{}, err
	}
	return s, nil
}

// PutFileWithChunks inserts a File and its pending Chunks plus the owning
// UploadState in one transaction (spec §4.5 algorithm step 2).
func (c *Catalog) PutFileWithChunks(f File, chunks []Chunk, upload UploadState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.EncName = c.encField(f.Name)
	upload.EncSourcePath = c.encField(upload.SourcePath)
	return c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&f).Error; err != nil {
			return err
		}
		for i := range chunks {
			if err := tx.Create(&chunks[i]).Error; err != nil {
				return err
			}
		}
		return tx.Create(&upload).Error
	})
}

// FinalizeUpload transactionally sets UploadState to completed then deletes
// it, keeping only File and Chunks (spec §4.5 Finalization).
func (c *Catalog) FinalizeUpload(fileID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&UploadState{}).Where("file_id = ?", fileID).Update("state", StateCompleted).Error; err != nil {
			return err
		}
		return tx.Delete(&UploadState{}, "file_id = ?", fileID).Error
	})
}

// CancelUpload removes UploadState, Chunks, and File for file_id in one
// transaction (spec §4.5 cancel).
func (c *Catalog) CancelUpload(fileID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&UploadState{}, "file_id = ?", fileID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Chunk{}, "file_id = ?", fileID).Error; err != nil {
			return err
		}
		return tx.Delete(&File{}, "file_id = ?", fileID).Error
	})
}
