// Package catalog implements the persistent state catalog (spec §3, §4.2):
// an encrypted single-file local store holding Files, Chunks, UploadStates,
// and DownloadStates, built on gorm.io/gorm over an embedded sqlite file the
// way the teacher's go.mod already carries gorm as its persistence layer.
package catalog

import "time"

// Category distinguishes a direct (single-document) transfer from a chunked
// one (spec §3 File.category).
type Category string

const (
	CategoryDirect  Category = "direct"
	CategoryChunked Category = "chunked"
)

// ChunkState is the per-chunk lifecycle (spec §3 Chunk.state).
type ChunkState string

const (
	ChunkPending   ChunkState = "pending"
	ChunkUploading ChunkState = "uploading"
	ChunkCompleted ChunkState = "completed"
	ChunkFailed    ChunkState = "failed"
)

// TransferState is shared by UploadState and DownloadState (spec §3).
type TransferState string

const (
	StateActive    TransferState = "active"
	StatePaused    TransferState = "paused"
	StateCompleted TransferState = "completed"
	StateFailed    TransferState = "failed"
	StateCanceled  TransferState = "canceled"
)

// File is the logical object the user stores (spec §3 File).
type File struct {
	FileID             string `gorm:"primaryKey"`
	Name               string `gorm:"-"` // plaintext view; persisted as EncName
	EncName            []byte `gorm:"column:enc_name"`
	Size               int64
	Mime               string
	Category           Category
	UploadTimestamp    time.Time
	IsEncrypted        bool
	OwnerCredential    string
	DirectTransportID  string
}

func (File) TableName() string { return "files" }

// Chunk is one fixed-size piece of a chunked File (spec §3 Chunk).
type Chunk struct {
	FileID          string `gorm:"primaryKey;column:file_id"`
	Index           int    `gorm:"primaryKey;column:idx"`
	Total           int
	SizeBytes       int64
	ContentHash     string
	TransportID     string
	MessageID       string
	OwnerCredential string
	State           ChunkState
}

func (Chunk) TableName() string { return "chunks" }

// UploadState is the recovery record for a file currently being uploaded
// (spec §3 UploadState).
type UploadState struct {
	FileID           string `gorm:"primaryKey"`
	EncSourcePath    []byte `gorm:"column:enc_source_path"`
	SourcePath       string `gorm:"-"`
	TotalBytes       int64
	TotalChunks      int
	CompletedChunks  int
	State            TransferState
	FileContentHash  string
}

func (UploadState) TableName() string { return "upload_states" }

// DownloadState mirrors UploadState for an in-progress download (spec §3
// DownloadState).
type DownloadState struct {
	DownloadID             string `gorm:"primaryKey"`
	FileID                 string
	EncDestinationPath     []byte `gorm:"column:enc_destination_path"`
	DestinationPath        string `gorm:"-"`
	ScratchDirectory       string
	TotalChunks            int
	CompletedChunks        int
	State                  TransferState
	IsEncrypted            bool
	EnvelopePasswordNeeded bool
}

func (DownloadState) TableName() string { return "download_states" }

// meta is a one-row table holding a bcrypt hash of the catalog password, so
// open() can reject a wrong password without touching any other table
// (spec §4.2 open() WrongPassword contract).
type meta struct {
	ID         int `gorm:"primaryKey"`
	CheckValue []byte
}

func (meta) TableName() string { return "catalog_meta" }
