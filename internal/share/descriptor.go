// Package share implements the Share Descriptor (spec §4.7): a portable,
// self-contained manifest serialized as JSON and wrapped in the portable
// (PBKDF2, unframed) envelope, written to a ".link" file. Replaces any
// ad-hoc string parsing with a single serialization layer that rejects
// anything else with ErrCorrupt (spec §9 redesign notes).
package share

import (
	"encoding/json"
	"fmt"
	"os"

	"corekit/internal/catalog"
	"corekit/internal/corerr"
	"corekit/internal/envelope"

	"github.com/ryanuber/go-glob"
)

const SchemaVersion = "1.0"

type Kind string

const (
	KindSingle Kind = "single"
	KindBatch  Kind = "batch"
)

// ChunkEntry is one chunk's manifest record (spec §4.7).
type ChunkEntry struct {
	Index           int    `json:"index"`
	Total           int    `json:"total"`
	SizeBytes       int64  `json:"size_bytes"`
	ContentHash     string `json:"content_hash"`
	TransportID     string `json:"transport_id"`
	OwnerCredential string `json:"owner_credential"`
}

// FileEntry is one file's manifest record (spec §4.7).
type FileEntry struct {
	FileName          string       `json:"file_name"`
	Size              int64        `json:"size"`
	Mime              string       `json:"mime"`
	Category          string       `json:"category"`
	IsEncrypted       bool         `json:"is_encrypted"`
	DirectTransportID string       `json:"direct_transport_id,omitempty"`
	OwnerCredential   string       `json:"owner_credential,omitempty"`
	Chunks            []ChunkEntry `json:"chunks,omitempty"`
}

// Descriptor is the self-contained manifest (spec §3 ShareDescriptor).
// Never persisted in the Catalog; it exists only as an encrypted on-disk
// artifact or an in-memory object.
type Descriptor struct {
	SchemaVersion string      `json:"schema_version"`
	Kind          Kind        `json:"kind"`
	Files         []FileEntry `json:"files"`
}

// FromCatalog builds a Descriptor for one or more catalog file_ids.
func FromCatalog(cat *catalog.Catalog, fileIDs []string) (Descriptor, error) {
	kind := KindSingle
	if len(fileIDs) > 1 {
		kind = KindBatch
	}
	d := Descriptor{SchemaVersion: SchemaVersion, Kind: kind}
	for _, id := range fileIDs {
		f, err := cat.GetFile(id)
		if err != nil {
			return Descriptor{}, err
		}
		entry := FileEntry{
			FileName:          f.Name,
			Size:              f.Size,
			Mime:              f.Mime,
			Category:          string(f.Category),
			IsEncrypted:       f.IsEncrypted,
			DirectTransportID: f.DirectTransportID,
			OwnerCredential:   f.OwnerCredential,
		}
		if f.Category == catalog.CategoryChunked {
			chunks, err := cat.GetChunks(id)
			if err != nil {
				return Descriptor{}, err
			}
			for _, c := range chunks {
				entry.Chunks = append(entry.Chunks, ChunkEntry{
					Index:           c.Index,
					Total:           c.Total,
					SizeBytes:       c.SizeBytes,
					ContentHash:     c.ContentHash,
					TransportID:     c.TransportID,
					OwnerCredential: c.OwnerCredential,
				})
			}
		}
		d.Files = append(d.Files, entry)
	}
	return d, nil
}

// WriteLinkFile serializes, wraps, and writes the descriptor to a ".link"
// file at outPath (spec §6 "share descriptor file").
func WriteLinkFile(d Descriptor, password, outPath string) error {
	plain, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("share: marshal: %w", err)
	}
	enc, err := envelope.EncryptPortable(plain, []byte(password))
	if err != nil {
		return fmt.Errorf("share: encrypt: %w", err)
	}
	return os.WriteFile(outPath, enc, 0644)
}

// ReadLinkFile reverses WriteLinkFile. Any structural problem (bad JSON,
// missing schema version) surfaces as ErrCorrupt rather than a raw decode
// error, per the spec §9 redesign note against ad-hoc parsing.
func ReadLinkFile(path, password string) (Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("share: %w", corerr.ErrNotFound)
	}
	plain, err := envelope.DecryptPortable(raw, []byte(password))
	if err != nil {
		return Descriptor{}, err // already wraps ErrBadPassword
	}
	var d Descriptor
	if err := json.Unmarshal(plain, &d); err != nil {
		return Descriptor{}, fmt.Errorf("share: %w", corerr.ErrCorrupt)
	}
	if d.SchemaVersion == "" || (d.Kind != KindSingle && d.Kind != KindBatch) {
		return Descriptor{}, fmt.Errorf("share: %w", corerr.ErrCorrupt)
	}
	return d, nil
}

// MatchingFiles filters a batch descriptor's files by a shell glob pattern
// against FileName, used by import_share's optional selection filter. A
// single-file descriptor or an empty pattern returns every file unfiltered.
func MatchingFiles(d Descriptor, pattern string) []FileEntry {
	if pattern == "" || d.Kind == KindSingle {
		return d.Files
	}
	var out []FileEntry
	for _, f := range d.Files {
		if glob.Glob(pattern, f.FileName) {
			out = append(out, f)
		}
	}
	return out
}
