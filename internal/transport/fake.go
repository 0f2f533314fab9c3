package transport

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"corekit/internal/corerr"
)

// Fake is an in-memory Transport implementation used by tests and by
// cmd/corectl when no real messaging-service client is configured. Modeled
// on the pack's habit of a test double per external capability, scaled down
// to an in-process map since no real client SDK exists in the example pack
// to bind to (spec §1 keeps the transport itself out of scope).
type Fake struct {
	mu        sync.Mutex
	documents map[string][]byte // transport_id -> bytes
	messages  map[string]bool   // message_id -> still present
	seq       atomic.Uint64

	// CorruptOnFetch, when set, flips one byte the next time FetchBytes is
	// called for the given transport_id (used by integrity tests, spec P7).
	CorruptOnFetch map[string]bool

	pendingInbound string
}

func NewFake() *Fake {
	return &Fake{
		documents:      make(map[string][]byte),
		messages:       make(map[string]bool),
		CorruptOnFetch: make(map[string]bool),
	}
}

func (f *Fake) SendDocument(credential, chatID string, body []byte, filename, caption string) (SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.seq.Add(1)
	transportID := fmt.Sprintf("tid-%d", n)
	messageID := fmt.Sprintf("mid-%d", n)
	stored := make([]byte, len(body))
	copy(stored, body)
	f.documents[transportID] = stored
	f.messages[messageID] = true
	return SendResult{TransportID: transportID, MessageID: messageID}, nil
}

func (f *Fake) GetFilePath(credential, transportID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.documents[transportID]; !ok {
		return "", fmt.Errorf("transport: %w", corerr.ErrNotFound)
	}
	return transportID, nil
}

func (f *Fake) FetchBytes(credential, remotePath string, w io.Writer) error {
	f.mu.Lock()
	body, ok := f.documents[remotePath]
	corrupt := f.CorruptOnFetch[remotePath]
	if corrupt {
		delete(f.CorruptOnFetch, remotePath)
	}
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: %w", corerr.ErrNotFound)
	}
	if corrupt && len(body) > 0 {
		tampered := make([]byte, len(body))
		copy(tampered, body)
		tampered[0] ^= 0xFF
		body = tampered
	}
	_, err := io.Copy(w, bytes.NewReader(body))
	return err
}

func (f *Fake) DeleteMessage(credential, chatID, messageID string) (DeleteOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[messageID]; !ok {
		return DeleteNotFound, nil
	}
	delete(f.messages, messageID)
	return DeleteOK, nil
}

// PushInbound queues a message for the next PollInbound call, standing in
// for a real inbound chat message until a real client exists (spec §1 keeps
// the wire-level client out of scope).
func (f *Fake) PushInbound(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingInbound = msg
}

// PollInbound drains the queued inbound message, if any. Lets the Notifier's
// poll loop (spec §4.8) be exercised against Fake without a real messaging
// client.
func (f *Fake) PollInbound() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingInbound == "" {
		return "", false
	}
	msg := f.pendingInbound
	f.pendingInbound = ""
	return msg, true
}
