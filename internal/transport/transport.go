// Package transport defines the narrow capability the engines use to talk to
// the messaging service (spec §4.3, §6). The wire details of any concrete
// messaging-service client are explicitly out of scope (spec §1); this
// package only defines the interface and an in-memory fake for tests.
package transport

import (
	"fmt"
	"io"

	"corekit/internal/corerr"
)

// SendResult is returned by a successful SendDocument call.
type SendResult struct {
	TransportID string
	MessageID   string
}

// Transport is the ONLY place that knows the wire details (spec §4.3).
// Engines depend on it by capability, not by implementation.
type Transport interface {
	SendDocument(credential, chatID string, body []byte, filename, caption string) (SendResult, error)
	GetFilePath(credential, transportID string) (string, error)
	FetchBytes(credential, remotePath string, w io.Writer) error
	DeleteMessage(credential, chatID, messageID string) (DeleteOutcome, error)
}

// DeleteOutcome mirrors the three-way result of delete_message (spec §4.3).
type DeleteOutcome string

const (
	DeleteOK        DeleteOutcome = "ok"
	DeleteNotFound  DeleteOutcome = "not_found"
	DeleteForbidden DeleteOutcome = "forbidden"
)

// NetworkErr wraps corerr.ErrNetwork with the underlying cause.
func NetworkErr(cause error) error {
	return fmt.Errorf("transport: %w: %v", corerr.ErrNetwork, cause)
}
