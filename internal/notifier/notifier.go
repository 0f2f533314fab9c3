// Package notifier implements the Notifier (spec §4.8): an out-of-band
// progress surface for long-running transfers, backed by an in-memory map
// and a background poll loop over Transport. It also implements the
// progress.Sink capability so engines can report into it directly (spec §9:
// "engines hold a ProgressSink that MAY be a Notifier adapter").
package notifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"corekit/internal/progress"
	"corekit/internal/transport"

	"github.com/prometheus/client_golang/prometheus"
)

var _ progress.Sink = (*Notifier)(nil)

// OperationKind distinguishes upload from download operations in the
// active-operations map.
type OperationKind string

const (
	KindUpload   OperationKind = "upload"
	KindDownload OperationKind = "download"
)

// Status mirrors the transfer's terminal/non-terminal state for display.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ActiveOperation is one entry of the Notifier's in-memory map (spec §4.8).
type ActiveOperation struct {
	OperationID string
	Kind        OperationKind
	Name        string
	Bytes       int64
	ChunksDone  int
	ChunksTotal int
	Percent     float64
	Status      Status
}

// pollCadence is the Notifier's own long-poll cadence: at most 12s per round
// so shutdown can close it within one interval (spec §4.8).
const pollCadence = 12 * time.Second

// Notifier holds no reference to engines (spec §9): it only exposes the
// register/update/completed/failed surface and the ProgressSink adapter.
type Notifier struct {
	mu  sync.Mutex
	ops map[string]*ActiveOperation

	chunksSent   prometheus.Counter
	chunksFailed prometheus.Counter
	activeGauge  prometheus.Gauge

	tr     transport.Transport
	cred   string
	chatID string
}

func New(registry prometheus.Registerer, tr transport.Transport, credential, chatID string) *Notifier {
	n := &Notifier{
		ops:    make(map[string]*ActiveOperation),
		tr:     tr,
		cred:   credential,
		chatID: chatID,
		chunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corekit_chunks_sent_total",
			Help: "Chunks successfully sent by the upload engine.",
		}),
		chunksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corekit_chunks_failed_total",
			Help: "Transfers reported failed or canceled with chunks still outstanding.",
		}),
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "corekit_active_transfers",
			Help: "Number of transfers currently registered with the notifier.",
		}),
	}
	if registry != nil {
		registry.MustRegister(n.chunksSent, n.chunksFailed, n.activeGauge)
	}
	return n
}

func (n *Notifier) Register(opID string, kind OperationKind, name string, bytes int64, chunksTotal int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ops[opID] = &ActiveOperation{
		OperationID: opID,
		Kind:        kind,
		Name:        name,
		Bytes:       bytes,
		ChunksTotal: chunksTotal,
		Status:      StatusRunning,
	}
	n.activeGauge.Set(float64(len(n.ops)))
}

func (n *Notifier) Update(opID string, chunksDone int, percent float64, status *Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	op, ok := n.ops[opID]
	if !ok {
		return
	}
	op.ChunksDone = chunksDone
	op.Percent = percent
	if status != nil {
		op.Status = *status
	}
	if chunksDone > 0 && op.Kind == KindUpload {
		n.chunksSent.Inc()
	}
}

func (n *Notifier) Completed(opID string, destination string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.ops, opID)
	n.activeGauge.Set(float64(len(n.ops)))
}

func (n *Notifier) Failed(opID string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if op, ok := n.ops[opID]; ok && op.ChunksTotal > op.ChunksDone {
		n.chunksFailed.Inc()
	}
	delete(n.ops, opID)
	n.activeGauge.Set(float64(len(n.ops)))
}

// Snapshot formats the active-operations map, used both by tests and by the
// "%" poll-response path.
func (n *Notifier) Snapshot() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.ops) == 0 {
		return "no active transfers"
	}
	ids := make([]string, 0, len(n.ops))
	for id := range n.ops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	for _, id := range ids {
		op := n.ops[id]
		fmt.Fprintf(&b, "%s %s %s %d/%d (%.1f%%) %s\n", op.OperationID, op.Kind, op.Name, op.ChunksDone, op.ChunksTotal, op.Percent, op.Status)
	}
	return b.String()
}

// Run polls Transport for inbound "%" messages every pollCadence round,
// replying with Snapshot, until ctx is canceled (spec §4.8).
func (n *Notifier) Run(ctx context.Context, chatID string, pollOnce func(ctx context.Context) (string, bool)) {
	ticker := time.NewTicker(pollCadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pollOnce == nil {
				continue
			}
			if msg, ok := pollOnce(ctx); ok && msg == "%" {
				_, _ = n.tr.SendDocument(n.cred, chatID, []byte(n.Snapshot()), "status.txt", "")
			}
		}
	}
}

// ---- progress.Sink adapter ----

func (n *Notifier) Progress(operationID string, completed, total int, percent float64) {
	n.Update(operationID, completed, percent, nil)
}

func (n *Notifier) ReassemblyProgress(operationID string, completed, total int, percent float64) {
	// Reassembly uses negated counters per spec §4.6; store as-is so a
	// snapshot reader can distinguish the phase.
	n.mu.Lock()
	defer n.mu.Unlock()
	if op, ok := n.ops[operationID]; ok {
		op.ChunksDone = completed
		op.Percent = percent
	}
}
