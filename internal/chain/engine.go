// Package chain implements the storage-block chain engine (spec §4.2): it
// wraps a partition.Partition, decides per-command whether to execute
// locally or forward, stamps sequence numbers at the head, maintains the
// pending map, and drives acknowledgements upstream.
//
// A partition never imports this package; chain imports partition. The
// dependency runs one way, exactly as spec §2's "Dependency order" lays
// out: command vocabulary -> partition -> chain engine -> ... .
package chain

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/jiffy/internal/command"
	"github.com/dreamware/jiffy/internal/partition"
	"github.com/dreamware/jiffy/internal/seqid"
)

// Recorder observes forward-and-wait latency for a Request call that
// had to traverse the chain (i.e. anything past the Singleton fast
// path). internal/metrics.Registry is the production implementation;
// nil (the default) means no instrumentation.
type Recorder interface {
	ObserveForward(dur time.Duration)
}

var (
	// ErrUnknownCommand is a protocol-level error (spec §7): the command
	// id is not in the partition's table.
	ErrUnknownCommand = fmt.Errorf("chain: unknown command")
	// ErrNotHead is a protocol-level error: a mutation or a forwarded
	// accessor was sent to Request on a replica that is not head or
	// singleton.
	ErrNotHead = fmt.Errorf("chain: replica is not head")
	// ErrNoNextLink is raised when a non-tail replica must forward but
	// has no next link configured — a directory/setup_block bug, not a
	// transient condition.
	ErrNoNextLink = fmt.Errorf("chain: no next link configured")
)

// Engine is the chain-replication state machine wrapped around one
// partition instance (spec §3 "Partition" attributes, §4.2).
type Engine struct {
	partition partition.Partition
	next      NextLink
	prev      PrevLink
	responses *responseRegistry
	logger    *zap.Logger

	pending *PendingMap

	recorder Recorder

	metadataMtx sync.RWMutex
	role        Role
	chainNames  []string

	requestMtx sync.Mutex
	chainSeqNo atomic.Int64
	lastApplied int64 // guarded by applyMu: written in markApplied, read in LastAppliedSeq
	applyMu     sync.Mutex

	dirty atomic.Bool
}

// New wraps p in a chain engine, initially a singleton with no chain
// configured. setup_block (via internal/management) drives it into its
// real role and topology.
func New(p partition.Partition, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		partition:   p,
		pending:     &PendingMap{},
		responses:   newResponseRegistry(),
		logger:      logger,
		role:        Singleton,
		lastApplied: -1,
	}
}

// SetRecorder installs a metrics recorder for forward latency. Optional;
// an engine with none installed simply skips the observation.
func (e *Engine) SetRecorder(r Recorder) {
	e.metadataMtx.Lock()
	defer e.metadataMtx.Unlock()
	e.recorder = r
}

// Partition returns the wrapped partition, for management operations
// (load/sync/dump/storage_size/storage_capacity) that bypass chain
// semantics entirely.
func (e *Engine) Partition() partition.Partition {
	return e.partition
}

// Role returns the engine's current chain role.
func (e *Engine) Role() Role {
	e.metadataMtx.RLock()
	defer e.metadataMtx.RUnlock()
	return e.role
}

// SetRole sets the engine's chain role. Directory-driven only (invariant
// 6): nothing in this package ever calls it on its own initiative.
func (e *Engine) SetRole(r Role) {
	e.metadataMtx.Lock()
	defer e.metadataMtx.Unlock()
	e.role = r
}

// Chain returns the replica chain's block names, head to tail.
func (e *Engine) Chain() []string {
	e.metadataMtx.RLock()
	defer e.metadataMtx.RUnlock()
	out := make([]string, len(e.chainNames))
	copy(out, e.chainNames)
	return out
}

// SetChain records the replica chain's block names, head to tail.
func (e *Engine) SetChain(names []string) {
	e.metadataMtx.Lock()
	defer e.metadataMtx.Unlock()
	e.chainNames = append([]string(nil), names...)
}

// SetNext installs the engine's connection to its downstream neighbor.
func (e *Engine) SetNext(next NextLink) {
	e.metadataMtx.Lock()
	defer e.metadataMtx.Unlock()
	e.next = next
}

// SetPrev installs the engine's connection to its upstream neighbor.
func (e *Engine) SetPrev(prev PrevLink) {
	e.metadataMtx.Lock()
	defer e.metadataMtx.Unlock()
	e.prev = prev
}

// IsHead reports whether this replica accepts client mutation requests.
func (e *Engine) IsHead() bool {
	return e.Role().IsHead()
}

// IsTail reports whether this replica answers accessors locally.
func (e *Engine) IsTail() bool {
	return e.Role().IsTail()
}

// PendingSize reports the number of unacknowledged forwarded operations —
// always zero at the tail (spec §8 "pending.is_empty() on the tail at all
// times").
func (e *Engine) PendingSize() int {
	return e.pending.Len()
}

// LastAppliedSeq reports the highest server_seq this replica has applied,
// strictly monotonic per spec §8.
func (e *Engine) LastAppliedSeq() int64 {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	return e.lastApplied
}

// Dirty reports whether local state has unflushed mutations since the
// last successful sync/dump/load.
func (e *Engine) Dirty() bool {
	return e.dirty.Load()
}

// nextLink and prevLink return the current links under the metadata lock,
// used by the hot paths below instead of touching e.next/e.prev directly.
func (e *Engine) nextLink() NextLink {
	e.metadataMtx.RLock()
	defer e.metadataMtx.RUnlock()
	return e.next
}

func (e *Engine) prevLink() PrevLink {
	e.metadataMtx.RLock()
	defer e.metadataMtx.RUnlock()
	return e.prev
}

func (e *Engine) recorderRef() Recorder {
	e.metadataMtx.RLock()
	defer e.metadataMtx.RUnlock()
	return e.recorder
}

// Request handles a command arriving on the command surface at a head or
// singleton replica (spec §4.2 "Request ingress"). clientSeq is the
// client-supplied half of the sequence id; clientID identifies the caller
// for diagnostics only. The reply is returned directly from this call; no
// client_id registry is involved in delivering it.
func (e *Engine) Request(ctx context.Context, clientSeq int64, cmdID int32, args command.Args, clientID int64) (command.Response, error) {
	desc, ok := e.partition.Commands().Lookup(cmdID)
	if !ok {
		return nil, ErrUnknownCommand
	}
	if !e.IsHead() {
		return nil, ErrNotHead
	}

	role := e.Role()

	e.requestMtx.Lock()
	seq := seqid.ID{ClientSeq: clientSeq, ServerSeq: e.chainSeqNo.Add(1)}

	if role == Singleton {
		resp, err := e.partition.Execute(cmdID, args)
		e.markApplied(seq.ServerSeq, desc.Flags.Mutates)
		e.requestMtx.Unlock()
		return resp, err
	}

	// Head of a replicated chain: this replica holds a copy of the data
	// too, so a mutation must still be applied locally to keep it
	// current (invariant 2). The value returned to the client always
	// comes back via the ack path below, computed wherever the command
	// actually settles (the tail) — see DESIGN.md.
	if desc.Flags.Mutates {
		if _, err := e.partition.Execute(cmdID, args); err != nil {
			e.requestMtx.Unlock()
			return nil, err
		}
		e.markApplied(seq.ServerSeq, true)
	}

	op := seqid.Op{Seq: seq, CmdID: cmdID, Args: args, ClientID: clientID}
	e.pending.Insert(op)
	wait := e.responses.register(seq.ServerSeq)
	e.requestMtx.Unlock()

	next := e.nextLink()
	if next == nil {
		e.responses.abandon(seq.ServerSeq)
		e.pending.Erase(seq.ServerSeq)
		return nil, ErrNoNextLink
	}

	forwardStart := time.Now()
	if err := next.ChainRequest(ctx, op); err != nil {
		e.responses.abandon(seq.ServerSeq)
		return nil, fmt.Errorf("chain: forwarding to next link: %w", err)
	}

	resp, err := wait(ctx)
	if rec := e.recorderRef(); rec != nil {
		rec.ObserveForward(time.Since(forwardStart))
	}
	return resp, err
}

// ChainRequest applies op locally and either forwards it (mid) or
// acknowledges it (tail) — spec §4.2 "Chain-forward". It is idempotent:
// an op whose server_seq is at or below this replica's last-applied
// sequence is ignored, which is what makes resend_pending safe to call
// after a chain reconfiguration (spec §4.2 "Pending re-drive").
func (e *Engine) ChainRequest(ctx context.Context, op seqid.Op) error {
	if op.Seq.ServerSeq <= e.LastAppliedSeq() {
		e.logger.Debug("chain: ignoring already-applied op",
			zap.Int64("server_seq", op.Seq.ServerSeq))
		return nil
	}

	desc, ok := e.partition.Commands().Lookup(op.CmdID)
	if !ok {
		return ErrUnknownCommand
	}

	resp, execErr := e.partition.Execute(op.CmdID, op.Args)
	e.markApplied(op.Seq.ServerSeq, desc.Flags.Mutates)

	if e.IsTail() {
		prev := e.prevLink()
		if prev == nil || !prev.IsSet() {
			// No upstream to ack — this only happens transiently during
			// setup_block, before SetPrev has run.
			return nil
		}
		return prev.Ack(ctx, op.Seq, resp, execErr)
	}

	e.pending.Insert(op)
	next := e.nextLink()
	if next == nil {
		return ErrNoNextLink
	}
	return next.ChainRequest(ctx, op)
}

// Ack processes an acknowledgement arriving from the next replica
// downstream (spec §4.2 "Acknowledgement"). If a previous link exists,
// the ack is propagated upstream unchanged; otherwise this replica is the
// chain's head (or a singleton, which never reaches this path) and
// delivers resp to the client waiting on seq.
func (e *Engine) Ack(ctx context.Context, seq seqid.ID, resp command.Response, cmdErr error) error {
	e.pending.Erase(seq.ServerSeq)

	prev := e.prevLink()
	if prev != nil && prev.IsSet() {
		return prev.Ack(ctx, seq, resp, cmdErr)
	}

	e.responses.fulfil(seq, resp, cmdErr)
	return nil
}

// ResendPending re-issues every pending operation, in ascending
// server_seq order, to the current next link. It is invoked by the
// management surface after the directory rewires next_block_name — e.g.
// when a replacement replica is inserted downstream (spec §4.2 "Pending
// re-drive", §5 "Failure recovery").
func (e *Engine) ResendPending(ctx context.Context) error {
	next := e.nextLink()
	if next == nil {
		return ErrNoNextLink
	}
	for _, op := range e.pending.Snapshot() {
		if err := next.ChainRequest(ctx, op); err != nil {
			return fmt.Errorf("chain: resend_pending: reissuing seq %s: %w", op.Seq, err)
		}
	}
	return nil
}

// RunCommandOnNext runs cmdID synchronously on the next replica and
// returns its result, bypassing the pending/ack mechanism — the
// ChainRunner capability ForwardAll uses to stream full state to a newly
// joined tail (spec §4.2 "Forward-all").
func (e *Engine) RunCommandOnNext(ctx context.Context, cmdID int32, args command.Args) (command.Response, error) {
	next := e.nextLink()
	if next == nil {
		return nil, ErrNoNextLink
	}
	return next.RunCommandOnNext(ctx, cmdID, args)
}

// ForwardAll delegates to the wrapped partition's type-specific full-state
// catch-up, using this engine as the ChainRunner (spec §4.2).
func (e *Engine) ForwardAll(ctx context.Context) error {
	return e.partition.ForwardAll(ctx, e)
}

// markApplied advances last-applied-sequence and, for mutating commands,
// marks the partition dirty for the next sync/dump.
func (e *Engine) markApplied(serverSeq int64, mutates bool) {
	e.applyMu.Lock()
	if serverSeq > e.lastApplied {
		e.lastApplied = serverSeq
	}
	e.applyMu.Unlock()
	if mutates {
		e.dirty.Store(true)
	}
}

// ClearDirty marks local state as flushed, called after a successful
// sync/dump/load.
func (e *Engine) ClearDirty() {
	e.dirty.Store(false)
}
