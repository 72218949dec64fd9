// Package block implements the block request handler (spec §4.6): the
// per-connection surface that issues client ids and routes
// command_request calls either straight to the partition (tail/singleton
// accessors) or into the chain engine.
package block

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/jiffy/internal/chain"
	"github.com/dreamware/jiffy/internal/command"
	"github.com/dreamware/jiffy/internal/seqid"
)

// Recorder observes one command_request call's outcome, keyed by the
// command's name (spec §3's command vocabulary, e.g. "put", "get").
// internal/metrics.Registry is the production implementation; a Server
// with none installed simply skips the observation.
type Recorder interface {
	ObserveCommand(name string, dur time.Duration, err error)
}

// ErrSlotOutOfRange is a fatal, process-level error (spec §7
// "block-id-out-of-range").
var ErrSlotOutOfRange = fmt.Errorf("block: slot index out of range")

// ErrSlotUnbound is raised when a command arrives for a slot that has no
// partition set up on it yet.
var ErrSlotUnbound = fmt.Errorf("block: slot has no partition bound")

// Slot is one hosting position inside a storage-server process (spec §2
// "Block / block slot"). It may be bound to a chain engine (and through
// it, a partition) or empty.
type Slot struct {
	mu     sync.RWMutex
	engine *chain.Engine

	recorder Recorder
}

func newSlot() *Slot {
	return &Slot{}
}

// Bind attaches e to this slot, replacing whatever was bound before.
// setup_block (internal/management) is the only caller.
func (s *Slot) Bind(e *chain.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = e
}

// Unbind detaches any bound engine, used by the management surface's
// reset(block) call.
func (s *Slot) Unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = nil
}

// Engine returns the slot's bound chain engine, if any.
func (s *Slot) Engine() (*chain.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine, s.engine != nil
}

// CommandRequest routes one command_request call (spec §4.6):
//
//   - If the command is an accessor and this replica is tail or
//     singleton, execute it directly against the partition and reply
//     without touching the chain engine.
//   - Otherwise (a mutation, or an accessor arriving anywhere else in
//     the chain so it can be forwarded to the tail) hand it to the
//     engine's Request, which stamps, forwards, and waits for the ack.
func (s *Slot) CommandRequest(ctx context.Context, seq seqid.ID, cmdID int32, args command.Args, clientID int64) (command.Response, error) {
	engine, ok := s.Engine()
	if !ok {
		return nil, ErrSlotUnbound
	}

	desc, ok := engine.Partition().Commands().Lookup(cmdID)
	if !ok {
		return nil, chain.ErrUnknownCommand
	}

	start := time.Now()
	var resp command.Response
	var cmdErr error
	if desc.Flags.Accessor && engine.IsTail() {
		resp, cmdErr = engine.Partition().Execute(cmdID, args)
	} else {
		resp, cmdErr = engine.Request(ctx, seq.ClientSeq, cmdID, args, clientID)
	}
	if s.recorder != nil {
		s.recorder.ObserveCommand(desc.Name, time.Since(start), cmdErr)
	}
	return resp, cmdErr
}

// Server hosts a fixed pool of block slots (spec §2 "A storage server
// process hosts a fixed pool of block slots") and issues the process-wide
// monotonic client ids spec §4.6 describes.
type Server struct {
	slots        []*Slot
	nextClientID atomic.Int64
	logger       *zap.Logger
	recorder     Recorder
}

// SetRecorder installs a metrics recorder for command_request outcomes,
// applying it to every slot currently in the pool. Optional; nil (the
// default) skips the observation.
func (s *Server) SetRecorder(r Recorder) {
	s.recorder = r
	for _, slot := range s.slots {
		slot.recorder = r
	}
}

// NewServer allocates numSlots empty block slots.
func NewServer(numSlots int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	slots := make([]*Slot, numSlots)
	for i := range slots {
		slots[i] = newSlot()
	}
	return &Server{slots: slots, logger: logger}
}

// NumSlots reports the size of the fixed block slot pool.
func (s *Server) NumSlots() int {
	return len(s.slots)
}

// Slot returns the block slot at idx.
func (s *Server) Slot(idx int) (*Slot, error) {
	if idx < 0 || idx >= len(s.slots) {
		return nil, ErrSlotOutOfRange
	}
	return s.slots[idx], nil
}

// GetClientID issues a fresh, process-wide monotonic client id (spec §4.6
// "get_client_id").
func (s *Server) GetClientID() int64 {
	return s.nextClientID.Add(1)
}

// SlotStats reports a slot's current pending-map depth and storage size,
// for internal/metrics' periodic sampler. bound is false if idx has no
// partition set up on it yet, in which case the other two values are
// meaningless.
func (s *Server) SlotStats(idx int) (pendingDepth int, storageSize int64, bound bool) {
	slot, err := s.Slot(idx)
	if err != nil {
		return 0, 0, false
	}
	engine, ok := slot.Engine()
	if !ok {
		return 0, 0, false
	}
	return engine.PendingSize(), engine.Partition().StorageSize(), true
}
