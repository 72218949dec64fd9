// Package management implements the management RPC surface (spec §6):
// setup_block, path, load, sync, dump, reset, storage_capacity,
// storage_size, resend_pending, forward_all — the directory-driven
// operations that bind a partition to a block slot and drive its chain
// topology, as opposed to the command surface clients use.
package management

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/jiffy/internal/block"
	"github.com/dreamware/jiffy/internal/chain"
	"github.com/dreamware/jiffy/internal/partition"
	"github.com/dreamware/jiffy/internal/registry"
)

// LinkDialer resolves a block name (spec §6 "Block naming") into a live
// connection of the given direction. internal/transport supplies the
// concrete implementation (an HTTP client bound to the target's chain or
// chain-response surface); management only needs the capability to reach
// a neighbor by name.
type LinkDialer interface {
	DialNext(blockName string) (chain.NextLink, error)
	DialPrev(blockName string) (chain.PrevLink, error)
}

// Management operates the management surface for one storage-server
// process's block.Server.
type Management struct {
	server  *block.Server
	dialer  LinkDialer
	baseDir string
	logger  *zap.Logger

	mu      sync.Mutex // serializes setup_block/reset against each other
	onSetup func(slotIdx int, engine *chain.Engine)
}

// SetOnSetupBlock installs a callback fired once a setup_block call has
// finished binding a new engine to a slot. cmd/storage-server uses this
// to attach per-slot instrumentation and, for partition types that
// support it, an auto-scaling orchestrator — without this package
// needing to know about either concern directly.
func (m *Management) SetOnSetupBlock(fn func(slotIdx int, engine *chain.Engine)) {
	m.onSetup = fn
}

// New builds a Management surface. baseDir roots the relative paths
// load/sync/dump are given (spec §6 "path(block_name)").
func New(server *block.Server, dialer LinkDialer, baseDir string, logger *zap.Logger) *Management {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Management{server: server, dialer: dialer, baseDir: baseDir, logger: logger}
}

// SetupBlockRequest is setup_block's argument tuple (spec §6).
type SetupBlockRequest struct {
	BlockName         string
	PartitionType     string
	PartitionName     string
	PartitionMetadata string
	PartitionConfig   []byte
	Chain             []string // full chain, head to tail, by block name
	Role              string
	NextBlockName     string // partition.NilBlockName if this replica is the tail
}

// SetupBlock builds (or rebuilds) the partition bound to a block slot and
// wires its chain role and neighbor links (spec §6 "setup_block").
// build_partition (internal/registry) is the only way the partition
// itself gets instantiated — setup_block never constructs one directly.
func (m *Management) SetupBlock(ctx context.Context, slotIdx int, req SetupBlockRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.server.Slot(slotIdx)
	if err != nil {
		return err
	}

	if !registry.Registered(req.PartitionType) {
		return fmt.Errorf("management: setup_block: partition type %q is not registered", req.PartitionType)
	}
	p, err := registry.Build(req.PartitionType, req.PartitionName, req.PartitionMetadata, req.PartitionConfig)
	if err != nil {
		return fmt.Errorf("management: setup_block: building partition: %w", err)
	}

	role, ok := chain.ParseRole(req.Role)
	if !ok {
		return fmt.Errorf("management: setup_block: unknown role %q", req.Role)
	}

	engine := chain.New(p, m.logger)
	engine.SetRole(role)
	engine.SetChain(req.Chain)

	if !partition.IsNil(req.NextBlockName) {
		next, err := m.dialer.DialNext(req.NextBlockName)
		if err != nil {
			return fmt.Errorf("management: setup_block: dialing next %q: %w", req.NextBlockName, err)
		}
		engine.SetNext(next)
	}

	if prevName, ok := predecessorOf(req.Chain, req.BlockName); ok {
		prev, err := m.dialer.DialPrev(prevName)
		if err != nil {
			return fmt.Errorf("management: setup_block: dialing prev %q: %w", prevName, err)
		}
		engine.SetPrev(prev)
	}

	slot.Bind(engine)
	if m.onSetup != nil {
		m.onSetup(slotIdx, engine)
	}
	return nil
}

// predecessorOf returns the chain entry immediately before blockName, if
// blockName appears in chainNames and isn't already first.
func predecessorOf(chainNames []string, blockName string) (string, bool) {
	for i, name := range chainNames {
		if name == blockName {
			if i == 0 {
				return "", false
			}
			return chainNames[i-1], true
		}
	}
	return "", false
}

// Path returns the backing file path for a block's partition (spec §6
// "path(block_name)").
func (m *Management) Path(blockName string) string {
	return filepath.Join(m.baseDir, blockName+".blob")
}

// Reset detaches any partition bound to the slot (spec §6 "reset(block)").
func (m *Management) Reset(slotIdx int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.server.Slot(slotIdx)
	if err != nil {
		return err
	}
	slot.Unbind()
	return nil
}

// Load replaces the bound partition's state from its backing path (spec
// §6 "load(block, backing_path)").
func (m *Management) Load(slotIdx int, backingPath string) error {
	engine, err := m.boundEngine(slotIdx)
	if err != nil {
		return err
	}
	if err := engine.Partition().Load(backingPath); err != nil {
		return err
	}
	engine.ClearDirty()
	return nil
}

// Sync writes the bound partition's state to its backing path only when
// the engine reports unflushed mutations, clearing the dirty bit on
// success; otherwise it returns false without writing (spec §6
// "sync(block, backing_path)").
func (m *Management) Sync(slotIdx int, backingPath string) (bool, error) {
	engine, err := m.boundEngine(slotIdx)
	if err != nil {
		return false, err
	}
	if !engine.Dirty() {
		return false, nil
	}
	ok, err := engine.Partition().Sync(backingPath)
	if err == nil && ok {
		engine.ClearDirty()
	}
	return ok, err
}

// Dump flushes the bound partition's state to its backing path (spec §6
// "dump(block, backing_path)").
func (m *Management) Dump(slotIdx int, backingPath string) (bool, error) {
	engine, err := m.boundEngine(slotIdx)
	if err != nil {
		return false, err
	}
	ok, err := engine.Partition().Dump(backingPath)
	if err == nil && ok {
		engine.ClearDirty()
	}
	return ok, err
}

// StorageCapacity reports the bound partition's configured capacity
// (spec §6 "storage_capacity(block)").
func (m *Management) StorageCapacity(slotIdx int) (int64, error) {
	engine, err := m.boundEngine(slotIdx)
	if err != nil {
		return 0, err
	}
	return engine.Partition().StorageCapacity(), nil
}

// StorageSize reports the bound partition's current size (spec §6
// "storage_size(block)").
func (m *Management) StorageSize(slotIdx int) (int64, error) {
	engine, err := m.boundEngine(slotIdx)
	if err != nil {
		return 0, err
	}
	return engine.Partition().StorageSize(), nil
}

// ResendPending replays the bound engine's pending map down its current
// next link (spec §5 "Failure recovery"; spec §6 "resend_pending(block)").
func (m *Management) ResendPending(ctx context.Context, slotIdx int) error {
	engine, err := m.boundEngine(slotIdx)
	if err != nil {
		return err
	}
	return engine.ResendPending(ctx)
}

// ForwardAll streams the bound partition's full state to the next
// replica (spec §6 "forward_all(block)").
func (m *Management) ForwardAll(ctx context.Context, slotIdx int) error {
	engine, err := m.boundEngine(slotIdx)
	if err != nil {
		return err
	}
	return engine.ForwardAll(ctx)
}

func (m *Management) boundEngine(slotIdx int) (*chain.Engine, error) {
	slot, err := m.server.Slot(slotIdx)
	if err != nil {
		return nil, err
	}
	engine, ok := slot.Engine()
	if !ok {
		return nil, block.ErrSlotUnbound
	}
	return engine, nil
}
