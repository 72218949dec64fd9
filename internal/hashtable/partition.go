// Package hashtable implements the hash-table partition (spec §4.3): a
// concurrent key/value command interpreter plugged into the chain engine,
// plus the slot-migration drain logic of spec §4.4.
package hashtable

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dreamware/jiffy/internal/command"
	"github.com/dreamware/jiffy/internal/partition"
)

// State is a hash-table partition's migration state (spec §3, glossary
// "Importing / exporting").
type State int

const (
	StateRegular State = iota
	StateImporting
	StateExporting
)

func (s State) String() string {
	switch s {
	case StateRegular:
		return "regular"
	case StateImporting:
		return "importing"
	case StateExporting:
		return "exporting"
	default:
		return "unknown"
	}
}

// AutoScaler is the external auto-scaling service's interface as seen
// from a partition (spec §4.4 step 1: "calls out to the auto-scaling
// service"). The hashtable package never implements it — internal/
// autoscale does — a partition only ever holds the hook.
type AutoScaler interface {
	RequestSplit(ctx context.Context, partitionName string, slots SlotRange) error
	RequestMerge(ctx context.Context, partitionName string, slots SlotRange) error
}

// Partition is the hash-table command interpreter: a concurrent map plus
// the slot-range/state bookkeeping the chain engine and the scaling
// protocol need (spec §4.3).
type Partition struct {
	dataMu sync.RWMutex
	data   map[string][]byte
	size   int64 // guarded by dataMu

	stateMu         sync.RWMutex
	name            string
	metadata        string
	state           State
	slotRange       SlotRange
	exportSlotRange SlotRange
	exportTarget    string
	importSlotRange SlotRange

	updateMtx       sync.Mutex // spec §5 update_mtx: scaling scans vs mutations
	scalingInFlight atomic.Bool

	cfg        Config
	autoScaler AutoScaler
	logger     *zap.Logger
	serde      Serde
}

// New builds a hash-table partition named "<begin>_<end>" (spec §6
// "Partition names"), initially in State regular owning [begin, end).
func New(begin, end uint32, metadata string, cfg Config, logger *zap.Logger) *Partition {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Partition{
		data:      make(map[string][]byte),
		name:      FormatName(begin, end),
		metadata:  metadata,
		state:     StateRegular,
		slotRange: SlotRange{Begin: begin, End: end},
		cfg:       cfg,
		logger:    logger,
		serde:     jsonSerde{},
	}
}

// FormatName renders a hash-table partition name from a slot range (spec
// §6 "Partition names": "<slot_begin>_<slot_end>").
func FormatName(begin, end uint32) string {
	return fmt.Sprintf("%d_%d", begin, end)
}

// ParseName parses a hash-table partition name back into its slot range.
func ParseName(name string) (SlotRange, error) {
	parts := strings.SplitN(name, "_", 2)
	if len(parts) != 2 {
		return SlotRange{}, fmt.Errorf("hashtable: malformed partition name %q", name)
	}
	begin, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return SlotRange{}, fmt.Errorf("hashtable: malformed slot_begin in %q: %w", name, err)
	}
	end, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return SlotRange{}, fmt.Errorf("hashtable: malformed slot_end in %q: %w", name, err)
	}
	return SlotRange{Begin: uint32(begin), End: uint32(end)}, nil
}

// SetAutoScaler installs the auto-scaling hook; nil disables triggers
// regardless of cfg.AutoScale.
func (p *Partition) SetAutoScaler(a AutoScaler) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.autoScaler = a
}

// SetSerde overrides the blob format used by Load/Sync/Dump.
func (p *Partition) SetSerde(s Serde) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.serde = s
}

func (p *Partition) Name() string {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.name
}

func (p *Partition) SetName(name string) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.name = name
	if r, err := ParseName(name); err == nil {
		p.slotRange = r
	}
}

func (p *Partition) Metadata() string {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.metadata
}

func (p *Partition) SetMetadata(meta string) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.metadata = meta
}

// State reports the partition's current migration state.
func (p *Partition) State() State {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

// SlotRange reports the partition's owned slot range.
func (p *Partition) SlotRange() SlotRange {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.slotRange
}

func (p *Partition) StorageSize() int64 {
	p.dataMu.RLock()
	defer p.dataMu.RUnlock()
	return p.size
}

func (p *Partition) StorageCapacity() int64 {
	return p.cfg.Capacity
}

// Load replaces the partition's key space with the blob at path,
// decoded with the attached Serde (spec §6 "load(path)").
func (p *Partition) Load(path string) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("hashtable: load %s: %w", path, err)
	}
	data, err := p.serde.Unmarshal(blob)
	if err != nil {
		return fmt.Errorf("hashtable: load %s: decoding blob: %w", path, err)
	}
	var size int64
	for k, v := range data {
		size += int64(len(k) + len(v))
	}
	p.dataMu.Lock()
	p.data = data
	p.size = size
	p.dataMu.Unlock()
	return nil
}

// Sync writes the partition's current key space to path without clearing
// it (spec §6 "sync(path)" — "write the mirror").
func (p *Partition) Sync(path string) (bool, error) {
	return p.writeSnapshot(path)
}

// Dump writes the partition's current key space to path (spec §6
// "dump(path)"). Unlike the C++ original this module was distilled from,
// which frees local memory on dump once the mirror is durable, dump here
// behaves identically to sync: the engine's dirty-bit bookkeeping (not
// the partition) is what downstream code uses to decide whether a flush
// is needed at all, so there is no separate "evict after dump" step to
// reproduce.
func (p *Partition) Dump(path string) (bool, error) {
	return p.writeSnapshot(path)
}

func (p *Partition) writeSnapshot(path string) (bool, error) {
	p.dataMu.RLock()
	snapshot := make(map[string][]byte, len(p.data))
	for k, v := range p.data {
		snapshot[k] = v
	}
	p.dataMu.RUnlock()

	blob, err := p.serde.Marshal(snapshot)
	if err != nil {
		return false, fmt.Errorf("hashtable: encoding blob for %s: %w", path, err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return false, fmt.Errorf("hashtable: writing %s: %w", path, err)
	}
	return true, nil
}

// ForwardAll streams every (K,V) pair to the next replica as scale_put
// calls, bypassing the normal pending/ack machinery (spec §4.2
// "Forward-all", supplementing a newly-joined tail with full state).
func (p *Partition) ForwardAll(ctx context.Context, runner partition.ChainRunner) error {
	p.updateMtx.Lock()
	defer p.updateMtx.Unlock()

	p.dataMu.RLock()
	pairs := make(map[string][]byte, len(p.data))
	for k, v := range p.data {
		pairs[k] = v
	}
	p.dataMu.RUnlock()

	for k, v := range pairs {
		args := command.Args{[]byte(k), v}
		if _, err := runner.RunCommandOnNext(ctx, CmdScalePut, args); err != nil {
			return fmt.Errorf("hashtable: forward_all: scale_put %q: %w", k, err)
		}
	}
	return nil
}
