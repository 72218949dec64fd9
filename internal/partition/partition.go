// Package partition defines the command-interpreter abstraction the chain
// engine (internal/chain) drives. A Partition owns data and a command
// table; it has no notion of replica chains, roles, or sequence numbers —
// those live one layer up.
package partition

import (
	"context"

	"github.com/dreamware/jiffy/internal/command"
)

// ChainRunner is the narrow capability a partition needs from the chain
// engine to implement ForwardAll: the ability to run one command on the
// next replica synchronously, bypassing the normal single-ack pending
// mechanism (spec §4.2 "Forward-all").
type ChainRunner interface {
	RunCommandOnNext(ctx context.Context, cmdID int32, args command.Args) (command.Response, error)
}

// Partition is the command interpreter occupying a block slot. Concrete
// partition types (hash table, queue, log, ...) implement this to plug
// into the chain engine (spec §4.1).
type Partition interface {
	// Name returns the partition's current logical name (e.g. "0_65536").
	Name() string
	// SetName changes the partition's logical name, used by
	// update_partition during slot migration.
	SetName(name string)
	// Metadata returns the partition's opaque metadata string.
	Metadata() string
	// SetMetadata changes the partition's metadata string.
	SetMetadata(meta string)

	// Commands returns this partition type's full command table: the
	// shared lifecycle vocabulary merged with its own data operations.
	Commands() command.Table

	// Execute runs one command against local state and returns its
	// response. It never blocks on the network and never knows whether
	// it is being invoked at the head, a mid replica, or the tail.
	Execute(cmdID int32, args command.Args) (command.Response, error)

	// Load reads persistent state from path, replacing local state.
	Load(path string) error
	// Sync writes local state to path, returning whether a write
	// happened. It does not consult a dirty bit; internal/management
	// skips the call when the engine reports no unflushed mutations.
	Sync(path string) (bool, error)
	// Dump writes local state to path, returning whether a write
	// happened. Local state is left in place.
	Dump(path string) (bool, error)
	// ForwardAll streams the entirety of local state to the next replica
	// via runner, used when a new replica joins a chain's tail.
	ForwardAll(ctx context.Context, runner ChainRunner) error

	// StorageSize reports current storage usage in bytes.
	StorageSize() int64
	// StorageCapacity reports the configured storage capacity in bytes.
	StorageCapacity() int64
}
