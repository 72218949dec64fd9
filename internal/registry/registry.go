// Package registry is the process-wide partition type registry (spec
// §4.5): a name maps to a Builder, and build_partition is the only way a
// block slot instantiates a partition.
package registry

import (
	"fmt"
	"sync"

	"github.com/dreamware/jiffy/internal/partition"
)

// Builder constructs a partition of one type from its name, metadata
// string, and a raw config blob (opaque to the registry — each partition
// type decodes its own config).
type Builder func(name, metadata string, config []byte) (partition.Partition, error)

var (
	mu       sync.RWMutex
	builders = make(map[string]Builder)
)

// Register installs b under typeName, called from a partition type
// package's init(). A second registration under the same name is a
// programming error and panics, matching the duplicate-command panic in
// internal/command.
func Register(typeName string, b Builder) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := builders[typeName]; exists {
		panic(fmt.Sprintf("registry: partition type %q registered twice", typeName))
	}
	builders[typeName] = b
}

// Build instantiates a partition of typeName (spec §4.5 "build_partition
// is the only way block slots instantiate partitions"). An unregistered
// type is a fatal, process-level error (spec §7: "partition-type-not-
// registered during setup_block").
func Build(typeName, name, metadata string, config []byte) (partition.Partition, error) {
	mu.RLock()
	b, ok := builders[typeName]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: partition type %q is not registered", typeName)
	}
	return b(name, metadata, config)
}

// Registered reports whether typeName has a builder, used by setup_block
// to fail fast with a clear error before doing any other work.
func Registered(typeName string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := builders[typeName]
	return ok
}
