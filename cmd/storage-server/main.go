// Package main implements the storage-server process: one OS process
// hosting a fixed pool of block slots (spec §4, §6), each of which a
// setup_block call from outside the process (a directory/placement
// service) binds to a partition and a chain role. The process itself
// never decides what partitions it hosts or how they're chained — it
// only stands up the command, chain, and management surfaces
// (internal/transport) a caller drives that decision through, plus the
// operational surfaces (metrics) that ride alongside.
//
// Configuration:
//   - BLOCK_ID: this process's advertised block identity, slot 0, in the
//     canonical "host:service_port:mgmt_port:notif_port:chain_port:slot"
//     form (spec §6 "Block naming"). Required. The host/port fields are
//     reused for every other slot this process hosts; only the trailing
//     slot index varies.
//   - BLOCK_LISTEN: local bind host for the three RPC listeners, which may
//     differ from BLOCK_ID's advertised host (e.g. behind a NAT or inside
//     a container). Default: "0.0.0.0".
//   - NUM_SLOTS: how many block slots this process hosts. Default: "1".
//   - BASE_DIR: directory backing load/sync/dump's relative paths (spec
//     §6 "path(block_name)"). Default: ".".
//   - METRICS_LISTEN: bind address for the /metrics endpoint. Default:
//     ":9100".
//   - DIRECTORY_ADDR, AUTO_SCALE_ADDR: addresses of the directory and
//     auto-scaling services this process's partitions were told about at
//     setup_block time (spec §6's directory_host/port, auto_scaling_host/
//     port constructor fields, restored from original_source/). Both are
//     external collaborators (spec §1) this process never dials itself;
//     they're accepted here only so they show up in startup logs next to
//     the rest of a block's identity. This process's own auto-scaling
//     orchestrator (internal/autoscale) reaches peers directly through
//     whatever address a Planner resolves, one hop away, rather than
//     through a second network call to an external auto-scaling service.
//
// Chain failure recovery (spec §5) runs locally: a directory.HealthMonitor
// watches each locally-hosted replica's immediate downstream neighbor and,
// on sustained failure, a directory.Recoverer replays setup_block/
// resend_pending against whatever answers at that same block identity.
// This process never chooses a different physical replacement — picking a
// new host is placement authority that belongs to the external directory
// service, not to the replicas themselves.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/jiffy/internal/autoscale"
	"github.com/dreamware/jiffy/internal/block"
	"github.com/dreamware/jiffy/internal/chain"
	"github.com/dreamware/jiffy/internal/directory"
	"github.com/dreamware/jiffy/internal/hashtable"
	"github.com/dreamware/jiffy/internal/management"
	"github.com/dreamware/jiffy/internal/metrics"
	"github.com/dreamware/jiffy/internal/partition"
	"github.com/dreamware/jiffy/internal/transport"
)

// logFatal is a variable to allow mocking log.Fatal in tests, matching
// the teacher's cmd/node indirection.
var logFatal = log.Fatalf

func main() {
	blockID, err := partition.ParseBlockID(mustGetenv("BLOCK_ID"))
	if err != nil {
		logFatal("parsing BLOCK_ID: %v", err)
	}
	listenHost := getenv("BLOCK_LISTEN", "0.0.0.0")
	numSlots := mustAtoi(getenv("NUM_SLOTS", "1"), "NUM_SLOTS")
	baseDir := getenv("BASE_DIR", ".")
	metricsListen := getenv("METRICS_LISTEN", ":9100")
	directoryAddr := getenv("DIRECTORY_ADDR", "")
	autoScaleAddr := getenv("AUTO_SCALE_ADDR", "")

	logger, err := zap.NewProduction()
	if err != nil {
		logFatal("building logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting storage-server",
		zap.String("block_id", blockID.String()),
		zap.Int("num_slots", numSlots),
		zap.String("directory_addr", directoryAddr),
		zap.String("auto_scale_addr", autoScaleAddr),
	)

	server := block.NewServer(numSlots, logger)

	reg := metrics.New()
	server.SetRecorder(reg)
	sampler := metrics.NewSampler(reg, server, 5*time.Second)

	planner := autoscale.NewStaticPlanner()
	orchestrator := autoscale.New(commandDialer{}, planner, server.GetClientID(), logger)

	mgmt := management.New(server, transport.Dialer{}, baseDir, logger)
	mgmt.SetOnSetupBlock(func(slotIdx int, engine *chain.Engine) {
		engine.SetRecorder(reg)
		hp, ok := engine.Partition().(*hashtable.Partition)
		if !ok || !engine.IsHead() {
			return
		}
		hp.SetAutoScaler(orchestrator)
		blockName := blockID
		blockName.Slot = slotIdx
		orchestrator.Register(hp.Name(), blockName.String(), engine)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sampler.Run(ctx)

	recoverer := directory.NewRecoverer(managementDialer{}, logger)
	healthMonitor := directory.NewHealthMonitor(5*time.Second, logger)
	healthMonitor.SetOnUnhealthy(func(blockName string) {
		selfHeal(ctx, server, blockID, recoverer, logger, blockName)
	})
	go healthMonitor.Start(ctx, func() []directory.ReplicaAddr {
		return downstreamNeighbors(server, blockID)
	})

	commandSrv := &http.Server{
		Addr:              listenHost + ":" + strconv.Itoa(blockID.ServicePort),
		Handler:           transport.NewCommandHandler(server),
		ReadHeaderTimeout: 5 * time.Second,
	}
	chainSrv := &http.Server{
		Addr:              listenHost + ":" + strconv.Itoa(blockID.ChainPort),
		Handler:           transport.NewChainHandler(server, transport.Dialer{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	mgmtSrv := &http.Server{
		Addr:              listenHost + ":" + strconv.Itoa(blockID.MgmtPort),
		Handler:           transport.NewManagementHandler(mgmt),
		ReadHeaderTimeout: 5 * time.Second,
	}
	for _, s := range []struct {
		name string
		srv  *http.Server
	}{
		{"command", commandSrv},
		{"chain", chainSrv},
		{"management", mgmtSrv},
	} {
		s := s
		go func() {
			logger.Info("listening", zap.String("surface", s.name), zap.String("addr", s.srv.Addr))
			if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logFatal("%s surface: %v", s.name, err)
			}
		}()
	}

	metricsSrv, metricsErrCh := metrics.Serve(metricsListen, reg)
	logger.Info("listening", zap.String("surface", "metrics"), zap.String("addr", metricsListen))
	go func() {
		if err := <-metricsErrCh; err != nil {
			logFatal("metrics surface: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancel()
	healthMonitor.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	for _, s := range []*http.Server{commandSrv, chainSrv, mgmtSrv, metricsSrv} {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
	}
	logger.Info("storage-server stopped")
}

// commandDialer implements autoscale.Dialer against internal/transport's
// HTTP command client, the same way transport.Dialer implements
// management.LinkDialer: a stateless adapter with nothing to hold but
// the method.
type commandDialer struct{}

func (commandDialer) DialCommand(addr string) autoscale.CommandSurface {
	return transport.NewCommandClient(addr)
}

// managementDialer implements directory.Dialer against internal/transport's
// HTTP management client, so Recoverer can issue setup_block/resend_pending
// at an address without this package importing transport's client details
// into internal/directory.
type managementDialer struct{}

func (managementDialer) Dial(addr string) directory.ManagementSurface {
	return transport.NewManagementClient(addr)
}

// downstreamNeighbors reports, for every locally-hosted slot, the one
// replica this process needs to watch: its immediate downstream neighbor
// in the chain. A tail (or singleton) slot has none. This is the
// replicaProvider HealthMonitor polls each tick — rebuilt fresh every
// call since setup_block can rewire a slot's chain out from under it.
func downstreamNeighbors(server *block.Server, self partition.BlockID) []directory.ReplicaAddr {
	var out []directory.ReplicaAddr
	for i := 0; i < server.NumSlots(); i++ {
		slot, err := server.Slot(i)
		if err != nil {
			continue
		}
		engine, ok := slot.Engine()
		if !ok {
			continue
		}
		selfName := self
		selfName.Slot = i
		nextName, ok := nextInChain(engine.Chain(), selfName.String())
		if !ok || partition.IsNil(nextName) {
			continue
		}
		nextID, err := partition.ParseBlockID(nextName)
		if err != nil {
			continue
		}
		out = append(out, directory.ReplicaAddr{BlockName: nextName, Addr: nextID.MgmtAddr()})
	}
	return out
}

// nextInChain returns the chain entry immediately after selfName, or
// partition.NilBlockName if selfName is the tail. ok is false if selfName
// isn't in chain at all (a slot mid-reconfiguration).
func nextInChain(chainNames []string, selfName string) (next string, ok bool) {
	for i, name := range chainNames {
		if name != selfName {
			continue
		}
		if i == len(chainNames)-1 {
			return partition.NilBlockName, true
		}
		return chainNames[i+1], true
	}
	return "", false
}

// roleAtPosition derives the chain.Role a replacement (or a rewired
// upstream) holds purely from its index in the chain, the same rule
// setup_block's caller already follows elsewhere: first is head, last is
// tail, a lone entry is singleton, anything else is mid.
func roleAtPosition(idx, length int) chain.Role {
	switch {
	case length == 1:
		return chain.Singleton
	case idx == 0:
		return chain.Head
	case idx == length-1:
		return chain.Tail
	default:
		return chain.Mid
	}
}

// selfHeal runs spec §5's recovery dance for one locally-detected failure.
// It only ever reconstructs a setup_block tuple for the SAME block name
// (the same advertised host/ports) the failed replica already had: this
// process has no placement authority to choose a different physical
// replacement, so recovery here assumes whatever comes back up at that
// address is the replacement (an externally supervised restart, or an
// operator-replaced box answering the same identity). Picking a genuinely
// different spare host is the external directory service's job (spec §1)
// and stays out of scope here, same as cmd/coordinator's deletion.
func selfHeal(ctx context.Context, server *block.Server, self partition.BlockID, recoverer *directory.Recoverer, logger *zap.Logger, failedBlockName string) {
	failedID, err := partition.ParseBlockID(failedBlockName)
	if err != nil {
		logger.Warn("self_heal: cannot parse failed block name", zap.String("block", failedBlockName), zap.Error(err))
		return
	}

	for i := 0; i < server.NumSlots(); i++ {
		slot, err := server.Slot(i)
		if err != nil {
			continue
		}
		engine, ok := slot.Engine()
		if !ok {
			continue
		}
		selfName := self
		selfName.Slot = i
		chainNames := engine.Chain()
		next, ok := nextInChain(chainNames, selfName.String())
		if !ok || next != failedBlockName {
			continue
		}

		idx := -1
		for j, name := range chainNames {
			if name == failedBlockName {
				idx = j
				break
			}
		}
		if idx == -1 {
			continue
		}
		nextAfterFailed := partition.NilBlockName
		if idx < len(chainNames)-1 {
			nextAfterFailed = chainNames[idx+1]
		}
		role := roleAtPosition(idx, len(chainNames))

		replacementReq := management.SetupBlockRequest{
			BlockName: failedBlockName,
			// hashtable is the only partition type this module registers
			// (internal/hashtable's init), so it is the only one a
			// self-healed replacement could ever need to rebuild.
			PartitionType:     "hashtable",
			PartitionName:     engine.Partition().Name(),
			PartitionMetadata: engine.Partition().Metadata(),
			Chain:             chainNames,
			Role:              role.String(),
			NextBlockName:     nextAfterFailed,
		}
		upstreamReq := management.SetupBlockRequest{
			BlockName:         selfName.String(),
			PartitionType:     "hashtable",
			PartitionName:     engine.Partition().Name(),
			PartitionMetadata: engine.Partition().Metadata(),
			Chain:             chainNames,
			Role:              engine.Role().String(),
			NextBlockName:     failedBlockName,
		}

		logger.Info("self_heal: attempting recovery",
			zap.String("failed_block", failedBlockName), zap.String("upstream_block", selfName.String()))
		if err := recoverer.ReplaceFailedBlock(ctx,
			failedID.MgmtAddr(), failedID.Slot, replacementReq,
			selfName.MgmtAddr(), i, upstreamReq,
		); err != nil {
			logger.Warn("self_heal: recovery attempt failed",
				zap.String("failed_block", failedBlockName), zap.Error(err))
		}
		return
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}

func mustAtoi(s, name string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		logFatal("invalid %s %q: %v", name, s, err)
	}
	return n
}
