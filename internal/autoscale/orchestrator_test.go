package autoscale

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/jiffy/internal/chain"
	"github.com/dreamware/jiffy/internal/command"
	"github.com/dreamware/jiffy/internal/hashtable"
	"github.com/dreamware/jiffy/internal/seqid"
)

// engineCommandSurface adapts a local *chain.Engine to CommandSurface
// in-process, the same role internal/transport.CommandClient plays over
// HTTP in production — avoids standing up real listeners for these tests.
type engineCommandSurface struct {
	engine *chain.Engine
}

func (e engineCommandSurface) CommandRequest(ctx context.Context, slot int, seq seqid.ID, cmdID int32, args command.Args, clientID int64) (command.Response, error) {
	return e.engine.Request(ctx, seq.ClientSeq, cmdID, args, clientID)
}

type fakeDialer struct {
	surfaces map[string]CommandSurface
}

func (d *fakeDialer) DialCommand(addr string) CommandSurface {
	return d.surfaces[addr]
}

func buildSingletonEngine(t *testing.T, begin, end uint32, autoScale bool, scaler hashtable.AutoScaler) *chain.Engine {
	t.Helper()
	cfg := hashtable.DefaultConfig()
	cfg.AutoScale = autoScale
	cfg.GetDataBatchMax = 8
	p := hashtable.New(begin, end, "", cfg, nil)
	if scaler != nil {
		p.SetAutoScaler(scaler)
	}
	e := chain.New(p, nil)
	e.SetRole(chain.Singleton)
	return e
}

// keysIn returns n generated keys whose hash falls in [r.Begin, r.End) —
// picking keys by rejection sampling rather than hand-computing CRC-16
// values, since routeOrAdmit only accepts a mutation for a key the
// partition actually owns.
func keysIn(r hashtable.SlotRange, n int) []string {
	var keys []string
	for i := 0; len(keys) < n; i++ {
		k := fmt.Sprintf("key-%d", i)
		if r.Contains(hashtable.HashKey(k)) {
			keys = append(keys, k)
		}
	}
	return keys
}

func TestOrchestratorRequestSplitMovesUpperHalf(t *testing.T) {
	full := hashtable.SlotRange{Begin: 0, End: hashtable.SlotCount}
	mid := full.Mid()
	lower := hashtable.SlotRange{Begin: full.Begin, End: mid}
	upper := hashtable.SlotRange{Begin: mid, End: full.End}

	sourceEngine := buildSingletonEngine(t, full.Begin, full.End, false, nil)
	destEngine := buildSingletonEngine(t, mid, full.End, false, nil)

	dialer := &fakeDialer{surfaces: map[string]CommandSurface{
		"dest-addr": engineCommandSurface{engine: destEngine},
	}}
	planner := NewStaticPlanner()
	sourceName := hashtable.FormatName(full.Begin, full.End)
	planner.SetSplit(sourceName, SplitPlan{
		DestBlockName: "dest-block", DestPartitionName: hashtable.FormatName(mid, full.End), DestAddr: "dest-addr", DestSlot: 0,
	})

	orch := New(dialer, planner, 999, nil)
	orch.Register(sourceName, "source-block", sourceEngine)

	lowerKeys := keysIn(lower, 3)
	upperKeys := keysIn(upper, 3)

	seq := int64(1)
	for _, k := range append(append([]string{}, lowerKeys...), upperKeys...) {
		_, err := sourceEngine.Request(context.Background(), seq, hashtable.CmdPut, command.Args{[]byte(k), []byte("v-" + k)}, 1)
		require.NoError(t, err)
		seq++
	}

	err := orch.RequestSplit(context.Background(), sourceName, full)
	require.NoError(t, err)

	for _, k := range lowerKeys {
		resp, err := sourceEngine.Request(context.Background(), seq, hashtable.CmdGet, command.Args{[]byte(k)}, 1)
		seq++
		require.NoError(t, err)
		assert.Equal(t, "v-"+k, string(resp[0]))
	}
	for _, k := range upperKeys {
		resp, err := destEngine.Request(context.Background(), seq, hashtable.CmdGet, command.Args{[]byte(k)}, 1)
		seq++
		require.NoError(t, err)
		assert.Equal(t, "v-"+k, string(resp[0]), "key %q should have migrated to the destination", k)

		// The source no longer owns this key's slot, so it must redirect.
		resp, err = sourceEngine.Request(context.Background(), seq, hashtable.CmdGet, command.Args{[]byte(k)}, 1)
		seq++
		require.NoError(t, err)
		assert.Equal(t, command.StatusBlockMoved, resp.Status())
	}
}

func TestOrchestratorRequestMergeDrainsEverything(t *testing.T) {
	full := hashtable.SlotRange{Begin: 0, End: hashtable.SlotCount}
	mid := full.Mid()
	lower := hashtable.SlotRange{Begin: full.Begin, End: mid}
	upper := hashtable.SlotRange{Begin: mid, End: full.End}

	sourceEngine := buildSingletonEngine(t, upper.Begin, upper.End, false, nil)
	destEngine := buildSingletonEngine(t, lower.Begin, lower.End, false, nil)

	dialer := &fakeDialer{surfaces: map[string]CommandSurface{
		"dest-addr": engineCommandSurface{engine: destEngine},
	}}
	planner := NewStaticPlanner()
	sourceName := hashtable.FormatName(upper.Begin, upper.End)
	planner.SetMerge(sourceName, MergePlan{
		DestBlockName: "dest-block", DestPartitionName: hashtable.FormatName(full.Begin, full.End), DestAddr: "dest-addr", DestSlot: 0,
	})

	orch := New(dialer, planner, 999, nil)
	orch.Register(sourceName, "source-block", sourceEngine)

	upperKeys := keysIn(upper, 4)
	seq := int64(1)
	for _, k := range upperKeys {
		_, err := sourceEngine.Request(context.Background(), seq, hashtable.CmdPut, command.Args{[]byte(k), []byte("v-" + k)}, 1)
		require.NoError(t, err)
		seq++
	}

	err := orch.RequestMerge(context.Background(), sourceName, upper)
	require.NoError(t, err)

	for _, k := range upperKeys {
		resp, err := destEngine.Request(context.Background(), seq, hashtable.CmdGet, command.Args{[]byte(k)}, 1)
		seq++
		require.NoError(t, err)
		assert.Equal(t, "v-"+k, string(resp[0]))
	}
}

func TestRequestSplitFailsWithoutRegisteredPlan(t *testing.T) {
	full := hashtable.SlotRange{Begin: 0, End: hashtable.SlotCount}
	sourceEngine := buildSingletonEngine(t, full.Begin, full.End, false, nil)
	dialer := &fakeDialer{surfaces: map[string]CommandSurface{}}
	orch := New(dialer, NewStaticPlanner(), 1, nil)
	orch.Register(hashtable.FormatName(full.Begin, full.End), "source-block", sourceEngine)

	err := orch.RequestSplit(context.Background(), hashtable.FormatName(full.Begin, full.End), full)
	assert.Error(t, err)
}

func TestRequestSplitFailsForUnregisteredPartition(t *testing.T) {
	orch := New(&fakeDialer{}, NewStaticPlanner(), 1, nil)
	err := orch.RequestSplit(context.Background(), "unknown", hashtable.SlotRange{Begin: 0, End: 100})
	assert.Error(t, err)
}
