package chain

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/jiffy/internal/command"
	"github.com/dreamware/jiffy/internal/partition"
	"github.com/dreamware/jiffy/internal/seqid"
)

const (
	cmdIncrement int32 = 100
	cmdRead      int32 = 101
)

// counterPartition is a minimal partition.Partition used only to exercise
// the chain engine: Increment mutates a counter, Read reports it.
type counterPartition struct {
	mu    sync.Mutex
	name  string
	meta  string
	count int64
}

func newCounterPartition() *counterPartition {
	return &counterPartition{}
}

func (c *counterPartition) Name() string           { return c.name }
func (c *counterPartition) SetName(name string)    { c.name = name }
func (c *counterPartition) Metadata() string        { return c.meta }
func (c *counterPartition) SetMetadata(m string)    { c.meta = m }
func (c *counterPartition) StorageSize() int64      { return c.count }
func (c *counterPartition) StorageCapacity() int64  { return 1 << 20 }

func (c *counterPartition) Commands() command.Table {
	return command.NewTable(
		command.Descriptor{
			ID:    cmdIncrement,
			Name:  "increment",
			Flags: command.Flags{Mutates: true},
			Handler: func(args command.Args) (command.Response, error) {
				c.mu.Lock()
				c.count++
				n := c.count
				c.mu.Unlock()
				return command.Value([]byte(fmt.Sprintf("%d", n))), nil
			},
		},
		command.Descriptor{
			ID:    cmdRead,
			Name:  "read",
			Flags: command.Flags{Accessor: true},
			Handler: func(args command.Args) (command.Response, error) {
				c.mu.Lock()
				n := c.count
				c.mu.Unlock()
				return command.Value([]byte(fmt.Sprintf("%d", n))), nil
			},
		},
	)
}

func (c *counterPartition) Execute(cmdID int32, args command.Args) (command.Response, error) {
	desc, ok := c.Commands().Lookup(cmdID)
	if !ok {
		return nil, fmt.Errorf("counterPartition: unknown command %d", cmdID)
	}
	return desc.Handler(args)
}

func (c *counterPartition) Load(path string) error        { return nil }
func (c *counterPartition) Sync(path string) (bool, error) { return true, nil }
func (c *counterPartition) Dump(path string) (bool, error) { return true, nil }
func (c *counterPartition) ForwardAll(ctx context.Context, runner partition.ChainRunner) error {
	return nil
}

func TestEngineSingletonAppliesAndRepliesWithNoForward(t *testing.T) {
	p := newCounterPartition()
	e := New(p, nil)

	resp, err := e.Request(context.Background(), 1, cmdIncrement, command.Args{}, 42)
	require.NoError(t, err)
	assert.Equal(t, "1", string(resp[0]))
	assert.EqualValues(t, 0, e.PendingSize())
	assert.True(t, e.Dirty())
	assert.EqualValues(t, 1, e.LastAppliedSeq())
}

func TestEngineRequestRejectsNonHead(t *testing.T) {
	p := newCounterPartition()
	e := New(p, nil)
	e.SetRole(Mid)

	_, err := e.Request(context.Background(), 1, cmdIncrement, command.Args{}, 42)
	assert.ErrorIs(t, err, ErrNotHead)
}

func TestEngineRequestUnknownCommand(t *testing.T) {
	p := newCounterPartition()
	e := New(p, nil)

	_, err := e.Request(context.Background(), 1, 9999, command.Args{}, 42)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestEngineChainRequestIsIdempotent(t *testing.T) {
	p := newCounterPartition()
	e := New(p, nil)
	e.SetRole(Tail)

	op := opWithSeq(1)
	op.CmdID = cmdIncrement

	require.NoError(t, e.ChainRequest(context.Background(), op))
	assert.EqualValues(t, 1, p.StorageSize())

	// Replaying the same op (resend_pending after a reconfiguration) must
	// not apply it twice.
	require.NoError(t, e.ChainRequest(context.Background(), op))
	assert.EqualValues(t, 1, p.StorageSize())
}

// engineNextAdapter and enginePrevAdapter wire two *Engine instances
// directly in-process, standing in for the HTTP chain surface
// (internal/transport) a deployed replica uses to reach its neighbors.
type engineNextAdapter struct{ eng *Engine }

func (a engineNextAdapter) ChainRequest(ctx context.Context, op seqid.Op) error {
	return a.eng.ChainRequest(ctx, op)
}

func (a engineNextAdapter) RunCommandOnNext(ctx context.Context, cmdID int32, args command.Args) (command.Response, error) {
	return a.eng.partition.Execute(cmdID, args)
}

func (a engineNextAdapter) Reset(ctx context.Context, blockName string) error { return nil }

type enginePrevAdapter struct{ eng *Engine }

func (a enginePrevAdapter) Ack(ctx context.Context, seq seqid.ID, resp command.Response, cmdErr error) error {
	return a.eng.Ack(ctx, seq, resp, cmdErr)
}

func (a enginePrevAdapter) IsSet() bool { return true }

// buildChainOfThree wires head -> mid -> tail engines directly in-process,
// exercising the full stamp/forward/apply/ack/deliver path (spec §4.2, §8
// scenario "replicated chain of three") without a network hop.
func buildChainOfThree(t *testing.T) (head, mid, tail *Engine) {
	t.Helper()
	headP, midP, tailP := newCounterPartition(), newCounterPartition(), newCounterPartition()
	head = New(headP, nil)
	mid = New(midP, nil)
	tail = New(tailP, nil)

	head.SetRole(Head)
	mid.SetRole(Mid)
	tail.SetRole(Tail)

	head.SetNext(engineNextAdapter{mid})
	mid.SetPrev(enginePrevAdapter{head})
	mid.SetNext(engineNextAdapter{tail})
	tail.SetPrev(enginePrevAdapter{mid})

	return head, mid, tail
}

func TestEngineChainOfThreeRequestRepliesFromTail(t *testing.T) {
	head, mid, tail := buildChainOfThree(t)

	resp, err := head.Request(context.Background(), 1, cmdIncrement, command.Args{}, 7)
	require.NoError(t, err)
	assert.Equal(t, "1", string(resp[0]))

	assert.EqualValues(t, 1, head.LastAppliedSeq())
	assert.EqualValues(t, 1, mid.LastAppliedSeq())
	assert.EqualValues(t, 1, tail.LastAppliedSeq())

	// Pending must have drained everywhere once the ack has round-tripped.
	assert.Equal(t, 0, head.PendingSize())
	assert.Equal(t, 0, mid.PendingSize())
	assert.Equal(t, 0, tail.PendingSize())
}

func TestEngineChainOfThreeSequentialRequestsStayOrdered(t *testing.T) {
	head, _, tail := buildChainOfThree(t)

	for i := int64(1); i <= 5; i++ {
		resp, err := head.Request(context.Background(), i, cmdIncrement, command.Args{}, 1)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%d", i), string(resp[0]))
	}

	assert.EqualValues(t, 5, tail.LastAppliedSeq())
	assert.EqualValues(t, 5, tail.Partition().StorageSize())
}

func TestEngineResendPendingIsIdempotentAcrossReplay(t *testing.T) {
	_, mid, tail := buildChainOfThree(t)

	// Simulate a replica-insertion scenario (spec §4.2 "Pending re-drive"):
	// tail has already applied seq 1, but mid still holds it pending
	// because the ack raced a reconfiguration and never cleared it.
	op := opWithSeq(1)
	op.CmdID = cmdIncrement
	require.NoError(t, tail.ChainRequest(context.Background(), op))
	mid.pending.Insert(op)

	require.NoError(t, mid.ResendPending(context.Background()))
	require.NoError(t, mid.ResendPending(context.Background()))
	assert.EqualValues(t, 1, tail.Partition().StorageSize())
}

type recordedForward struct {
	mu    sync.Mutex
	calls int
}

func (r *recordedForward) ObserveForward(dur time.Duration) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
}

func TestEngineRecordsForwardLatencyOnlyWhenChainTraversed(t *testing.T) {
	p := newCounterPartition()
	singleton := New(p, nil)
	rec := &recordedForward{}
	singleton.SetRecorder(rec)

	_, err := singleton.Request(context.Background(), 1, cmdIncrement, command.Args{}, 1)
	require.NoError(t, err)
	assert.Zero(t, rec.calls, "singleton fast path never forwards, so it never observes")

	head, _, _ := buildChainOfThree(t)
	head.SetRecorder(rec)
	_, err = head.Request(context.Background(), 1, cmdIncrement, command.Args{}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.calls)
}
