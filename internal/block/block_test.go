package block

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/jiffy/internal/chain"
	"github.com/dreamware/jiffy/internal/command"
	"github.com/dreamware/jiffy/internal/partition"
	"github.com/dreamware/jiffy/internal/seqid"
)

const (
	cmdSet  int32 = 200
	cmdPeek int32 = 201
)

type echoPartition struct {
	mu  sync.Mutex
	val string
}

func (e *echoPartition) Name() string          { return "test" }
func (e *echoPartition) SetName(string)        {}
func (e *echoPartition) Metadata() string      { return "" }
func (e *echoPartition) SetMetadata(string)    {}
func (e *echoPartition) StorageSize() int64     { return 0 }
func (e *echoPartition) StorageCapacity() int64 { return 0 }
func (e *echoPartition) Load(string) error        { return nil }
func (e *echoPartition) Sync(string) (bool, error) { return true, nil }
func (e *echoPartition) Dump(string) (bool, error) { return true, nil }
func (e *echoPartition) ForwardAll(context.Context, partition.ChainRunner) error { return nil }

func (e *echoPartition) Commands() command.Table {
	return command.NewTable(
		command.Descriptor{ID: cmdSet, Name: "set", Flags: command.Flags{Mutates: true}, Handler: func(args command.Args) (command.Response, error) {
			e.mu.Lock()
			e.val = string(args[0])
			e.mu.Unlock()
			return command.Reply(command.StatusOK), nil
		}},
		command.Descriptor{ID: cmdPeek, Name: "peek", Flags: command.Flags{Accessor: true}, Handler: func(args command.Args) (command.Response, error) {
			e.mu.Lock()
			v := e.val
			e.mu.Unlock()
			return command.Value([]byte(v)), nil
		}},
	)
}

func (e *echoPartition) Execute(cmdID int32, args command.Args) (command.Response, error) {
	desc, ok := e.Commands().Lookup(cmdID)
	if !ok {
		return nil, fmt.Errorf("echoPartition: unknown command %d", cmdID)
	}
	return desc.Handler(args)
}

func TestServerSlotOutOfRange(t *testing.T) {
	s := NewServer(2, nil)
	assert.Equal(t, 2, s.NumSlots())

	_, err := s.Slot(2)
	assert.ErrorIs(t, err, ErrSlotOutOfRange)

	_, err = s.Slot(-1)
	assert.ErrorIs(t, err, ErrSlotOutOfRange)
}

func TestGetClientIDIsMonotonic(t *testing.T) {
	s := NewServer(1, nil)
	a := s.GetClientID()
	b := s.GetClientID()
	assert.Less(t, a, b)
}

func TestCommandRequestUnboundSlot(t *testing.T) {
	s := NewServer(1, nil)
	slot, err := s.Slot(0)
	require.NoError(t, err)

	_, err = slot.CommandRequest(context.Background(), seqid.ID{}, cmdSet, command.Args{[]byte("x")}, 1)
	assert.ErrorIs(t, err, ErrSlotUnbound)
}

func TestCommandRequestSingletonExecutesDirectly(t *testing.T) {
	s := NewServer(1, nil)
	slot, err := s.Slot(0)
	require.NoError(t, err)

	e := chain.New(&echoPartition{}, nil)
	slot.Bind(e)

	clientID := s.GetClientID()

	resp, err := slot.CommandRequest(context.Background(), seqid.ID{ClientSeq: 1}, cmdSet, command.Args{[]byte("hello")}, clientID)
	require.NoError(t, err)
	assert.Equal(t, command.StatusOK, resp.Status())

	resp, err = slot.CommandRequest(context.Background(), seqid.ID{ClientSeq: 2}, cmdPeek, command.Args{}, clientID)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(resp[0]))
}

func TestCommandRequestAccessorOnNonTailForwardsThroughEngine(t *testing.T) {
	s := NewServer(1, nil)
	slot, err := s.Slot(0)
	require.NoError(t, err)

	e := chain.New(&echoPartition{}, nil)
	e.SetRole(chain.Mid)
	slot.Bind(e)

	// peek is an accessor, but this replica is mid (not tail), so it must
	// still be routed through the engine's Request path rather than
	// executed directly — and a mid replica rejects Request outright.
	_, err = slot.CommandRequest(context.Background(), seqid.ID{ClientSeq: 1}, cmdPeek, command.Args{}, 1)
	assert.ErrorIs(t, err, chain.ErrNotHead)
}

func TestCommandRequestAcceptsAnyClientID(t *testing.T) {
	s := NewServer(1, nil)
	slot, err := s.Slot(0)
	require.NoError(t, err)
	e := chain.New(&echoPartition{}, nil)
	slot.Bind(e)

	resp, err := slot.CommandRequest(context.Background(), seqid.ID{ClientSeq: 1}, cmdSet, command.Args{[]byte("y")}, 99)
	require.NoError(t, err)
	assert.Equal(t, command.StatusOK, resp.Status())
}

type recordingRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingRecorder) ObserveCommand(name string, dur time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func TestSetRecorderObservesEveryCommand(t *testing.T) {
	s := NewServer(1, nil)
	rec := &recordingRecorder{}
	s.SetRecorder(rec)

	slot, err := s.Slot(0)
	require.NoError(t, err)
	slot.Bind(chain.New(&echoPartition{}, nil))

	_, err = slot.CommandRequest(context.Background(), seqid.ID{ClientSeq: 1}, cmdSet, command.Args{[]byte("z")}, 1)
	require.NoError(t, err)
	_, err = slot.CommandRequest(context.Background(), seqid.ID{ClientSeq: 2}, cmdPeek, command.Args{}, 1)
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"set", "peek"}, rec.calls)
}

func TestSlotStatsReportsUnboundSlot(t *testing.T) {
	s := NewServer(1, nil)
	_, _, bound := s.SlotStats(0)
	assert.False(t, bound)

	slot, err := s.Slot(0)
	require.NoError(t, err)
	slot.Bind(chain.New(&echoPartition{}, nil))

	pending, size, bound := s.SlotStats(0)
	assert.True(t, bound)
	assert.Zero(t, pending)
	assert.Zero(t, size)
}
