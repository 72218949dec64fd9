package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/jiffy/internal/management"
)

type fakeManagementSurface struct {
	setupBlockCalls   []management.SetupBlockRequest
	resendPendingSlot int
	resendPendingErr  error
	setupBlockErr     error
}

func (f *fakeManagementSurface) SetupBlock(ctx context.Context, slot int, req management.SetupBlockRequest) error {
	if f.setupBlockErr != nil {
		return f.setupBlockErr
	}
	f.setupBlockCalls = append(f.setupBlockCalls, req)
	return nil
}

func (f *fakeManagementSurface) ResendPending(ctx context.Context, slot int) error {
	f.resendPendingSlot = slot
	return f.resendPendingErr
}

type fakeDialer struct {
	surfaces map[string]*fakeManagementSurface
}

func (d *fakeDialer) Dial(addr string) ManagementSurface {
	return d.surfaces[addr]
}

func TestReplaceFailedBlockIssuesSetupThenResendPending(t *testing.T) {
	replacement := &fakeManagementSurface{}
	upstream := &fakeManagementSurface{}
	dialer := &fakeDialer{surfaces: map[string]*fakeManagementSurface{
		"10.0.0.2:9002": replacement,
		"10.0.0.1:9002": upstream,
	}}

	recoverer := NewRecoverer(dialer, nil)

	req := management.SetupBlockRequest{
		BlockName:     "block-2-replacement",
		PartitionType: "hashtable",
		PartitionName: "0_65536",
		Chain:         []string{"block-1", "block-2-replacement", "block-3"},
		Role:          "mid",
		NextBlockName: "block-3",
	}
	upstreamReq := management.SetupBlockRequest{
		BlockName:     "block-1",
		PartitionType: "hashtable",
		PartitionName: "0_65536",
		Chain:         []string{"block-1", "block-2-replacement", "block-3"},
		Role:          "head",
		NextBlockName: "block-2-replacement",
	}

	err := recoverer.ReplaceFailedBlock(context.Background(),
		"10.0.0.2:9002", 4, req,
		"10.0.0.1:9002", 4, upstreamReq)
	require.NoError(t, err)

	require.Len(t, replacement.setupBlockCalls, 1)
	assert.Equal(t, "block-2-replacement", replacement.setupBlockCalls[0].BlockName)
	require.Len(t, upstream.setupBlockCalls, 1)
	assert.Equal(t, "block-2-replacement", upstream.setupBlockCalls[0].NextBlockName, "upstream's next-link should be rewired to the replacement")
	assert.Equal(t, 4, upstream.resendPendingSlot)
}

func TestReplaceFailedBlockStopsIfSetupFails(t *testing.T) {
	replacement := &fakeManagementSurface{setupBlockErr: errors.New("partition type not registered")}
	upstream := &fakeManagementSurface{}
	dialer := &fakeDialer{surfaces: map[string]*fakeManagementSurface{
		"10.0.0.2:9002": replacement,
		"10.0.0.1:9002": upstream,
	}}

	recoverer := NewRecoverer(dialer, nil)
	err := recoverer.ReplaceFailedBlock(context.Background(),
		"10.0.0.2:9002", 4, management.SetupBlockRequest{},
		"10.0.0.1:9002", 4, management.SetupBlockRequest{})

	assert.Error(t, err)
	assert.Zero(t, upstream.resendPendingSlot)
	assert.Empty(t, upstream.setupBlockCalls, "upstream must not be touched if the replacement never came up")
}

func TestReplaceFailedBlockPropagatesResendPendingError(t *testing.T) {
	replacement := &fakeManagementSurface{}
	upstream := &fakeManagementSurface{resendPendingErr: errors.New("connection refused")}
	dialer := &fakeDialer{surfaces: map[string]*fakeManagementSurface{
		"10.0.0.2:9002": replacement,
		"10.0.0.1:9002": upstream,
	}}

	recoverer := NewRecoverer(dialer, nil)
	err := recoverer.ReplaceFailedBlock(context.Background(),
		"10.0.0.2:9002", 4, management.SetupBlockRequest{},
		"10.0.0.1:9002", 4, management.SetupBlockRequest{})

	assert.Error(t, err)
	require.Len(t, replacement.setupBlockCalls, 1)
	require.Len(t, upstream.setupBlockCalls, 1, "upstream rewiring still runs before resend_pending fails")
}
