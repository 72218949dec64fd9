package directory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dreamware/jiffy/internal/management"
)

// ManagementSurface is the slice of a block server's management RPC
// surface the recovery dance needs (spec §6): setup_block on the
// replacement, resend_pending on the neighbor whose link was just
// rewired. internal/transport.ManagementClient satisfies this
// structurally — no import of transport is needed here.
type ManagementSurface interface {
	SetupBlock(ctx context.Context, slot int, req management.SetupBlockRequest) error
	ResendPending(ctx context.Context, slot int) error
}

// Dialer reaches a management surface by its process address
// (host:mgmt_port), separate from ManagementSurface's per-slot methods
// since one process hosts many slots.
type Dialer interface {
	Dial(addr string) ManagementSurface
}

// Recoverer drives spec §5's failure-recovery dance once HealthMonitor
// reports a replica unhealthy.
type Recoverer struct {
	dialer Dialer
	logger *zap.Logger
}

// NewRecoverer builds a Recoverer bound to a way of reaching management
// surfaces by address.
func NewRecoverer(dialer Dialer, logger *zap.Logger) *Recoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recoverer{dialer: dialer, logger: logger}
}

// ReplaceFailedBlock implements spec §5's recovery sequence verbatim:
// "it issues setup_block to a replacement with role and next-link, then
// resend_pending on the upstream neighbor whose next-link was just
// rewired." upstreamReq is the upstream's own setup_block tuple —
// same chain/role/partition it already has, with NextBlockName pointed
// at the replacement — since rewiring an existing replica's next-link is
// itself just another setup_block call, not a separate RPC. The
// replacement starts with last_applied_seq = -1 and the upstream's
// pending-map replay brings it current; ops already applied further
// downstream are re-applied harmlessly (idempotent by sequence-number
// filter downstream).
func (r *Recoverer) ReplaceFailedBlock(
	ctx context.Context,
	replacementAddr string, replacementSlot int, replacementReq management.SetupBlockRequest,
	upstreamAddr string, upstreamSlot int, upstreamReq management.SetupBlockRequest,
) error {
	replacement := r.dialer.Dial(replacementAddr)
	if err := replacement.SetupBlock(ctx, replacementSlot, replacementReq); err != nil {
		return fmt.Errorf("directory: setup_block on replacement %s/%d: %w", replacementAddr, replacementSlot, err)
	}
	r.logger.Info("replacement block configured",
		zap.String("block", replacementReq.BlockName), zap.String("addr", replacementAddr), zap.Int("slot", replacementSlot))

	upstream := r.dialer.Dial(upstreamAddr)
	if err := upstream.SetupBlock(ctx, upstreamSlot, upstreamReq); err != nil {
		return fmt.Errorf("directory: setup_block on upstream %s/%d (rewiring next-link): %w", upstreamAddr, upstreamSlot, err)
	}
	r.logger.Info("upstream next-link rewired",
		zap.String("upstream_addr", upstreamAddr), zap.Int("upstream_slot", upstreamSlot),
		zap.String("new_next", upstreamReq.NextBlockName))

	if err := upstream.ResendPending(ctx, upstreamSlot); err != nil {
		return fmt.Errorf("directory: resend_pending on upstream %s/%d: %w", upstreamAddr, upstreamSlot, err)
	}
	r.logger.Info("pending map replayed to replacement",
		zap.String("upstream_addr", upstreamAddr), zap.Int("upstream_slot", upstreamSlot))

	return nil
}
