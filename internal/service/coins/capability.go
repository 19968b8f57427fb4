package coins

import (
	"context"
	"errors"
	"fmt"

	"github.com/jara-app/rewards-gateway/internal/identity"
	prommetrics "github.com/jara-app/rewards-gateway/internal/metrics"
	"github.com/jara-app/rewards-gateway/internal/remote"
)

// simulate is the guest capability: a bounded local reward that never touches
// the global pool and always succeeds.
type simulate struct {
	min, max int
}

func (simulate) mode() Mode { return ModeSimulate }

func (s simulate) grant(_ context.Context, c earnCall) (int, bool) {
	amount := c.base
	if amount < s.min {
		amount = s.min
	}
	if amount > s.max {
		amount = s.max
	}
	return amount, true
}

// delegate is the member capability: the earn procedure decides the amount and
// deduplicates by key.
type delegate struct {
	engine *Engine
	id     identity.Identity
}

func (delegate) mode() Mode { return ModeDelegate }

func (d delegate) grant(ctx context.Context, c earnCall) (int, bool) {
	e := d.engine
	req := remote.EarnRequest{
		UserID:         d.id.UserID,
		SourceType:     c.source,
		BaseReward:     c.base,
		ContentID:      c.contentID,
		IdempotencyKey: IdempotencyKey(d.id.UserID, c.source, c.contentID),
	}

	callCtx, cancel := context.WithTimeout(remote.WithAccessToken(ctx, d.id.AccessToken), e.cfg.RemoteTimeout())
	defer cancel()

	granted, err := e.data.EarnCoins(callCtx, req)
	if err != nil {
		prommetrics.RecordEarnFailure(string(c.source))
		ev := e.log.Warn()
		if errors.Is(err, remote.ErrRejected) {
			ev = e.log.Info()
		}
		ev.Err(err).
			Str("user_id", d.id.UserID).
			Str("source", string(c.source)).
			Str("key", req.IdempotencyKey).
			Msg("Coin earn failed")
		return 0, false
	}
	if granted <= 0 {
		prommetrics.RecordEarnDuplicate(string(c.source))
		e.log.Debug().Str("key", req.IdempotencyKey).Msg("Earn granted nothing")
		return 0, false
	}

	// The member may have signed out while the call was in flight; the grant
	// stands remotely but is not mirrored into another identity's balance.
	if uid, ok := e.cell.UserID(); !ok || uid != d.id.UserID {
		e.log.Debug().Str("user_id", d.id.UserID).Msg("Identity changed during earn, not mirroring grant")
		return 0, false
	}
	return granted, true
}

// IdempotencyKey scopes a grant to one (user, source, content) triple. An
// empty content id means the grant is global for that source.
func IdempotencyKey(userID string, source remote.SourceType, contentID string) string {
	if contentID == "" {
		contentID = "global"
	}
	return fmt.Sprintf("%s_%s_%s", userID, source, contentID)
}
