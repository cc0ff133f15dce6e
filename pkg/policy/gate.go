package policy

import (
	"context"
	"errors"
	"log/slog"
)

// Gate answers whether a group conversation should be processed. Groups are
// enabled unless a setting says otherwise.
type Gate struct {
	store Store
	log   *slog.Logger
}

func NewGate(store Store, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{store: store, log: log.With("component", "policy.gate")}
}

// IsEnabled consults the store on every call. A missing record or a store
// failure both count as enabled; an interrupted lookup counts as disabled.
func (g *Gate) IsEnabled(ctx context.Context, groupID int64) bool {
	if g == nil || g.store == nil {
		return true
	}

	setting, err := g.store.GetGroupSetting(ctx, groupID)
	if errors.Is(err, ErrNotFound) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		g.log.Warn("Group setting lookup interrupted; treating group as disabled", "group_id", groupID, "error", err)
		return false
	}
	if err != nil {
		g.log.Warn("Group setting lookup failed; treating group as enabled", "group_id", groupID, "error", err)
		return true
	}

	return setting.Enabled
}
