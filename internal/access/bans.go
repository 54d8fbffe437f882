package access

import (
	"context"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// BanRepo is the subset of BanRepo ban enforcement needs.
type BanRepo interface {
	SelectActiveByIP(ctx context.Context, ip string) ([]*types.Ban, error)
}

// CheckBan returns apperr.Forbidden if ip is covered by a live Ban active
// at now, nil otherwise. SelectActiveByIP already filters to live rows; the
// Active(now) check additionally guards against a row whose window has
// since lapsed without being tombstoned.
func CheckBan(ctx context.Context, bans BanRepo, ip string, now time.Time) error {
	active, err := bans.SelectActiveByIP(ctx, ip)
	if err != nil {
		return apperr.Wrap(err, "checking bans for %s", ip)
	}
	for _, b := range active {
		if b.Active(now) {
			return apperr.Forbidden("ip %s is banned: %s", ip, b.Reason)
		}
	}
	return nil
}
