package service

import (
	"context"
	"time"

	"github.com/berfenger/solarwatt2mqtt/internal/core/domain"
	"github.com/berfenger/solarwatt2mqtt/internal/core/port"
)

type GatewayRefresher struct {
	fetcher port.ItemFetcher
	now     func() time.Time
}

func NewGatewayRefresher(fetcher port.ItemFetcher) *GatewayRefresher {
	return &GatewayRefresher{
		fetcher: fetcher,
		now:     time.Now,
	}
}

func (r *GatewayRefresher) Refresh(ctx context.Context) (domain.Snapshot, error) {
	items, err := r.fetcher.FetchAllItems(ctx)
	if err != nil {
		return domain.Snapshot{}, domain.UpdateFailed(err)
	}
	return domain.NewSnapshot(items, r.now()), nil
}

// ensure interface compliance
var _ port.Refreshable = &GatewayRefresher{}
