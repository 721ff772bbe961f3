package port

import (
	"context"

	"github.com/berfenger/solarwatt2mqtt/internal/core/domain"
	"github.com/berfenger/solarwatt2mqtt/pkg/solarwatt"
)

type ItemFetcher interface {
	FetchAllItems(ctx context.Context) ([]solarwatt.Item, error)
	FetchItem(ctx context.Context, name string) (solarwatt.Item, error)
}

// Refreshable produces a fresh snapshot. Every error is a *domain.UpdateFailedError.
type Refreshable interface {
	Refresh(ctx context.Context) (domain.Snapshot, error)
}
