package ports

import (
	"context"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
)

// CatalogProvider fetches canonical track metadata from the catalog service.
type CatalogProvider interface {
	// GetTrack returns the identity for a catalog track id. It returns
	// domain.ErrNotFound when the catalog has no such track.
	GetTrack(ctx context.Context, trackID string) (domain.TrackIdentity, error)
}
